// Package fault implements the server-side receive-path fault injector
// (spec §4.7): a probabilistic drop and an artificial delay, both
// runtime-adjustable from the admin surface while frames are in flight.
package fault

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Injector holds the two network-simulation parameters as lock-free atomics
// so the admin surface can mutate them without blocking any connection's
// receive path, and every frame sees a parameter value current as of the
// instant it is evaluated (design notes §9: mutation is atomic with respect
// to individual frame evaluations, never mid-evaluation).
type Injector struct {
	lossRate  atomic.Float64
	delay     atomic.Duration
	dropCount atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an injector with no loss and no delay.
func New() *Injector {
	return &Injector{
		rng: rand.New(rand.NewSource(1)),
	}
}

// Configure clamps and stores both parameters. Each is its own atomic
// word, stored one after the other, so a frame
// evaluated concurrently may observe one new value and one old value. That
// is acceptable: §4.7 only requires atomicity per individual parameter, not
// a joint snapshot.
func (inj *Injector) Configure(lossRate float64, delay time.Duration) {
	if lossRate < 0 {
		lossRate = 0
	}
	if lossRate > 1 {
		lossRate = 1
	}
	if delay < 0 {
		delay = 0
	}
	inj.lossRate.Store(lossRate)
	inj.delay.Store(delay)
}

// LossRate returns the current configured loss probability.
func (inj *Injector) LossRate() float64 { return inj.lossRate.Load() }

// Delay returns the current configured artificial delay.
func (inj *Injector) Delay() time.Duration { return inj.delay.Load() }

// DropCount reports how many frames this injector has dropped.
func (inj *Injector) DropCount() int64 { return inj.dropCount.Load() }

// Evaluate decides the fate of one inbound frame. If dropped is true, the
// caller must discard the frame and do nothing further. Otherwise the
// caller must sleep for the returned delay (possibly zero) before
// continuing — the sleep is a pure stall on that connection's receive path
// and must not be done while holding any registry or controller lock.
func (inj *Injector) Evaluate() (dropped bool, delay time.Duration) {
	rate := inj.lossRate.Load()
	if rate > 0 && inj.roll() < rate {
		inj.dropCount.Inc()
		return true, 0
	}
	return false, inj.delay.Load()
}

func (inj *Injector) roll() float64 {
	inj.rngMu.Lock()
	defer inj.rngMu.Unlock()
	return inj.rng.Float64()
}
