package registry

import (
	"time"

	"chatrelay/protocol"
)

// Supervisor scans the registry on a fixed interval, pinging idle
// connections and closing dead ones (spec §4.5). It is the single
// process-wide component that decides idle-timeout closure; every other
// trigger (LEAVE, EOF, admin kick, shutdown) calls Connection.Close
// directly.
type Supervisor struct {
	registry      *Registry
	scanInterval  time.Duration
	pingThreshold time.Duration
	deadThreshold time.Duration
	nowFn         func() time.Time
}

// NewSupervisor returns a supervisor with the spec's default thresholds:
// a 5s scan interval, a 10s ping threshold, and a 30s dead threshold.
func NewSupervisor(reg *Registry) *Supervisor {
	return &Supervisor{
		registry:      reg,
		scanInterval:  5 * time.Second,
		pingThreshold: 10 * time.Second,
		deadThreshold: 30 * time.Second,
		nowFn:         time.Now,
	}
}

// Run scans until stop is closed. It never returns an error; a
// per-connection failure (e.g. a send pipeline already closed) stays
// local to that connection (§7).
func (s *Supervisor) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

func (s *Supervisor) scan() {
	now := s.nowFn()
	s.registry.Range(func(c *Connection) bool {
		if !c.Running() {
			return true
		}
		idle := c.IdleSince(now)
		switch {
		case idle > s.deadThreshold:
			c.Close()
		case idle > s.pingThreshold:
			ping := protocol.NewHeartbeat(protocol.ServerSender, "ping", nowSeconds(now))
			_ = c.SendPipe.Enqueue(ping)
		}
		return true
	})
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
