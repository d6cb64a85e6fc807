// Package congestion implements a Reno-style congestion controller: one
// instance per destination, driven entirely by ack and timeout events fed in
// by the owning send pipeline (spec §4.2). It is a plain value type, not
// internally synchronized — per the design notes, the owning send driver is
// the only writer and must serialize OnTimeout/OnAck against
// whatever delivers acks to it (see sendpipe).
package congestion

import "time"

// State is one of the three Reno control states.
type State string

const (
	SlowStart           State = "slow_start"
	CongestionAvoidance State = "congestion_avoidance"
	FastRecovery        State = "fast_recovery"
)

const (
	initialCwnd    = 1.0
	initialSSThresh = 64.0
	minSSThresh    = 2.0
	minRTO         = time.Second
	// maxRTO bounds the exponential backoff on repeated timeouts — the
	// source leaves this uncapped, which stalls a persistently-losing
	// peer forever; DESIGN.md's open-question resolution caps it.
	maxRTO = 60 * time.Second

	rttSampleCap = 100
)

// Controller holds one destination's cwnd/ssthresh/state, its RTT
// estimator, and its current RTO.
type Controller struct {
	Cwnd     float64
	SSThresh float64
	State    State

	dupAckCount      int
	lastAckSequence  uint64
	haveLastAck      bool

	srtt       time.Duration
	haveSRTT   bool
	rttvar     time.Duration
	rto        time.Duration
	rttSamples []time.Duration
}

// New returns a controller in its initial slow-start state (§6 constants:
// CONGESTION_WINDOW_INITIAL=1, SLOW_START_THRESHOLD=64).
func New() *Controller {
	return &Controller{
		Cwnd:     initialCwnd,
		SSThresh: initialSSThresh,
		State:    SlowStart,
		rto:      minRTO,
	}
}

// RTO returns the current retransmission timeout.
func (c *Controller) RTO() time.Duration { return c.rto }

// OnAck processes one ack event: ackSeq is the sequence number it
// acknowledges. rtt is only meaningful (non-zero) for an ack that is fed a
// fresh RTT sample; pass 0 when the caller withheld the sample under Karn's
// rule (ack for a retransmitted message). The ordering of new-ack vs
// dup-ack vs RTT update follows §4.2 exactly.
func (c *Controller) OnAck(ackSeq uint64, rtt time.Duration) {
	if rtt > 0 {
		c.updateRTT(rtt)
	}

	switch {
	case !c.haveLastAck || ackSeq > c.lastAckSequence:
		c.onNewAck(ackSeq)
	case ackSeq == c.lastAckSequence:
		c.onDupAck()
	default:
		// Stale ack for a sequence already superseded; the controller
		// has nothing to do — the send pipeline has already removed
		// the corresponding unacked entry by msg_id.
	}
}

func (c *Controller) onNewAck(ackSeq uint64) {
	c.dupAckCount = 0
	c.lastAckSequence = ackSeq
	c.haveLastAck = true

	switch c.State {
	case SlowStart:
		c.Cwnd += 1
		if c.Cwnd >= c.SSThresh {
			c.State = CongestionAvoidance
		}
	case CongestionAvoidance:
		c.Cwnd += 1 / c.Cwnd
	case FastRecovery:
		c.Cwnd = c.SSThresh
		c.State = CongestionAvoidance
	}
}

func (c *Controller) onDupAck() {
	c.dupAckCount++
	switch {
	case c.dupAckCount == 3:
		c.SSThresh = max(c.Cwnd/2, minSSThresh)
		c.Cwnd = c.SSThresh + 3
		c.State = FastRecovery
	case c.State == FastRecovery:
		c.Cwnd += 1
	}
}

// OnTimeout handles a retransmission timeout: halve ssthresh (floor 2),
// reset cwnd to 1, re-enter slow start, and double the RTO.
func (c *Controller) OnTimeout() {
	c.SSThresh = max(c.Cwnd/2, minSSThresh)
	c.Cwnd = 1
	c.State = SlowStart
	c.dupAckCount = 0
	c.rto *= 2
	if c.rto > maxRTO {
		c.rto = maxRTO
	}
}

// updateRTT applies the Jacobson/Karn estimator. Callers must withhold
// samples from retransmitted messages (Karn's rule) by not calling this at
// all for such acks.
func (c *Controller) updateRTT(rtt time.Duration) {
	if !c.haveSRTT {
		c.srtt = rtt
		c.rttvar = rtt / 2
		c.haveSRTT = true
	} else {
		diff := c.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		c.rttvar = c.rttvar*3/4 + diff/4
		c.srtt = c.srtt*7/8 + rtt/8
	}

	rto := c.srtt + 4*c.rttvar
	if rto < minRTO {
		rto = minRTO
	}
	if rto > maxRTO {
		rto = maxRTO
	}
	c.rto = rto

	c.rttSamples = append(c.rttSamples, rtt)
	if len(c.rttSamples) > rttSampleCap {
		c.rttSamples = c.rttSamples[1:]
	}
}
