package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlowStartMonotonicity(t *testing.T) {
	c := New()
	start := c.Cwnd
	for i := uint64(1); i <= 5; i++ {
		c.OnAck(i, 20*time.Millisecond)
		if c.State != SlowStart {
			break
		}
	}
	// 5 consecutive new acks with no loss grow cwnd by exactly 5, unless a
	// transition into congestion avoidance capped it first.
	assert.Equal(t, start+5, c.Cwnd)
}

func TestSlowStartTransitionsAtSSThresh(t *testing.T) {
	c := New()
	c.SSThresh = 3
	c.OnAck(1, time.Millisecond)
	assert.Equal(t, SlowStart, c.State)
	c.OnAck(2, time.Millisecond)
	c.OnAck(3, time.Millisecond)
	assert.Equal(t, CongestionAvoidance, c.State)
	// The second ack reaches cwnd 3 = ssthresh; the third is handled in
	// congestion avoidance and adds 1/3.
	assert.InDelta(t, 3.0+1.0/3.0, c.Cwnd, 1e-9)
}

func TestCongestionAvoidanceAIMD(t *testing.T) {
	c := New()
	c.State = CongestionAvoidance
	c.Cwnd = 10
	before := c.Cwnd
	c.OnAck(1, time.Millisecond)
	assert.InDelta(t, before+1/before, c.Cwnd, 1e-9)
}

func TestTimeoutHalvesSSThreshAndResetsCwnd(t *testing.T) {
	c := New()
	c.Cwnd = 20
	c.OnTimeout()
	assert.Equal(t, 10.0, c.SSThresh)
	assert.Equal(t, 1.0, c.Cwnd)
	assert.Equal(t, SlowStart, c.State)
}

func TestTimeoutSSThreshFloorsAtTwo(t *testing.T) {
	c := New()
	c.Cwnd = 2
	c.OnTimeout()
	assert.Equal(t, 2.0, c.SSThresh)
}

func TestFastRetransmitRequiresExactlyThreeDupAcks(t *testing.T) {
	c := New()
	c.Cwnd = 10
	c.OnAck(5, time.Millisecond) // establishes last_ack_sequence = 5; slow start grows cwnd to 11

	c.OnAck(5, 0) // dup 1
	assert.NotEqual(t, FastRecovery, c.State)
	c.OnAck(5, 0) // dup 2
	assert.NotEqual(t, FastRecovery, c.State)
	c.OnAck(5, 0) // dup 3 -> fast retransmit
	assert.Equal(t, FastRecovery, c.State)
	assert.Equal(t, 5.5, c.SSThresh) // max(11/2, 2)
	assert.Equal(t, 8.5, c.Cwnd)     // ssthresh + 3
}

func TestFastRecoveryInflatesOnFurtherDupAcks(t *testing.T) {
	c := New()
	c.Cwnd = 10
	c.OnAck(5, time.Millisecond)
	c.OnAck(5, 0)
	c.OnAck(5, 0)
	c.OnAck(5, 0)
	inflated := c.Cwnd
	c.OnAck(5, 0)
	assert.Equal(t, inflated+1, c.Cwnd)
}

func TestNewAckAfterFastRecoveryExitsToCongestionAvoidance(t *testing.T) {
	c := New()
	c.Cwnd = 10
	c.OnAck(5, time.Millisecond)
	c.OnAck(5, 0)
	c.OnAck(5, 0)
	c.OnAck(5, 0)
	ssthresh := c.SSThresh
	c.OnAck(6, time.Millisecond) // new ack while in FAST_RECOVERY
	assert.Equal(t, CongestionAvoidance, c.State)
	assert.Equal(t, ssthresh, c.Cwnd)
}

func TestKarnsRuleWithholdsRTTFromRetransmission(t *testing.T) {
	c := New()
	c.OnAck(1, 100*time.Millisecond)
	srttAfterFirst := c.srtt

	// Caller passes rtt=0 for an ack of a message with transmit_count > 1.
	c.OnAck(2, 0)
	assert.Equal(t, srttAfterFirst, c.srtt)
}

func TestRTORespectsOneSecondFloor(t *testing.T) {
	c := New()
	c.OnAck(1, time.Microsecond)
	assert.GreaterOrEqual(t, c.RTO(), minRTO)
}

func TestRTOBackoffIsCapped(t *testing.T) {
	c := New()
	for i := 0; i < 20; i++ {
		c.OnTimeout()
	}
	assert.LessOrEqual(t, c.RTO(), maxRTO)
}
