// Package sendpipe implements the per-destination send pipeline: the
// outbound queue, the unacknowledged set, and the retransmission timer
// (spec §4.3). A Pipeline is the sole writer of its destination's byte
// stream; every other component talks to it only through Enqueue and OnAck.
package sendpipe

import (
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"chatrelay/congestion"
	"chatrelay/protocol"
)

// MaxRetransmissions is the retransmission cap before a message is
// abandoned (§6).
const MaxRetransmissions = 3

// entry tracks one unacknowledged outbound message.
type entry struct {
	message       *protocol.Message
	firstSendTime time.Time
	lastSendTime  time.Time
	transmitCount int
}

// Pipeline owns the outbound queue, the unacked set, and the controller for
// one destination.
type Pipeline struct {
	mu sync.Mutex

	writer     io.Writer
	controller *congestion.Controller
	label      string // client_id or similar, for log context

	queue   []*protocol.Message
	unacked map[string]*entry

	closed                 bool
	consecutiveAbandons    int
	maxConsecutiveAbandons int

	// OnAbandonedClose is invoked, with the pipeline's mutex released, at
	// the end of every Tick of an open pipeline whose consecutive
	// abandonments have reached maxConsecutiveAbandons; a callback that
	// closes the pipeline (as Connection.Close does) therefore runs once.
	// Left nil it is never called.
	OnAbandonedClose func()

	// Per-connection wire counters, the Go NetworkStats equivalent the
	// original's chat_protocol.py carried. Read by registry.Connection's
	// Stats snapshot and the Prometheus collector.
	bytesSent       atomic.Int64
	messagesSent    atomic.Int64
	acksSent        atomic.Int64
	retransmissions atomic.Int64
}

// New returns a ready Pipeline writing frames to w.
func New(w io.Writer, controller *congestion.Controller, label string) *Pipeline {
	return &Pipeline{
		writer:                 w,
		controller:             controller,
		label:                  label,
		unacked:                make(map[string]*entry),
		maxConsecutiveAbandons: 3,
	}
}

// Enqueue admits msg to the outbound queue. O(1). Fails only once the
// pipeline has been closed.
func (p *Pipeline) Enqueue(msg *protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	p.queue = append(p.queue, msg)
	return nil
}

// OnAck looks up the pending entry for ackFor and, if present, feeds the
// controller an ack event. The RTT sample is computed and fed only when
// transmitCount == 1 (Karn's rule: never sample a retransmitted message).
func (p *Pipeline) OnAck(ackFor string, ackSeq uint64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.unacked[ackFor]
	if !ok {
		return
	}
	var rtt time.Duration
	if e.transmitCount == 1 {
		rtt = now.Sub(e.firstSendTime)
	}
	p.controller.OnAck(ackSeq, rtt)
	delete(p.unacked, ackFor)
	p.consecutiveAbandons = 0
}

// Tick is called periodically by the owning driver. It resends any unacked
// entry whose RTO has elapsed (abandoning it past MaxRetransmissions), then
// admits new messages from the queue up to the controller's cwnd budget.
func (p *Pipeline) Tick(now time.Time) {
	p.mu.Lock()
	var escalate bool
	func() {
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		p.retransmitExpired(now)
		p.admitFromQueue(now)
		escalate = p.consecutiveAbandons >= p.maxConsecutiveAbandons
	}()
	if escalate && p.OnAbandonedClose != nil {
		p.OnAbandonedClose()
	}
}

func (p *Pipeline) retransmitExpired(now time.Time) {
	rto := p.controller.RTO()
	timedOut := false

	for id, e := range p.unacked {
		if now.Sub(e.lastSendTime) <= rto {
			continue
		}
		if e.transmitCount > MaxRetransmissions {
			delete(p.unacked, id)
			p.consecutiveAbandons++
			logAbandon(p.label, id)
			continue
		}
		e.transmitCount++
		e.lastSendTime = now
		p.writeFrame(e.message)
		p.retransmissions.Inc()
		if !timedOut {
			p.controller.OnTimeout()
			timedOut = true
		}
	}
}

func (p *Pipeline) admitFromQueue(now time.Time) {
	inFlight := len(p.unacked)
	budget := int(p.controller.Cwnd) - inFlight

	// A PriorityHigh entry (ACK/HEARTBEAT) bypasses cwnd budget even when
	// queued behind budget-filling normal messages (§4.3), so a full
	// budget must not stop the scan — only skip non-bypassing entries.
	var kept []*protocol.Message
	for _, msg := range p.queue {
		bypass := msg.Priority == protocol.PriorityHigh
		if !bypass && budget <= 0 {
			kept = append(kept, msg)
			continue
		}
		p.send(msg, now)
		if !bypass {
			budget--
		}
	}
	p.queue = kept
}

func (p *Pipeline) send(msg *protocol.Message, now time.Time) {
	p.writeFrame(msg)
	if msg.MsgType != protocol.TypeAck {
		p.unacked[msg.MsgID] = &entry{
			message:       msg,
			firstSendTime: now,
			lastSendTime:  now,
			transmitCount: 1,
		}
	}
}

func (p *Pipeline) writeFrame(msg *protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		p.closed = true
		return
	}
	if _, err := p.writer.Write(frame); err != nil {
		p.closed = true
		return
	}
	p.bytesSent.Add(int64(len(frame)))
	if msg.MsgType == protocol.TypeAck {
		p.acksSent.Inc()
	} else {
		p.messagesSent.Inc()
	}
}

// Close marks the pipeline closed; further Enqueue calls fail and Tick
// becomes a no-op.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
}

// PendingCount reports the current unacked set size, for admin stats.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unacked)
}

// BytesSent reports the running count of frame bytes written.
func (p *Pipeline) BytesSent() int64 { return p.bytesSent.Load() }

// MessagesSent reports the running count of non-ACK frames written.
func (p *Pipeline) MessagesSent() int64 { return p.messagesSent.Load() }

// AcksSent reports the running count of ACK frames written.
func (p *Pipeline) AcksSent() int64 { return p.acksSent.Load() }

// Retransmissions reports the running count of timeout-driven resends.
func (p *Pipeline) Retransmissions() int64 { return p.retransmissions.Load() }

var abandonLogger = zap.NewNop()

// SetLogger wires the package-wide zap logger used to report abandoned
// messages. chatserver calls it for every accepted connection and
// chatclient.Dial for every dial; the last call wins.
func SetLogger(l *zap.Logger) { abandonLogger = l }

func logAbandon(label, msgID string) {
	abandonLogger.Warn("abandoning message past retransmission cap",
		zap.String("dest", label), zap.String("msg_id", msgID))
}
