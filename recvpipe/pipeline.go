// Package recvpipe implements the receive pipeline (spec §4.4): frame
// ingest, fault injection, ack synthesis, and dispatch to a connection's
// message handler. It is deliberately reader-agnostic so the same type
// drives both the server's per-connection receive driver and the client's
// symmetric receive loop (spec §2: "the client's symmetric receive/ack/
// heartbeat loop is part of the core only insofar as it defines the wire
// contract").
package recvpipe

import (
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"chatrelay/fault"
	"chatrelay/protocol"
)

// Acker is the subset of sendpipe.Pipeline the receive pipeline needs:
// enqueueing the synthesized ACK and forwarding a decoded ACK to the
// congestion controller.
type Acker interface {
	Enqueue(msg *protocol.Message) error
	OnAck(ackFor string, ackSeq uint64, now time.Time)
}

// Handler receives every successfully decoded, non-ACK message. Recipients
// implement the dispatch rules of §4.4 (JOIN/CHAT/LEAVE/HEARTBEAT/...).
type Handler interface {
	HandleMessage(msg *protocol.Message)
}

// Pipeline reads frames from one connection's read half, applies the
// fault injector, synthesizes acks, and forwards everything else to a
// Handler. It is the exclusive reader of its byte stream (§3).
type Pipeline struct {
	reader    io.Reader
	conn      net.Conn // non-nil when r is a net.Conn, for read deadlines
	acker     Acker
	handler   Handler
	injector  *fault.Injector // nil on the client side, which injects no faults
	sender    string          // identity used as the Sender field on synthesized ACKs
	label     string
	logger    *zap.Logger
	nowFn     func() time.Time
	decodeErr atomic.Int64

	bytesReceived    atomic.Int64
	messagesReceived atomic.Int64
	acksReceived     atomic.Int64
}

// New returns a ready Pipeline. injector may be nil (the client side has
// none). logger may be nil, in which case a no-op logger is used.
func New(r io.Reader, acker Acker, handler Handler, injector *fault.Injector, sender, label string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		acker:    acker,
		handler:  handler,
		injector: injector,
		sender:   sender,
		label:    label,
		logger:   logger,
		nowFn:    time.Now,
	}
	if conn, ok := r.(net.Conn); ok {
		p.conn = conn
	}
	p.reader = &countingReader{r: r, total: &p.bytesReceived}
	return p
}

// countingReader tallies raw bytes read, the wire-level half of the
// NetworkStats counters the registry exposes per connection. It forwards
// SetReadDeadline to the wrapped reader when present, so protocol.ReadFrame
// can still clear the idle-poll deadline once a frame's length prefix has
// arrived.
type countingReader struct {
	r     io.Reader
	total *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.total.Add(int64(n))
	}
	return n, err
}

func (c *countingReader) SetReadDeadline(t time.Time) error {
	if ds, ok := c.r.(protocol.DeadlineSetter); ok {
		return ds.SetReadDeadline(t)
	}
	return nil
}

// DecodeFailures reports the running count of frames dropped for malformed
// JSON, unknown msg_type, or checksum mismatch.
func (p *Pipeline) DecodeFailures() int64 { return p.decodeErr.Load() }

// BytesReceived reports the running count of raw bytes read off the wire.
func (p *Pipeline) BytesReceived() int64 { return p.bytesReceived.Load() }

// MessagesReceived reports the running count of non-ACK frames decoded.
func (p *Pipeline) MessagesReceived() int64 { return p.messagesReceived.Load() }

// AcksReceived reports the running count of ACK frames decoded.
func (p *Pipeline) AcksReceived() int64 { return p.acksReceived.Load() }

// Run drives the pipeline until a fatal frame error, an I/O error, EOF, or
// stop is closed. It returns nil on a clean stop, and the triggering error
// otherwise (callers treat any non-nil return as "close this connection").
func (p *Pipeline) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		p.applyReadTimeout()
		body, err := protocol.ReadRawFrame(p.reader)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Our own read deadline tripped with nothing to read;
				// loop back around to re-check stop.
				continue
			}
			if isStopSignaled(stop) {
				return nil
			}
			// FrameError (bad length/truncated frame), EOF, or any other
			// I/O error is fatal for the connection (§7).
			p.logger.Debug("receive pipeline exiting", zap.String("conn", p.label), zap.Error(err))
			return err
		}

		// Fault injection runs on the raw frame, before decode (§4.7):
		// a dropped or delayed frame never reaches the checksum/validation
		// step at all.
		if p.injector != nil {
			dropped, delay := p.injector.Evaluate()
			if dropped {
				continue
			}
			if delay > 0 {
				time.Sleep(delay)
			}
		}

		msg, err := protocol.Decode(body)
		if err != nil {
			var validationErr *protocol.MessageValidationError
			var checksumErr *protocol.ChecksumMismatchError
			if errors.As(err, &validationErr) || errors.As(err, &checksumErr) {
				p.decodeErr.Inc()
				continue
			}
			p.logger.Debug("receive pipeline exiting", zap.String("conn", p.label), zap.Error(err))
			return err
		}

		p.handleDecoded(msg)
	}
}

func isStopSignaled(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// applyReadTimeout gives Run a bounded suspension point so a stop signal is
// observed promptly (§5: reads are the mechanism by which cooperative
// cancellation becomes prompt, target ≤ 1s), when the underlying reader is
// a net.Conn.
func (p *Pipeline) applyReadTimeout() {
	if p.conn != nil {
		_ = p.conn.SetReadDeadline(p.nowFn().Add(time.Second))
	}
}

func (p *Pipeline) handleDecoded(msg *protocol.Message) {
	if msg.MsgType == protocol.TypeAck {
		p.acksReceived.Inc()
		payload, err := protocol.DecodeAckPayload(msg.Content)
		if err != nil {
			p.decodeErr.Inc()
			return
		}
		p.acker.OnAck(payload.AckFor, msg.SequenceNumber, p.nowFn())
		return
	}
	p.messagesReceived.Inc()

	ack := protocol.NewAck(p.sender, msg.MsgID, msg.SequenceNumber, nowSeconds(p.nowFn))
	if err := p.acker.Enqueue(ack); err != nil {
		p.logger.Debug("ack enqueue failed, connection likely closing", zap.String("conn", p.label), zap.Error(err))
	}

	p.handler.HandleMessage(msg)
}

func nowSeconds(nowFn func() time.Time) float64 {
	return float64(nowFn().UnixNano()) / 1e9
}
