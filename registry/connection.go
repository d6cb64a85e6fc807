// Package registry holds the Connection type, the connection registry, and
// the liveness supervisor (spec §3, §4.5). The registry enforces a
// single-writer/many-reader discipline: Add/Remove are the only writes,
// serialized by a mutex, while Snapshot/Get/Range give the dispatcher and
// the admin surface a consistent view without blocking each other.
package registry

import (
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"chatrelay/congestion"
	"chatrelay/recvpipe"
	"chatrelay/sendpipe"
)

// Connection is one live peer. The registry holds a non-owning reference;
// the receive driver owns the read half, the send driver (via SendPipe)
// owns the write half and the congestion state (§3's ownership rule).
type Connection struct {
	ID         string
	RemoteAddr string
	Conn       net.Conn

	Controller *congestion.Controller
	SendPipe   *sendpipe.Pipeline
	RecvPipe   *recvpipe.Pipeline // set via SetRecvPipe once the receive driver exists

	username      atomic.String
	lastHeartbeat atomic.Int64 // unix nanoseconds
	running       atomic.Bool
	closeOnce     sync.Once
	createdAt     time.Time
	done          chan struct{}

	// onClose is invoked at most once by Close, after the socket is closed
	// and the send pipeline drained, so the caller can broadcast the
	// departure notice and remove the connection from the registry.
	onClose func(c *Connection)
}

// New returns a running Connection wrapping conn.
func New(id, remoteAddr string, conn net.Conn, controller *congestion.Controller, pipe *sendpipe.Pipeline, onClose func(*Connection)) *Connection {
	c := &Connection{
		ID:         id,
		RemoteAddr: remoteAddr,
		Conn:       conn,
		Controller: controller,
		SendPipe:   pipe,
		createdAt:  time.Now(),
		onClose:    onClose,
		done:       make(chan struct{}),
	}
	c.running.Store(true)
	c.lastHeartbeat.Store(time.Now().UnixNano())
	return c
}

// SetRecvPipe records the connection's receive pipeline once constructed,
// so Stats can report receive-side counters alongside the send side's.
func (c *Connection) SetRecvPipe(rp *recvpipe.Pipeline) { c.RecvPipe = rp }

// Stats is the NetworkStats-equivalent snapshot for one connection
// (spec-supplemented feature: restores the Python original's
// chat_protocol.py counters into get_stats and the Prometheus collector).
type Stats struct {
	BytesSent        int64
	BytesReceived    int64
	MessagesSent     int64
	MessagesReceived int64
	AcksSent         int64
	AcksReceived     int64
	Retransmissions  int64
	ChecksumErrors   int64
}

// Stats aggregates the send and receive pipeline counters. Safe to call at
// any point in the connection's lifetime; a nil RecvPipe (not yet wired)
// reports zero for its fields.
func (c *Connection) Stats() Stats {
	s := Stats{}
	if c.SendPipe != nil {
		s.BytesSent = c.SendPipe.BytesSent()
		s.MessagesSent = c.SendPipe.MessagesSent()
		s.AcksSent = c.SendPipe.AcksSent()
		s.Retransmissions = c.SendPipe.Retransmissions()
	}
	if c.RecvPipe != nil {
		s.BytesReceived = c.RecvPipe.BytesReceived()
		s.MessagesReceived = c.RecvPipe.MessagesReceived()
		s.AcksReceived = c.RecvPipe.AcksReceived()
		s.ChecksumErrors = c.RecvPipe.DecodeFailures()
	}
	return s
}

// Username returns the display name, empty until a JOIN is received.
func (c *Connection) Username() string { return c.username.Load() }

// SetUsername records the display name from a validated JOIN.
func (c *Connection) SetUsername(name string) { c.username.Store(name) }

// MarkHeartbeat records that the peer was just heard from, resetting the
// idle clock the liveness supervisor watches.
func (c *Connection) MarkHeartbeat(now time.Time) { c.lastHeartbeat.Store(now.UnixNano()) }

// IdleSince reports how long it has been since the last heartbeat.
func (c *Connection) IdleSince(now time.Time) time.Duration {
	last := time.Unix(0, c.lastHeartbeat.Load())
	return now.Sub(last)
}

// Running reports whether the connection is still considered live.
func (c *Connection) Running() bool { return c.running.Load() }

// Done returns a channel closed when the connection closes, for drivers
// that need to stop their own periodic work (e.g. the send driver's tick
// loop) alongside the socket closing.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close idempotently tears the connection down: marks it not-running,
// drops the send queue, closes the socket, and invokes onClose exactly
// once. Concurrent callers (idle timeout, admin kick, peer EOF, shutdown)
// collapse to one effective close (§4.5, invariant 9).
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.running.Store(false)
		if c.SendPipe != nil {
			c.SendPipe.Close()
		}
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// CreatedAt returns when the connection was accepted.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }
