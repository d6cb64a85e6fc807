// Package dispatch implements the broadcast fan-out (spec §4.6): routing
// join/leave/chat notices and private messages to peers via their own
// send pipelines, with independent per-destination accounting and no
// shared reliability state across destinations.
package dispatch

import (
	"time"

	"go.uber.org/atomic"

	"chatrelay/protocol"
	"chatrelay/registry"
)

// Dispatcher fans server- and peer-originated messages out to the
// registry's live connections.
type Dispatcher struct {
	registry *registry.Registry
	nowFn    func() time.Time
	seq      atomic.Uint64
}

// New returns a Dispatcher reading destinations from reg.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg, nowFn: time.Now}
}

// nextSeq hands out sequence numbers to concurrent callers; every
// HandleMessage dispatch runs on its own connection's receive-driver
// goroutine, so this counter has no other synchronization of its own.
func (d *Dispatcher) nextSeq() uint64 {
	return d.seq.Inc()
}

func (d *Dispatcher) now() float64 {
	return float64(d.nowFn().UnixNano()) / 1e9
}

// Broadcast enqueues msg onto every running connection's send pipeline
// except originID (pass "" to exclude none). Each destination accounts
// the message independently; ordering is FIFO per destination only
// (§4.6, invariant 10).
func (d *Dispatcher) Broadcast(msg *protocol.Message, originID string) {
	d.registry.Range(func(c *registry.Connection) bool {
		if !c.Running() || c.ID == originID {
			return true
		}
		_ = c.SendPipe.Enqueue(msg)
		return true
	})
}

// BroadcastNotice builds and broadcasts a server-originated CHAT notice.
func (d *Dispatcher) BroadcastNotice(content, originID string) {
	msg := protocol.NewBroadcast(content, d.nextSeq(), d.now())
	d.Broadcast(msg, originID)
}

// BroadcastChat builds and broadcasts a CHAT message formatted
// "[<sender>]: <content>", excluding the sender's own connection.
func (d *Dispatcher) BroadcastChat(sender, content, originID string) {
	formatted := "[" + sender + "]: " + content
	msg := protocol.NewBroadcast(formatted, d.nextSeq(), d.now())
	d.Broadcast(msg, originID)
}

// SendPrivate routes a PRIVATE_MESSAGE to exactly one recipient by
// username, if currently connected. Reports whether a live recipient was
// found.
func (d *Dispatcher) SendPrivate(from, to, body string) bool {
	msg := protocol.NewPrivateMessage(from, to, body, d.nextSeq(), d.now())
	found := false
	d.registry.Range(func(c *registry.Connection) bool {
		if c.Running() && c.Username() == to {
			_ = c.SendPipe.Enqueue(msg)
			found = true
			return false
		}
		return true
	})
	return found
}

// UserList builds a USER_LIST snapshot of every connection with a set
// username, for a requester that asks for the roster.
func (d *Dispatcher) UserList() []string {
	var names []string
	d.registry.Range(func(c *registry.Connection) bool {
		if c.Running() {
			if name := c.Username(); name != "" {
				names = append(names, name)
			}
		}
		return true
	})
	return names
}
