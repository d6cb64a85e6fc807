// Package chatclient implements the symmetric client-side half of the wire
// contract (spec §2, §6): dial, JOIN, the same send/receive pipelines the
// server uses, and a channel of incoming messages for an interactive shell
// to render. It carries no fault injector — the server is the only side
// that simulates loss and delay (§4.4).
package chatclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay/congestion"
	"chatrelay/protocol"
	"chatrelay/recvpipe"
	"chatrelay/sendpipe"
)

const sendTickInterval = 100 * time.Millisecond

// Client is one connection to a chatrelay server.
type Client struct {
	conn       net.Conn
	controller *congestion.Controller
	sendPipe   *sendpipe.Pipeline
	recvPipe   *recvpipe.Pipeline
	username   string
	logger     *zap.Logger

	seq uint64

	// Incoming delivers every non-ACK, non-HEARTBEAT message the server
	// sends, in arrival order. The caller (an interactive shell or a
	// load-test driver) is responsible for draining it; a message that
	// arrives while it is full is dropped.
	Incoming chan *protocol.Message

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a TCP connection to addr, sends the JOIN announcing username,
// and returns a Client ready for Run. logger may be nil.
func Dial(ctx context.Context, addr, username string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	controller := congestion.New()
	pipe := sendpipe.New(conn, controller, username)
	sendpipe.SetLogger(logger)

	c := &Client{
		conn:       conn,
		controller: controller,
		sendPipe:   pipe,
		username:   username,
		logger:     logger,
		Incoming:   make(chan *protocol.Message, 64),
		done:       make(chan struct{}),
	}
	c.recvPipe = recvpipe.New(conn, pipe, clientHandler{c}, nil, username, username, logger)

	join := protocol.NewJoinMessage(username, nowSeconds())
	if err := pipe.Enqueue(join); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Run drives the receive loop and the send ticker until the connection
// closes or stop is closed. It returns the receive pipeline's terminating
// error (nil on a clean stop).
func (c *Client) Run(stop <-chan struct{}) error {
	go c.runSendTicker()
	err := c.recvPipe.Run(stop)
	c.Close()
	return err
}

func (c *Client) runSendTicker() {
	ticker := time.NewTicker(sendTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sendPipe.Tick(time.Now())
		}
	}
}

// SendChat enqueues a CHAT message.
func (c *Client) SendChat(content string) error {
	c.seq++
	return c.sendPipe.Enqueue(protocol.NewChatMessage(c.username, content, c.seq, nowSeconds()))
}

// SendPrivate enqueues a PRIVATE_MESSAGE addressed to to.
func (c *Client) SendPrivate(to, body string) error {
	c.seq++
	return c.sendPipe.Enqueue(protocol.NewPrivateMessage(c.username, to, body, c.seq, nowSeconds()))
}

// Stats reports the client's own view of its connection state, the
// client-side analogue of what get_stats reports for each server
// connection.
type Stats struct {
	CongestionWindow float64
	RTO              time.Duration
	PendingMessages  int
	State            string
}

// Stats returns the current congestion and queue state.
func (c *Client) Stats() Stats {
	return Stats{
		CongestionWindow: c.controller.Cwnd,
		RTO:              c.controller.RTO(),
		PendingMessages:  c.sendPipe.PendingCount(),
		State:            string(c.controller.State),
	}
}

// Close sends LEAVE best-effort, stops the send ticker, and closes the
// socket. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		leave := protocol.NewLeaveMessage(c.username, nowSeconds())
		_ = c.sendPipe.Enqueue(leave)
		c.sendPipe.Tick(time.Now())
		close(c.done)
		c.sendPipe.Close()
		_ = c.conn.Close()
	})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
