package chatclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/protocol"
)

// serverStub accepts exactly one connection and hands the raw net.Conn to
// the test, which drives the wire directly — a single reader/writer per
// side, matching the real server's discipline (§3). The accepted conn is
// picked up by the first ackNext, since the test dials after the stub
// starts listening.
type serverStub struct {
	ln       net.Listener
	conn     net.Conn
	accepted chan net.Conn
}

func startServerStub(t *testing.T) *serverStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &serverStub{ln: ln, accepted: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			s.accepted <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *serverStub) addr() string { return s.ln.Addr().String() }

// ackNext reads one frame and, if it is not itself an ACK, replies with one.
func (s *serverStub) ackNext(t *testing.T) *protocol.Message {
	t.Helper()
	if s.conn == nil {
		s.conn = <-s.accepted
		t.Cleanup(func() { _ = s.conn.Close() })
	}
	msg, err := protocol.ReadFrame(s.conn)
	require.NoError(t, err)
	if msg.MsgType != protocol.TypeAck {
		ack := protocol.NewAck(protocol.ServerSender, msg.MsgID, msg.SequenceNumber, nowSeconds())
		require.NoError(t, protocol.WriteFrame(s.conn, ack))
	}
	return msg
}

func TestDialSendsJoin(t *testing.T) {
	srv := startServerStub(t)

	c, err := Dial(context.Background(), srv.addr(), "alice", nil)
	require.NoError(t, err)
	defer c.Close()

	stop := make(chan struct{})
	go c.Run(stop)
	defer close(stop)

	msg := srv.ackNext(t)
	assert.Equal(t, protocol.TypeJoin, msg.MsgType)
	assert.Equal(t, "alice", msg.Sender)
}

func TestHandleMessageDeliversChatToIncoming(t *testing.T) {
	srv := startServerStub(t)
	c, err := Dial(context.Background(), srv.addr(), "bob", nil)
	require.NoError(t, err)
	defer c.Close()

	stop := make(chan struct{})
	go c.Run(stop)
	defer close(stop)

	srv.ackNext(t) // the JOIN

	chat := protocol.NewBroadcast("hello from server", 1, nowSeconds())
	require.NoError(t, protocol.WriteFrame(srv.conn, chat))

	select {
	case got := <-c.Incoming:
		assert.Equal(t, "hello from server", got.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the broadcast to reach Incoming")
	}

	// the client's synthesized ACK for the broadcast follows.
	ack, err := protocol.ReadFrame(srv.conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAck, ack.MsgType)
}

func TestHeartbeatPingIsAnsweredWithPong(t *testing.T) {
	srv := startServerStub(t)
	c, err := Dial(context.Background(), srv.addr(), "carol", nil)
	require.NoError(t, err)
	defer c.Close()

	stop := make(chan struct{})
	go c.Run(stop)
	defer close(stop)

	srv.ackNext(t) // the JOIN

	ping := protocol.NewHeartbeat(protocol.ServerSender, "ping", nowSeconds())
	require.NoError(t, protocol.WriteFrame(srv.conn, ping))

	// First frame back is the synthesized ACK for the ping, second is pong.
	ack, err := protocol.ReadFrame(srv.conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAck, ack.MsgType)

	_ = srv.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pong, err := protocol.ReadFrame(srv.conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeHeartbeat, pong.MsgType)
	assert.Equal(t, "pong", pong.Content)
}

func TestSendChatIncrementsSequenceAndStats(t *testing.T) {
	srv := startServerStub(t)
	c, err := Dial(context.Background(), srv.addr(), "dave", nil)
	require.NoError(t, err)
	defer c.Close()

	c.sendPipe.Tick(time.Now()) // flushes the JOIN enqueued by Dial
	srv.ackNext(t)

	require.NoError(t, c.SendChat("hi"))
	c.sendPipe.Tick(time.Now())
	stats := c.Stats()
	assert.Equal(t, 1, stats.PendingMessages, "sent but not yet acked (Run is not driving the receive loop in this test)")
	assert.Equal(t, uint64(1), c.seq)
}
