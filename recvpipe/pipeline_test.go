package recvpipe

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/fault"
	"chatrelay/protocol"
)

type fakeAcker struct {
	mu      sync.Mutex
	enq     []*protocol.Message
	acked   []string
	enqFail bool
}

func (f *fakeAcker) Enqueue(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqFail {
		return assertErr
	}
	f.enq = append(f.enq, msg)
	return nil
}

func (f *fakeAcker) OnAck(ackFor string, ackSeq uint64, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ackFor)
}

var assertErr = &protocol.ProtocolError{}

type fakeHandler struct {
	mu       sync.Mutex
	received []*protocol.Message
}

func (h *fakeHandler) HandleMessage(msg *protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, msg)
}

func frameBuffer(t *testing.T, msgs ...*protocol.Message) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	for _, m := range msgs {
		require.NoError(t, protocol.WriteFrame(buf, m))
	}
	return buf
}

func TestNonAckMessageTriggersAckAndDispatch(t *testing.T) {
	chat := protocol.NewChatMessage("alice", "hi", 1, 1000)
	buf := frameBuffer(t, chat)

	acker := &fakeAcker{}
	handler := &fakeHandler{}
	p := New(buf, acker, handler, nil, "server", "conn-1", nil)

	_ = p.Run(make(chan struct{}))

	require.Len(t, handler.received, 1)
	assert.Equal(t, chat.MsgID, handler.received[0].MsgID)
	require.Len(t, acker.enq, 1)
	ackPayload, err := protocol.DecodeAckPayload(acker.enq[0].Content)
	require.NoError(t, err)
	assert.Equal(t, chat.MsgID, ackPayload.AckFor)
}

func TestAckMessageForwardsToAckerWithoutDispatch(t *testing.T) {
	ack := protocol.NewAck("bob", "chat_xyz", 1, 1000)
	buf := frameBuffer(t, ack)

	acker := &fakeAcker{}
	handler := &fakeHandler{}
	p := New(buf, acker, handler, nil, "server", "conn-1", nil)

	_ = p.Run(make(chan struct{}))

	assert.Empty(t, handler.received)
	require.Len(t, acker.acked, 1)
	assert.Equal(t, "chat_xyz", acker.acked[0])
}

func TestDecodeFailureIsNonFatalAndCounted(t *testing.T) {
	good := protocol.NewChatMessage("carol", "after", 1, 1000)

	buf := &bytes.Buffer{}
	bad := protocol.NewChatMessage("carol", "tampered", 1, 1000)
	bad.Content = "mutated after seal"
	require.NoError(t, protocol.WriteFrame(buf, bad))
	require.NoError(t, protocol.WriteFrame(buf, good))

	acker := &fakeAcker{}
	handler := &fakeHandler{}
	p := New(buf, acker, handler, nil, "server", "conn-1", nil)

	_ = p.Run(make(chan struct{}))

	assert.Equal(t, int64(1), p.DecodeFailures())
	require.Len(t, handler.received, 1)
	assert.Equal(t, good.MsgID, handler.received[0].MsgID)
}

func TestFaultInjectorDropsSuppressAckAndDispatch(t *testing.T) {
	chat := protocol.NewChatMessage("dave", "dropped", 1, 1000)
	buf := frameBuffer(t, chat)

	inj := fault.New()
	inj.Configure(1.0, 0)

	acker := &fakeAcker{}
	handler := &fakeHandler{}
	p := New(buf, acker, handler, inj, "server", "conn-1", nil)

	_ = p.Run(make(chan struct{}))

	assert.Empty(t, handler.received)
	assert.Empty(t, acker.enq)
	assert.Equal(t, int64(1), inj.DropCount())
}
