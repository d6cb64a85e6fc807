package chatserver

import (
	"time"

	"go.uber.org/zap"

	"chatrelay/dispatch"
	"chatrelay/protocol"
	"chatrelay/registry"
)

// connHandler implements recvpipe.Handler for one connection: the
// JOIN/CHAT/LEAVE/HEARTBEAT/PRIVATE_MESSAGE dispatch rules of §4.4. ACK
// never reaches HandleMessage — the receive pipeline forwards it to the
// send pipeline's controller directly.
type connHandler struct {
	conn       *registry.Connection
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

func newConnHandler(conn *registry.Connection, disp *dispatch.Dispatcher, logger *zap.Logger) *connHandler {
	return &connHandler{conn: conn, dispatcher: disp, logger: logger}
}

func (h *connHandler) HandleMessage(msg *protocol.Message) {
	now := time.Now()
	h.conn.MarkHeartbeat(now)

	switch msg.MsgType {
	case protocol.TypeJoin:
		h.handleJoin(msg, now)
	case protocol.TypeChat:
		h.dispatcher.BroadcastChat(h.conn.Username(), msg.Content, h.conn.ID)
	case protocol.TypeLeave:
		h.conn.Close()
	case protocol.TypeHeartbeat:
		if msg.Content == "ping" {
			pong := protocol.NewHeartbeat(protocol.ServerSender, "pong", nowSeconds(now))
			_ = h.conn.SendPipe.Enqueue(pong)
		}
	case protocol.TypePrivateMessage:
		h.handlePrivate(msg)
	default:
		// SERVER_INFO, USER_LIST, RETRANSMIT: accepted, no core semantics.
	}
}

func (h *connHandler) handleJoin(msg *protocol.Message, now time.Time) {
	name := msg.Sender
	if !protocol.ValidateUsername(name) {
		h.logger.Info("rejecting join with invalid username", zap.String("name", name))
		h.conn.Close()
		return
	}
	h.conn.SetUsername(name)
	h.dispatcher.BroadcastNotice("*** "+name+" joined ***", h.conn.ID)
}

func (h *connHandler) handlePrivate(msg *protocol.Message) {
	to, body, ok := splitPrivateContent(msg.Content)
	if !ok {
		return
	}
	h.dispatcher.SendPrivate(h.conn.Username(), to, body)
}

func splitPrivateContent(content string) (to, body string, ok bool) {
	for i := 0; i < len(content); i++ {
		if content[i] == '|' {
			return content[:i], content[i+1:], true
		}
	}
	return "", "", false
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
