package chatclient

import (
	"chatrelay/protocol"
)

// clientHandler implements recvpipe.Handler for the client side. Every
// non-ACK message the server sends (CHAT, PRIVATE_MESSAGE, SERVER_INFO,
// USER_LIST, a HEARTBEAT "ping") lands here; the receive pipeline has
// already synthesized and enqueued the ACK before calling in.
type clientHandler struct {
	c *Client
}

func (h clientHandler) HandleMessage(msg *protocol.Message) {
	if msg.MsgType == protocol.TypeHeartbeat {
		if msg.Content == "ping" {
			pong := protocol.NewHeartbeat(h.c.username, "pong", nowSeconds())
			_ = h.c.sendPipe.Enqueue(pong)
		}
		return
	}
	select {
	case h.c.Incoming <- msg:
	default:
		// Incoming is full; the caller has fallen behind its own inbox.
		// Drop rather than block the receive driver.
	}
}
