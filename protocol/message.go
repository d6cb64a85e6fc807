// Package protocol defines the wire message, its integrity fingerprint, and
// the length-prefixed JSON frame format shared by the chat and admin
// channels (spec §3, §4.1).
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/xid"
)

// MessageType enumerates the closed set of message kinds the wire contract
// allows. Any other value is a decode-time rejection.
type MessageType string

const (
	TypeChat            MessageType = "chat"
	TypeAck             MessageType = "ack"
	TypeHeartbeat       MessageType = "heartbeat"
	TypeJoin            MessageType = "join"
	TypeLeave           MessageType = "leave"
	TypeRetransmit      MessageType = "retransmit"
	TypeServerInfo      MessageType = "server_info"
	TypeUserList        MessageType = "user_list"
	TypePrivateMessage  MessageType = "private_message"
)

var validTypes = map[MessageType]bool{
	TypeChat:           true,
	TypeAck:            true,
	TypeHeartbeat:      true,
	TypeJoin:           true,
	TypeLeave:          true,
	TypeRetransmit:     true,
	TypeServerInfo:     true,
	TypeUserList:       true,
	TypePrivateMessage: true,
}

// Priority levels. ACK and HEARTBEAT are always PriorityHigh.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// ServerSender is the literal sender name used for server-originated traffic.
const ServerSender = "server"

// Message is the self-describing record carried by every frame.
type Message struct {
	MsgID          string      `json:"msg_id"`
	MsgType        MessageType `json:"msg_type"`
	Sender         string      `json:"sender"`
	Content        string      `json:"content"`
	Timestamp      float64     `json:"timestamp"`
	Priority       int         `json:"priority"`
	SequenceNumber uint64      `json:"sequence_number"`
	Checksum       string      `json:"checksum"`
}

// computeChecksum computes the 16-hex-digit truncated SHA-256 fingerprint over the
// canonical concatenation of every other field. This layout is a
// wire-compatibility constraint (§4.1) and must never change independently
// on client and server.
func (m *Message) computeChecksum() string {
	data := fmt.Sprintf("%s%s%s%s%v%d%d",
		m.MsgID, m.MsgType, m.Sender, m.Content, m.Timestamp, m.Priority, m.SequenceNumber)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// Seal (re)computes and stores the checksum. Call after populating every
// other field, before the message is handed to the codec.
func (m *Message) Seal() {
	m.Checksum = m.computeChecksum()
}

// IsValid reports whether the stored checksum matches the recomputed one.
func (m *Message) IsValid() bool {
	return m.Checksum == m.computeChecksum()
}

func newID(prefix string) string {
	return prefix + "_" + xid.New().String()
}

// NewClientID mints a stable id for a newly accepted connection.
func NewClientID() string {
	return newID("client")
}

// NewChatMessage builds a sealed CHAT message from sender.
func NewChatMessage(sender, content string, seq uint64, now float64) *Message {
	m := &Message{
		MsgID:          newID("chat"),
		MsgType:        TypeChat,
		Sender:         sender,
		Content:        content,
		Timestamp:      now,
		Priority:       PriorityNormal,
		SequenceNumber: seq,
	}
	m.Seal()
	return m
}

// NewPrivateMessage builds a PRIVATE_MESSAGE from sender to a named recipient.
// The recipient is encoded in Content as "<to>|<body>"; the dispatcher is
// responsible for routing, the codec only carries the envelope.
func NewPrivateMessage(sender, to, body string, seq uint64, now float64) *Message {
	m := &Message{
		MsgID:          newID("pm"),
		MsgType:        TypePrivateMessage,
		Sender:         sender,
		Content:        to + "|" + body,
		Timestamp:      now,
		Priority:       PriorityNormal,
		SequenceNumber: seq,
	}
	m.Seal()
	return m
}

// NewJoinMessage builds a JOIN announcing username.
func NewJoinMessage(username string, now float64) *Message {
	m := &Message{
		MsgID:     newID("join"),
		MsgType:   TypeJoin,
		Sender:    username,
		Content:   username,
		Timestamp: now,
		Priority:  PriorityNormal,
	}
	m.Seal()
	return m
}

// NewLeaveMessage builds a LEAVE from username.
func NewLeaveMessage(username string, now float64) *Message {
	m := &Message{
		MsgID:     newID("leave"),
		MsgType:   TypeLeave,
		Sender:    username,
		Content:   "",
		Timestamp: now,
		Priority:  PriorityNormal,
	}
	m.Seal()
	return m
}

// NewHeartbeat builds a HEARTBEAT from sender with the given content
// ("ping" or "pong"). Heartbeats are always high priority.
func NewHeartbeat(sender, content string, now float64) *Message {
	m := &Message{
		MsgID:     newID("heartbeat"),
		MsgType:   TypeHeartbeat,
		Sender:    sender,
		Content:   content,
		Timestamp: now,
		Priority:  PriorityHigh,
	}
	m.Seal()
	return m
}

// AckPayload is the structured content of an ACK message.
type AckPayload struct {
	AckFor string `json:"ack_for"`
}

// NewAck builds an ACK from sender acknowledging ackFor.
func NewAck(sender, ackFor string, seq uint64, now float64) *Message {
	m := &Message{
		MsgID:          newID("ack"),
		MsgType:        TypeAck,
		Sender:         sender,
		Content:        encodeAckPayload(ackFor),
		Timestamp:      now,
		Priority:       PriorityHigh,
		SequenceNumber: seq,
	}
	m.Seal()
	return m
}

// NewBroadcast builds a server-originated CHAT announcement/system notice.
func NewBroadcast(content string, seq uint64, now float64) *Message {
	m := &Message{
		MsgID:          newID("broadcast"),
		MsgType:        TypeChat,
		Sender:         ServerSender,
		Content:        content,
		Timestamp:      now,
		Priority:       PriorityNormal,
		SequenceNumber: seq,
	}
	m.Seal()
	return m
}
