package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MaxMessageSize is the largest permitted frame payload (§6).
const MaxMessageSize = 65536

// ProtocolVersion is the wire-compatibility version stamp (§6). It is not
// carried on every frame; it exists for out-of-band compatibility checks.
const ProtocolVersion = "1.0"

const lengthPrefixSize = 4

// Encode serializes msg into a length-prefixed JSON frame:
// [4-byte big-endian length][UTF-8 JSON body].
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return nil, newFrameError("frame body %d bytes exceeds MAX_MESSAGE_SIZE %d", len(body), MaxMessageSize)
	}
	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)
	return frame, nil
}

// Decode parses a single frame body (without the length prefix) into a
// Message, rejecting malformed JSON, an unknown msg_type, or a missing
// required field with MessageValidationError, and a checksum mismatch with
// ChecksumMismatchError. It never returns a non-nil Message on error.
func Decode(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, newValidationError("malformed JSON: %v", err)
	}
	if msg.MsgID == "" {
		return nil, newValidationError("missing msg_id")
	}
	if msg.Sender == "" {
		return nil, newValidationError("missing sender")
	}
	if !validTypes[msg.MsgType] {
		return nil, newValidationError("unknown msg_type %q", msg.MsgType)
	}
	if !msg.IsValid() {
		return nil, newChecksumError("checksum mismatch for %s", msg.MsgID)
	}
	return &msg, nil
}

// DeadlineSetter is the subset of net.Conn ReadFrame uses to keep a
// partially-arrived frame from being cut off by the caller's idle-poll
// read deadline once its length prefix has been consumed.
type DeadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// ReadRawFrame reads exactly one length-prefixed frame from r and returns
// its undecoded body. Callers that need to apply fault injection before
// decode (recvpipe: §4.7 runs the injector "before decode") read the raw
// body with this and call Decode themselves.
//
// If r also implements DeadlineSetter (true for every net.Conn), the
// deadline is cleared once the length prefix is in hand so the caller's
// idle-poll deadline can never fire mid-body and desync or kill a
// connection that is simply slow between the prefix and the body.
func ReadRawFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxMessageSize {
		return nil, newFrameError("frame length %d out of range (0, %d]", length, MaxMessageSize)
	}

	if ds, ok := r.(DeadlineSetter); ok {
		_ = ds.SetReadDeadline(time.Time{})
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, newFrameError("truncated frame: %v", err)
	}
	return body, nil
}

// ReadFrame reads exactly one length-prefixed frame from r and decodes it.
// A length outside (0, MaxMessageSize] or a truncated body is a FrameError
// — fatal for the connection; a short or missing length prefix returns the
// underlying read error (e.g. io.EOF) unwrapped. A decode failure inside a
// well-framed payload is returned as-is (non-fatal, caller should continue
// reading the next frame).
func ReadFrame(r io.Reader) (*Message, error) {
	body, err := ReadRawFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

// WriteFrame encodes msg and writes it to w in one call.
func WriteFrame(w io.Writer, msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func encodeAckPayload(ackFor string) string {
	body, _ := json.Marshal(AckPayload{AckFor: ackFor})
	return string(body)
}

// DecodeAckPayload parses the structured content of an ACK message.
func DecodeAckPayload(content string) (AckPayload, error) {
	var payload AckPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return AckPayload{}, newValidationError("malformed ack payload: %v", err)
	}
	if payload.AckFor == "" {
		return AckPayload{}, newValidationError("ack payload missing ack_for")
	}
	return payload, nil
}
