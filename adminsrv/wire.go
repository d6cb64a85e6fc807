// Package adminsrv implements the administrative control plane (spec
// §4.8): a separate listening endpoint speaking the same length-prefixed
// frame format as the chat channel, carrying JSON command/response
// payloads instead of Message envelopes.
package adminsrv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"chatrelay/protocol"
)

// Request is the admin wire payload: {command, params, timestamp}.
type Request struct {
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params"`
	Timestamp float64         `json:"timestamp"`
}

// Response is a free-form command-specific reply. Every response includes
// at least one of the command's documented fields, or an "error" string.
type Response map[string]any

func errorResponse(format string, args ...any) Response {
	return Response{"error": fmt.Sprintf(format, args...)}
}

const lengthPrefixSize = 4

// readRequest reads one length-prefixed JSON request frame.
func readRequest(r io.Reader) (*Request, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > protocol.MaxMessageSize {
		return nil, fmt.Errorf("adminsrv: frame length %d out of range", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("adminsrv: truncated frame: %w", err)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("adminsrv: malformed request: %w", err)
	}
	return &req, nil
}

// writeResponse encodes and writes one length-prefixed JSON response frame.
func writeResponse(w io.Writer, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("adminsrv: marshal response: %w", err)
	}
	if len(body) > protocol.MaxMessageSize {
		return fmt.Errorf("adminsrv: response %d bytes exceeds MAX_MESSAGE_SIZE", len(body))
	}
	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)
	_, err = w.Write(frame)
	return err
}
