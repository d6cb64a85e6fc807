package adminsrv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// WriteRequest encodes and writes one length-prefixed JSON request frame,
// the client-side counterpart of readRequest. Exported for cmd/chatadmin,
// the only caller outside this package.
func WriteRequest(w io.Writer, req *Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("adminsrv: marshal request: %w", err)
	}
	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)
	_, err = w.Write(frame)
	return err
}

// ReadResponse reads one length-prefixed JSON response frame, the
// client-side counterpart of writeResponse.
func ReadResponse(r io.Reader) (Response, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("adminsrv: truncated response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("adminsrv: malformed response: %w", err)
	}
	return resp, nil
}
