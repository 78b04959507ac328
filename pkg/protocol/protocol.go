// Package protocol implements the chat relay wire format: length-prefixed
// JSON messages over a byte stream.
//
// Every message is LENGTH || PAYLOAD, where LENGTH is a fixed 10-byte field
// of zero-padded ASCII decimal digits giving the payload's byte length, and
// PAYLOAD is a UTF-8 JSON object carrying a mandatory "type" field.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// HeaderSize is the byte size of the length header.
	HeaderSize = 10

	// MaxPayload is the maximum accepted payload size (16 MiB).
	// The header format allows up to 10 decimal digits; anything near that
	// is a broken or hostile peer, not a chat message.
	MaxPayload = 16 << 20
)

// ErrFraming marks stream-level failures: a short or non-numeric length
// header, or the peer closing mid-message. Framing errors are fatal to
// the connection.
var ErrFraming = errors.New("protocol: framing error")

// ErrDecode marks a well-framed payload that is not valid JSON. Also fatal:
// the stream itself is intact but the peer is speaking a different language.
var ErrDecode = errors.New("protocol: decode error")

// envelope extracts only the type discriminator from a payload.
type envelope struct {
	Type string `json:"type"`
}

// WriteMessage marshals v to JSON and writes it as one length-prefixed
// message. The header and payload are written back to back; callers must
// serialize concurrent writes to the same writer.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) >= 1e10 {
		return fmt.Errorf("protocol: message length %d does not fit the header", len(data))
	}

	buf := make([]byte, 0, HeaderSize+len(data))
	buf = appendHeader(buf, len(data))
	buf = append(buf, data...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// appendHeader appends the zero-padded decimal length field.
func appendHeader(buf []byte, n int) []byte {
	digits := strconv.Itoa(n)
	for i := len(digits); i < HeaderSize; i++ {
		buf = append(buf, '0')
	}
	return append(buf, digits...)
}

// ReadMessage reads one length-prefixed message from r and returns the raw
// payload along with its extracted type. It loops on partial reads until the
// declared length is satisfied.
//
// Errors wrap ErrFraming for header/stream faults and ErrDecode for malformed
// JSON; both are fatal to the session that owns the stream. A clean close
// before any header byte is reported as io.EOF.
func ReadMessage(r io.Reader) (json.RawMessage, string, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, "", io.EOF
		}
		return nil, "", fmt.Errorf("%w: read length header: %v", ErrFraming, err)
	}

	length, err := parseHeader(header)
	if err != nil {
		return nil, "", err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, "", fmt.Errorf("%w: read payload: %v", ErrFraming, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return payload, env.Type, nil
}

// parseHeader parses the 10-byte decimal length field. Writers zero-pad,
// but a space-padded header is tolerated the same way.
func parseHeader(header []byte) (int, error) {
	trimmed := string(bytes.TrimSpace(header))
	length, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad length header %q", ErrFraming, string(header))
	}
	if length > MaxPayload {
		return 0, fmt.Errorf("%w: declared length %d exceeds limit", ErrFraming, length)
	}
	return int(length), nil
}
