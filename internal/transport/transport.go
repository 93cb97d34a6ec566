// Package transport implements the line-JSON framing (C1) used between the
// device and the ADM, and the bounded outbound queue (C2) that decouples
// application/RPC-result producers from the socket writer.
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrTransportClosed is returned by Decode when the peer closed the stream
// (EOF with no partial data).
var ErrTransportClosed = errors.New("transport: closed")

// ErrBadFrame is returned by Decode when a line was read but did not parse
// as a single JSON object.
var ErrBadFrame = errors.New("transport: bad frame")

// Message is a loosely-typed inbound/outbound frame. Fields are accessed
// lazily via the Field helpers below rather than a fixed struct, matching
// the wire's duck-typed shape (spec.md §9): unknown keys are
// never rejected, and a frame may carry any subset of the known keys.
type Message map[string]any

// Cmd returns the "cmd" field, or "" if absent or not a string.
func (m Message) Cmd() string {
	s, _ := m["cmd"].(string)
	return s
}

// Has reports whether key is present in the message at all (as opposed to
// present-but-null), which matters for fields like "chunk" where 0 is a
// valid value and must be distinguished from "absent".
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns m[key] as a string, or ok=false if absent/wrong type.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Int returns m[key] as an int64. JSON numbers decode as float64 via
// encoding/json's default unmarshaling into map[string]any, so this
// truncates accordingly.
func (m Message) Int(key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// Bool returns m[key] as a bool, or ok=false if absent/wrong type.
func (m Message) Bool(key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// Codec frames Messages as LF-delimited JSON over a single underlying
// stream. The Session Manager serializes all writers through one Codec
// (SPEC_FULL.md §5); the reader side is always single-threaded.
type Codec struct {
	r *bufio.Reader
	w io.Writer
}

// NewCodec wraps rw. Writes are unbuffered; reads go through a bufio.Reader
// that may read ahead past the current line, but each Decode returns exactly
// one object, the same "one object per line" contract as spec.md §4.1.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{r: bufio.NewReaderSize(rw, 4096), w: rw}
}

// Decode reads up to the next '\n' and parses exactly one JSON object.
func (c *Codec) Decode() (Message, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, ErrTransportClosed
		}
		if errors.Is(err, io.EOF) {
			// Trailing bytes with no terminator: still attempt to parse
			// them as the final (unterminated) frame before reporting
			// closure, since some peers omit the last newline before FIN.
		} else {
			return nil, fmt.Errorf("transport: read: %w", err)
		}
	}

	var msg Message
	if jsonErr := json.Unmarshal(line, &msg); jsonErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, jsonErr)
	}
	return msg, nil
}

// Encode serializes v and appends a single '\n'. v is typically one of the
// typed message structs in this package (LoginEnvelope, Return, OTA, ...) so that
// field order on the wire matches the ADM's expectations exactly; a plain
// Message map also works but encoding/json emits map keys in sorted order,
// which does not match the wire-exact ordering the ADM's reference clients
// produce (see spec.md §8 testable properties).
func (c *Codec) Encode(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	b = append(b, '\n')
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}
