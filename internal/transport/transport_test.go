package transport

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf)

	if err := c.Encode(NewHeartbeat()); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	msg, err := c.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Cmd() != "HTBM" {
		t.Fatalf("expected cmd HTBM, got %q", msg.Cmd())
	}
}

func TestCodecEncodeAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf)
	if err := c.Encode(NewEvent(map[string]any{"x": 1})); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected trailing newline, got %q", buf.String())
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", buf.String())
	}
}

func TestCodecDecodeClosedStream(t *testing.T) {
	c := NewCodec(bytes.NewBufferString(""))
	_, err := c.Decode()
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestCodecDecodeBadFrame(t *testing.T) {
	c := NewCodec(bytes.NewBufferString("not json\n"))
	_, err := c.Decode()
	if !errors.Is(err, ErrBadFrame) {
		t.Fatalf("expected ErrBadFrame, got %v", err)
	}
}

func TestCodecDecodeUnterminatedFinalFrame(t *testing.T) {
	c := NewCodec(bytes.NewBufferString(`{"cmd":"HTBM"}`))
	msg, err := c.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Cmd() != "HTBM" {
		t.Fatalf("expected cmd HTBM, got %q", msg.Cmd())
	}
}

func TestMessageInt(t *testing.T) {
	msg := Message{"chunk": float64(2048)}
	n, ok := msg.Int("chunk")
	if !ok || n != 2048 {
		t.Fatalf("expected (2048, true), got (%d, %v)", n, ok)
	}
	if _, ok := msg.Int("missing"); ok {
		t.Fatal("expected ok=false for missing key")
	}
}

func TestMessageHasDistinguishesZeroFromAbsent(t *testing.T) {
	msg := Message{"chunk": float64(0)}
	if !msg.Has("chunk") {
		t.Fatal("expected Has(chunk) true when value is zero but present")
	}
	if msg.Has("other") {
		t.Fatal("expected Has(other) false when key absent")
	}
}

func TestNewNotificationFieldOrder(t *testing.T) {
	n := NewNotification("hello", "world")
	b, err := encodeJSON(n)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(b, `"text":"world","title":"hello"`) {
		t.Fatalf("expected text before title, got %s", b)
	}
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	c := NewCodec(&buf)
	if err := c.Encode(v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
