// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package body

import "testing"

func TestBinaryCodec_RoundTrip(t *testing.T) {
	c := NewBinaryCodec()
	h := c.New()
	h.Set("session_id", "0123456789abcdef0123456789abcdef")
	h.Set("server_type", "worker")
	h.Set("server_name", "nodeA")
	h.Set("retries", int64(3))

	buf := make([]byte, 4096)
	n, err := c.Serialize(h, buf)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	parsed, err := c.Parse(buf[:n])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.SessionID() != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected session id %q", parsed.SessionID())
	}
	if parsed.ServerType() != "worker" {
		t.Fatalf("unexpected server type %q", parsed.ServerType())
	}
	if parsed.ServerName() != "nodeA" {
		t.Fatalf("unexpected server name %q", parsed.ServerName())
	}
	v, ok := parsed.Get("retries")
	if !ok || v.(int64) != 3 {
		t.Fatalf("unexpected retries field: %v, ok=%v", v, ok)
	}
}

func TestBinaryCodec_EmptyBody(t *testing.T) {
	c := NewBinaryCodec()
	h, err := c.Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if h.SessionID() != "" {
		t.Fatalf("expected empty session id, got %q", h.SessionID())
	}
}

func TestBinaryCodec_MalformedInput(t *testing.T) {
	c := NewBinaryCodec()
	if _, err := c.Parse([]byte{0, 1}); err == nil {
		t.Fatal("expected parse error on truncated field table")
	}
}

func TestBinaryCodec_LargePayloadCompresses(t *testing.T) {
	c := NewBinaryCodec()
	h := c.New()
	big := make([]byte, compressionThreshold*2)
	for i := range big {
		big[i] = byte(i % 7)
	}
	h.Set("payload", big)

	buf := make([]byte, len(big)*2)
	n, err := c.Serialize(h, buf)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if n < 2 || buf[0] != 'Z' || buf[1] != 'C' {
		t.Fatalf("expected zstd-compressed prefix on large payload, got first bytes %v", buf[:2])
	}

	parsed, err := c.Parse(buf[:n])
	if err != nil {
		t.Fatalf("Parse compressed: %v", err)
	}
	v, ok := parsed.Get("payload")
	if !ok {
		t.Fatal("expected payload field to survive round trip")
	}
	if len(v.([]byte)) != len(big) {
		t.Fatalf("expected payload length %d, got %d", len(big), len(v.([]byte)))
	}
}

func TestTextTreeCodec_RoundTrip(t *testing.T) {
	c := NewTextTreeCodec()
	h := c.New()
	h.Set("session_id", "s1")
	h.Set("server_type", "1")
	h.Set("server_name", "nodeA")

	buf := make([]byte, 1024)
	n, err := c.Serialize(h, buf)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	parsed, err := c.Parse(buf[:n])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.SessionID() != "s1" || parsed.ServerName() != "nodeA" {
		t.Fatalf("unexpected round trip result: %+v", parsed)
	}
}

func TestTextTreeCodec_MalformedInput(t *testing.T) {
	c := NewTextTreeCodec()
	if _, err := c.Parse([]byte("not: [valid: yaml")); err == nil {
		t.Fatal("expected parse error on malformed yaml")
	}
}

func TestNew_SelectsCodecByKind(t *testing.T) {
	if _, ok := New(Binary).(*BinaryCodec); !ok {
		t.Fatal("New(Binary) should return a *BinaryCodec")
	}
	if _, ok := New(TextTree).(*TextTreeCodec); !ok {
		t.Fatal("New(TextTree) should return a *TextTreeCodec")
	}
}
