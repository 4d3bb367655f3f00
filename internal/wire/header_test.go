// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"
)

func TestHeader_RoundTrip(t *testing.T) {
	h := Header{
		Length:       24,
		RouteID:      7,
		Command:      CmdHeartbeatRequest,
		FlagBits:     FlagEnd,
		PacketNumber: 1,
		ErrorCode:    0,
	}

	buf := make([]byte, HeaderSize)
	if err := AssembleHeader(h, buf); err != nil {
		t.Fatalf("AssembleHeader: %v", err)
	}

	got, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeader_RoundTrip_Identity(t *testing.T) {
	// assemble(parse(b)) == b for any well-formed 24-byte prefix.
	b := []byte{
		0, 0, 0, 24, // length
		0, 0, 0, 0, 0, 0, 0, 3, // route_id
		0, 0, 0, 0, // command
		0, 1, // flag_bits
		0, 1, // packet_number
		0, 0, 0, 0, // error_code
	}
	h, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	out := make([]byte, HeaderSize)
	if err := AssembleHeader(h, out); err != nil {
		t.Fatalf("AssembleHeader: %v", err)
	}
	if !bytes.Equal(b, out) {
		t.Fatalf("assemble(parse(b)) != b: got %v, want %v", out, b)
	}
}

func TestParseHeader_ShortBuffer(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 23)); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestAssembleHeader_ShortDst(t *testing.T) {
	if err := AssembleHeader(Header{}, make([]byte, 10)); err == nil {
		t.Fatal("expected error for short destination buffer")
	}
}

func TestHeader_EndFlag(t *testing.T) {
	var h Header
	if h.IsEnd() {
		t.Fatal("zero-value header should not be end-flagged")
	}
	h.SetEnd(true)
	if !h.IsEnd() {
		t.Fatal("SetEnd(true) should set the end flag")
	}
	h.SetEnd(false)
	if h.IsEnd() {
		t.Fatal("SetEnd(false) should clear the end flag")
	}
}

func TestHeader_IsRequest(t *testing.T) {
	if !(Header{Command: 0x10}).IsRequest() {
		t.Fatal("even command should be a request")
	}
	if (Header{Command: 0x11}).IsRequest() {
		t.Fatal("odd command should not be a request")
	}
}

func TestResponseCommand(t *testing.T) {
	if got := ResponseCommand(0x10); got != 0x11 {
		t.Fatalf("expected 0x11, got %#x", got)
	}
}
