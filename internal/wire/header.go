// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implements the fixed 24-byte big-endian protocol header
// shared by every packet the core exchanges: length-prefixed, command
// dispatched, optionally fragmented.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed on-wire size of a header, in bytes.
const HeaderSize = 24

// FlagEnd marks the terminal fragment of a (possibly single-fragment)
// message. It is bit 0 of FlagBits.
const FlagEnd uint16 = 0x0001

// Reserved command codes (spec.md §6). Request codes are even; the
// companion response is request|1.
const (
	CmdHeartbeatRequest  uint32 = 0x00
	CmdHeartbeatResponse uint32 = 0x01
	CmdIdentityRequest   uint32 = 0x02
	CmdIdentityResponse  uint32 = 0x03
	CmdSentinelUnused    uint32 = 0x11111111
)

// Error-code conventions for Header.ErrorCode (spec.md §6).
const (
	RetcodeSuccess uint32 = 888888
	RetcodeUnknown uint32 = 0
	RetcodeParse   uint32 = 444444
)

// Errors returned by ParseHeader and AssembleHeader (ErrShortBuffer)
// and by ValidateFragment (ErrZeroFragment).
var (
	ErrShortBuffer  = errors.New("wire: buffer shorter than header size")
	ErrZeroFragment = errors.New("wire: packet_number is 0, reserved and invalid")
)

// Header is the fixed 24-byte packet header, see spec.md §3/§6:
//
//	offset 0  length          uint32
//	offset 4  route_id        uint64
//	offset 12 command         uint32
//	offset 16 flag_bits       uint16
//	offset 18 packet_number   uint16
//	offset 20 error_code      uint32
type Header struct {
	Length       uint32
	RouteID      uint64
	Command      uint32
	FlagBits     uint16
	PacketNumber uint16
	ErrorCode    uint32
}

// IsEnd reports whether bit 0 of FlagBits (end-of-fragmented-message)
// is set.
func (h Header) IsEnd() bool {
	return h.FlagBits&FlagEnd != 0
}

// SetEnd sets or clears the end-of-message flag.
func (h *Header) SetEnd(end bool) {
	if end {
		h.FlagBits |= FlagEnd
	} else {
		h.FlagBits &^= FlagEnd
	}
}

// IsRequest reports whether Command is even (request convention).
func (h Header) IsRequest() bool {
	return h.Command%2 == 0
}

// ParseHeader decodes the fixed 24-byte header from the front of b.
// It requires len(b) >= HeaderSize but does not validate Length against
// any buffer capacity — that is the caller's job (spec.md §4.5 step 2).
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	h := Header{
		Length:       binary.BigEndian.Uint32(b[0:4]),
		RouteID:      binary.BigEndian.Uint64(b[4:12]),
		Command:      binary.BigEndian.Uint32(b[12:16]),
		FlagBits:     binary.BigEndian.Uint16(b[16:18]),
		PacketNumber: binary.BigEndian.Uint16(b[18:20]),
		ErrorCode:    binary.BigEndian.Uint32(b[20:24]),
	}
	return h, nil
}

// AssembleHeader writes exactly HeaderSize bytes into dst, which must be
// at least that long.
func AssembleHeader(h Header, dst []byte) error {
	if len(dst) < HeaderSize {
		return fmt.Errorf("wire: assemble header: %w", ErrShortBuffer)
	}
	binary.BigEndian.PutUint32(dst[0:4], h.Length)
	binary.BigEndian.PutUint64(dst[4:12], h.RouteID)
	binary.BigEndian.PutUint32(dst[12:16], h.Command)
	binary.BigEndian.PutUint16(dst[16:18], h.FlagBits)
	binary.BigEndian.PutUint16(dst[18:20], h.PacketNumber)
	binary.BigEndian.PutUint32(dst[20:24], h.ErrorCode)
	return nil
}

// ResponseCommand returns the companion response code for an even
// (request) command: request|1.
func ResponseCommand(request uint32) uint32 {
	return request | 1
}

// ValidateFragment reports ErrZeroFragment if h.PacketNumber is 0: the
// field is 1-based (spec.md §3/§8) and 0 is reserved, never a valid
// fragment index for either a single- or multi-fragment message.
func (h Header) ValidateFragment() error {
	if h.PacketNumber == 0 {
		return ErrZeroFragment
	}
	return nil
}
