// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package body

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// field type tags for the binary wire format.
const (
	typeString byte = iota
	typeInt64
	typeFloat64
	typeBool
	typeBytes
)

// compressionThreshold is the serialized-payload size above which the
// binary codec transparently wraps the field table with zstd. Below it,
// compression overhead (frame header, window setup) costs more than it
// saves for the small control-plane bodies this framework typically
// carries (spec.md's identity/heartbeat payloads are a handful of
// fields). Handlers that know they carry large payloads (bulk transfers
// of opaque blobs via a "bytes" field) benefit most.
const compressionThreshold = 4096

// compressedMagic prefixes a zstd-wrapped payload so Parse can tell it
// apart from an uncompressed one without a side channel.
var compressedMagic = [2]byte{'Z', 'C'}

// binaryHandle is the Handle implementation backing the binary codec. It
// is a flat field map; SessionID/ServerType/ServerName are just sugar
// over well-known field names so the processor's generic accessor works
// identically across codecs.
type binaryHandle struct {
	fields map[string]any
}

func newBinaryHandle() *binaryHandle {
	return &binaryHandle{fields: make(map[string]any)}
}

func (h *binaryHandle) SessionID() string  { return stringField(h.fields, "session_id") }
func (h *binaryHandle) ServerType() string { return stringField(h.fields, "server_type") }
func (h *binaryHandle) ServerName() string { return stringField(h.fields, "server_name") }

func (h *binaryHandle) Set(field string, value any) { h.fields[field] = value }

func (h *binaryHandle) Get(field string) (any, bool) {
	v, ok := h.fields[field]
	return v, ok
}

func stringField(fields map[string]any, name string) string {
	v, ok := fields[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// BinaryCodec is the schema-style binary body codec: a flat,
// self-describing field table encoded with big-endian encoding/binary,
// in the idiom of the teacher's own protocol.reader/writer
// (field-by-field, length-prefixed strings, wrapped errors) rather than
// a generated-stub schema compiler — no protobuf/flatbuffers generated
// code exists anywhere in the retrieval pack to ground against, see
// DESIGN.md.
type BinaryCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBinaryCodec builds a BinaryCodec with its zstd encoder/decoder
// warmed up for the optional large-payload compression path.
func NewBinaryCodec() *BinaryCodec {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &BinaryCodec{encoder: enc, decoder: dec}
}

func (c *BinaryCodec) New() Handle { return newBinaryHandle() }

func (c *BinaryCodec) Clear(h Handle) {
	bh, ok := h.(*binaryHandle)
	if !ok {
		return
	}
	for k := range bh.fields {
		delete(bh.fields, k)
	}
}

// Parse decodes the flat field table, transparently unwrapping zstd
// compression when the compressedMagic prefix is present.
func (c *BinaryCodec) Parse(b []byte) (Handle, error) {
	if len(b) >= 2 && b[0] == compressedMagic[0] && b[1] == compressedMagic[1] {
		raw, err := c.decoder.DecodeAll(b[2:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decode: %v", ErrParse, err)
		}
		b = raw
	}

	if len(b) == 0 {
		return newBinaryHandle(), nil
	}
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: truncated field count", ErrParse)
	}
	count := binary.BigEndian.Uint16(b[0:2])
	off := 2

	h := newBinaryHandle()
	for i := uint16(0); i < count; i++ {
		if off >= len(b) {
			return nil, fmt.Errorf("%w: truncated field %d name length", ErrParse, i)
		}
		nameLen := int(b[off])
		off++
		if off+nameLen > len(b) {
			return nil, fmt.Errorf("%w: truncated field %d name", ErrParse, i)
		}
		name := string(b[off : off+nameLen])
		off += nameLen

		if off >= len(b) {
			return nil, fmt.Errorf("%w: truncated field %d type tag", ErrParse, i)
		}
		tag := b[off]
		off++

		value, consumed, err := decodeValue(tag, b[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrParse, name, err)
		}
		off += consumed
		h.fields[name] = value
	}
	return h, nil
}

func decodeValue(tag byte, b []byte) (any, int, error) {
	switch tag {
	case typeString, typeBytes:
		if len(b) < 4 {
			return nil, 0, fmt.Errorf("truncated length prefix")
		}
		n := int(binary.BigEndian.Uint32(b[0:4]))
		if len(b) < 4+n {
			return nil, 0, fmt.Errorf("truncated value")
		}
		raw := b[4 : 4+n]
		if tag == typeString {
			return string(raw), 4 + n, nil
		}
		return append([]byte(nil), raw...), 4 + n, nil
	case typeInt64:
		if len(b) < 8 {
			return nil, 0, fmt.Errorf("truncated int64")
		}
		return int64(binary.BigEndian.Uint64(b[0:8])), 8, nil
	case typeFloat64:
		if len(b) < 8 {
			return nil, 0, fmt.Errorf("truncated float64")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[0:8])), 8, nil
	case typeBool:
		if len(b) < 1 {
			return nil, 0, fmt.Errorf("truncated bool")
		}
		return b[0] != 0, 1, nil
	default:
		return nil, 0, fmt.Errorf("unknown field type tag %d", tag)
	}
}

// Serialize writes the field table into dst, compressing it with zstd
// when it grows past compressionThreshold.
func (c *BinaryCodec) Serialize(h Handle, dst []byte) (int, error) {
	bh, ok := h.(*binaryHandle)
	if !ok {
		return 0, fmt.Errorf("body: binary codec cannot serialize foreign handle type %T", h)
	}

	raw, err := encodeFields(bh.fields)
	if err != nil {
		return 0, err
	}

	if len(raw) > compressionThreshold {
		compressed := c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
		out := append(append([]byte(nil), compressedMagic[:]...), compressed...)
		return copy(dst, out), nil
	}
	return copy(dst, raw), nil
}

func encodeFields(fields map[string]any) ([]byte, error) {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(len(fields)))

	for name, value := range fields {
		if len(name) > 255 {
			return nil, fmt.Errorf("body: field name %q exceeds 255 bytes", name)
		}
		out = append(out, byte(len(name)))
		out = append(out, name...)

		switch v := value.(type) {
		case string:
			out = append(out, typeString)
			out = appendLenPrefixed(out, []byte(v))
		case []byte:
			out = append(out, typeBytes)
			out = appendLenPrefixed(out, v)
		case int64:
			out = append(out, typeInt64)
			out = appendUint64(out, uint64(v))
		case int:
			out = append(out, typeInt64)
			out = appendUint64(out, uint64(int64(v)))
		case float64:
			out = append(out, typeFloat64)
			out = appendUint64(out, math.Float64bits(v))
		case bool:
			out = append(out, typeBool)
			if v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		default:
			return nil, fmt.Errorf("body: field %q has unsupported type %T", name, value)
		}
	}
	return out, nil
}

func appendLenPrefixed(out, v []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	out = append(out, lenBuf[:]...)
	return append(out, v...)
}

func appendUint64(out []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(out, buf[:]...)
}
