// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package body implements the pluggable message-body codec described in
// spec.md §4.3. The processor never inspects body fields directly; it
// goes through the tiny Handle accessor interface, which both concrete
// codecs (binary and text-tree) implement identically from the
// processor's point of view.
package body

import "errors"

// ErrParse is returned by Codec.Parse on malformed input.
var ErrParse = errors.New("body: parse error")

// Handle is an opaque parsed body. Callers obtain one from Codec.Parse
// and must not assume anything about its concrete type.
type Handle interface {
	// SessionID returns the session_id field used for reassembly and
	// response dedupe, or "" if the body carries none.
	SessionID() string
	// ServerType returns the server_type field carried by identity
	// exchange bodies, or "" if absent.
	ServerType() string
	// ServerName returns the server_name field carried by identity
	// exchange bodies, or "" if absent.
	ServerName() string
	// Set stores a value under a field name understood by the handler
	// that allocated this handle; used by business functions to build
	// outbound bodies without caring which codec produced the handle.
	Set(field string, value any)
	// Get retrieves a value previously stored with Set, or via Parse.
	Get(field string) (any, bool)
}

// Codec is the uniform interface handlers and the processor use to
// parse, serialize and recycle bodies. Exactly two implementations are
// in scope: Binary and TextTree (spec.md §4.3).
type Codec interface {
	// Parse decodes b into a fresh Handle. Returns ErrParse (wrapped) on
	// malformed input.
	Parse(b []byte) (Handle, error)
	// Serialize encodes h into dst starting at dst[0] and returns the
	// number of bytes written.
	Serialize(h Handle, dst []byte) (int, error)
	// Clear releases any resources/state held by h so it (or the codec)
	// can be reused; safe to call on a Handle this codec did not
	// produce — acts as an immediate no-op deallocation.
	Clear(h Handle)
	// New allocates an empty Handle suitable for a business function to
	// populate before Serialize.
	New() Handle
}

// Kind selects a concrete Codec implementation at startup (spec.md §9:
// "selected at build time" becomes "selected at process start" in Go —
// no global singleton).
type Kind int

const (
	// Binary selects the schema-style binary codec (body/binary.go).
	Binary Kind = iota
	// TextTree selects the YAML text-tree codec (body/texttree.go).
	TextTree
)

// New constructs the Codec for the requested Kind.
func New(kind Kind) Codec {
	switch kind {
	case TextTree:
		return NewTextTreeCodec()
	default:
		return NewBinaryCodec()
	}
}
