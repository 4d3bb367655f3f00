// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package processor

// Status is the outcome of one Process call (spec.md §4.5/§7). Expected
// protocol conditions are values of this enum, not Go errors — errors
// are reserved for genuine I/O/system faults (SPEC_FULL.md §7).
type Status int

const (
	// OK means the packet was fully handled; Output may be zero (e.g. a
	// non-terminal fragment, a dropped response-only packet) or
	// nonzero (a reply was produced or a dedupe hit replayed one).
	OK Status = iota
	// NeedMore means the recv buffer does not yet hold a full header or
	// a full body; the caller should read more bytes and retry.
	NeedMore
	// LengthTooBig means the header's length field exceeds the recv
	// buffer's capacity; the buffer has been drained.
	LengthTooBig
	// Timeout means a partial packet sat in the recv buffer longer than
	// the incomplete-packet timeout; the buffer has been drained.
	Timeout
	// UnknownCommand means the header's command is neither registered
	// nor a built-in diagnosis command; the packet was dropped.
	UnknownCommand
	// NotValidated means a non-diagnosis command arrived on a
	// not-yet-validated connection; the packet was dropped.
	NotValidated
	// BodyParseError means the body codec rejected the packet body; the
	// packet was dropped.
	BodyParseError
	// OutOfOrderFragment means a fragment for an unknown session id
	// arrived with packet_number != 1; the packet was dropped.
	OutOfOrderFragment
)

// String renders a Status for logging.
func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case NeedMore:
		return "need_more"
	case LengthTooBig:
		return "length_too_big"
	case Timeout:
		return "timeout"
	case UnknownCommand:
		return "unknown_command"
	case NotValidated:
		return "not_validated"
	case BodyParseError:
		return "body_parse_error"
	case OutOfOrderFragment:
		return "out_of_order_fragment"
	default:
		return "unknown_status"
	}
}

// IsDrop reports whether this Status means the packet bytes were
// consumed and discarded without producing a response (spec.md §7).
func (s Status) IsDrop() bool {
	switch s {
	case UnknownCommand, NotValidated, BodyParseError, OutOfOrderFragment:
		return true
	default:
		return false
	}
}
