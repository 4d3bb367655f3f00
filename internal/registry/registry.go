// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package registry implements the handler table of spec.md §4.4: a
// compile-time or startup-time mapping from input command code to the
// function slots the packet processor invokes. Grounded on
// original_source/.../handler_component_definitions.h — a function-
// pointer table filled at startup — generalized per spec.md §9 to an
// explicit struct of optional function fields, where nil selects the
// documented default rather than a macro-filled jump table.
package registry

import (
	"fmt"

	"github.com/nishisan-dev/packetfw/internal/body"
)

// Conn is the minimal connection-identity surface a Handler's business
// function needs; internal/transport.Conn satisfies it. Kept here, not
// imported from internal/transport, to avoid a registry->transport
// import cycle (transport handlers are registered by the application,
// which does import both).
type Conn interface {
	Name() string
}

// BusinessFunc is the handler's core logic: given the input connection
// and the fully reassembled body, populate outBody and optionally
// redirect the reply to a different connection (e.g. forwarding to an
// upstream) by returning a non-nil outConn. Returning a non-success
// retcode still produces a response if AssembleOutput is set (spec.md
// §4.5 step 10's "Tie-breaks").
type BusinessFunc func(in Conn, whole body.Handle, outBody body.Handle) (outConn Conn, retcode uint32, err error)

// GroupFragmentsFunc appends partial into whole during reassembly
// (spec.md §4.5 step 7). A nil value selects the documented default:
// single-fragment only (the processor never calls it because
// MultiFragment will be false).
type GroupFragmentsFunc func(whole, partial body.Handle)

// ValidateFunc screens a parsed body before the business call runs. A
// nil value means no extra validation beyond the processor pipeline's
// own gates.
type ValidateFunc func(whole body.Handle) error

// AllocateFunc allocates the output body handle. A nil value means the
// processor uses the configured codec's New().
type AllocateFunc func(codec body.Codec) body.Handle

// AssembleOutputFunc builds the final output body from what the
// business function wrote into outBody. A nil value means "no response
// is emitted" (spec.md §4.4).
type AssembleOutputFunc func(outBody body.Handle) error

// CommitFunc and RollbackFunc are the optional post-business hook of
// spec.md §4.5 step 9.
type CommitFunc func(whole, outBody body.Handle)
type RollbackFunc func(whole, outBody body.Handle)

// Handler is one entry of the registry (spec.md §3/§4.4).
type Handler struct {
	InCmd  uint32
	OutCmd uint32

	GroupFragments GroupFragmentsFunc
	Validate       ValidateFunc
	Business       BusinessFunc
	Allocate       AllocateFunc
	AssembleOutput AssembleOutputFunc
	Commit         CommitFunc
	Rollback       RollbackFunc

	// FiltersRepeatedSession enables the session-dedupe gate (spec.md
	// §4.5 step 6).
	FiltersRepeatedSession bool
	// MultiFragment enables the reassembly gate (spec.md §4.5 step 7).
	// A nil GroupFragments combined with MultiFragment true is rejected
	// by Register: there is no default appender to fall back on.
	MultiFragment bool
	// SlowCommand flags this command as "time-consuming" so the
	// reassembly cache applies max-message-process-timeout instead of
	// the default (spec.md §3).
	SlowCommand bool
}

// Registry is the read-only, post-build command table.
type Registry struct {
	byCmd map[uint32]*Handler
	built bool
}

// NewRegistry constructs an empty, not-yet-built Registry.
func NewRegistry() *Registry {
	return &Registry{byCmd: make(map[uint32]*Handler)}
}

// Register adds h under h.InCmd. Must be called before Build. Returns an
// error (fatal at startup, per spec.md §4.4) on a duplicate command or a
// MultiFragment handler with no GroupFragments.
func (r *Registry) Register(h *Handler) error {
	if r.built {
		return fmt.Errorf("registry: cannot register command %#x after Build", h.InCmd)
	}
	if _, exists := r.byCmd[h.InCmd]; exists {
		return fmt.Errorf("registry: duplicate command code %#x", h.InCmd)
	}
	if h.MultiFragment && h.GroupFragments == nil {
		return fmt.Errorf("registry: command %#x is MultiFragment but has no GroupFragments", h.InCmd)
	}
	r.byCmd[h.InCmd] = h
	return nil
}

// Build freezes the registry. After Build, Register fails and Lookup is
// safe to call concurrently (though the single-loop-goroutine model
// means only one goroutine ever will).
func (r *Registry) Build() {
	r.built = true
}

// Lookup returns the handler for cmd, if registered.
func (r *Registry) Lookup(cmd uint32) (*Handler, bool) {
	h, ok := r.byCmd[cmd]
	return h, ok
}

// Len reports how many commands are registered.
func (r *Registry) Len() int {
	return len(r.byCmd)
}
