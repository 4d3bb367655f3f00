// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package registry

import "testing"

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Handler{InCmd: 0x10, OutCmd: 0x11}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Build()

	h, ok := r.Lookup(0x10)
	if !ok {
		t.Fatal("expected command 0x10 to be registered")
	}
	if h.OutCmd != 0x11 {
		t.Fatalf("expected out command 0x11, got %#x", h.OutCmd)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 registered handler, got %d", r.Len())
	}
}

func TestRegistry_DuplicateCommand(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&Handler{InCmd: 0x10})
	if err := r.Register(&Handler{InCmd: 0x10}); err == nil {
		t.Fatal("expected error on duplicate command code")
	}
}

func TestRegistry_MultiFragmentRequiresGroupFragments(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Handler{InCmd: 0x10, MultiFragment: true}); err == nil {
		t.Fatal("expected error for MultiFragment handler with no GroupFragments")
	}
}

func TestRegistry_RegisterAfterBuild(t *testing.T) {
	r := NewRegistry()
	r.Build()
	if err := r.Register(&Handler{InCmd: 0x10}); err == nil {
		t.Fatal("expected error registering after Build")
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()
	r.Build()
	if _, ok := r.Lookup(0xDEADBEEF); ok {
		t.Fatal("expected lookup miss for unregistered command")
	}
}
