// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package body

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// textTreeHandle wraps an arbitrary YAML document as the uniform body
// Handle. Unlike BinaryCodec's flat field table, a text-tree body can
// carry nested structure; SessionID/ServerType/ServerName still read
// from top-level scalar keys, matching the binary codec's contract.
type textTreeHandle struct {
	tree map[string]any
}

func newTextTreeHandle() *textTreeHandle {
	return &textTreeHandle{tree: make(map[string]any)}
}

func (h *textTreeHandle) SessionID() string  { return stringField(h.tree, "session_id") }
func (h *textTreeHandle) ServerType() string { return stringField(h.tree, "server_type") }
func (h *textTreeHandle) ServerName() string { return stringField(h.tree, "server_name") }

func (h *textTreeHandle) Set(field string, value any) { h.tree[field] = value }

func (h *textTreeHandle) Get(field string) (any, bool) {
	v, ok := h.tree[field]
	return v, ok
}

// TextTreeCodec implements the body.Codec interface over a YAML
// document per message, per spec.md §4.3's "text tree" option. Grounded
// on the teacher's own use of gopkg.in/yaml.v3 for config (no separate
// text-tree library appears in the pack; YAML is the natural Go choice
// since the same library already parses arbitrary maps-of-any cheaply).
type TextTreeCodec struct{}

// NewTextTreeCodec constructs a TextTreeCodec. It holds no state; one
// value may be shared across goroutines (though the processor never
// does, per the single-loop-goroutine model).
func NewTextTreeCodec() *TextTreeCodec {
	return &TextTreeCodec{}
}

func (c *TextTreeCodec) New() Handle { return newTextTreeHandle() }

func (c *TextTreeCodec) Clear(h Handle) {
	th, ok := h.(*textTreeHandle)
	if !ok {
		return
	}
	for k := range th.tree {
		delete(th.tree, k)
	}
}

func (c *TextTreeCodec) Parse(b []byte) (Handle, error) {
	h := newTextTreeHandle()
	if len(b) == 0 {
		return h, nil
	}
	if err := yaml.Unmarshal(b, &h.tree); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrParse, err)
	}
	if h.tree == nil {
		h.tree = make(map[string]any)
	}
	return h, nil
}

func (c *TextTreeCodec) Serialize(h Handle, dst []byte) (int, error) {
	th, ok := h.(*textTreeHandle)
	if !ok {
		return 0, fmt.Errorf("body: text-tree codec cannot serialize foreign handle type %T", h)
	}
	raw, err := yaml.Marshal(th.tree)
	if err != nil {
		return 0, fmt.Errorf("body: marshal text tree: %w", err)
	}
	return copy(dst, raw), nil
}
