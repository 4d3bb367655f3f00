// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package reassembly implements the session-keyed multi-fragment message
// cache described in spec.md §3/§4.5 step 7: entries hold a partially
// received body until the end-flag fragment arrives or the entry's TTL
// expires. It is owned exclusively by the packet processor and touched
// only from the loop goroutine (spec.md §5), so — like
// internal/server/assembler.go's pendingChunks map in the teacher,
// stripped of the concurrency it needed for its multi-stream producers —
// it carries no lock of its own.
package reassembly

import (
	"fmt"
	"time"

	"github.com/nishisan-dev/packetfw/internal/body"
)

// Entry is a reassembly-cache entry (spec.md §3). SourceFD/DestFD/DestName
// are carried for callers that record where the assembled message came
// from and goes to; internal/processor neither sets nor reads them.
type Entry struct {
	SessionID    string
	SourceCmd    uint32
	SourceFD     int
	Whole        body.Handle
	DestFD       int
	DestName     string
	LastOpTime   time.Time
	SlowCommand  bool // flagged "time-consuming" at insert (spec.md §3)
}

// ErrDuplicateFirstFragment is returned by Start when a session id
// already has an entry — the handler's group_fragments function, not the
// cache, owns de-duplicating repeated packet_numbers (spec.md §4.5,
// "Tie-breaks").
var ErrDuplicateFirstFragment = fmt.Errorf("reassembly: session already has a pending entry")

// Cache holds in-flight multi-fragment messages keyed by session id.
type Cache struct {
	entries map[string]*Entry

	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

// NewCache constructs a Cache. defaultTimeout and maxTimeout correspond
// to the config keys default-message-process-timeout and
// max-message-process-timeout (spec.md §6).
func NewCache(defaultTimeout, maxTimeout time.Duration) *Cache {
	return &Cache{
		entries:        make(map[string]*Entry),
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
	}
}

// Len reports the number of in-flight sessions, for tests and metrics.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Get returns the entry for sessionID, if any.
func (c *Cache) Get(sessionID string) (*Entry, bool) {
	e, ok := c.entries[sessionID]
	return e, ok
}

// Start inserts a brand-new entry for the first fragment of a message
// (packet_number == 1). Returns ErrDuplicateFirstFragment if one already
// exists — the caller (processor) treats this as the handler's
// responsibility per spec.md's fragment tie-break rule and simply
// appends instead of failing the packet.
func (c *Cache) Start(e *Entry, now time.Time) error {
	if _, exists := c.entries[e.SessionID]; exists {
		return ErrDuplicateFirstFragment
	}
	e.LastOpTime = now
	c.entries[e.SessionID] = e
	return nil
}

// Touch refreshes an entry's LastOpTime after a fragment append
// (spec.md §4.5 step 7).
func (c *Cache) Touch(sessionID string, now time.Time) {
	if e, ok := c.entries[sessionID]; ok {
		e.LastOpTime = now
	}
}

// Evict removes sessionID's entry unconditionally — called by the
// processor once the end-flag fragment has been folded in (spec.md §4.5
// step 12).
func (c *Cache) Evict(sessionID string) {
	delete(c.entries, sessionID)
}

// timeoutFor returns the TTL that applies to e: maxTimeout for entries
// flagged slow at Start, defaultTimeout otherwise.
func (c *Cache) timeoutFor(e *Entry) time.Duration {
	if e.SlowCommand {
		return c.maxTimeout
	}
	return c.defaultTimeout
}

// Expired reports whether sessionID's entry has outlived its timeout as
// of now, per spec.md §8's boundary rule: an entry at
// last_op_time+timeout-1 is kept, at +1 it is evicted.
func (c *Cache) Expired(sessionID string, now time.Time) bool {
	e, ok := c.entries[sessionID]
	if !ok {
		return false
	}
	return now.Sub(e.LastOpTime) > c.timeoutFor(e)
}

// GC evicts every entry that has exceeded its timeout as of now and
// returns the session ids it removed. Intended to be called from the
// "message-clean" timed task at its configured interval (spec.md §6).
func (c *Cache) GC(now time.Time) []string {
	var evicted []string
	for id, e := range c.entries {
		if now.Sub(e.LastOpTime) > c.timeoutFor(e) {
			delete(c.entries, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
