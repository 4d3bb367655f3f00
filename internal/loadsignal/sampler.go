// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package loadsignal resolves spec.md §9's Open Question about the
// connection cache's least_load dispatch policy: "no load signal is
// defined here; the spec falls back to random. If implementers add a
// signal, it should be pluggable." This package is that pluggable
// signal, backed by host CPU utilization.
package loadsignal

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Sampler exposes the host's most recently measured CPU load as a value
// in [0, 1]. It does not run its own goroutine — the scheduler's
// "load-sample" periodic task (internal/app) starts a short-lived
// goroutine that calls Sample, in keeping with spec.md §5's rule that
// only the transport's readiness call and the per-send syscall may
// block the loop goroutine; CPU sampling follows the scheduler's tick
// cadence, off the hot path.
type Sampler struct {
	current atomic.Uint64 // math.Float64bits of the last sample
}

// NewSampler constructs a Sampler that reports 0 (unloaded) until the
// first successful Sample call.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample measures CPU utilization over the given window, blocking its
// caller for that long, and stores it for Current to read. Intended to
// be invoked on a goroutine started by a scheduler PERIODIC task, not
// on the loop goroutine directly, since gopsutil's percent sampling
// takes a short wall-clock interval.
func (s *Sampler) Sample(ctx context.Context, interval time.Duration) error {
	percents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return err
	}
	if len(percents) == 0 {
		return nil
	}
	s.store(percents[0] / 100.0)
	return nil
}

// Current returns the last sampled load in [0, 1], or 0 if Sample has
// never succeeded.
func (s *Sampler) Current() float64 {
	return math.Float64frombits(s.current.Load())
}

func (s *Sampler) store(v float64) {
	s.current.Store(math.Float64bits(v))
}
