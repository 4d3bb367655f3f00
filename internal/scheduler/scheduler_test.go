// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import (
	"testing"
	"time"
)

func TestScheduler_Periodic_FiresOnIntervalAndRepeats(t *testing.T) {
	start := time.Unix(1000, 0)
	runs := 0
	s := New()
	s.Register(NewPeriodicTask("gc", 10*time.Second, start, func() { runs++ }))

	s.Tick(start.Add(5 * time.Second))
	if runs != 0 {
		t.Fatalf("expected no run before interval elapses, got %d", runs)
	}

	s.Tick(start.Add(10 * time.Second))
	if runs != 1 {
		t.Fatalf("expected exactly one run at the interval boundary, got %d", runs)
	}

	s.Tick(start.Add(15 * time.Second))
	if runs != 1 {
		t.Fatalf("expected no run before the next interval, got %d", runs)
	}

	s.Tick(start.Add(20 * time.Second))
	if runs != 2 {
		t.Fatalf("expected a second run at the next interval boundary, got %d", runs)
	}
}

func TestScheduler_IntervalClamp(t *testing.T) {
	now := time.Unix(0, 0)
	tooSmall := NewPeriodicTask("a", time.Nanosecond, now, nil)
	if tooSmall.Interval != MinInterval {
		t.Fatalf("expected interval clamped to MinInterval, got %v", tooSmall.Interval)
	}
	tooBig := NewPeriodicTask("b", 365*24*time.Hour, now, nil)
	if tooBig.Interval != MaxInterval {
		t.Fatalf("expected interval clamped to MaxInterval, got %v", tooBig.Interval)
	}
}

func TestScheduler_OnEvent_FiresOnceAtEventTime(t *testing.T) {
	runs := 0
	s := New()
	s.Register(NewTask("heartbeat-deadline", OnEvent, func() { runs++ }))

	base := time.Unix(2000, 0)
	s.SetEventTime("heartbeat-deadline", base, 0)

	s.Tick(base.Add(-time.Second))
	if runs != 0 {
		t.Fatalf("expected no run before event time, got %d", runs)
	}
	s.Tick(base)
	if runs != 1 {
		t.Fatalf("expected one run at event time, got %d", runs)
	}
	s.Tick(base.Add(time.Hour))
	if runs != 1 {
		t.Fatalf("expected no re-run after has_triggered is set, got %d", runs)
	}
}

func TestScheduler_BeforeEvent_FiresOffsetEarly(t *testing.T) {
	runs := 0
	s := New()
	s.Register(NewTask("pre-warn", BeforeEvent, func() { runs++ }))

	eventTime := time.Unix(5000, 0)
	offset := 30 * time.Second
	s.SetEventTime("pre-warn", eventTime, offset)

	s.Tick(eventTime.Add(-31 * time.Second))
	if runs != 0 {
		t.Fatalf("expected no run before the offset window, got %d", runs)
	}
	s.Tick(eventTime.Add(-30 * time.Second))
	if runs != 1 {
		t.Fatalf("expected exactly one run at event_time-offset, got %d", runs)
	}
}

func TestScheduler_AfterEvent_FiresOffsetLate(t *testing.T) {
	runs := 0
	s := New()
	s.Register(NewTask("follow-up", AfterEvent, func() { runs++ }))

	eventTime := time.Unix(6000, 0)
	offset := 15 * time.Second
	s.SetEventTime("follow-up", eventTime, offset)

	s.Tick(eventTime.Add(14 * time.Second))
	if runs != 0 {
		t.Fatalf("expected no run before event_time+offset, got %d", runs)
	}
	s.Tick(eventTime.Add(15 * time.Second))
	if runs != 1 {
		t.Fatalf("expected exactly one run at event_time+offset, got %d", runs)
	}
}

func TestScheduler_SetEventTimeRearms(t *testing.T) {
	runs := 0
	s := New()
	s.Register(NewTask("retry", OnEvent, func() { runs++ }))

	first := time.Unix(7000, 0)
	s.SetEventTime("retry", first, 0)
	s.Tick(first)
	if runs != 1 {
		t.Fatalf("expected first firing, got %d runs", runs)
	}

	second := time.Unix(8000, 0)
	s.SetEventTime("retry", second, 0)
	s.Tick(first.Add(time.Minute)) // stale time, before the new event time
	if runs != 1 {
		t.Fatalf("expected no premature firing after rearm, got %d", runs)
	}
	s.Tick(second)
	if runs != 2 {
		t.Fatalf("expected second firing after rearm, got %d", runs)
	}
}

func TestScheduler_Unregister(t *testing.T) {
	s := New()
	s.Register(NewTask("x", OnEvent, func() {}))
	if s.Len() != 1 {
		t.Fatalf("expected 1 task, got %d", s.Len())
	}
	s.Unregister("x")
	if s.Len() != 0 {
		t.Fatalf("expected 0 tasks after unregister, got %d", s.Len())
	}
	if _, ok := s.Task("x"); ok {
		t.Fatal("expected lookup miss after unregister")
	}
}

func TestScheduler_CronTask_FiresAtNextOccurrence(t *testing.T) {
	// "0 3 * * *" fires daily at 03:00.
	start := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	runs := 0
	task, err := NewCronTask("nightly-compaction", "0 3 * * *", start, func() { runs++ })
	if err != nil {
		t.Fatalf("NewCronTask: %v", err)
	}
	s := New()
	s.Register(task)

	s.Tick(time.Date(2026, 1, 1, 2, 59, 0, 0, time.UTC))
	if runs != 0 {
		t.Fatalf("expected no run before 03:00, got %d", runs)
	}
	s.Tick(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	if runs != 1 {
		t.Fatalf("expected one run at 03:00, got %d", runs)
	}
	s.Tick(time.Date(2026, 1, 1, 3, 1, 0, 0, time.UTC))
	if runs != 1 {
		t.Fatalf("expected no re-run within the same day, got %d", runs)
	}
	s.Tick(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))
	if runs != 2 {
		t.Fatalf("expected a run at the next day's 03:00, got %d", runs)
	}
}

func TestScheduler_InvalidCronExpression(t *testing.T) {
	if _, err := NewCronTask("bad", "not a cron expr", time.Now(), nil); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
