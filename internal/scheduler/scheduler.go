// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package scheduler implements the timed-task scheduler of spec.md
// §4.7: named tasks checked once per main-loop tick against a
// trigger-type-specific predicate. Generalized from the teacher's
// internal/agent/scheduler.go, which ran one cron job per backup entry
// under robfig/cron's own goroutine; here the tick is pulled by the
// loop goroutine (spec.md §5) instead of pushed by cron's internal
// clock, so a Task's cron expression (when set) is only ever consulted
// to compute its next fire time, never to drive a timer of its own.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType selects how a Task's trigger time is computed (spec.md
// §3's timed-task entry). The numeric values match spec.md exactly:
// event-anchored trigger time is event_time + TriggerType*offset.
type TriggerType int

const (
	BeforeEvent TriggerType = -1
	OnEvent     TriggerType = 0
	AfterEvent  TriggerType = 1
	Periodic    TriggerType = 2
)

func (t TriggerType) eventAnchored() bool {
	return t == BeforeEvent || t == OnEvent || t == AfterEvent
}

// MinInterval and MaxInterval clamp a PERIODIC task's interval, per
// spec.md §3 ("clamped to [1, 86_400_000] ms").
const (
	MinInterval = time.Millisecond
	MaxInterval = 24 * time.Hour
)

// Task is one scheduler entry (spec.md §3). Construct with NewTask,
// NewPeriodicTask or NewCronTask rather than a bare struct literal, so
// the interval clamp and cron-expression parse happen exactly once.
type Task struct {
	Name        string
	TriggerType TriggerType
	Operation   func()

	// Interval applies to TriggerType == Periodic.
	Interval time.Duration
	// EventTime and Offset apply to event-anchored trigger types. Set
	// via SetEventTime.
	EventTime    time.Time
	Offset       time.Duration
	HasTriggered bool

	LastOpTime time.Time

	// cronSchedule, when non-nil, overrides Interval with a
	// robfig/cron-parsed schedule (spec.md SPEC_FULL §2's cron-anchored
	// alternate trigger for PERIODIC tasks).
	cronSchedule cron.Schedule
	nextCronFire time.Time
}

// NewTask constructs an event-anchored task (BeforeEvent/OnEvent/AfterEvent).
// Call SetEventTime before the first Tick that should consider it.
func NewTask(name string, trigger TriggerType, operation func()) *Task {
	return &Task{Name: name, TriggerType: trigger, Operation: operation}
}

// NewPeriodicTask constructs a PERIODIC task with a fixed interval,
// clamped to [MinInterval, MaxInterval]. LastOpTime starts at now, so
// the first firing is one interval after registration.
func NewPeriodicTask(name string, interval time.Duration, now time.Time, operation func()) *Task {
	return &Task{
		Name:        name,
		TriggerType: Periodic,
		Interval:    clamp(interval),
		LastOpTime:  now,
		Operation:   operation,
	}
}

// NewCronTask constructs a PERIODIC task whose firing times come from a
// standard five-field cron expression instead of a flat interval.
func NewCronTask(name, cronExpr string, now time.Time, operation func()) (*Task, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse cron expression for task %q: %w", name, err)
	}
	return &Task{
		Name:         name,
		TriggerType:  Periodic,
		LastOpTime:   now,
		Operation:    operation,
		cronSchedule: sched,
		nextCronFire: sched.Next(now),
	}, nil
}

func clamp(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

func (t *Task) triggerTime() time.Time {
	if t.cronSchedule != nil {
		return t.nextCronFire
	}
	if t.TriggerType == Periodic {
		return t.LastOpTime.Add(t.Interval)
	}
	return t.EventTime.Add(time.Duration(t.TriggerType) * t.Offset)
}

func (t *Task) ready(now time.Time) bool {
	if !now.Before(t.triggerTime()) {
		return t.cronSchedule != nil || t.TriggerType == Periodic || !t.HasTriggered
	}
	return false
}

func (t *Task) fired(now time.Time) {
	switch {
	case t.cronSchedule != nil:
		t.LastOpTime = now
		t.nextCronFire = t.cronSchedule.Next(now)
	case t.TriggerType == Periodic:
		t.LastOpTime = now
	default:
		t.HasTriggered = true
	}
}

// Scheduler holds the named task table and runs them from Tick. It is
// touched only from the loop goroutine (spec.md §5), so it carries no
// lock of its own, like internal/reassembly.Cache and
// internal/connindex.Cache.
type Scheduler struct {
	tasks map[string]*Task
}

// New constructs an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*Task)}
}

// Register adds or replaces t under t.Name.
func (s *Scheduler) Register(t *Task) {
	s.tasks[t.Name] = t
}

// Unregister removes name. A no-op if absent.
func (s *Scheduler) Unregister(name string) {
	delete(s.tasks, name)
}

// SetEventTime sets or updates the anchor and offset of an
// event-anchored task and clears HasTriggered, so a later event of the
// same kind re-arms it (e.g. a fresh heartbeat deadline after each
// reply). A no-op if name is not registered or is PERIODIC.
func (s *Scheduler) SetEventTime(name string, eventTime time.Time, offset time.Duration) {
	t, ok := s.tasks[name]
	if !ok || t.TriggerType == Periodic {
		return
	}
	t.EventTime = eventTime
	t.Offset = offset
	t.HasTriggered = false
}

// Task returns the registered task named name, for tests and
// inspection.
func (s *Scheduler) Task(name string) (*Task, bool) {
	t, ok := s.tasks[name]
	return t, ok
}

// Len reports how many tasks are registered.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Tick runs every task whose trigger predicate is satisfied as of now
// (spec.md §4.7). Iteration order is unspecified; each task's
// Operation runs to completion before the next task is considered, and
// a panic or long-running Operation is the caller's responsibility —
// the scheduler does not recover or time-box it.
func (s *Scheduler) Tick(now time.Time) {
	for _, t := range s.tasks {
		if !t.ready(now) {
			continue
		}
		if t.Operation != nil {
			t.Operation()
		}
		t.fired(now)
	}
}
