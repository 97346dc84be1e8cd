// Package scheduler provides the cancellable delayed callbacks a node uses for
// overwrite expiry and automatic re-evaluation.
package scheduler

import (
	"math"
	"sync"
	"time"
)

// MaxDelay is the longest single wait handed to the clock. Longer waits are split
// into intermediate wake-ups followed by a final one.
const MaxDelay = time.Duration(math.MaxInt32) * time.Millisecond

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock is the time source and timer factory.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock uses the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler creates tasks on a clock.
type Scheduler struct {
	clock    Clock
	maxDelay time.Duration
}

// New creates a scheduler; a nil clock means RealClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{clock: clock, maxDelay: MaxDelay}
}

// WithMaxDelay returns a copy using a different single-wait ceiling.
func (s *Scheduler) WithMaxDelay(d time.Duration) *Scheduler {
	return &Scheduler{clock: s.clock, maxDelay: d}
}

// Clock returns the underlying clock.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Task is a scheduled callback that can be cancelled until it has fired.
type Task struct {
	s         *Scheduler
	due       time.Time
	fn        func()
	timer     Timer
	wakeups   int
	cancelled bool
	mu        sync.Mutex
}

// Schedule runs f once after d.
func (s *Scheduler) Schedule(d time.Duration, f func()) *Task {
	if d < 0 {
		d = 0
	}
	t := &Task{s: s, due: s.clock.Now().Add(d), fn: f}
	t.mu.Lock()
	t.arm()
	t.mu.Unlock()
	return t
}

// arm must be called with t.mu held.
func (t *Task) arm() {
	remaining := t.due.Sub(t.s.clock.Now())
	if remaining > t.s.maxDelay {
		t.timer = t.s.clock.AfterFunc(t.s.maxDelay, t.intermediate)
		return
	}
	t.timer = t.s.clock.AfterFunc(remaining, t.fire)
}

func (t *Task) intermediate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.wakeups++
	t.arm()
}

func (t *Task) fire() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.mu.Unlock()
	t.fn()
}

// Cancel stops the task. It is safe to call more than once.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Due returns when the task fires.
func (t *Task) Due() time.Time {
	return t.due
}

// Wakeups returns how many intermediate wake-ups have happened.
func (t *Task) Wakeups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wakeups
}

// Slot holds at most one pending task; scheduling replaces (and cancels) the previous one.
type Slot struct {
	s    *Scheduler
	task *Task
	mu   sync.Mutex
}

// NewSlot creates an empty slot on s.
func NewSlot(s *Scheduler) *Slot {
	return &Slot{s: s}
}

// Reset cancels any pending task and schedules f after d.
func (sl *Slot) Reset(d time.Duration, f func()) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.task != nil {
		sl.task.Cancel()
	}
	sl.task = sl.s.Schedule(d, f)
}

// Clear cancels the pending task, if any.
func (sl *Slot) Clear() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.task != nil {
		sl.task.Cancel()
		sl.task = nil
	}
}

// Pending reports the due time of the current task.
func (sl *Slot) Pending() (time.Time, bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.task == nil {
		return time.Time{}, false
	}
	sl.task.mu.Lock()
	defer sl.task.mu.Unlock()
	if sl.task.cancelled {
		return time.Time{}, false
	}
	return sl.task.due, true
}
