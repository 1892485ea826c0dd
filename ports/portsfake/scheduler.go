// Package portsfake holds in-memory fakes of the ports used in tests.
package portsfake

import (
	"sort"
	"sync"
	"time"

	"github.com/yessloyalty/authsession/ports"
)

// Scheduler is a manually advanced clock
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*Timer
}

// Timer is a callback registered on a Scheduler
type Timer struct {
	s       *Scheduler
	Delay   time.Duration
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// NewScheduler creates a scheduler whose clock starts at now
func NewScheduler(now time.Time) *Scheduler {
	return &Scheduler{now: now}
}

var _ ports.Scheduler = (*Scheduler)(nil)

func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Scheduler) AfterFunc(d time.Duration, f func()) ports.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Timer{s: s, Delay: d, at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

// Stop cancels the timer; it reports whether the timer was still pending
func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Active returns the timers that have neither fired nor been stopped
func (s *Scheduler) Active() []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Timer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// Advance moves the clock forward and runs every timer that became due, in deadline order.
// Callbacks run on the caller's goroutine without the scheduler lock held.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)

	var due []*Timer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !t.at.After(s.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}
