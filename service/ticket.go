package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yessloyalty/authsession/core"
)

type refreshResult struct {
	token string
	err   error
}

// refreshTicket is the single in-flight renewal. Every caller that arrives
// while it is open joins its waiter list and receives the same outcome.
type refreshTicket struct {
	id        string
	reason    core.RefreshReason
	startedAt time.Time

	// done is closed once the ticket is resolved
	done chan struct{}

	mu      sync.Mutex
	waiters []chan refreshResult
	outcome *refreshResult
}

func newRefreshTicket(reason core.RefreshReason, now time.Time) *refreshTicket {
	return &refreshTicket{
		id:        uuid.NewString(),
		reason:    reason,
		startedAt: now,
		done:      make(chan struct{}),
	}
}

// join registers a waiter. Joining a resolved ticket delivers the outcome at once.
func (t *refreshTicket) join() <-chan refreshResult {
	ch := make(chan refreshResult, 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.outcome != nil {
		ch <- *t.outcome
		return ch
	}
	t.waiters = append(t.waiters, ch)
	return ch
}

// resolve delivers the outcome to every waiter in arrival order.
// Only the first call has any effect.
func (t *refreshTicket) resolve(token string, err error) bool {
	t.mu.Lock()
	if t.outcome != nil {
		t.mu.Unlock()
		return false
	}
	t.outcome = &refreshResult{token: token, err: err}
	waiters := t.waiters
	t.waiters = nil
	close(t.done)
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
	return true
}

func (t *refreshTicket) waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

func resolvedResult(token string, err error) <-chan refreshResult {
	ch := make(chan refreshResult, 1)
	ch <- refreshResult{token: token, err: err}
	return ch
}
