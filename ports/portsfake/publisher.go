package portsfake

import (
	"context"
	"sync"

	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

// Publisher records published session-ended events
type Publisher struct {
	mu     sync.Mutex
	events []core.SessionEnded
}

var _ ports.SessionEndedPublisher = (*Publisher)(nil)

func (p *Publisher) PublishSessionEnded(_ context.Context, event core.SessionEnded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Count returns how many events were published
func (p *Publisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
