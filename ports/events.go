package ports

import (
	"context"

	"github.com/yessloyalty/authsession/core"
)

// SessionEndedPublisher notifies collaborators that the session is gone
type SessionEndedPublisher interface {
	PublishSessionEnded(ctx context.Context, event core.SessionEnded) error
}
