package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

// SessionEndedTopic is the topic carrying session-ended signals
const SessionEndedTopic = "yess.session.ended"

// WatermillPublisher implements the SessionEndedPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.SessionEndedPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     SessionEndedTopic,
	}
}

// PublishSessionEnded publishes a session-ended event
func (p *WatermillPublisher) PublishSessionEnded(ctx context.Context, event core.SessionEnded) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Listen subscribes to session-ended signals and decodes them into a channel.
// The channel is closed when ctx is cancelled or the subscriber shuts down.
func Listen(ctx context.Context, subscriber message.Subscriber, log zerolog.Logger) (<-chan core.SessionEnded, error) {
	messages, err := subscriber.Subscribe(ctx, SessionEndedTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", SessionEndedTopic, err)
	}

	out := make(chan core.SessionEnded)
	go func() {
		defer close(out)
		for msg := range messages {
			var event core.SessionEnded
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed session-ended message")
				msg.Ack()
				continue
			}

			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

// NewLocalPubSub creates the in-process pub/sub used when no broker is configured
func NewLocalPubSub(log zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, NewZerologAdapter(log))
}
