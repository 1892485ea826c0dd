package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisPubSub creates a Redis Streams publisher and a fan-out subscriber so
// every client instance sharing the broker sees the session-ended signal.
func NewRedisPubSub(client redis.UniversalClient, log zerolog.Logger) (message.Publisher, message.Subscriber, error) {
	logger := NewZerologAdapter(log)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client: client,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	return publisher, subscriber, nil
}
