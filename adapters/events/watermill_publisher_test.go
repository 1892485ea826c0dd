package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/yessloyalty/authsession/adapters/events"
	"github.com/yessloyalty/authsession/core"
)

func TestPublishedSignalReachesListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := events.NewLocalPubSub(zerolog.Nop())
	defer pubsub.Close()

	signals, err := events.Listen(ctx, pubsub, zerolog.Nop())
	require.NoError(t, err)

	endedAt := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	publisher := events.NewWatermillPublisher(pubsub)
	require.NoError(t, publisher.PublishSessionEnded(ctx, core.SessionEnded{EndedAt: endedAt}))

	select {
	case ev := <-signals:
		require.True(t, ev.EndedAt.Equal(endedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("session-ended signal not delivered")
	}
}

func TestListenSkipsMalformedPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := events.NewLocalPubSub(zerolog.Nop())
	defer pubsub.Close()

	signals, err := events.Listen(ctx, pubsub, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, pubsub.Publish(events.SessionEndedTopic, message.NewMessage(watermill.NewUUID(), []byte("{"))))
	require.NoError(t, events.NewWatermillPublisher(pubsub).PublishSessionEnded(ctx, core.SessionEnded{EndedAt: time.Now()}))

	select {
	case ev := <-signals:
		require.False(t, ev.EndedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("valid signal after malformed one not delivered")
	}
}

func TestListenClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	pubsub := events.NewLocalPubSub(zerolog.Nop())
	defer pubsub.Close()

	signals, err := events.Listen(ctx, pubsub, zerolog.Nop())
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-signals:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("listener channel not closed after cancel")
	}
}
