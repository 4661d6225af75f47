package realtime

import (
	"context"

	"messaging-service/internal/models"
)

// Subscription is a cancellable stream of events for one conversation.
// After Close returns no further events are delivered and the channel is
// closed.
type Subscription interface {
	Events() <-chan models.Event
	Close()
}

// Feed delivers change-feed events (message and read-receipt inserts)
// scoped to a conversation.
type Feed interface {
	Subscribe(conversationID string) Subscription
}

// Broadcaster is an ephemeral, non-persisted pub/sub channel scoped to a
// conversation, used for low-latency fan-out independent of the
// change-feed.
type Broadcaster interface {
	Feed
	Publish(ctx context.Context, event models.Event) error
}
