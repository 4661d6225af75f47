package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"messaging-service/internal/logger"
	"messaging-service/internal/models"
	"messaging-service/internal/realtime"
)

// RedisBus is the ephemeral broadcast channel backed by Redis pub/sub, one
// Redis channel per conversation. Events are not persisted; a subscriber
// only sees what is published while it is attached.
type RedisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(addr, prefix string, log *logger.Logger) (*RedisBus, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		log:    log.With("component", "broadcast"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

var _ realtime.Broadcaster = (*RedisBus)(nil)

func (b *RedisBus) channel(conversationID string) string {
	return b.prefix + ":" + conversationID
}

// Publish sends the event to every subscriber of its conversation channel.
func (b *RedisBus) Publish(ctx context.Context, event models.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(event.ConversationID), raw).Err()
}

// Subscribe attaches to the conversation's channel. Close detaches and
// closes the event stream.
func (b *RedisBus) Subscribe(conversationID string) realtime.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.rdb.Subscribe(ctx, b.channel(conversationID))
	events := make(chan models.Event, 64)

	go func() {
		defer close(events)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var event models.Event
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.log.Warn("bad broadcast payload", "error", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
	}()

	return &redisSubscription{events: events, cancel: cancel}
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

type redisSubscription struct {
	events chan models.Event
	cancel context.CancelFunc
}

func (s *redisSubscription) Events() <-chan models.Event {
	return s.events
}

func (s *redisSubscription) Close() {
	s.cancel()
}
