package broadcast

import (
	"context"
	"sync"

	"messaging-service/internal/models"
	"messaging-service/internal/realtime"
)

// MemoryBus is an in-process Broadcaster used when no Redis address is
// configured (single-node deployments) and in tests.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySubscription]struct{})}
}

var _ realtime.Broadcaster = (*MemoryBus)(nil)

// Publish delivers the event to every current subscriber of its
// conversation.
func (b *MemoryBus) Publish(_ context.Context, event models.Event) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, 0, len(b.subs[event.ConversationID]))
	for s := range b.subs[event.ConversationID] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(event)
	}
	return nil
}

// Subscribe attaches a subscriber to the conversation.
func (b *MemoryBus) Subscribe(conversationID string) realtime.Subscription {
	s := &memorySubscription{
		bus:            b,
		conversationID: conversationID,
		events:         make(chan models.Event, 64),
	}
	b.mu.Lock()
	if _, ok := b.subs[conversationID]; !ok {
		b.subs[conversationID] = make(map[*memorySubscription]struct{})
	}
	b.subs[conversationID][s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *MemoryBus) remove(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.conversationID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.conversationID)
		}
	}
}

type memorySubscription struct {
	bus            *MemoryBus
	conversationID string
	events         chan models.Event
	closeOnce      sync.Once
	mu             sync.Mutex
	closed         bool
}

func (s *memorySubscription) Events() <-chan models.Event {
	return s.events
}

func (s *memorySubscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func (s *memorySubscription) deliver(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}
