package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/domain"
	"messaging-service/internal/logger"
	"messaging-service/internal/models"
	"messaging-service/internal/realtime"
	"messaging-service/internal/timeline"
	"messaging-service/internal/validation"
)

// Session is one actor's live view of the messaging system. It resolves and
// lists conversations through the store, keeps a timeline per open
// conversation, applies feed and broadcast events idempotently, and surfaces
// everything that changes on a single event stream.
type Session struct {
	id    string
	actor string
	store Store
	feed  realtime.Feed
	bus   realtime.Broadcaster
	log   *logger.Logger

	mu     sync.Mutex
	open   map[string]*openConversation
	closed bool

	events chan Event
}

type openConversation struct {
	timeline *timeline.Timeline
	subs     []realtime.Subscription
}

// Snapshot is the immediately renderable state handed back by Open. It is
// a value copy; later timeline changes never show through it.
type Snapshot struct {
	ConversationID string
	Participants   []string
	Entries        []timeline.EntryView
}

// New builds a session for the actor. The feed delivers persisted changes;
// the bus, when non-nil, carries cross-process echoes and is also where the
// session publishes its own confirmed sends.
func New(actor string, store Store, feed realtime.Feed, bus realtime.Broadcaster, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewNop()
	}
	return &Session{
		id:     uuid.NewString(),
		actor:  actor,
		store:  store,
		feed:   feed,
		bus:    bus,
		log:    log,
		open:   make(map[string]*openConversation),
		events: make(chan Event, 128),
	}
}

// ID returns the session's unique id, used as the origin tag on broadcast
// events so the session can skip its own echoes.
func (s *Session) ID() string {
	return s.id
}

// Actor returns the authenticated user this session belongs to.
func (s *Session) Actor() string {
	return s.actor
}

// Events returns the session's event stream. Events are dropped, with a log
// line, if the consumer falls more than the buffer behind. Close closes the
// stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// ListConversations returns the actor's conversations as display views.
func (s *Session) ListConversations(ctx context.Context) ([]models.ConversationView, error) {
	summaries, err := s.store.ListConversations(ctx, s.actor)
	if err != nil {
		return nil, err
	}
	views := make([]models.ConversationView, 0, len(summaries))
	for _, c := range summaries {
		if c.IsGroup {
			name := ""
			if c.Name != nil {
				name = *c.Name
			}
			views = append(views, models.GroupView{
				ID:               c.ID,
				Name:             name,
				ParticipantCount: len(c.Participants) + 1,
			})
			continue
		}
		other := ""
		if len(c.Participants) > 0 {
			other = c.Participants[0]
		}
		views = append(views, models.DirectView{ID: c.ID, OtherActor: other})
	}
	return views, nil
}

// StartDirect resolves the 1:1 conversation with the target, creating it on
// first contact, and returns its id.
func (s *Session) StartDirect(ctx context.Context, targetID string) (string, error) {
	conv, err := s.store.ResolveDirect(ctx, s.actor, targetID)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// CreateGroup creates a named group containing the actor and the given
// members and returns its id.
func (s *Session) CreateGroup(ctx context.Context, name string, memberIDs []string) (string, error) {
	conv, err := s.store.CreateGroup(ctx, s.actor, name, memberIDs)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// Open loads the conversation's history and participants, sweeps read
// receipts over messages the actor had not yet seen, subscribes to live
// changes, and returns the renderable snapshot. Opening an already open
// conversation returns the current state without re-subscribing.
func (s *Session) Open(ctx context.Context, conversationID string) (*Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session is closed")
	}
	if oc, ok := s.open[conversationID]; ok {
		snap := snapshotOf(oc.timeline)
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	// Subscribe before loading, so a message persisted while the history
	// fetch is in flight sits in the subscription buffer instead of being
	// missed; the idempotent merge dedups whatever both paths deliver.
	var subs []realtime.Subscription
	if s.feed != nil {
		subs = append(subs, s.feed.Subscribe(conversationID))
	}
	if s.bus != nil {
		subs = append(subs, s.bus.Subscribe(conversationID))
	}
	closeSubs := func() {
		for _, sub := range subs {
			sub.Close()
		}
	}

	participants, err := s.store.Participants(ctx, conversationID)
	if err != nil {
		closeSubs()
		return nil, err
	}
	if !contains(participants, s.actor) {
		closeSubs()
		return nil, domain.ErrNotParticipant
	}
	history, err := s.store.History(ctx, conversationID, s.actor)
	if err != nil {
		closeSubs()
		return nil, err
	}

	tl := timeline.New(conversationID, s.actor, participants)
	tl.Load(history)

	// Everything that arrived while the conversation was not on screen
	// becomes read now. Failures are reported but do not block opening;
	// the next open retries naturally.
	for _, messageID := range tl.Unread() {
		if err := s.store.MarkRead(ctx, messageID, s.actor); err != nil {
			s.emit(Event{Kind: SyncError, ConversationID: conversationID, MessageID: messageID, Err: err})
		}
	}

	oc := &openConversation{timeline: tl, subs: subs}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		closeSubs()
		return nil, fmt.Errorf("session is closed")
	}
	if existing, ok := s.open[conversationID]; ok {
		// Lost a concurrent Open race; keep the first one.
		snap := snapshotOf(existing.timeline)
		s.mu.Unlock()
		closeSubs()
		return snap, nil
	}
	s.open[conversationID] = oc
	snap := snapshotOf(tl)
	s.mu.Unlock()

	for _, sub := range oc.subs {
		go s.pump(conversationID, sub)
	}
	return snap, nil
}

// Send validates the content, appends a provisional entry to the open
// conversation, and persists it in the background. The returned local id
// links the pending entry to the MessageConfirmed or SendFailed event that
// follows.
func (s *Session) Send(ctx context.Context, conversationID, content string) (string, error) {
	clean, err := validation.MessageContent(content)
	if err != nil {
		return "", err
	}

	localID := uuid.NewString()
	provisional := models.Message{
		ConversationID: conversationID,
		SenderID:       s.actor,
		Content:        clean,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	oc, ok := s.open[conversationID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("conversation %s is not open", conversationID)
	}
	oc.timeline.AppendPending(localID, provisional)
	s.mu.Unlock()

	go s.persist(ctx, conversationID, localID, clean)
	return localID, nil
}

func (s *Session) persist(ctx context.Context, conversationID, localID, content string) {
	msg, err := s.store.SendMessage(ctx, conversationID, s.actor, content)

	s.mu.Lock()
	oc, ok := s.open[conversationID]
	if !ok {
		// Closed while the send was in flight; the message may still have
		// persisted, which the next open's history load will surface.
		s.mu.Unlock()
		return
	}
	if err != nil {
		oc.timeline.DropPending(localID)
		s.mu.Unlock()
		s.emit(Event{Kind: SendFailed, ConversationID: conversationID, LocalID: localID, Err: err})
		return
	}
	oc.timeline.Confirm(localID, msg)
	s.mu.Unlock()

	s.emit(Event{Kind: MessageConfirmed, ConversationID: conversationID, LocalID: localID, Message: msg})

	if s.bus != nil {
		event := models.Event{
			Type:           models.EventMessage,
			ConversationID: conversationID,
			Message:        &msg,
			Origin:         s.id,
		}
		if err := s.bus.Publish(ctx, event); err != nil {
			s.log.Warn("broadcast publish failed", "conversation_id", conversationID, "error", err)
			s.emit(Event{Kind: SyncError, ConversationID: conversationID, Err: err})
		}
	}
}

// pump drains one subscription into the session until it closes.
func (s *Session) pump(conversationID string, sub realtime.Subscription) {
	for event := range sub.Events() {
		s.apply(conversationID, event)
	}
}

func (s *Session) apply(conversationID string, event models.Event) {
	if event.ConversationID != conversationID {
		return
	}
	if event.Origin != "" && event.Origin == s.id {
		return
	}

	var (
		arrived models.Message
		merged  bool
		ownEcho bool
		receipt models.ReadReceipt
		applied bool
	)

	s.mu.Lock()
	oc, ok := s.open[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	switch event.Type {
	case models.EventMessage:
		if event.Message != nil {
			merged = oc.timeline.Merge(*event.Message)
			arrived = *event.Message
			// The change-feed carries no origin tag, so a message from
			// this actor landing while a send is in flight is taken for
			// the send's own echo, not an arrival; Confirm folds the two
			// entries when the send returns.
			ownEcho = merged && arrived.SenderID == s.actor && oc.timeline.HasPending()
		}
	case models.EventReadReceipt:
		if event.Receipt != nil {
			applied = oc.timeline.ApplyReceipt(event.Receipt.MessageID, event.Receipt.UserID)
			receipt = *event.Receipt
		}
	}
	s.mu.Unlock()

	if merged {
		if !ownEcho {
			s.emit(Event{Kind: MessageArrived, ConversationID: conversationID, Message: arrived})
		}
		// The conversation is on screen, so an incoming message is read
		// the moment it lands.
		if arrived.SenderID != s.actor {
			if err := s.store.MarkRead(context.Background(), arrived.ID, s.actor); err != nil {
				s.emit(Event{Kind: SyncError, ConversationID: conversationID, MessageID: arrived.ID, Err: err})
			}
		}
	}
	if applied {
		s.emit(Event{Kind: ReceiptApplied, ConversationID: conversationID, MessageID: receipt.MessageID, Reader: receipt.UserID})
	}
}

// Entries returns a value copy of the current timeline of an open
// conversation, or false if it is not open.
func (s *Session) Entries(conversationID string) ([]timeline.EntryView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oc, ok := s.open[conversationID]
	if !ok {
		return nil, false
	}
	return oc.timeline.Snapshot(), true
}

// ReadStatus derives the delivery state of a message in an open
// conversation.
func (s *Session) ReadStatus(conversationID, messageID string) (models.ReadStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oc, ok := s.open[conversationID]
	if !ok {
		return models.StatusSent, false
	}
	return oc.timeline.ReadStatus(messageID)
}

// CloseConversation tears down one open conversation view.
func (s *Session) CloseConversation(conversationID string) {
	s.mu.Lock()
	oc, ok := s.open[conversationID]
	if ok {
		delete(s.open, conversationID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range oc.subs {
		sub.Close()
	}
}

// Close tears down every open conversation and closes the event stream. No
// events are delivered after Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	open := s.open
	s.open = make(map[string]*openConversation)
	// emit sends while holding the mutex, so nothing can be mid-send here.
	close(s.events)
	s.mu.Unlock()

	for _, oc := range open {
		for _, sub := range oc.subs {
			sub.Close()
		}
	}
}

func (s *Session) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.log.Warn("session event dropped, consumer too slow", "kind", event.Kind.String(), "conversation_id", event.ConversationID)
	}
}

func snapshotOf(tl *timeline.Timeline) *Snapshot {
	return &Snapshot{
		ConversationID: tl.ConversationID(),
		Participants:   append([]string(nil), tl.Participants()...),
		Entries:        tl.Snapshot(),
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
