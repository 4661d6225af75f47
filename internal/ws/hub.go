package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/logger"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
)

// Hub is the change-feed fan-out: every persisted message and read receipt
// is delivered to all websocket connections and all in-process listeners
// subscribed to the conversation.
type Hub struct {
	log       *logger.Logger
	rooms     map[string]map[*websocket.Conn]bool
	connInfo  map[string]map[*websocket.Conn]ConnInfo
	listeners map[string]map[*listener]struct{}
	mu        sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:       log,
		rooms:     make(map[string]map[*websocket.Conn]bool),
		connInfo:  make(map[string]map[*websocket.Conn]ConnInfo),
		listeners: make(map[string]map[*listener]struct{}),
	}
}

var _ realtime.Feed = (*Hub)(nil)

// AddClient registers a websocket connection to a conversation room.
func (h *Hub) AddClient(conversationID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[conversationID][conn] = true
	if _, ok := h.connInfo[conversationID]; !ok {
		h.connInfo[conversationID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[conversationID][conn] = info
}

// RemoveClient removes a websocket connection from a conversation room.
func (h *Hub) RemoveClient(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if infos, ok := h.connInfo[conversationID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, conversationID)
		}
	}
}

// Subscribe registers an in-process listener for the conversation's feed.
func (h *Hub) Subscribe(conversationID string) realtime.Subscription {
	l := &listener{
		hub:            h,
		conversationID: conversationID,
		events:         make(chan models.Event, 64),
	}
	h.mu.Lock()
	if _, ok := h.listeners[conversationID]; !ok {
		h.listeners[conversationID] = make(map[*listener]struct{})
	}
	h.listeners[conversationID][l] = struct{}{}
	h.mu.Unlock()
	return l
}

// BroadcastMessage delivers a new message to every subscriber of its
// conversation.
func (h *Hub) BroadcastMessage(msg models.Message) {
	event := models.Event{
		Type:           models.EventMessage,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	}
	h.broadcast(event)
	observability.IncWSEvent("message")
}

// BroadcastReceipt delivers a new read receipt to every subscriber of the
// conversation.
func (h *Hub) BroadcastReceipt(conversationID string, receipt models.ReadReceipt) {
	event := models.Event{
		Type:           models.EventReadReceipt,
		ConversationID: conversationID,
		Receipt:        &receipt,
	}
	h.broadcast(event)
	observability.IncWSEvent("read_receipt")
}

func (h *Hub) broadcast(event models.Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[event.ConversationID]))
	for conn := range h.rooms[event.ConversationID] {
		conns = append(conns, conn)
	}
	local := make([]*listener, 0, len(h.listeners[event.ConversationID]))
	for l := range h.listeners[event.ConversationID] {
		local = append(local, l)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal feed event", "error", err)
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Warn("websocket write error", "error", err)
			conn.Close()
			h.RemoveClient(event.ConversationID, conn)
			h.publishWSError(event.ConversationID, conn, err)
		}
	}
	for _, l := range local {
		l.deliver(event)
	}
}

func (h *Hub) removeListener(l *listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.listeners[l.conversationID]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(h.listeners, l.conversationID)
		}
	}
}

func (h *Hub) publishWSError(conversationID string, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(conversationID, conn)
	if !ok {
		return
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   wsEventPayload(conversationID, info, "ws_error", time.Since(info.ConnectedAt), err.Error()),
	}, headers)
	observability.IncWSEvent("ws_error")
}

func (h *Hub) getConnInfo(conversationID string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[conversationID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}

// listener is the in-process subscription backing Hub.Subscribe.
type listener struct {
	hub            *Hub
	conversationID string
	events         chan models.Event
	closeOnce      sync.Once
	mu             sync.Mutex
	closed         bool
}

func (l *listener) Events() <-chan models.Event {
	return l.events
}

func (l *listener) Close() {
	l.closeOnce.Do(func() {
		l.hub.removeListener(l)
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
}

// deliver drops the event when the listener's buffer is full; a stalled
// consumer misses events rather than blocking the hub.
func (l *listener) deliver(event models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- event:
	default:
	}
}
