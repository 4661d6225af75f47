package timeline

import (
	"sort"

	"messaging-service/internal/models"
)

// EntryState is the lifecycle of one timeline entry: a Pending entry is a
// client-only provisional message awaiting persistence; a Confirmed entry
// carries the server-assigned record.
type EntryState int

const (
	Pending EntryState = iota
	Confirmed
)

// Entry is one message in the in-memory timeline together with its
// read-by set.
type Entry struct {
	LocalID string
	State   EntryState
	Message models.Message
	readBy  map[string]struct{}
}

// HasRead reports whether the actor has a receipt on this entry.
func (e *Entry) HasRead(actor string) bool {
	_, ok := e.readBy[actor]
	return ok
}

// ReadBy returns the sorted read-by set.
func (e *Entry) ReadBy() []string {
	out := make([]string, 0, len(e.readBy))
	for actor := range e.readBy {
		out = append(out, actor)
	}
	sort.Strings(out)
	return out
}

// Timeline is the in-memory message list for one open conversation view.
// It is owned by exactly one session and is not safe for concurrent use;
// the owning session serializes access.
type Timeline struct {
	conversationID string
	viewer         string
	participants   []string
	entries        []*Entry
	byID           map[string]*Entry
	byLocal        map[string]*Entry
}

// New builds an empty timeline for the conversation as seen by the viewer.
func New(conversationID, viewer string, participants []string) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		viewer:         viewer,
		participants:   participants,
		byID:           make(map[string]*Entry),
		byLocal:        make(map[string]*Entry),
	}
}

// ConversationID returns the conversation this timeline renders.
func (t *Timeline) ConversationID() string {
	return t.conversationID
}

// Participants returns every member of the conversation.
func (t *Timeline) Participants() []string {
	return t.participants
}

// Load replaces the timeline with the historical record. History arrives in
// server creation order and is trusted as-is.
func (t *Timeline) Load(history []models.MessageWithReads) {
	t.entries = t.entries[:0]
	t.byID = make(map[string]*Entry, len(history))
	t.byLocal = make(map[string]*Entry)
	for _, m := range history {
		readBy := make(map[string]struct{}, len(m.ReadBy)+1)
		readBy[m.SenderID] = struct{}{}
		for _, actor := range m.ReadBy {
			readBy[actor] = struct{}{}
		}
		entry := &Entry{State: Confirmed, Message: m.Message, readBy: readBy}
		t.entries = append(t.entries, entry)
		t.byID[m.ID] = entry
	}
}

// AppendPending adds a provisional entry for an outbound message. The
// sender counts as having read their own message.
func (t *Timeline) AppendPending(localID string, msg models.Message) *Entry {
	entry := &Entry{
		LocalID: localID,
		State:   Pending,
		Message: msg,
		readBy:  map[string]struct{}{msg.SenderID: {}},
	}
	t.entries = append(t.entries, entry)
	t.byLocal[localID] = entry
	return entry
}

// Confirm replaces the provisional entry with the persisted record,
// preserving any read state merged while the send was in flight. If the
// persisted message already arrived through a feed (the echo beat the
// confirmation), the provisional entry is folded into the existing one.
func (t *Timeline) Confirm(localID string, msg models.Message) *Entry {
	pending, ok := t.byLocal[localID]
	if !ok {
		return t.byID[msg.ID]
	}
	delete(t.byLocal, localID)

	if existing, ok := t.byID[msg.ID]; ok {
		for actor := range pending.readBy {
			existing.readBy[actor] = struct{}{}
		}
		t.remove(pending)
		return existing
	}

	pending.State = Confirmed
	pending.Message = msg
	pending.LocalID = ""
	t.byID[msg.ID] = pending
	return pending
}

// DropPending removes a provisional entry after a failed send.
func (t *Timeline) DropPending(localID string) bool {
	entry, ok := t.byLocal[localID]
	if !ok {
		return false
	}
	delete(t.byLocal, localID)
	t.remove(entry)
	return true
}

// Merge appends an incoming message event. Returns false and leaves the
// timeline untouched when the event belongs to another conversation or a
// message with that id is already present.
func (t *Timeline) Merge(msg models.Message) bool {
	if msg.ConversationID != t.conversationID {
		return false
	}
	if _, ok := t.byID[msg.ID]; ok {
		return false
	}
	entry := &Entry{
		State:   Confirmed,
		Message: msg,
		readBy:  map[string]struct{}{msg.SenderID: {}},
	}
	t.entries = append(t.entries, entry)
	t.byID[msg.ID] = entry
	return true
}

// ApplyReceipt adds the reader to the message's read-by set. Receipts for
// messages not present in the timeline are discarded.
func (t *Timeline) ApplyReceipt(messageID, reader string) bool {
	entry, ok := t.byID[messageID]
	if !ok {
		return false
	}
	if _, seen := entry.readBy[reader]; seen {
		return false
	}
	entry.readBy[reader] = struct{}{}
	return true
}

// Unread returns the ids of confirmed messages the viewer has not yet
// receipted and did not send, in timeline order.
func (t *Timeline) Unread() []string {
	var ids []string
	for _, entry := range t.entries {
		if entry.State != Confirmed {
			continue
		}
		if entry.Message.SenderID == t.viewer {
			continue
		}
		if !entry.HasRead(t.viewer) {
			ids = append(ids, entry.Message.ID)
		}
	}
	return ids
}

// ReadStatus derives the read state of a message relative to the other
// participants. The sender's own receipt never counts.
func (t *Timeline) ReadStatus(messageID string) (models.ReadStatus, bool) {
	entry, ok := t.byID[messageID]
	if !ok {
		return models.StatusSent, false
	}

	others := 0
	read := 0
	for _, p := range t.participants {
		if p == entry.Message.SenderID {
			continue
		}
		others++
		if entry.HasRead(p) {
			read++
		}
	}
	switch {
	case others == 0 || read == 0:
		return models.StatusSent, true
	case read < others:
		return models.StatusPartiallyRead, true
	default:
		return models.StatusFullyRead, true
	}
}

// EntryView is a value copy of one entry. A view stays valid after the
// timeline changes; it never aliases live state, so it is safe to hand to
// other goroutines.
type EntryView struct {
	LocalID string
	State   EntryState
	Message models.Message
	ReadBy  []string
}

// Snapshot returns value copies of the timeline in display order.
func (t *Timeline) Snapshot() []EntryView {
	out := make([]EntryView, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, EntryView{
			LocalID: entry.LocalID,
			State:   entry.State,
			Message: entry.Message,
			ReadBy:  entry.ReadBy(),
		})
	}
	return out
}

// HasPending reports whether any provisional entries await confirmation.
func (t *Timeline) HasPending() bool {
	return len(t.byLocal) > 0
}

// Entries returns the timeline in display order. The entries are live; the
// owner must not share them outside its synchronization.
func (t *Timeline) Entries() []*Entry {
	return t.entries
}

// Get looks up a confirmed entry by message id.
func (t *Timeline) Get(messageID string) (*Entry, bool) {
	entry, ok := t.byID[messageID]
	return entry, ok
}

func (t *Timeline) remove(target *Entry) {
	for i, entry := range t.entries {
		if entry == target {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}
