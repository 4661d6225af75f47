package models

// Event type tags carried on the change-feed and on the ephemeral
// broadcast channel.
const (
	EventMessage     = "message"
	EventReadReceipt = "read_receipt"
)

// Event is one change-feed or broadcast item scoped to a conversation.
// Origin carries the emitting session id on broadcast events so a sender's
// own session can skip its echo; the change-feed leaves it empty.
type Event struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversation_id"`
	Message        *Message     `json:"message,omitempty"`
	Receipt        *ReadReceipt `json:"receipt,omitempty"`
	Origin         string       `json:"origin,omitempty"`
}
