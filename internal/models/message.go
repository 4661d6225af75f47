package models

import "time"

// MaxContentLength is the maximum accepted message length after trimming.
const MaxContentLength = 10000

// Message is a single immutable conversation message.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MessageWithReads pairs a message with the set of actors that have read it.
type MessageWithReads struct {
	Message
	ReadBy []string `json:"read_by"`
}
