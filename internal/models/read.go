package models

import "time"

// ReadReceipt records that one actor has seen one message. The
// (message, reader) pair is unique; re-inserting the same pair is a no-op.
type ReadReceipt struct {
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// ReadStatus is the derived read state of a message relative to the other
// participants of its conversation. Receipts are additive, so the status
// only ever moves forward.
type ReadStatus int

const (
	StatusSent ReadStatus = iota
	StatusPartiallyRead
	StatusFullyRead
)

func (s ReadStatus) String() string {
	switch s {
	case StatusPartiallyRead:
		return "partially_read"
	case StatusFullyRead:
		return "fully_read"
	default:
		return "sent"
	}
}
