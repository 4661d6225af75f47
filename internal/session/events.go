package session

import "messaging-service/internal/models"

// EventKind discriminates session event variants.
type EventKind int

const (
	// MessageArrived is a message from another actor (or another session of
	// the same actor) merged into an open timeline.
	MessageArrived EventKind = iota
	// MessageConfirmed is a provisional send that persisted; LocalID links
	// it back to the pending entry handed out by Send.
	MessageConfirmed
	// SendFailed is a provisional send that did not persist; the pending
	// entry has been dropped.
	SendFailed
	// ReceiptApplied is a read receipt merged into an open timeline.
	ReceiptApplied
	// SyncError is a background operation (read-receipt sweep, broadcast
	// publish) that failed without affecting the timeline.
	SyncError
)

func (k EventKind) String() string {
	switch k {
	case MessageArrived:
		return "message_arrived"
	case MessageConfirmed:
		return "message_confirmed"
	case SendFailed:
		return "send_failed"
	case ReceiptApplied:
		return "receipt_applied"
	case SyncError:
		return "sync_error"
	default:
		return "unknown"
	}
}

// Event is one item on the session's event stream. Fields beyond Kind and
// ConversationID are populated per variant.
type Event struct {
	Kind           EventKind
	ConversationID string

	// LocalID identifies the provisional entry for MessageConfirmed and
	// SendFailed.
	LocalID string

	// Message carries the payload for MessageArrived and MessageConfirmed.
	Message models.Message

	// Reader and MessageID describe a ReceiptApplied event.
	Reader    string
	MessageID string

	// Err is set for SendFailed and SyncError.
	Err error
}
