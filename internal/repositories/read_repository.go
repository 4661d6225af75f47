package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// ReadReceiptRepository defines the idempotent mark-read primitive and
// receipt lookups.
type ReadReceiptRepository interface {
	MarkRead(ctx context.Context, messageID, userID string) (bool, error)
	ListForConversation(ctx context.Context, conversationID string) ([]models.ReadReceipt, error)
}

// ReadReceiptRepo is a sqlx-backed repository.
type ReadReceiptRepo struct {
	db *sqlx.DB
}

// NewReadReceiptRepo constructs a ReadReceiptRepo.
func NewReadReceiptRepo(db *sqlx.DB) *ReadReceiptRepo {
	return &ReadReceiptRepo{db: db}
}

var _ ReadReceiptRepository = (*ReadReceiptRepo)(nil)

// MarkRead inserts the (message, reader) receipt. A duplicate insert is a
// no-op, never an error. Returns whether a new row was created so callers
// can skip fan-out on duplicates.
func (r *ReadReceiptRepo) MarkRead(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO message_reads (message_id, user_id)
        VALUES ($1, $2)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListForConversation returns every receipt for messages of the
// conversation, oldest first.
func (r *ReadReceiptRepo) ListForConversation(ctx context.Context, conversationID string) ([]models.ReadReceipt, error) {
	var receipts []models.ReadReceipt
	err := r.db.SelectContext(ctx, &receipts, `
        SELECT mr.message_id, mr.user_id, mr.read_at
        FROM message_reads mr
        JOIN messages m ON m.id = mr.message_id
        WHERE m.conversation_id = $1
        ORDER BY mr.read_at ASC`, conversationID)
	return receipts, err
}
