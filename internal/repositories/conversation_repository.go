package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/domain"
	"messaging-service/internal/models"
)

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	ResolveDirect(ctx context.Context, requesterID, targetID string) (models.Conversation, error)
	CreateGroup(ctx context.Context, requesterID, name string, memberIDs []string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ ConversationRepository = (*ConversationRepo)(nil)

// ResolveDirect returns the existing direct conversation between the two
// actors or creates one. The whole operation runs in a single transaction
// holding a pair-scoped advisory lock, so concurrent calls from both sides
// cannot create a duplicate.
func (r *ConversationRepo) ResolveDirect(ctx context.Context, requesterID, targetID string) (models.Conversation, error) {
	if requesterID == targetID {
		return models.Conversation{}, domain.NewValidationError("target", "cannot start a conversation with yourself")
	}

	pair := []string{requesterID, targetID}
	sort.Strings(pair)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pair[0]+":"+pair[1]); err != nil {
		return models.Conversation{}, fmt.Errorf("acquire pair lock: %w", err)
	}

	var conv models.Conversation
	err = tx.GetContext(ctx, &conv, `
        SELECT c.id, c.name, c.is_group, c.created_at
        FROM conversations c
        WHERE c.is_group = FALSE
          AND EXISTS (SELECT 1 FROM conversation_participants cp WHERE cp.conversation_id = c.id AND cp.user_id = $1)
          AND EXISTS (SELECT 1 FROM conversation_participants cp WHERE cp.conversation_id = c.id AND cp.user_id = $2)
          AND (SELECT COUNT(*) FROM conversation_participants cp WHERE cp.conversation_id = c.id) = 2
        LIMIT 1`, pair[0], pair[1])
	if err == nil {
		return conv, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, fmt.Errorf("find existing direct: %w", err)
	}

	conv, err = insertConversation(ctx, tx, nil, false, pair)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, tx.Commit()
}

// CreateGroup creates a group conversation with the requester and every
// distinct member in one transaction.
func (r *ConversationRepo) CreateGroup(ctx context.Context, requesterID, name string, memberIDs []string) (models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Conversation{}, domain.NewValidationError("name", "group name is required")
	}

	members := []string{requesterID}
	seen := map[string]struct{}{requesterID: {}}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	if len(members) < 3 {
		return models.Conversation{}, domain.NewValidationError("participants", "a group needs at least 2 other participants")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	conv, err := insertConversation(ctx, tx, &name, true, members)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, tx.Commit()
}

func insertConversation(ctx context.Context, tx *sqlx.Tx, name *string, isGroup bool, memberIDs []string) (models.Conversation, error) {
	var conv models.Conversation
	if err := tx.QueryRowxContext(ctx, `
        INSERT INTO conversations (id, name, is_group)
        VALUES ($1, $2, $3)
        RETURNING id, name, is_group, created_at`, uuid.NewString(), name, isGroup).
		Scan(&conv.ID, &conv.Name, &conv.IsGroup, &conv.CreatedAt); err != nil {
		return models.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO conversation_participants (conversation_id, user_id)
            VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, conv.ID, uid); err != nil {
			return models.Conversation{}, fmt.Errorf("insert participant %s: %w", uid, err)
		}
	}
	return conv, nil
}

// GetConversation fetches one conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `
        SELECT id, name, is_group, created_at FROM conversations WHERE id = $1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, domain.ErrNotFound
	}
	return conv, err
}

// ListForUser returns the conversations the user participates in, with the
// other participants' ids attached, newest first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `
        SELECT c.id, c.name, c.is_group, c.created_at
        FROM conversations c
        JOIN conversation_participants cp ON cp.conversation_id = c.id
        WHERE cp.user_id = $1
        ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	rows, err := r.db.QueryxContext(ctx, `
        SELECT conversation_id, user_id
        FROM conversation_participants
        WHERE conversation_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	othersByConv := map[string][]string{}
	for rows.Next() {
		var convID, uid string
		if err := rows.Scan(&convID, &uid); err != nil {
			return nil, err
		}
		if uid != userID {
			othersByConv[convID] = append(othersByConv[convID], uid)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		result = append(result, models.ConversationSummary{
			ID:           c.ID,
			Name:         c.Name,
			IsGroup:      c.IsGroup,
			Participants: othersByConv[c.ID],
			CreatedAt:    c.CreatedAt,
		})
	}
	return result, nil
}

// IsParticipant checks whether the user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
        SELECT EXISTS(
            SELECT 1 FROM conversation_participants
            WHERE conversation_id = $1 AND user_id = $2
        )`, conversationID, userID)
	return exists, err
}

// Participants returns every member id of the conversation.
func (r *ConversationRepo) Participants(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
        SELECT user_id FROM conversation_participants
        WHERE conversation_id = $1
        ORDER BY joined_at ASC`, conversationID)
	return ids, err
}
