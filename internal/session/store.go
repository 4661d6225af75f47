package session

import (
	"context"

	"messaging-service/internal/domain"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/ws"
)

// Store is the persistence surface a session talks to. LocalStore binds it
// to the repositories in-process; a remote HTTP client could implement the
// same interface.
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	ResolveDirect(ctx context.Context, requesterID, targetID string) (models.Conversation, error)
	CreateGroup(ctx context.Context, requesterID, name string, memberIDs []string) (models.Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
	History(ctx context.Context, conversationID, userID string) ([]models.MessageWithReads, error)
	SendMessage(ctx context.Context, conversationID, senderID, content string) (models.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) error
}

// LocalStore implements Store directly over the repositories and fans
// persisted writes out through the hub, so in-process sessions and websocket
// clients observe the same change feed.
type LocalStore struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	reads         repositories.ReadReceiptRepository
	hub           *ws.Hub
}

func NewLocalStore(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	reads repositories.ReadReceiptRepository,
	hub *ws.Hub,
) *LocalStore {
	return &LocalStore{
		conversations: conversations,
		messages:      messages,
		reads:         reads,
		hub:           hub,
	}
}

func (s *LocalStore) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	return s.conversations.ListForUser(ctx, userID)
}

func (s *LocalStore) ResolveDirect(ctx context.Context, requesterID, targetID string) (models.Conversation, error) {
	return s.conversations.ResolveDirect(ctx, requesterID, targetID)
}

func (s *LocalStore) CreateGroup(ctx context.Context, requesterID, name string, memberIDs []string) (models.Conversation, error) {
	return s.conversations.CreateGroup(ctx, requesterID, name, memberIDs)
}

func (s *LocalStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	return s.conversations.Participants(ctx, conversationID)
}

func (s *LocalStore) History(ctx context.Context, conversationID, userID string) ([]models.MessageWithReads, error) {
	member, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, domain.ErrNotParticipant
	}

	messages, err := s.messages.ListForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	receipts, err := s.reads.ListForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	readBy := make(map[string][]string, len(messages))
	for _, r := range receipts {
		readBy[r.MessageID] = append(readBy[r.MessageID], r.UserID)
	}

	out := make([]models.MessageWithReads, 0, len(messages))
	for _, m := range messages {
		out = append(out, models.MessageWithReads{Message: m, ReadBy: readBy[m.ID]})
	}
	return out, nil
}

func (s *LocalStore) SendMessage(ctx context.Context, conversationID, senderID, content string) (models.Message, error) {
	member, err := s.conversations.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return models.Message{}, err
	}
	if !member {
		return models.Message{}, domain.ErrNotParticipant
	}

	msg, err := s.messages.CreateMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return models.Message{}, err
	}
	if s.hub != nil {
		s.hub.BroadcastMessage(msg)
	}
	return msg, nil
}

func (s *LocalStore) MarkRead(ctx context.Context, messageID, userID string) error {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == userID {
		return nil
	}
	created, err := s.reads.MarkRead(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if created && s.hub != nil {
		s.hub.BroadcastReceipt(msg.ConversationID, models.ReadReceipt{
			MessageID: messageID,
			UserID:    userID,
		})
	}
	return nil
}
