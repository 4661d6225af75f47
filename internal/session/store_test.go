package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/domain"
	"messaging-service/internal/logger"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/ws"
)

func TestLocalStoreHistoryMergesReceipts(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	readRepo := new(mocks.ReadReceiptRepositoryMock)
	store := NewLocalStore(convRepo, msgRepo, readRepo, nil)

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("ListForConversation", mock.Anything, "c1").Return([]models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob"},
	}, nil).Once()
	readRepo.On("ListForConversation", mock.Anything, "c1").Return([]models.ReadReceipt{
		{MessageID: "m1", UserID: "alice"},
	}, nil).Once()

	history, err := store.History(context.Background(), "c1", "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []string{"alice"}, history[0].ReadBy)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	readRepo.AssertExpectations(t)
}

func TestLocalStoreHistoryRejectsNonParticipant(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := NewLocalStore(convRepo, new(mocks.MessageRepositoryMock), new(mocks.ReadReceiptRepositoryMock), nil)

	convRepo.On("IsParticipant", mock.Anything, "c1", "mallory").Return(false, nil).Once()

	_, err := store.History(context.Background(), "c1", "mallory")
	require.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestLocalStoreSendFansOutThroughHub(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	hub := ws.NewHub(logger.NewNop())
	store := NewLocalStore(convRepo, msgRepo, new(mocks.ReadReceiptRepositoryMock), hub)

	sub := hub.Subscribe("c1")
	defer sub.Close()

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, "c1", "alice", "hi").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi"}, nil).Once()

	msg, err := store.SendMessage(context.Background(), "c1", "alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	select {
	case event := <-sub.Events():
		assert.Equal(t, models.EventMessage, event.Type)
		require.NotNil(t, event.Message)
		assert.Equal(t, "m1", event.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hub fan-out")
	}
}

func TestLocalStoreMarkReadOwnMessageIsNoop(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	readRepo := new(mocks.ReadReceiptRepositoryMock)
	store := NewLocalStore(new(mocks.ConversationRepositoryMock), msgRepo, readRepo, nil)

	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}, nil).Once()

	require.NoError(t, store.MarkRead(context.Background(), "m1", "alice"))
	readRepo.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestLocalStoreMarkReadBroadcastsOnce(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	readRepo := new(mocks.ReadReceiptRepositoryMock)
	hub := ws.NewHub(logger.NewNop())
	store := NewLocalStore(new(mocks.ConversationRepositoryMock), msgRepo, readRepo, hub)

	sub := hub.Subscribe("c1")
	defer sub.Close()

	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "bob"}, nil).Twice()
	readRepo.On("MarkRead", mock.Anything, "m1", "alice").Return(true, nil).Once()
	readRepo.On("MarkRead", mock.Anything, "m1", "alice").Return(false, nil).Once()

	require.NoError(t, store.MarkRead(context.Background(), "m1", "alice"))
	require.NoError(t, store.MarkRead(context.Background(), "m1", "alice"))

	select {
	case event := <-sub.Events():
		assert.Equal(t, models.EventReadReceipt, event.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for receipt fan-out")
	}
	select {
	case event := <-sub.Events():
		t.Fatalf("duplicate receipt broadcast: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}
