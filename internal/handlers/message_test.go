package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/domain"
	"messaging-service/internal/logger"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/ws"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "alice")
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.POST("/conversations/:conversation_id/messages/:message_id/read", handler.MarkRead)
	return r
}

func newMessageHandler(convRepo *mocks.ConversationRepositoryMock, msgRepo *mocks.MessageRepositoryMock, readRepo *mocks.ReadReceiptRepositoryMock) *MessageHandler {
	return NewMessageHandler(convRepo, msgRepo, readRepo, ws.NewHub(logger.NewNop()), broadcast.NewMemoryBus(), nil)
}

func TestGetMessagesMergesReadBy(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	readRepo := new(mocks.ReadReceiptRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, readRepo))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("ListForConversation", mock.Anything, "c1").Return([]models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hi"},
		{ID: "m2", ConversationID: "c1", SenderID: "alice", Content: "hey"},
	}, nil).Once()
	readRepo.On("ListForConversation", mock.Anything, "c1").Return([]models.ReadReceipt{
		{MessageID: "m1", UserID: "alice"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []struct {
			ID     string   `json:"id"`
			ReadBy []string `json:"read_by"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, []string{"alice"}, resp.Messages[0].ReadBy)
	assert.Empty(t, resp.Messages[1].ReadBy)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	readRepo.AssertExpectations(t)
}

func TestGetMessagesForbiddenForNonMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestPostMessageSuccessTrimsContent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, "c1", "alice", "hello").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hello"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", bytes.NewBufferString(`{"content":"  hello  "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "m1", resp.ID)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageBlankRejected(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", bytes.NewBufferString(`{"content":"   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageLengthBoundary(t *testing.T) {
	atLimit := strings.Repeat("a", models.MaxContentLength)

	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Twice()
	msgRepo.On("CreateMessage", mock.Anything, "c1", "alice", atLimit).
		Return(models.Message{ID: "m1"}, nil).Once()

	body, err := json.Marshal(gin.H{"content": atLimit})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	body, err = json.Marshal(gin.H{"content": atLimit + "a"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageForbiddenForNonMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestPostMessagePersistError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, "c1", "alice", "hi").
		Return(models.Message{}, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	msgRepo.AssertExpectations(t)
}

func markReadRequest(conversationID, messageID string) *http.Request {
	url := fmt.Sprintf("/conversations/%s/messages/%s/read", conversationID, messageID)
	return httptest.NewRequest(http.MethodPost, url, nil)
}

func TestMarkReadCreatesReceipt(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	readRepo := new(mocks.ReadReceiptRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, readRepo))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "bob"}, nil).Once()
	readRepo.On("MarkRead", mock.Anything, "m1", "alice").Return(true, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, markReadRequest("c1", "m1"))

	require.Equal(t, http.StatusNoContent, rec.Code)
	readRepo.AssertExpectations(t)
}

func TestMarkReadDuplicateIsNoContent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	readRepo := new(mocks.ReadReceiptRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, readRepo))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "bob"}, nil).Once()
	readRepo.On("MarkRead", mock.Anything, "m1", "alice").Return(false, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, markReadRequest("c1", "m1"))

	require.Equal(t, http.StatusNoContent, rec.Code)
	readRepo.AssertExpectations(t)
}

func TestMarkReadOwnMessageSkipsRepo(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	readRepo := new(mocks.ReadReceiptRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, readRepo))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, markReadRequest("c1", "m1"))

	require.Equal(t, http.StatusNoContent, rec.Code)
	readRepo.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadWrongConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c2", SenderID: "bob"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, markReadRequest("c1", "m1"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkReadUnknownMessage(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.ReadReceiptRepositoryMock)))

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, "ghost").
		Return(models.Message{}, domain.ErrNotFound).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, markReadRequest("c1", "ghost"))

	require.Equal(t, http.StatusNotFound, rec.Code)
}
