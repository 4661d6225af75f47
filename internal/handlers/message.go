package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/validation"
	"messaging-service/internal/ws"
)

// MessageHandler manages message and read-receipt endpoints.
type MessageHandler struct {
	conversationRepo repositories.ConversationRepository
	messageRepo      repositories.MessageRepository
	readRepo         repositories.ReadReceiptRepository
	hub              *ws.Hub
	bus              realtime.Broadcaster
	audit            *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. The bus is optional; when set,
// persisted changes are also published on it so subscribers on other nodes
// receive the echo.
func NewMessageHandler(
	conversationRepo repositories.ConversationRepository,
	messageRepo repositories.MessageRepository,
	readRepo repositories.ReadReceiptRepository,
	hub *ws.Hub,
	bus realtime.Broadcaster,
	audit *telemetry.AuditEmitter,
) *MessageHandler {
	return &MessageHandler{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		readRepo:         readRepo,
		hub:              hub,
		bus:              bus,
		audit:            audit,
	}
}

// GetMessages returns the full conversation history with each message's
// read-by set.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := actorID(c)

	member, err := h.conversationRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	msgs, err := h.messageRepo.ListForConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	receipts, err := h.readRepo.ListForConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load read receipts"})
		return
	}
	readBy := map[string][]string{}
	for _, r := range receipts {
		readBy[r.MessageID] = append(readBy[r.MessageID], r.UserID)
	}

	resp := make([]models.MessageWithReads, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, models.MessageWithReads{Message: m, ReadBy: readBy[m.ID]})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// PostMessage validates, stores, and fans out a message.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := actorID(c)

	member, err := h.conversationRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content, err := validation.MessageContent(req.Content)
	if err != nil {
		respondError(c, err, "invalid message")
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), conversationID, userID, content)
	if err != nil {
		h.emitAudit(c, "ERROR", "message persist failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	observability.IncMessageSent()
	h.hub.BroadcastMessage(msg)
	if h.bus != nil {
		if err := h.bus.Publish(c.Request.Context(), models.Event{
			Type:           models.EventMessage,
			ConversationID: conversationID,
			Message:        &msg,
		}); err != nil {
			h.emitAudit(c, "WARN", "broadcast publish failed")
		}
	}
	_ = observability.PublishEvent(c.Request.Context(), "messages.created", observability.EventEnvelope{
		EventType: "messages",
		EventName: "message_created",
		Payload:   msg,
	}, observability.BuildHeaders(requestIDFromContext(c), ""))

	c.JSON(http.StatusCreated, msg)
}

// MarkRead records that the actor has seen the message. Duplicate calls
// succeed without effect; a reader never receipts their own message.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	userID := actorID(c)

	member, err := h.conversationRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err, "could not load message")
		return
	}
	if msg.ConversationID != conversationID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to conversation"})
		return
	}
	if msg.SenderID == userID {
		c.Status(http.StatusNoContent)
		return
	}

	created, err := h.readRepo.MarkRead(c.Request.Context(), messageID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark message read"})
		return
	}

	if created {
		observability.IncReceipt("created")
		receipt := models.ReadReceipt{MessageID: messageID, UserID: userID}
		h.hub.BroadcastReceipt(conversationID, receipt)
		if h.bus != nil {
			if err := h.bus.Publish(c.Request.Context(), models.Event{
				Type:           models.EventReadReceipt,
				ConversationID: conversationID,
				Receipt:        &receipt,
			}); err != nil {
				h.emitAudit(c, "WARN", "broadcast publish failed")
			}
		}
		_ = observability.PublishEvent(c.Request.Context(), "messages.read", observability.EventEnvelope{
			EventType: "messages",
			EventName: "message_read",
			Payload:   receipt,
		}, observability.BuildHeaders(requestIDFromContext(c), ""))
	} else {
		observability.IncReceipt("duplicate")
	}

	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
