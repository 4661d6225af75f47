package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	conversationRepo repositories.ConversationRepository
	audit            *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversationRepo repositories.ConversationRepository, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{conversationRepo: conversationRepo, audit: audit}
}

// ListConversations returns the conversations the authenticated actor
// participates in, shaped as direct or group views.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := actorID(c)

	summaries, err := h.conversationRepo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	type conversationResponse struct {
		ID               string   `json:"id"`
		Kind             string   `json:"kind"`
		Name             *string  `json:"name,omitempty"`
		OtherActor       string   `json:"other_actor,omitempty"`
		ParticipantCount int      `json:"participant_count,omitempty"`
		Participants     []string `json:"participants"`
	}

	responses := make([]conversationResponse, 0, len(summaries))
	for _, s := range summaries {
		resp := conversationResponse{ID: s.ID, Participants: s.Participants}
		if s.IsGroup {
			resp.Kind = "group"
			resp.Name = s.Name
			resp.ParticipantCount = len(s.Participants) + 1
		} else {
			resp.Kind = "direct"
			if len(s.Participants) > 0 {
				resp.OtherActor = s.Participants[0]
			}
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// StartDirect resolves or creates the 1:1 conversation with the target
// actor.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		OtherUserID string `json:"other_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := actorID(c)
	conv, err := h.conversationRepo.ResolveDirect(c.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		h.emitAudit(c, "ERROR", "direct conversation resolve failed")
		respondError(c, err, "could not resolve conversation")
		return
	}

	h.emitAudit(c, "INFO", "direct conversation resolved")
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}

// CreateGroup creates a named group conversation with the requester plus
// the given members.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := actorID(c)
	conv, err := h.conversationRepo.CreateGroup(c.Request.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "group creation failed")
		respondError(c, err, "could not create group")
		return
	}

	h.emitAudit(c, "INFO", "group conversation created")
	c.JSON(http.StatusCreated, gin.H{"conversation_id": conv.ID})
}

// GetParticipants returns the member ids of a conversation the actor
// belongs to.
func (h *ConversationHandler) GetParticipants(c *gin.Context) {
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

	participants, err := h.conversationRepo.Participants(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
