package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

// MessageHandler manages direct and group message endpoints.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	groupRepo   repositories.GroupRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository, groupRepo repositories.GroupRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo, groupRepo: groupRepo, hub: hub, audit: audit}
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (r sendRequest) fields() (text, image *string) {
	if r.Text != "" {
		text = &r.Text
	}
	if r.Image != "" {
		image = &r.Image
	}
	return text, image
}

// ListDirectPeers returns the user ids the caller has direct history with.
func (h *MessageHandler) ListDirectPeers(c *gin.Context) {
	userID := c.GetString("userID")
	peers, err := h.messageRepo.ListDirectPeers(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, peers)
}

// GetDirectMessages returns the caller's history with user :id, oldest
// first.
func (h *MessageHandler) GetDirectMessages(c *gin.Context) {
	peerID := c.Param("id")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	userID := c.GetString("userID")
	msgs, err := h.messageRepo.ListDirectMessages(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// GetGroupMessages returns a group's history; members only.
func (h *MessageHandler) GetGroupMessages(c *gin.Context) {
	groupID := c.Param("groupId")
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	userID := c.GetString("userID")
	member, err := h.groupRepo.IsMember(c.Request.Context(), groupID, userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	msgs, err := h.messageRepo.ListGroupMessages(c.Request.Context(), groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendDirectMessage handles POST /api/messages/send/:id. The message is
// persisted first; only then do both personal channels receive a newMessage
// event.
func (h *MessageHandler) SendDirectMessage(c *gin.Context) {
	receiverID := c.Param("id")
	if receiverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receiver id"})
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	text, image := req.fields()
	msg, err := h.messageRepo.CreateDirectMessage(c.Request.Context(), userID, receiverID, text, image)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.hub.BroadcastNewMessage(msg)
	h.emitAudit(c, "INFO", "Message sent")
	c.JSON(http.StatusCreated, msg)
}

// SendGroupMessage handles POST /api/messages/group/send. Members only; the
// group channel receives the event after persistence, and the group's
// latest-message reference is advanced.
func (h *MessageHandler) SendGroupMessage(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId" binding:"required"`
		sendRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	group, err := h.groupRepo.GetGroup(c.Request.Context(), req.ChatID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrGroupNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "group not found"})
		return
	}
	if !group.HasMember(userID) {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this group"})
		return
	}

	text, image := req.fields()
	msg, err := h.messageRepo.CreateGroupMessage(c.Request.Context(), group.ID, userID, text, image)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	// Staleness of the pointer is accepted; the message itself committed.
	if err := h.groupRepo.SetLatestMessage(c.Request.Context(), group.ID, msg.ID); err != nil {
		h.emitAudit(c, "ERROR", "latest message update failed")
	}

	h.hub.BroadcastNewMessage(msg)
	h.emitAudit(c, "INFO", "Group message sent")
	c.JSON(http.StatusCreated, msg)
}

// DeleteMessage handles DELETE /api/messages/:id. Sender only; the delete is
// a hard delete broadcast to the group channel for group messages, or to both
// personal channels for direct ones.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("id")
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	userID := c.GetString("userID")
	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
			h.emitAudit(c, "ERROR", "message not found")
		} else {
			h.emitAudit(c, "ERROR", "internal error")
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.SenderID != userID {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "you can only delete your own messages"})
		return
	}

	if err := h.messageRepo.DeleteMessage(c.Request.Context(), messageID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete"})
		return
	}

	h.hub.BroadcastMessageDeleted(msg)
	h.emitAudit(c, "INFO", "Message deleted")
	c.JSON(http.StatusOK, msg)
}

// DeleteDirectChat handles DELETE /api/messages/chat/:userId, wiping the
// caller's direct history with that user in both directions.
func (h *MessageHandler) DeleteDirectChat(c *gin.Context) {
	peerID := c.Param("userId")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	userID := c.GetString("userID")
	if err := h.messageRepo.DeleteDirectHistory(c.Request.Context(), userID, peerID); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
		return
	}

	h.hub.BroadcastChatDeleted(userID, peerID)
	h.emitAudit(c, "INFO", "Chat deleted")
	c.JSON(http.StatusOK, gin.H{"userId": peerID})
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
