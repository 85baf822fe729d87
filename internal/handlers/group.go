package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

// GroupHandler manages group-conversation endpoints.
type GroupHandler struct {
	groupRepo repositories.GroupRepository
	hub       *ws.Hub
	audit     *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groupRepo repositories.GroupRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{groupRepo: groupRepo, hub: hub, audit: audit}
}

// CreateGroup handles POST /api/group/creategroup. The member list arrives as
// a JSON array encoded in a string; the creator becomes admin and is added to
// the member set if absent.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Users         string `json:"users" binding:"required"`
		Name          string `json:"name" binding:"required"`
		CurrentUserID string `json:"currentUserId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	adminID := c.GetString("userID")
	if adminID == "" {
		adminID = req.CurrentUserID
	}
	if adminID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no current user provided"})
		return
	}

	var userIDs []string
	if err := json.Unmarshal([]byte(req.Users), &userIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user format"})
		return
	}

	members := lo.Uniq(lo.Filter(userIDs, func(id string, _ int) bool {
		return id != "" && id != adminID
	}))
	if len(members) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least 2 other users are required to form a group chat"})
		return
	}

	group, err := h.groupRepo.CreateGroup(c.Request.Context(), req.Name, adminID, members)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, group)
}

// ListGroups returns groups the caller belongs to, most recently active
// first.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	userID := c.GetString("userID")
	groups, err := h.groupRepo.ListGroupsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load groups"})
		return
	}
	c.JSON(http.StatusOK, groups)
}

// AddMember handles PUT /api/group/groupadd. Admin only; adding an existing
// member is a no-op. Affected members are notified on their personal
// channels.
func (h *GroupHandler) AddMember(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId" binding:"required"`
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, ok := h.loadGroupAsAdmin(c, req.ChatID)
	if !ok {
		return
	}

	updated, err := h.groupRepo.AddMember(c.Request.Context(), group.ID, req.UserID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add member"})
		return
	}

	h.hub.BroadcastGroupUpdated(updated, updated.Users)
	h.emitAudit(c, "INFO", "Group member added")
	c.JSON(http.StatusOK, updated)
}

// RemoveMember handles PUT /api/group/groupremove. Admin only; the admin
// itself cannot be removed, only the whole group deleted. The removed user is
// notified too.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId" binding:"required"`
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, ok := h.loadGroupAsAdmin(c, req.ChatID)
	if !ok {
		return
	}
	if req.UserID == group.GroupAdmin {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "the admin cannot be removed, delete the group instead"})
		return
	}

	updated, err := h.groupRepo.RemoveMember(c.Request.Context(), group.ID, req.UserID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		return
	}

	h.hub.BroadcastGroupUpdated(updated, group.Users)
	h.emitAudit(c, "INFO", "Group member removed")
	c.JSON(http.StatusOK, updated)
}

// DeleteGroup handles DELETE /api/group/:id. Admin only. The group document
// and all of its messages go away atomically; every former member's personal
// channel receives one groupDeleted event.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	group, ok := h.loadGroupAsAdmin(c, c.Param("id"))
	if !ok {
		return
	}

	if err := h.groupRepo.DeleteGroup(c.Request.Context(), group.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrGroupNotFound) {
			status = http.StatusNotFound
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(status, gin.H{"error": "could not delete group"})
		return
	}

	h.hub.BroadcastGroupDeleted(group.ID, group.Users)
	h.emitAudit(c, "INFO", "Group deleted")
	c.JSON(http.StatusOK, group)
}

// ExitGroup handles PUT /api/group/exitgroup. Any member except the admin may
// leave; the admin must delete the group instead.
func (h *GroupHandler) ExitGroup(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
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

	if group.GroupAdmin == userID {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "admin cannot exit the group, delete the group instead"})
		return
	}
	if !group.HasMember(userID) {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	updated, err := h.groupRepo.RemoveMember(c.Request.Context(), group.ID, userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not exit group"})
		return
	}

	h.hub.BroadcastGroupUpdated(updated, group.Users)
	h.emitAudit(c, "INFO", "Group exited")
	c.JSON(http.StatusOK, updated)
}

// loadGroupAsAdmin resolves the group and enforces the admin-only rule,
// writing the error response itself when either fails.
func (h *GroupHandler) loadGroupAsAdmin(c *gin.Context, groupID string) (models.Group, bool) {
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return models.Group{}, false
	}

	group, err := h.groupRepo.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrGroupNotFound) {
			status = http.StatusNotFound
			h.emitAudit(c, "ERROR", "group not found")
		} else {
			h.emitAudit(c, "ERROR", "internal error")
		}
		c.JSON(status, gin.H{"error": "group not found"})
		return models.Group{}, false
	}

	if group.GroupAdmin != c.GetString("userID") {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the group admin may do this"})
		return models.Group{}, false
	}
	return group, true
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
