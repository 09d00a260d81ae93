package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
)

type createSessionReq struct {
	Title           string          `json:"title"`
	Description     *string         `json:"description"`
	Visibility      chat.Visibility `json:"visibility"`
	MaxParticipants *int            `json:"max_participants"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), id, chat.CreateSessionInput{
		Title:           req.Title,
		Description:     req.Description,
		Visibility:      req.Visibility,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		h.failWith(c, "create session", err)
		return
	}
	common.Created(c, toSessionDetailDTO(sess))
}

func (h *Handler) ListMySessions(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	sessions, err := h.ChatSvc.ListUserSessions(c.Request.Context(), uid, queryInt(c, "skip"), queryInt(c, "limit"))
	if err != nil {
		h.failWith(c, "list user sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": toSessionDTOs(sessions)})
}

func (h *Handler) ListPublicSessions(c *gin.Context) {
	sessions, total, err := h.ChatSvc.ListPublicSessions(c.Request.Context(), queryInt(c, "skip"), queryInt(c, "limit"))
	if err != nil {
		h.failWith(c, "list public sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": toSessionDTOs(sessions), "total": total})
}

func (h *Handler) GetSession(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	sess, err := h.ChatSvc.GetSession(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		h.failWith(c, "get session", err)
		return
	}
	common.OK(c, toSessionDetailDTO(sess))
}

type updateSessionReq struct {
	Title           *string          `json:"title"`
	Description     *string          `json:"description"`
	Visibility      *chat.Visibility `json:"visibility"`
	MaxParticipants *int             `json:"max_participants"`
}

func (h *Handler) UpdateSession(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	var req updateSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.ChatSvc.UpdateSession(c.Request.Context(), c.Param("session_id"), uid, chat.UpdateSessionInput{
		Title:           req.Title,
		Description:     req.Description,
		Visibility:      req.Visibility,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		h.failWith(c, "update session", err)
		return
	}
	common.OK(c, toSessionDTO(*sess))
}

func (h *Handler) DeleteSession(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), sessionID, uid); err != nil {
		h.failWith(c, "delete session", err)
		return
	}
	common.OK(c, gin.H{"session_id": sessionID, "deleted": true})
}

type presenceEntry struct {
	UserID      uint64 `json:"user_id"`
	Connections int    `json:"connections"`
}

// GetPresence lists participants with live realtime connections.
func (h *Handler) GetPresence(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	if _, err := h.ChatSvc.RequireMember(c.Request.Context(), sessionID, uid); err != nil {
		h.failWith(c, "presence", err)
		return
	}
	if h.Presence == nil {
		common.OK(c, gin.H{"online": []presenceEntry{}})
		return
	}
	online, err := h.Presence.Online(c.Request.Context(), sessionID)
	if err != nil {
		h.Log.Error("presence lookup failed", "session_id", sessionID, "err", err)
		common.Fail(c, http.StatusServiceUnavailable, 50302, "presence unavailable")
		return
	}
	common.OK(c, gin.H{"online": presenceList(online)})
}
