package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
)

func (h *Handler) JoinSession(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	p, err := h.ChatSvc.Join(c.Request.Context(), c.Param("session_id"), id)
	if err != nil {
		h.failWith(c, "join session", err)
		return
	}
	common.OK(c, toParticipantDTO(*p))
}

func (h *Handler) LeaveSession(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.Leave(c.Request.Context(), c.Param("session_id"), uid); err != nil {
		h.failWith(c, "leave session", err)
		return
	}
	common.OK(c, gin.H{"left": true})
}

type inviteReq struct {
	UserID uint64    `json:"user_id" binding:"required"`
	Role   chat.Role `json:"role"`
}

func (h *Handler) Invite(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	var req inviteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.ChatSvc.Invite(c.Request.Context(), c.Param("session_id"), uid, req.UserID, req.Role)
	if err != nil {
		h.failWith(c, "invite", err)
		return
	}
	common.Created(c, toParticipantDTO(*p))
}

func (h *Handler) ListParticipants(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	roster, err := h.ChatSvc.ListParticipants(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		h.failWith(c, "list participants", err)
		return
	}
	common.OK(c, gin.H{"participants": toParticipantDTOs(roster), "count": len(roster)})
}

type changeRoleReq struct {
	Role chat.Role `json:"role" binding:"required"`
}

func (h *Handler) ChangeRole(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	target, ok := targetUserID(c)
	if !ok {
		return
	}
	var req changeRoleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.ChatSvc.ChangeRole(c.Request.Context(), c.Param("session_id"), uid, target, req.Role)
	if err != nil {
		h.failWith(c, "change role", err)
		return
	}
	common.OK(c, toParticipantDTO(*p))
}

func (h *Handler) RemoveParticipant(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	target, ok := targetUserID(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.Remove(c.Request.Context(), c.Param("session_id"), uid, target); err != nil {
		h.failWith(c, "remove participant", err)
		return
	}
	common.OK(c, gin.H{"removed": true, "user_id": target})
}

func targetUserID(c *gin.Context) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || n == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid user_id")
		return 0, false
	}
	return n, true
}

func presenceList(online map[uint64]int) []presenceEntry {
	out := lo.MapToSlice(online, func(uid uint64, n int) presenceEntry {
		return presenceEntry{UserID: uid, Connections: n}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
