package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
)

type sendMessageReq struct {
	Content string `json:"content"`
	RoleTag string `json:"role_tag"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	id, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	m, err := h.ChatSvc.SendMessage(c.Request.Context(), c.Param("session_id"), id, req.RoleTag, req.Content)
	if err != nil {
		h.failWith(c, "send message", err)
		return
	}
	common.Created(c, toMessageDTO(*m))
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}

	var afterSeq uint64
	if raw := c.Query("after_seq"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10002, "invalid after_seq")
			return
		}
		afterSeq = n
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), c.Param("session_id"), uid, chat.ListMessagesInput{
		Skip:     queryInt(c, "skip"),
		Limit:    queryInt(c, "limit"),
		AfterSeq: afterSeq,
	})
	if err != nil {
		h.failWith(c, "list messages", err)
		return
	}

	var lastSeq uint64
	if len(msgs) > 0 {
		lastSeq = msgs[len(msgs)-1].Seq
	}
	common.OK(c, gin.H{
		"messages": toMessageDTOs(msgs),
		"last_seq": lastSeq,
	})
}
