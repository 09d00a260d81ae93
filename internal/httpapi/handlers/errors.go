package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
	"github.com/suPer8Hu/chat-rooms/internal/httpapi/middleware"
)

type errorMapping struct {
	status int
	code   int
}

var errorTable = map[chat.Code]errorMapping{
	chat.CodeUnauthenticated:  {http.StatusUnauthorized, 40101},
	chat.CodeValidation:       {http.StatusBadRequest, 10002},
	chat.CodeForbidden:        {http.StatusForbidden, 40301},
	chat.CodeNotAMember:       {http.StatusForbidden, 40302},
	chat.CodeNotFound:         {http.StatusNotFound, 40004},
	chat.CodeConflict:         {http.StatusConflict, 40901},
	chat.CodeCapacityExceeded: {http.StatusConflict, 40902},
	chat.CodeOwnerCannotLeave: {http.StatusConflict, 40903},
	chat.CodeUnavailable:      {http.StatusServiceUnavailable, 50301},
}

// failWith writes the envelope for a service error. Infrastructure failures
// are logged and reported without detail.
func (h *Handler) failWith(c *gin.Context, op string, err error) {
	code := chat.CodeOf(err)
	m, ok := errorTable[code]
	if !ok {
		h.Log.Error(op+" failed", "request_id", c.GetString(middleware.RequestIDKey), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if code == chat.CodeUnavailable {
		h.Log.Error(op+" failed", "request_id", c.GetString(middleware.RequestIDKey), "err", err)
		common.Fail(c, m.status, m.code, "service unavailable, retry later")
		return
	}
	msg := err.Error()
	var e *chat.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	common.Fail(c, m.status, m.code, msg)
}
