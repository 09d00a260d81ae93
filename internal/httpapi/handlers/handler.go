package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
	"github.com/suPer8Hu/chat-rooms/internal/httpapi/middleware"
)

// PresenceReader reports live connection counts per user.
type PresenceReader interface {
	Online(ctx context.Context, sessionID string) (map[uint64]int, error)
}

type Handler struct {
	ChatSvc  *chat.Service
	Presence PresenceReader
	Log      *slog.Logger
}

func NewHandler(svc *chat.Service, presence PresenceReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ChatSvc: svc, Presence: presence, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	return middleware.IdentityFrom(c)
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// caller resolves the authenticated user id or writes a 401.
func caller(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return 0, false
	}
	return uid, true
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}
