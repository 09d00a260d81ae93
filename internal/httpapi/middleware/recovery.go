package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-rooms/internal/common"
)

// Recovery turns a handler panic into a 500 envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered",
					"request_id", c.GetString(RequestIDKey),
					"path", c.Request.URL.Path,
					"panic", r,
					"stack", string(debug.Stack()))
				if !c.Writer.Written() {
					common.AbortFail(c, http.StatusInternalServerError, 50000, "internal error")
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
