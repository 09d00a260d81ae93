package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/common"
)

const (
	UserIDKey   = "user_id"
	IdentityKey = "identity"
)

// AuthRequired verifies the bearer token and stores the caller in the context.
func AuthRequired(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		id, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid or expired token")
			return
		}
		c.Set(UserIDKey, id.UserID)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the caller stored by AuthRequired.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
