package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
	"github.com/suPer8Hu/chat-rooms/internal/config"
	"github.com/suPer8Hu/chat-rooms/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-rooms/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-rooms/internal/realtime"
)

type Deps struct {
	Chat     *chat.Service
	Verifier auth.Verifier
	Presence handlers.PresenceReader
	// Socket serves the realtime endpoint; nil leaves it unrouted.
	Socket *realtime.Handler
	Logger *slog.Logger
}

func NewRouter(cfg config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(cors.New(corsConfig(cfg)))

	h := handlers.NewHandler(deps.Chat, deps.Presence, deps.Logger)

	r.GET("/ping", h.Ping)

	// the socket authenticates itself (query token, header or first frame)
	if deps.Socket != nil {
		r.GET("/ws/sessions/:session_id", deps.Socket.Serve)
	}

	// Chat (JWT required)
	authGroup := r.Group("/chat")
	authGroup.Use(middleware.AuthRequired(deps.Verifier))

	authGroup.POST("/sessions", h.CreateSession)
	authGroup.GET("/sessions", h.ListMySessions)
	authGroup.GET("/sessions/public", h.ListPublicSessions)

	sess := authGroup.Group("/sessions/:session_id")
	sess.GET("", h.GetSession)
	sess.PATCH("", h.UpdateSession)
	sess.PUT("", h.UpdateSession)
	sess.DELETE("", h.DeleteSession)

	sess.POST("/join", h.JoinSession)
	sess.POST("/leave", h.LeaveSession)
	sess.POST("/invite", h.Invite)
	sess.GET("/participants", h.ListParticipants)
	sess.PUT("/participants/:user_id/role", h.ChangeRole)
	sess.DELETE("/participants/:user_id", h.RemoveParticipant)

	sess.POST("/messages", h.SendMessage)
	sess.GET("/messages", h.ListMessages)
	sess.GET("/presence", h.GetPresence)
	return r
}

func corsConfig(cfg config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if cfg.AllowAllOrigins() {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.CORSAllowedOrigins
	}
	return c
}
