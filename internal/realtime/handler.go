package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
)

// ChatService is the part of chat.Service the socket handler drives.
type ChatService interface {
	AttachRealtime(ctx context.Context, sessionID string, userID uint64, replayAfter *uint64, attach chat.AttachFunc) error
	SendMessage(ctx context.Context, sessionID string, author chat.Identity, roleTag, content string) (*chat.Message, error)
}

// Presence records which users hold live connections.
type Presence interface {
	Connected(ctx context.Context, sessionID string, userID uint64) error
	Disconnected(ctx context.Context, sessionID string, userID uint64) error
}

type nopPresence struct{}

func (nopPresence) Connected(context.Context, string, uint64) error    { return nil }
func (nopPresence) Disconnected(context.Context, string, uint64) error { return nil }

type HandlerOptions struct {
	AuthTimeout     time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(r *http.Request) bool
	Presence    Presence
	Logger      *slog.Logger
}

// Handler serves GET /ws/sessions/:session_id.
type Handler struct {
	chat     ChatService
	verifier auth.Verifier
	registry *Registry
	presence Presence
	log      *slog.Logger
	opts     HandlerOptions
	upgrader websocket.Upgrader
	inflight time.Duration
}

func NewHandler(svc ChatService, verifier auth.Verifier, registry *Registry, opts HandlerOptions) *Handler {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 128
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 << 10
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	h := &Handler{
		chat:     svc,
		verifier: verifier,
		registry: registry,
		presence: opts.Presence,
		log:      opts.Logger,
		opts:     opts,
		inflight: 5 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
	if h.presence == nil {
		h.presence = nopPresence{}
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

type state int

const (
	stateConnecting state = iota
	stateAuthenticated
	stateJoined
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[state][]state{
	stateConnecting:    {stateAuthenticated, stateClosed},
	stateAuthenticated: {stateJoined, stateClosed},
	stateJoined:        {stateClosed},
}

// lifecycle tracks one socket through its states.
type lifecycle struct {
	mu    sync.Mutex
	state state
}

func (l *lifecycle) advance(next state) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, allowed := range transitions[l.state] {
		if allowed == next {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", l.state, next)
}

func (l *lifecycle) current() state {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

type inboundFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Content string `json:"content,omitempty"`
}

type connectedPayload struct {
	SessionID string    `json:"session_id"`
	UserID    uint64    `json:"user_id"`
	Role      chat.Role `json:"role"`
	Message   string    `json:"message"`
	// Replayed is the number of history messages that follow this frame.
	Replayed int `json:"replayed"`
}

type pongPayload struct {
	TS int64 `json:"ts"`
}

// Serve upgrades the request and runs the connection until it closes.
func (h *Handler) Serve(c *gin.Context) {
	sessionID := c.Param("session_id")

	var since *uint64
	if raw := strings.TrimSpace(c.Query("since_seq")); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10002, "invalid since_seq")
			return
		}
		since = &n
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = auth.BearerToken(c.GetHeader("Authorization"))
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	ws.SetReadLimit(h.opts.MaxMessageBytes)

	lc := &lifecycle{}
	ctx := c.Request.Context()

	id, err := h.authenticate(ctx, ws, token)
	if err != nil {
		_ = lc.advance(stateClosed)
		h.log.Info("websocket auth failed", "session_id", sessionID, "err", err)
		closeNow(ws, CloseAuthFailed, "authentication failed")
		return
	}
	if err := lc.advance(stateAuthenticated); err != nil {
		closeNow(ws, websocket.CloseInternalServerErr, "internal error")
		return
	}

	var conn *Connection
	err = h.chat.AttachRealtime(ctx, sessionID, id.UserID, since, func(p *chat.Participant, history []chat.Message) error {
		// room for the replay on top of the live buffer
		conn = NewConnection(ws, id.UserID, sessionID, h.opts.SendBuffer+len(history)+1)
		conn.Start()
		h.registry.Register(sessionID, conn)
		if err := lc.advance(stateJoined); err != nil {
			return err
		}
		if err := sendEvent(conn, chat.Event{Type: chat.EventConnected, Data: connectedPayload{
			SessionID: sessionID,
			UserID:    id.UserID,
			Role:      p.Role,
			Message:   fmt.Sprintf("connected to session %s", sessionID),
			Replayed:  len(history),
		}}); err != nil {
			return err
		}
		for _, m := range history {
			if err := sendEvent(conn, chat.MessageEvent(m)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = lc.advance(stateClosed)
		code, reason := closeFor(err)
		if conn == nil {
			closeNow(ws, code, reason)
			return
		}
		h.registry.Unregister(sessionID, conn)
		conn.Close(code, reason)
		<-conn.Done()
		return
	}

	log := h.log.With("session_id", sessionID, "user_id", id.UserID, "handle_id", conn.ID())
	log.Debug("websocket joined")
	if err := h.presence.Connected(context.WithoutCancel(ctx), sessionID, id.UserID); err != nil {
		log.Warn("presence connect failed", "err", err)
	}
	defer func() {
		_ = lc.advance(stateClosed)
		h.registry.Unregister(sessionID, conn)
		conn.Close(websocket.CloseNormalClosure, "")
		if err := h.presence.Disconnected(context.WithoutCancel(ctx), sessionID, id.UserID); err != nil {
			log.Warn("presence disconnect failed", "err", err)
		}
		log.Debug("websocket closed")
	}()

	h.readLoop(ctx, ws, conn, lc, id, log)
}

// authenticate verifies token, or the first frame when token is empty.
func (h *Handler) authenticate(ctx context.Context, ws *websocket.Conn, token string) (auth.Identity, error) {
	if token == "" {
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.AuthTimeout))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return auth.Identity{}, fmt.Errorf("%w: no auth frame: %v", auth.ErrUnauthenticated, err)
		}
		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != "auth" {
			return auth.Identity{}, fmt.Errorf("%w: first frame must be auth", auth.ErrUnauthenticated)
		}
		token = f.Token
		_ = ws.SetReadDeadline(time.Time{})
	}
	return h.verifier.Verify(ctx, token)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Connection, lc *lifecycle, id auth.Identity, log *slog.Logger) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if lc.current() != stateJoined {
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = sendEvent(conn, chat.ErrorEvent(&chat.Error{Code: chat.CodeValidation, Message: "invalid payload"}))
			continue
		}

		switch f.Type {
		case "chat_message":
			h.handleChatMessage(ctx, conn, id, f, log)
		case "ping":
			_ = sendEvent(conn, chat.Event{Type: chat.EventPong, Data: pongPayload{TS: time.Now().Unix()}})
		default:
			_ = sendEvent(conn, chat.ErrorEvent(&chat.Error{Code: chat.CodeValidation, Message: "unknown frame type"}))
		}
	}
}

func (h *Handler) handleChatMessage(ctx context.Context, conn *Connection, id auth.Identity, f inboundFrame, log *slog.Logger) {
	cctx, cancel := context.WithTimeout(ctx, h.inflight)
	defer cancel()

	// the session is the one bound at connect time; role tag is always the user's own
	if _, err := h.chat.SendMessage(cctx, conn.SessionID(), id, chat.RoleTagUser, f.Content); err != nil {
		if chat.CodeOf(err) == chat.CodeUnavailable || chat.CodeOf(err) == "" {
			log.Error("send message failed", "err", err)
		}
		_ = sendEvent(conn, chat.ErrorEvent(err))
	}
}

func sendEvent(conn *Connection, ev chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// closeFor maps a join failure onto a close code.
func closeFor(err error) (int, string) {
	switch chat.CodeOf(err) {
	case chat.CodeNotFound:
		return CloseNotFound, "session not found"
	case chat.CodeNotAMember, chat.CodeForbidden:
		return CloseForbidden, "not a participant of this session"
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}

// closeNow is for sockets that never got a write loop.
func closeNow(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = ws.Close()
}
