package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/db"
)

const (
	testSecret = "test-secret"
	testIssuer = "chat-rooms-test"
)

type testEnv struct {
	svc      *chat.Service
	reg      *Registry
	presence *LocalPresence
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repo := chat.NewRepo(gdb)
	require.NoError(t, repo.Migrate(context.Background()))

	reg := NewRegistry(nil)
	presence := NewLocalPresence()
	svc := chat.NewService(repo, chat.Options{Broadcaster: reg})
	h := NewHandler(svc, auth.NewJWTVerifier(testSecret, testIssuer), reg, HandlerOptions{
		AuthTimeout: 300 * time.Millisecond,
		Presence:    presence,
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/sessions/:session_id", h.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{svc: svc, reg: reg, presence: presence, srv: srv}
}

func token(t *testing.T, userID uint64) string {
	t.Helper()
	tok, err := auth.SignJWT(userID, fmt.Sprintf("user-%d", userID), testSecret, testIssuer, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) dial(t *testing.T, sessionID string, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/sessions/" + sessionID
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// connect dials as userID and consumes the connected frame.
func (e *testEnv) connect(t *testing.T, sessionID string, userID uint64) *websocket.Conn {
	t.Helper()
	ws := e.dial(t, sessionID, url.Values{"token": {token(t, userID)}})
	f := readFrame(t, ws)
	require.Equal(t, chat.EventConnected, f.Type)
	return ws
}

func (e *testEnv) session(t *testing.T, vis chat.Visibility, members map[uint64]chat.Role) string {
	t.Helper()
	ctx := context.Background()
	sess, err := e.svc.CreateSession(ctx, chat.Identity{UserID: 1, DisplayName: "user-1"}, chat.CreateSessionInput{
		Title:      "room",
		Visibility: vis,
	})
	require.NoError(t, err)
	for uid, role := range members {
		_, err := e.svc.Invite(ctx, sess.SessionID, 1, uid, role)
		require.NoError(t, err)
	}
	return sess.SessionID
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func writeFrame(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// expectClose reads until the server closes the socket and checks the code.
func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		assert.Equal(t, code, ce.Code)
		return
	}
}

func TestServe_MissingCredentialTimesOut(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)

	ws := e.dial(t, sid, nil)
	expectClose(t, ws, CloseAuthFailed)
	assert.Equal(t, 0, e.reg.Count(sid))
}

func TestServe_BadToken(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)

	ws := e.dial(t, sid, url.Values{"token": {"not-a-jwt"}})
	expectClose(t, ws, CloseAuthFailed)
}

func TestServe_AuthFrame(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)

	ws := e.dial(t, sid, nil)
	writeFrame(t, ws, map[string]string{"type": "auth", "token": token(t, 1)})

	f := readFrame(t, ws)
	require.Equal(t, chat.EventConnected, f.Type)
	var p connectedPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, sid, p.SessionID)
	assert.Equal(t, uint64(1), p.UserID)
	assert.Equal(t, chat.RoleOwner, p.Role)
	assert.Equal(t, 1, e.reg.Count(sid))
}

func TestServe_MessageBeforeAuthIsRejected(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)

	ws := e.dial(t, sid, nil)
	writeFrame(t, ws, map[string]string{"type": "chat_message", "content": "hi"})
	expectClose(t, ws, CloseAuthFailed)

	msgs, err := e.svc.ListMessages(context.Background(), sid, 1, chat.ListMessagesInput{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestServe_NonMemberAndUnknownSession(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPublic, nil)

	ws := e.dial(t, sid, url.Values{"token": {token(t, 7)}})
	expectClose(t, ws, CloseForbidden)

	ws = e.dial(t, "01UNKNOWNSESSION0000000000", url.Values{"token": {token(t, 1)}})
	expectClose(t, ws, CloseNotFound)

	assert.Equal(t, 0, e.reg.Count(sid))
}

func TestServe_MessageReachesEveryParticipant(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, map[uint64]chat.Role{2: chat.RoleMember})

	a := e.connect(t, sid, 1)
	b := e.connect(t, sid, 2)
	b2 := e.connect(t, sid, 2)

	writeFrame(t, a, map[string]string{"type": "chat_message", "content": "hello room"})

	for _, ws := range []*websocket.Conn{a, b, b2} {
		f := readFrame(t, ws)
		require.Equal(t, chat.EventMessageReceived, f.Type)
		var m chat.MessageReceived
		require.NoError(t, json.Unmarshal(f.Data, &m))
		assert.Equal(t, "hello room", m.Content)
		assert.Equal(t, uint64(1), m.AuthorID)
		assert.Equal(t, "user-1", m.AuthorName)
		assert.Equal(t, chat.RoleTagUser, m.RoleTag)
		assert.Equal(t, uint64(1), m.Seq)
		assert.Equal(t, sid, m.SessionID)
	}
}

func TestServe_ViewerGetsErrorFrame(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, map[uint64]chat.Role{3: chat.RoleViewer})

	v := e.connect(t, sid, 3)
	writeFrame(t, v, map[string]string{"type": "chat_message", "content": "let me talk"})

	f := readFrame(t, v)
	require.Equal(t, chat.EventError, f.Type)
	var p chat.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, chat.CodeForbidden, p.Code)

	// still open
	writeFrame(t, v, map[string]string{"type": "ping"})
	assert.Equal(t, chat.EventPong, readFrame(t, v).Type)
}

func TestServe_BadFrames(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)
	ws := e.connect(t, sid, 1)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, ws)
	require.Equal(t, chat.EventError, f.Type)

	writeFrame(t, ws, map[string]string{"type": "dance"})
	f = readFrame(t, ws)
	require.Equal(t, chat.EventError, f.Type)
	var p chat.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, chat.CodeValidation, p.Code)

	writeFrame(t, ws, map[string]string{"type": "chat_message", "content": "   "})
	f = readFrame(t, ws)
	require.Equal(t, chat.EventError, f.Type)
}

func TestServe_SessionDeletionClosesEveryone(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, map[uint64]chat.Role{2: chat.RoleMember})

	a := e.connect(t, sid, 1)
	b := e.connect(t, sid, 2)

	require.NoError(t, e.svc.DeleteSession(context.Background(), sid, 1))
	assert.Equal(t, 0, e.reg.Count(sid))

	for _, ws := range []*websocket.Conn{a, b} {
		f := readFrame(t, ws)
		require.Equal(t, chat.EventSessionClosed, f.Type)
		expectClose(t, ws, CloseSessionClosed)
	}

	_, err := e.svc.SendMessage(context.Background(), sid, chat.Identity{UserID: 2, DisplayName: "user-2"}, chat.RoleTagUser, "late")
	assert.True(t, errors.Is(err, chat.ErrNotFound))
}

func TestServe_RemovedParticipantIsEvicted(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, map[uint64]chat.Role{2: chat.RoleMember})

	a := e.connect(t, sid, 1)
	b := e.connect(t, sid, 2)

	require.NoError(t, e.svc.Remove(context.Background(), sid, 1, 2))

	f := readFrame(t, b)
	require.Equal(t, chat.EventParticipantRemoved, f.Type)
	expectClose(t, b, CloseEvicted)

	f = readFrame(t, a)
	require.Equal(t, chat.EventParticipantRemoved, f.Type)
	var p chat.ParticipantChanged
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, uint64(2), p.Participant.UserID)
	assert.False(t, p.Participant.Active)
	assert.Equal(t, 1, e.reg.Count(sid))
}

func TestServe_ReplaySinceSeq(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)
	owner := chat.Identity{UserID: 1, DisplayName: "user-1"}
	for i := 1; i <= 3; i++ {
		_, err := e.svc.SendMessage(context.Background(), sid, owner, chat.RoleTagUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	ws := e.dial(t, sid, url.Values{"token": {token(t, 1)}, "since_seq": {"1"}})
	f := readFrame(t, ws)
	require.Equal(t, chat.EventConnected, f.Type)
	var p connectedPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, 2, p.Replayed)

	for _, want := range []uint64{2, 3} {
		f := readFrame(t, ws)
		require.Equal(t, chat.EventMessageReceived, f.Type)
		var m chat.MessageReceived
		require.NoError(t, json.Unmarshal(f.Data, &m))
		assert.Equal(t, want, m.Seq)
	}

	// live messages follow the replay
	_, err := e.svc.SendMessage(context.Background(), sid, owner, chat.RoleTagUser, "m4")
	require.NoError(t, err)
	f = readFrame(t, ws)
	var m chat.MessageReceived
	require.NoError(t, json.Unmarshal(f.Data, &m))
	assert.Equal(t, uint64(4), m.Seq)
}

func TestServe_InvalidSinceSeq(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)

	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/sessions/" + sid + "?since_seq=abc&token=" + token(t, 1)
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_DisconnectUnregisters(t *testing.T) {
	e := newTestEnv(t)
	sid := e.session(t, chat.VisibilityPrivate, nil)

	ws := e.connect(t, sid, 1)
	require.Equal(t, 1, e.reg.Count(sid))
	require.Eventually(t, func() bool {
		online, _ := e.presence.Online(context.Background(), sid)
		return online[1] == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool { return e.reg.Count(sid) == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		online, _ := e.presence.Online(context.Background(), sid)
		return len(online) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLocalPresence(t *testing.T) {
	p := NewLocalPresence()
	ctx := context.Background()
	require.NoError(t, p.Connected(ctx, "s", 1))
	require.NoError(t, p.Connected(ctx, "s", 1))
	require.NoError(t, p.Connected(ctx, "s", 2))
	require.NoError(t, p.Disconnected(ctx, "s", 2))
	require.NoError(t, p.Disconnected(ctx, "s", 9))

	online, err := p.Online(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{1: 2}, online)
}

func TestLifecycleTransitions(t *testing.T) {
	lc := &lifecycle{}
	require.Error(t, lc.advance(stateJoined))
	require.NoError(t, lc.advance(stateAuthenticated))
	require.Error(t, lc.advance(stateAuthenticated))
	require.NoError(t, lc.advance(stateJoined))
	require.NoError(t, lc.advance(stateClosed))
	require.Error(t, lc.advance(stateJoined))
	require.Error(t, lc.advance(stateClosed))
	assert.Equal(t, stateClosed, lc.current())
}
