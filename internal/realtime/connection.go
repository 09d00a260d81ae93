package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Close codes sent to clients.
const (
	CloseAuthFailed    = websocket.ClosePolicyViolation // 1008
	CloseSlowConsumer  = websocket.CloseTryAgainLater   // 1013
	CloseEvicted       = 4001
	CloseForbidden     = 4403
	CloseNotFound      = 4404
	CloseSessionClosed = 4410
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("connection send buffer full")
)

// Handle is one live client transport as seen by the Registry.
type Handle interface {
	ID() string
	UserID() uint64
	// Send must not block.
	Send(payload []byte) error
	Close(code int, reason string)
}

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel drained by a single write loop.
type Connection struct {
	id        string
	userID    uint64
	sessionID string

	ws      *websocket.Conn
	send    chan []byte
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	closeCode   int
	closeReason string
}

func NewConnection(ws *websocket.Conn, userID uint64, sessionID string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 128
	}
	return &Connection{
		id:        uuid.NewString(),
		userID:    userID,
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan []byte, buffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) UserID() uint64    { return c.userID }
func (c *Connection) SessionID() string { return c.sessionID }

// Done is closed once the write loop has exited and the socket is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Start launches the write loop. Call it once, before the connection is shared.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A full buffer closes the connection so one slow
// client cannot hold up a broadcast.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(CloseSlowConsumer, "send buffer full")
		return ErrBufferFull
	}
}

// Close asks the write loop to flush what is queued, send a close frame with
// code and reason, and close the socket. Only the first call has effect.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case <-c.closing:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// flush writes whatever is already queued.
func (c *Connection) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
