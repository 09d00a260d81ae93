package chat

import "time"

// Outbound realtime event types.
const (
	EventConnected              = "connected"
	EventMessageReceived        = "message_received"
	EventParticipantJoined      = "participant_joined"
	EventParticipantLeft        = "participant_left"
	EventParticipantRemoved     = "participant_removed"
	EventParticipantRoleChanged = "participant_role_changed"
	EventSessionUpdated         = "session_updated"
	EventSessionClosed          = "session_closed"
	EventError                  = "error"
	EventPong                   = "pong"
)

// Event is one frame pushed to realtime clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type MessageReceived struct {
	ID         uint64    `json:"id"`
	Seq        uint64    `json:"seq"`
	SessionID  string    `json:"session_id"`
	AuthorID   uint64    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	RoleTag    string    `json:"role_tag"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

type ParticipantChanged struct {
	Participant Participant `json:"participant"`
	ActorID     uint64      `json:"actor_id"`
}

type SessionClosed struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func MessageEvent(m Message) Event {
	return Event{Type: EventMessageReceived, Data: MessageReceived{
		ID:         m.ID,
		Seq:        m.Seq,
		SessionID:  m.SessionID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		RoleTag:    m.RoleTag,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}}
}

func participantEvent(typ string, p Participant, actorID uint64) Event {
	return Event{Type: typ, Data: ParticipantChanged{Participant: p, ActorID: actorID}}
}

func SessionClosedEvent(reason string) Event {
	return Event{Type: EventSessionClosed, Data: SessionClosed{Reason: reason}}
}

// ErrorEvent renders err for a realtime client.
func ErrorEvent(err error) Event {
	code := CodeOf(err)
	if code == "" {
		code = CodeUnavailable
	}
	msg := err.Error()
	if code == CodeUnavailable {
		msg = "internal error"
	}
	return Event{Type: EventError, Data: ErrorPayload{Code: code, Message: msg}}
}

// Broadcaster delivers events to live connections. Calls must not block on a
// slow peer.
type Broadcaster interface {
	Broadcast(sessionID string, ev Event)
	// EvictSession sends ev to every handle of the session, then closes them.
	EvictSession(sessionID string, ev Event)
	// EvictUser sends ev to the user's handles in the session, then closes them.
	EvictUser(sessionID string, userID uint64, ev Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, Event) {}
func (nopBroadcaster) EvictSession(string, Event) {}
func (nopBroadcaster) EvictUser(string, uint64, Event) {}
