package chat

import "time"

type Visibility string

const (
	VisibilityPrivate    Visibility = "private"
	VisibilityPublic     Visibility = "public"
	VisibilityInviteOnly Visibility = "invite_only"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityInviteOnly:
		return true
	}
	return false
}

// Message role tags.
const (
	RoleTagUser      = "user"
	RoleTagAssistant = "assistant"
	RoleTagSystem    = "system"
)

func validRoleTag(tag string) bool {
	switch tag {
	case RoleTagUser, RoleTagAssistant, RoleTagSystem:
		return true
	}
	return false
}

type Session struct {
	ID              uint64     `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID       string     `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	OwnerID         uint64     `gorm:"index;not null" json:"owner_id"`
	Title           string     `gorm:"type:varchar(200);not null" json:"title"`
	Description     *string    `gorm:"type:text" json:"description,omitempty"`
	Visibility      Visibility `gorm:"type:varchar(16);index:idx_chat_session_listing,priority:1;not null" json:"visibility"`
	MaxParticipants int        `gorm:"not null" json:"max_participants"`
	Active          bool       `gorm:"index:idx_chat_session_listing,priority:2;not null" json:"active"`
	CreatedAt       time.Time  `gorm:"index:idx_chat_session_listing,priority:3" json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Participant rows are never deleted; leave and remove clear Active.
type Participant struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;uniqueIndex:uniq_chat_participant,priority:1" json:"session_id"`
	UserID    uint64    `gorm:"not null;uniqueIndex:uniq_chat_participant,priority:2;index" json:"user_id"`
	Role      Role      `gorm:"type:varchar(16);not null" json:"role"`
	Active    bool      `gorm:"index;not null" json:"active"`
	JoinedAt  time.Time `gorm:"not null" json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Participant) TableName() string { return "chat_participants" }

// Message is append-only. Seq is the per-session position, starting at 1.
type Message struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"type:varchar(26);not null;uniqueIndex:uniq_chat_msg_seq,priority:1" json:"session_id"`
	Seq        uint64    `gorm:"not null;uniqueIndex:uniq_chat_msg_seq,priority:2" json:"seq"`
	AuthorID   uint64    `gorm:"index;not null" json:"author_id"`
	AuthorName string    `gorm:"type:varchar(128);not null" json:"author_name"`
	RoleTag    string    `gorm:"type:varchar(16);not null" json:"role_tag"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Models lists every table owned by this package, for AutoMigrate.
func Models() []any {
	return []any{&Session{}, &Participant{}, &Message{}}
}

// SessionDetail is a session with its active roster.
type SessionDetail struct {
	Session
	Participants     []Participant `json:"participants"`
	ParticipantCount int           `json:"participant_count"`
}
