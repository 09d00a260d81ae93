package handlers

import (
	"time"

	"github.com/samber/lo"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
)

type sessionDTO struct {
	SessionID       string          `json:"session_id"`
	OwnerID         uint64          `json:"owner_id"`
	Title           string          `json:"title"`
	Description     *string         `json:"description"`
	Visibility      chat.Visibility `json:"visibility"`
	MaxParticipants int             `json:"max_participants"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type participantDTO struct {
	UserID   uint64    `json:"user_id"`
	Role     chat.Role `json:"role"`
	Active   bool      `json:"active"`
	JoinedAt time.Time `json:"joined_at"`
}

type sessionDetailDTO struct {
	sessionDTO
	Participants     []participantDTO `json:"participants"`
	ParticipantCount int              `json:"participant_count"`
}

type messageDTO struct {
	ID         uint64    `json:"id"`
	Seq        uint64    `json:"seq"`
	SessionID  string    `json:"session_id"`
	AuthorID   uint64    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	RoleTag    string    `json:"role_tag"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSessionDTO(s chat.Session) sessionDTO {
	return sessionDTO{
		SessionID:       s.SessionID,
		OwnerID:         s.OwnerID,
		Title:           s.Title,
		Description:     s.Description,
		Visibility:      s.Visibility,
		MaxParticipants: s.MaxParticipants,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func toSessionDTOs(in []chat.Session) []sessionDTO {
	return lo.Map(in, func(s chat.Session, _ int) sessionDTO { return toSessionDTO(s) })
}

func toParticipantDTO(p chat.Participant) participantDTO {
	return participantDTO{UserID: p.UserID, Role: p.Role, Active: p.Active, JoinedAt: p.JoinedAt}
}

func toParticipantDTOs(in []chat.Participant) []participantDTO {
	return lo.Map(in, func(p chat.Participant, _ int) participantDTO { return toParticipantDTO(p) })
}

func toSessionDetailDTO(d *chat.SessionDetail) sessionDetailDTO {
	return sessionDetailDTO{
		sessionDTO:       toSessionDTO(d.Session),
		Participants:     toParticipantDTOs(d.Participants),
		ParticipantCount: d.ParticipantCount,
	}
}

func toMessageDTO(m chat.Message) messageDTO {
	return messageDTO{
		ID:         m.ID,
		Seq:        m.Seq,
		SessionID:  m.SessionID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		RoleTag:    m.RoleTag,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

func toMessageDTOs(in []chat.Message) []messageDTO {
	return lo.Map(in, func(m chat.Message, _ int) messageDTO { return toMessageDTO(m) })
}
