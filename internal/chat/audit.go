package chat

import (
	"context"
	"time"
)

type AuditType string

const (
	AuditSessionCreated     AuditType = "session_created"
	AuditSessionUpdated     AuditType = "session_updated"
	AuditSessionDeleted     AuditType = "session_deleted"
	AuditParticipantJoined  AuditType = "participant_joined"
	AuditParticipantInvited AuditType = "participant_invited"
	AuditParticipantLeft    AuditType = "participant_left"
	AuditParticipantRemoved AuditType = "participant_removed"
	AuditRoleChanged        AuditType = "participant_role_changed"
)

// AuditRecord describes one committed membership or lifecycle change.
type AuditRecord struct {
	ID         string    `json:"id"` // ULID
	Type       AuditType `json:"type"`
	SessionID  string    `json:"session_id"`
	ActorID    uint64    `json:"actor_id"`
	TargetID   uint64    `json:"target_id,omitempty"`
	Role       Role      `json:"role,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditSink receives records after the change is committed.
type AuditSink interface {
	PublishAudit(ctx context.Context, rec AuditRecord) error
}
