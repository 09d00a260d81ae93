package chat

import (
	"context"
	"strings"
	"time"
)

const defaultMaxParticipants = 10

type CreateSessionInput struct {
	Title           string     `validate:"required,max=200"`
	Description     *string    `validate:"omitempty,max=1000"`
	Visibility      Visibility `validate:"omitempty,oneof=private public invite_only"`
	MaxParticipants *int       `validate:"omitempty,gte=1,lte=1000"`
}

// CreateSession creates a session and enrolls the caller as its owner.
func (s *Service) CreateSession(ctx context.Context, owner Identity, in CreateSessionInput) (*SessionDetail, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validate.Struct(in); err != nil {
		return nil, validationFrom(err)
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPrivate
	}
	maxParticipants := defaultMaxParticipants
	if in.MaxParticipants != nil {
		maxParticipants = *in.MaxParticipants
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, storeError("new session id", err)
	}

	sess := &Session{
		SessionID:       sid,
		OwnerID:         owner.UserID,
		Title:           in.Title,
		Description:     in.Description,
		Visibility:      in.Visibility,
		MaxParticipants: maxParticipants,
		Active:          true,
	}
	ownerRow := &Participant{
		UserID:   owner.UserID,
		Role:     RoleOwner,
		Active:   true,
		JoinedAt: time.Now(),
	}

	if err := s.store.CreateSessionWithOwner(ctx, sess, ownerRow); err != nil {
		return nil, storeError("create session", err)
	}

	s.publish(ctx, s.record(AuditSessionCreated, sid, owner.UserID, 0, RoleOwner))
	return &SessionDetail{
		Session:          *sess,
		Participants:     []Participant{*ownerRow},
		ParticipantCount: 1,
	}, nil
}

// GetSession is visible to active participants only; anyone else gets NotFound.
func (s *Service) GetSession(ctx context.Context, sessionID string, callerID uint64) (*SessionDetail, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeParticipant(ctx, sessionID, callerID); err != nil {
		if CodeOf(err) == CodeNotAMember {
			return nil, newError(CodeNotFound, "session not found")
		}
		return nil, err
	}
	roster, err := s.store.ListActiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, storeError("list participants", err)
	}
	return &SessionDetail{Session: *sess, Participants: roster, ParticipantCount: len(roster)}, nil
}

type UpdateSessionInput struct {
	Title           *string     `validate:"omitempty,max=200"`
	Description     *string     `validate:"omitempty,max=1000"`
	Visibility      *Visibility `validate:"omitempty,oneof=private public invite_only"`
	MaxParticipants *int        `validate:"omitempty,gte=1,lte=1000"`
}

// UpdateSession applies the non-nil fields. Lowering the capacity below the
// current roster size is allowed; it only blocks further admissions.
func (s *Service) UpdateSession(ctx context.Context, sessionID string, callerID uint64, in UpdateSessionInput) (*Session, error) {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, validationError("title must not be empty")
		}
		in.Title = &t
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationFrom(err)
	}

	fields := map[string]any{}
	if in.Title != nil {
		fields["title"] = *in.Title
	}
	if in.Description != nil {
		fields["description"] = *in.Description
	}
	if in.Visibility != nil {
		fields["visibility"] = *in.Visibility
	}
	if in.MaxParticipants != nil {
		fields["max_participants"] = *in.MaxParticipants
	}

	var out *Session
	err := s.locked(ctx, sessionID, func() error {
		sess, _, err := s.authorize(ctx, sessionID, callerID, ActionUpdateSession)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			out = sess
			return nil
		}
		out, err = s.store.UpdateSession(ctx, sessionID, fields)
		if err != nil {
			return notFound("update session", err, newError(CodeNotFound, "session not found"))
		}
		s.hub.Broadcast(sessionID, Event{Type: EventSessionUpdated, Data: out})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		s.publish(ctx, s.record(AuditSessionUpdated, sessionID, callerID, 0, ""))
	}
	return out, nil
}

// DeleteSession soft-deletes the session and closes every live connection to it.
func (s *Service) DeleteSession(ctx context.Context, sessionID string, callerID uint64) error {
	err := s.locked(ctx, sessionID, func() error {
		if _, _, err := s.authorize(ctx, sessionID, callerID, ActionDeleteSession); err != nil {
			return err
		}
		if err := s.store.DeactivateSession(ctx, sessionID); err != nil {
			return notFound("delete session", err, newError(CodeNotFound, "session not found"))
		}
		s.hub.EvictSession(sessionID, SessionClosedEvent("session deleted"))
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, s.record(AuditSessionDeleted, sessionID, callerID, 0, ""))
	return nil
}

// ListPublicSessions lists active public sessions regardless of membership.
func (s *Service) ListPublicSessions(ctx context.Context, skip, limit int) ([]Session, int64, error) {
	skip, limit = normalizePage(skip, limit)
	out, total, err := s.store.ListPublicSessions(ctx, skip, limit)
	if err != nil {
		return nil, 0, storeError("list public sessions", err)
	}
	return out, total, nil
}

// ListUserSessions lists the sessions the caller actively participates in.
func (s *Service) ListUserSessions(ctx context.Context, callerID uint64, skip, limit int) ([]Session, error) {
	skip, limit = normalizePage(skip, limit)
	out, err := s.store.ListUserSessions(ctx, callerID, skip, limit)
	if err != nil {
		return nil, storeError("list user sessions", err)
	}
	return out, nil
}
