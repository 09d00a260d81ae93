package chat

import (
	"context"
	"errors"
)

// Join admits the caller to a public session as a member.
func (s *Service) Join(ctx context.Context, sessionID string, caller Identity) (*Participant, error) {
	var out *Participant
	err := s.locked(ctx, sessionID, func() error {
		sess, err := s.activeSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Visibility != VisibilityPublic {
			return forbidden("session is not open for joining")
		}
		out, err = s.admit(ctx, sessionID, caller.UserID, RoleMember)
		if err != nil {
			return err
		}
		s.hub.Broadcast(sessionID, participantEvent(EventParticipantJoined, *out, caller.UserID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, s.record(AuditParticipantJoined, sessionID, caller.UserID, caller.UserID, RoleMember))
	return out, nil
}

// Invite enrolls targetUserID with role, reactivating a previous row if any.
func (s *Service) Invite(ctx context.Context, sessionID string, callerID, targetUserID uint64, role Role) (*Participant, error) {
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return nil, validationError("invalid role")
	}
	if role == RoleOwner {
		return nil, validationError("the owner role cannot be granted by invitation")
	}
	if targetUserID == 0 {
		return nil, validationError("user_id is required")
	}

	var out *Participant
	err := s.locked(ctx, sessionID, func() error {
		if _, _, err := s.authorize(ctx, sessionID, callerID, ActionInvite); err != nil {
			return err
		}
		var err error
		out, err = s.admit(ctx, sessionID, targetUserID, role)
		if err != nil {
			return err
		}
		s.hub.Broadcast(sessionID, participantEvent(EventParticipantJoined, *out, callerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, s.record(AuditParticipantInvited, sessionID, callerID, targetUserID, role))
	return out, nil
}

func (s *Service) admit(ctx context.Context, sessionID string, userID uint64, role Role) (*Participant, error) {
	p, err := s.store.AdmitParticipant(ctx, sessionID, userID, role)
	if err != nil {
		return nil, notFound("admit participant", err, newError(CodeNotFound, "session not found"))
	}
	return p, nil
}

// Leave deactivates the caller's row and closes the caller's live connections.
func (s *Service) Leave(ctx context.Context, sessionID string, callerID uint64) error {
	err := s.locked(ctx, sessionID, func() error {
		if _, err := s.activeSession(ctx, sessionID); err != nil {
			return err
		}
		p, err := s.activeParticipant(ctx, sessionID, callerID)
		if err != nil {
			return err
		}
		if p.Role == RoleOwner {
			return ErrOwnerCannotLeave
		}
		if !Authorized(p.Role, ActionLeave) {
			return forbidden("leave not permitted")
		}
		if err := s.store.DeactivateParticipant(ctx, sessionID, callerID); err != nil {
			return notFound("leave", err, ErrNotAMember)
		}
		p.Active = false
		ev := participantEvent(EventParticipantLeft, *p, callerID)
		s.hub.EvictUser(sessionID, callerID, ev)
		s.hub.Broadcast(sessionID, ev)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, s.record(AuditParticipantLeft, sessionID, callerID, callerID, ""))
	return nil
}

// Remove deactivates another participant and closes their live connections.
func (s *Service) Remove(ctx context.Context, sessionID string, callerID, targetUserID uint64) error {
	if targetUserID == callerID {
		return forbidden("use leave to exit a session")
	}
	err := s.locked(ctx, sessionID, func() error {
		if _, _, err := s.authorize(ctx, sessionID, callerID, ActionRemoveParticipant); err != nil {
			return err
		}
		target, err := s.activeParticipant(ctx, sessionID, targetUserID)
		if err != nil {
			if errors.Is(err, ErrNotAMember) {
				return newError(CodeNotFound, "participant not found")
			}
			return err
		}
		if target.Role == RoleOwner {
			return forbidden("the owner cannot be removed")
		}
		if err := s.store.DeactivateParticipant(ctx, sessionID, targetUserID); err != nil {
			return notFound("remove participant", err, newError(CodeNotFound, "participant not found"))
		}
		target.Active = false
		ev := participantEvent(EventParticipantRemoved, *target, callerID)
		s.hub.EvictUser(sessionID, targetUserID, ev)
		s.hub.Broadcast(sessionID, ev)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, s.record(AuditParticipantRemoved, sessionID, callerID, targetUserID, ""))
	return nil
}

// ChangeRole sets the target's role, subject to CanChangeRole.
func (s *Service) ChangeRole(ctx context.Context, sessionID string, callerID, targetUserID uint64, newRole Role) (*Participant, error) {
	if !newRole.Valid() {
		return nil, validationError("invalid role")
	}
	if targetUserID == callerID {
		return nil, forbidden("participants cannot change their own role")
	}

	var (
		out     *Participant
		changed bool
	)
	err := s.locked(ctx, sessionID, func() error {
		_, actor, err := s.authorize(ctx, sessionID, callerID, ActionChangeRole)
		if err != nil {
			return err
		}
		target, err := s.activeParticipant(ctx, sessionID, targetUserID)
		if err != nil {
			if errors.Is(err, ErrNotAMember) {
				return newError(CodeNotFound, "participant not found")
			}
			return err
		}
		if !CanChangeRole(actor.Role, target.Role, newRole) {
			return forbidden("role change not permitted")
		}
		if target.Role == newRole {
			out = target
			return nil
		}
		out, err = s.store.SetParticipantRole(ctx, sessionID, targetUserID, newRole)
		if err != nil {
			return notFound("change role", err, newError(CodeNotFound, "participant not found"))
		}
		changed = true
		s.hub.Broadcast(sessionID, participantEvent(EventParticipantRoleChanged, *out, callerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, s.record(AuditRoleChanged, sessionID, callerID, targetUserID, newRole))
	}
	return out, nil
}

// ListParticipants returns the active roster in join order.
func (s *Service) ListParticipants(ctx context.Context, sessionID string, callerID uint64) ([]Participant, error) {
	if _, err := s.RequireMember(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	out, err := s.store.ListActiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, storeError("list participants", err)
	}
	return out, nil
}
