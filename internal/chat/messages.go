package chat

import (
	"context"
	"strings"
)

// SendMessage appends a message and broadcasts it to the session. The stored
// content is exactly what was submitted.
func (s *Service) SendMessage(ctx context.Context, sessionID string, author Identity, roleTag, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationError("content must not be empty")
	}
	if roleTag == "" {
		roleTag = RoleTagUser
	}
	if !validRoleTag(roleTag) {
		return nil, validationError("invalid role_tag")
	}

	var out *Message
	err := s.locked(ctx, sessionID, func() error {
		if _, _, err := s.authorize(ctx, sessionID, author.UserID, ActionSendMessage); err != nil {
			return err
		}
		m := &Message{
			SessionID:  sessionID,
			AuthorID:   author.UserID,
			AuthorName: author.DisplayName,
			RoleTag:    roleTag,
			Content:    content,
		}
		if err := s.store.AppendMessage(ctx, m); err != nil {
			return notFound("append message", err, newError(CodeNotFound, "session not found"))
		}
		out = m
		s.hub.Broadcast(sessionID, MessageEvent(*m))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type ListMessagesInput struct {
	Skip  int
	Limit int
	// AfterSeq, when set, returns only messages with a larger seq.
	AfterSeq uint64
}

// ListMessages returns messages oldest first.
func (s *Service) ListMessages(ctx context.Context, sessionID string, callerID uint64, in ListMessagesInput) ([]Message, error) {
	if _, _, err := s.authorize(ctx, sessionID, callerID, ActionViewMessages); err != nil {
		return nil, err
	}
	skip, limit := normalizePage(in.Skip, in.Limit)
	out, err := s.store.ListMessages(ctx, sessionID, in.AfterSeq, skip, limit)
	if err != nil {
		return nil, storeError("list messages", err)
	}
	return out, nil
}

// AttachFunc registers a realtime handle. It runs under the session lock and
// receives the replay history, so no broadcast can slip between the history
// read and the registration.
type AttachFunc func(p *Participant, history []Message) error

// AttachRealtime verifies that userID is an active participant and calls
// attach. When replayAfter is non-nil, messages with seq > *replayAfter (up to
// maxReplayMessages) are passed as history.
func (s *Service) AttachRealtime(ctx context.Context, sessionID string, userID uint64, replayAfter *uint64, attach AttachFunc) error {
	return s.locked(ctx, sessionID, func() error {
		_, p, err := s.authorize(ctx, sessionID, userID, ActionViewMessages)
		if err != nil {
			return err
		}
		var history []Message
		if replayAfter != nil {
			history, err = s.store.ListMessages(ctx, sessionID, *replayAfter, 0, maxReplayMessages)
			if err != nil {
				return storeError("replay messages", err)
			}
		}
		return attach(p, history)
	})
}
