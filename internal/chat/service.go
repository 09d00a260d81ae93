package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/common"
	"gorm.io/gorm"
)

var validate = validator.New()

type Options struct {
	// Broadcaster receives realtime notifications; nil disables them.
	Broadcaster Broadcaster
	// Audit receives committed changes; nil disables the audit stream.
	Audit  AuditSink
	Logger *slog.Logger
}

// Service is the session registry, participant manager and message log.
// Mutations of one session are serialized by a per-session lock that is held
// across authorize -> persist -> broadcast.
type Service struct {
	store Store
	hub   Broadcaster
	audit AuditSink
	log   *slog.Logger
	locks *sessionLocks
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store: store,
		hub:   opts.Broadcaster,
		audit: opts.Audit,
		log:   opts.Logger,
		locks: newSessionLocks(),
	}
	if s.hub == nil {
		s.hub = nopBroadcaster{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func NewSessionID() (string, error) {
	return common.NewULID()
}

// Identity is re-exported so callers of this package need not import auth.
type Identity = auth.Identity

const (
	defaultPageSize   = 50
	maxPageSize       = 100
	maxReplayMessages = 500
)

func normalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	return skip, limit
}

// locked runs fn while holding the session lock.
func (s *Service) locked(ctx context.Context, sessionID string, fn func() error) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return wrapError(CodeUnavailable, "wait for session lock", err)
	}
	defer unlock()
	return fn()
}

// notFound maps a missing row onto domainErr and anything else onto an
// infrastructure error.
func notFound(op string, err error, domainErr *Error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainErr
	}
	return storeError(op, err)
}

func (s *Service) activeSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFound("get session", err, newError(CodeNotFound, "session not found"))
	}
	if !sess.Active {
		return nil, newError(CodeNotFound, "session not found")
	}
	return sess, nil
}

func (s *Service) activeParticipant(ctx context.Context, sessionID string, userID uint64) (*Participant, error) {
	p, err := s.store.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, notFound("get participant", err, ErrNotAMember)
	}
	if !p.Active {
		return nil, ErrNotAMember
	}
	return p, nil
}

// authorize resolves the caller's role in an active session and checks action.
func (s *Service) authorize(ctx context.Context, sessionID string, userID uint64, action Action) (*Session, *Participant, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.activeParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !Authorized(p.Role, action) {
		return nil, nil, forbidden(fmt.Sprintf("role %s may not %s", p.Role, action))
	}
	return sess, p, nil
}

// RequireMember returns the caller's active participant row.
func (s *Service) RequireMember(ctx context.Context, sessionID string, userID uint64) (*Participant, error) {
	if _, err := s.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.activeParticipant(ctx, sessionID, userID)
}

func (s *Service) record(typ AuditType, sessionID string, actorID, targetID uint64, role Role) *AuditRecord {
	if s.audit == nil {
		return nil
	}
	id, err := common.NewULID()
	if err != nil {
		s.log.Warn("audit id", "err", err)
		return nil
	}
	return &AuditRecord{
		ID:         id,
		Type:       typ,
		SessionID:  sessionID,
		ActorID:    actorID,
		TargetID:   targetID,
		Role:       role,
		OccurredAt: time.Now().UTC(),
	}
}

// publish is called after the session lock is released. Failures are logged only.
func (s *Service) publish(ctx context.Context, rec *AuditRecord) {
	if rec == nil || s.audit == nil {
		return
	}
	if err := s.audit.PublishAudit(context.WithoutCancel(ctx), *rec); err != nil {
		s.log.Warn("audit publish failed", "type", rec.Type, "session_id", rec.SessionID, "err", err)
	}
}

func validationFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return validationError(err.Error())
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return validationError(strings.Join(parts, "; "))
}
