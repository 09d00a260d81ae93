package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence boundary of the chat core. Lookups of absent rows
// return gorm.ErrRecordNotFound; admission failures return domain errors.
type Store interface {
	CreateSessionWithOwner(ctx context.Context, s *Session, owner *Participant) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSession(ctx context.Context, sessionID string, fields map[string]any) (*Session, error)
	DeactivateSession(ctx context.Context, sessionID string) error
	ListPublicSessions(ctx context.Context, offset, limit int) ([]Session, int64, error)
	ListUserSessions(ctx context.Context, userID uint64, offset, limit int) ([]Session, error)

	GetParticipant(ctx context.Context, sessionID string, userID uint64) (*Participant, error)
	ListActiveParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	AdmitParticipant(ctx context.Context, sessionID string, userID uint64, role Role) (*Participant, error)
	SetParticipantRole(ctx context.Context, sessionID string, userID uint64, role Role) (*Participant, error)
	DeactivateParticipant(ctx context.Context, sessionID string, userID uint64) error

	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, sessionID string, afterSeq uint64, offset, limit int) ([]Message, error)
}

type Repo struct {
	db *gorm.DB
}

var _ Store = (*Repo)(nil)

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates or updates the chat tables.
func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(Models()...)
}

// lockSession reads the active session row, holding a row lock where the
// dialect supports it. Admissions and appends use it to serialize writers
// across processes.
func lockSession(tx *gorm.DB, sessionID string) (*Session, error) {
	q := tx
	if tx.Dialector.Name() == "mysql" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var s Session
	if err := q.Where("session_id = ? AND active = ?", sessionID, true).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) CreateSessionWithOwner(ctx context.Context, s *Session, owner *Participant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		owner.SessionID = s.SessionID
		return tx.Create(owner).Error
	})
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) UpdateSession(ctx context.Context, sessionID string, fields map[string]any) (*Session, error) {
	var out Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Session{}).
			Where("session_id = ? AND active = ?", sessionID, true).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("session_id = ?", sessionID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) DeactivateSession(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND active = ?", sessionID, true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPublicSessions returns active public sessions, newest first, plus the total.
func (r *Repo) ListPublicSessions(ctx context.Context, offset, limit int) ([]Session, int64, error) {
	base := r.db.WithContext(ctx).Model(&Session{}).
		Where("visibility = ? AND active = ?", VisibilityPublic, true)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []Session
	if err := base.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListUserSessions returns active sessions the user actively participates in,
// most recently updated first.
func (r *Repo) ListUserSessions(ctx context.Context, userID uint64, offset, limit int) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).Model(&Session{}).
		Joins("JOIN chat_participants ON chat_participants.session_id = chat_sessions.session_id").
		Where("chat_participants.user_id = ? AND chat_participants.active = ? AND chat_sessions.active = ?", userID, true, true).
		Order("chat_sessions.updated_at DESC").Order("chat_sessions.id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetParticipant(ctx context.Context, sessionID string, userID uint64) (*Participant, error) {
	var p Participant
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActiveParticipants returns the active roster in join order.
func (r *Repo) ListActiveParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	var out []Participant
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND active = ?", sessionID, true).
		Order("joined_at ASC").Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AdmitParticipant checks capacity and inserts (or reactivates) the row in one
// transaction. An already active row yields ErrConflict, a full roster
// ErrCapacityExceeded, a missing or inactive session gorm.ErrRecordNotFound.
func (r *Repo) AdmitParticipant(ctx context.Context, sessionID string, userID uint64, role Role) (*Participant, error) {
	var out Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}

		var existing Participant
		err = tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&existing).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if found && existing.Active {
			return newError(CodeConflict, "user is already a participant")
		}

		var active int64
		if err := tx.Model(&Participant{}).
			Where("session_id = ? AND active = ?", sessionID, true).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(sess.MaxParticipants) {
			return ErrCapacityExceeded
		}

		now := time.Now()
		if found {
			if err := tx.Model(&existing).Updates(map[string]any{
				"active":    true,
				"role":      role,
				"joined_at": now,
			}).Error; err != nil {
				return err
			}
			existing.Active = true
			existing.Role = role
			existing.JoinedAt = now
			out = existing
			return nil
		}

		out = Participant{
			SessionID: sessionID,
			UserID:    userID,
			Role:      role,
			Active:    true,
			JoinedAt:  now,
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) SetParticipantRole(ctx context.Context, sessionID string, userID uint64, role Role) (*Participant, error) {
	var out Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Participant{}).
			Where("session_id = ? AND user_id = ? AND active = ?", sessionID, userID, true).
			Update("role", role)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) DeactivateParticipant(ctx context.Context, sessionID string, userID uint64) error {
	res := r.db.WithContext(ctx).Model(&Participant{}).
		Where("session_id = ? AND user_id = ? AND active = ?", sessionID, userID, true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AppendMessage assigns the next per-session seq and inserts m.
func (r *Repo) AppendMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, m.SessionID); err != nil {
			return err
		}
		var last uint64
		if err := tx.Model(&Message{}).
			Where("session_id = ?", m.SessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		m.Seq = last + 1
		return tx.Create(m).Error
	})
}

// ListMessages returns messages in ASC seq order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, sessionID string, afterSeq uint64, offset, limit int) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Offset(offset).
		Limit(limit)

	if afterSeq > 0 {
		q = q.Where("seq > ?", afterSeq)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
