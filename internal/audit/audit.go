// Package audit persists the membership and lifecycle records emitted by the
// chat service. Records arrive through RabbitMQ and are consumed by cmd/worker.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMalformed marks a message that can never be processed; it is not retried.
var ErrMalformed = errors.New("malformed audit record")

type Entry struct {
	ID         string    `gorm:"type:char(26);primaryKey"`
	Type       string    `gorm:"type:varchar(40);index;not null"`
	SessionID  string    `gorm:"type:varchar(26);index;not null"`
	ActorID    uint64    `gorm:"not null"`
	TargetID   uint64    `gorm:"not null;default:0"`
	Role       string    `gorm:"type:varchar(16)"`
	OccurredAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time
}

func (Entry) TableName() string { return "audit_entries" }

func FromRecord(rec chat.AuditRecord) Entry {
	return Entry{
		ID:         rec.ID,
		Type:       string(rec.Type),
		SessionID:  rec.SessionID,
		ActorID:    rec.ActorID,
		TargetID:   rec.TargetID,
		Role:       string(rec.Role),
		OccurredAt: rec.OccurredAt,
	}
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Entry{})
}

// Insert stores e unless an entry with the same id exists. It reports whether
// a row was written.
func (r *Repo) Insert(ctx context.Context, e *Entry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListBySession returns entries oldest first.
func (r *Repo) ListBySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Entry
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC").Order("id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Decode parses a queue message body.
func Decode(body []byte) (chat.AuditRecord, error) {
	var rec chat.AuditRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return chat.AuditRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.ID == "" || rec.Type == "" || rec.SessionID == "" {
		return chat.AuditRecord{}, fmt.Errorf("%w: id, type and session_id are required", ErrMalformed)
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	return rec, nil
}

// Consumer turns queue deliveries into audit rows.
type Consumer struct {
	repo *Repo
	log  *slog.Logger
}

func NewConsumer(repo *Repo, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{repo: repo, log: log}
}

// Handle processes one message body. Redeliveries of the same record are
// acknowledged without writing a second row.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	rec, err := Decode(body)
	if err != nil {
		return err
	}
	e := FromRecord(rec)
	inserted, err := c.repo.Insert(ctx, &e)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", rec.ID, err)
	}
	if !inserted {
		c.log.Debug("duplicate audit record", "id", rec.ID, "type", rec.Type)
	}
	return nil
}
