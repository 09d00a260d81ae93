package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/common"
	"github.com/suPer8Hu/chat-rooms/internal/db"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repo := NewRepo(gdb)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo
}

func record(t *testing.T, typ chat.AuditType) chat.AuditRecord {
	t.Helper()
	id, err := common.NewULID()
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return chat.AuditRecord{
		ID:         id,
		Type:       typ,
		SessionID:  "01HSESSION0000000000000000",
		ActorID:    1,
		TargetID:   2,
		Role:       chat.RoleMember,
		OccurredAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestConsumer_InsertsOnce(t *testing.T) {
	repo := openTestRepo(t)
	c := NewConsumer(repo, nil)
	ctx := context.Background()

	rec := record(t, chat.AuditParticipantInvited)
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := c.Handle(ctx, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// redelivery
	if err := c.Handle(ctx, body); err != nil {
		t.Fatalf("handle duplicate: %v", err)
	}

	entries, err := repo.ListBySession(ctx, rec.SessionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID != rec.ID || e.Type != "participant_invited" || e.TargetID != 2 || e.Role != "member" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestConsumer_Malformed(t *testing.T) {
	c := NewConsumer(openTestRepo(t), nil)

	for name, body := range map[string]string{
		"not json":   "{oops",
		"missing id": `{"type":"session_created","session_id":"s"}`,
		"no session": `{"id":"01H","type":"session_created"}`,
	} {
		t.Run(name, func(t *testing.T) {
			err := c.Handle(context.Background(), []byte(body))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestListBySession_Order(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, typ := range []chat.AuditType{chat.AuditSessionCreated, chat.AuditParticipantJoined, chat.AuditSessionDeleted} {
		rec := record(t, typ)
		rec.OccurredAt = base.Add(time.Duration(i) * time.Second)
		e := FromRecord(rec)
		inserted, err := repo.Insert(ctx, &e)
		if err != nil || !inserted {
			t.Fatalf("insert %s: inserted=%v err=%v", typ, inserted, err)
		}
	}

	entries, err := repo.ListBySession(ctx, "01HSESSION0000000000000000", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || entries[0].Type != "session_created" || entries[2].Type != "session_deleted" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}
