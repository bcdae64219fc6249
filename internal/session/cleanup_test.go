package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/adapters"
	"github.com/satriahrh/callrelay/adapters/llm"
	"github.com/satriahrh/callrelay/domain/entities"
)

func TestJanitor_RunOnce(t *testing.T) {
	ctx := context.Background()
	store := adapters.NewMemoryStore()
	f := newFixture(t, store, llm.NewScriptedLLM(), Config{})

	old := entities.NewSession("CA-old", time.Minute)
	old.Status = entities.SessionStatusTerminated
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	store.CreateSession(ctx, old)

	recent := entities.NewSession("CA-recent", time.Minute)
	recent.Status = entities.SessionStatusTerminated
	store.CreateSession(ctx, recent)

	expired := entities.NewSession("CA-expired", time.Minute)
	expired.Status = entities.SessionStatusActive
	expired.Deadline = time.Now().Add(-time.Minute)
	store.CreateSession(ctx, expired)

	live := entities.NewSession("CA-live", time.Hour)
	live.Status = entities.SessionStatusActive
	store.CreateSession(ctx, live)

	janitor := NewJanitor(f.manager, store, "@every 1m", 24*time.Hour, zap.NewNop())
	purged, resumed, err := janitor.RunOnce(ctx, time.Now())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged session, got %d", purged)
	}
	if resumed != 1 {
		t.Errorf("Expected 1 expired session, got %d", resumed)
	}

	if _, err := store.GetSession(ctx, "CA-old"); err == nil {
		t.Error("Expected old session to be purged")
	}
	if _, err := store.GetSession(ctx, "CA-recent"); err != nil {
		t.Errorf("Expected recent session to be kept, got %v", err)
	}

	waitFor(t, "expired session to terminate", func() bool {
		s, err := store.GetSession(ctx, "CA-expired")
		return err == nil && s.Status == entities.SessionStatusTerminated
	})

	if _, running := f.manager.Get("CA-live"); running {
		t.Error("Expected live session to be left alone")
	}
}

func TestJanitor_StartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, adapters.NewMemoryStore(), llm.NewScriptedLLM(), Config{})
	janitor := NewJanitor(f.manager, f.store, "not a schedule", time.Hour, zap.NewNop())
	if err := janitor.Start(); err == nil {
		t.Error("Expected an invalid schedule to be rejected")
	}
}
