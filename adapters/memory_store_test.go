package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

func TestMemoryStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	session := entities.NewSession("CA1", time.Minute)
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.CreateSession(ctx, session); !errors.Is(err, repositories.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	session.Status = entities.SessionStatusActive
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != entities.SessionStatusActive {
		t.Errorf("Expected status %s, got %s", entities.SessionStatusActive, got.Status)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	open, _ := store.ListSessions(ctx, entities.SessionStatusInitializing, entities.SessionStatusActive)
	if len(open) != 1 {
		t.Errorf("Expected 1 open session, got %d", len(open))
	}
}

func TestMemoryStore_JournalEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, seq := range []int{1, 0, 2} {
		entry := entities.JournalEntry{CallSid: "CA1", Seq: seq, Kind: entities.EntryActivity, Name: "step"}
		if err := store.AppendEntry(ctx, entry); err != nil {
			t.Fatalf("AppendEntry failed: %v", err)
		}
	}
	err := store.AppendEntry(ctx, entities.JournalEntry{CallSid: "CA1", Seq: 1})
	if !errors.Is(err, repositories.ErrDuplicateEntry) {
		t.Errorf("Expected ErrDuplicateEntry, got %v", err)
	}

	entries, err := store.LoadEntries(ctx, "CA1")
	if err != nil {
		t.Fatalf("LoadEntries failed: %v", err)
	}
	for i, entry := range entries {
		if entry.Seq != i {
			t.Errorf("Expected seq %d at position %d, got %d", i, i, entry.Seq)
		}
	}
}

func TestMemoryStore_PurgeTerminated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	done := entities.NewSession("CA-done", time.Minute)
	done.Status = entities.SessionStatusTerminated
	done.UpdatedAt = time.Now().Add(-2 * time.Hour)
	live := entities.NewSession("CA-live", time.Minute)

	store.CreateSession(ctx, done)
	store.CreateSession(ctx, live)
	store.AppendEntry(ctx, entities.JournalEntry{CallSid: "CA-done", Seq: 0})

	purged, err := store.PurgeTerminated(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminated failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged session, got %d", purged)
	}
	if entries, _ := store.LoadEntries(ctx, "CA-done"); len(entries) != 0 {
		t.Errorf("Expected entries to be purged, got %d", len(entries))
	}
	if _, err := store.GetSession(ctx, "CA-live"); err != nil {
		t.Errorf("Live session should survive purge: %v", err)
	}
}

func TestMemoryStore_Transcripts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tr := entities.NewTranscript("CA1", "be helpful")
	if err := store.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}
	tr.Append(entities.RoleUser, "not saved")

	got, err := store.GetTranscript(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if got.Len() != 1 {
		t.Errorf("Expected stored copy to be isolated, got %d messages", got.Len())
	}

	store.DeleteTranscript(ctx, "CA1")
	if _, err := store.GetTranscript(ctx, "CA1"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
