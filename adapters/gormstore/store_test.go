package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	store, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open("postgres", ""); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	session := entities.NewSession("CA1", time.Minute)
	session.From = "+15550100"
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.CreateSession(ctx, session); !errors.Is(err, repositories.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	session.Status = entities.SessionStatusActive
	session.Cause = ""
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.GetSession(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != entities.SessionStatusActive {
		t.Errorf("Expected status %s, got %s", entities.SessionStatusActive, got.Status)
	}
	if got.From != "+15550100" {
		t.Errorf("Expected caller +15550100, got %s", got.From)
	}

	missing := entities.NewSession("CA-missing", time.Minute)
	if err := store.UpdateSession(ctx, missing); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	active, err := store.ListSessions(ctx, entities.SessionStatusActive)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(active) != 1 || active[0].CallSid != "CA1" {
		t.Errorf("Expected CA1 to be listed, got %+v", active)
	}
}

func TestStore_JournalEntries(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	entries := []entities.JournalEntry{
		{CallSid: "CA1", Seq: 1, Kind: entities.EntryEvent, Name: "prompt", Payload: []byte(`{"voicePrompt":"hello"}`)},
		{CallSid: "CA1", Seq: 0, Kind: entities.EntryActivity, Name: "initialize"},
		{CallSid: "CA2", Seq: 0, Kind: entities.EntryActivity, Name: "initialize"},
	}
	for _, e := range entries {
		e.RecordedAt = time.Now()
		if err := store.AppendEntry(ctx, e); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
	}

	err := store.AppendEntry(ctx, entities.JournalEntry{CallSid: "CA1", Seq: 0, Kind: entities.EntryActivity})
	if !errors.Is(err, repositories.ErrDuplicateEntry) {
		t.Errorf("Expected ErrDuplicateEntry, got %v", err)
	}

	loaded, err := store.LoadEntries(ctx, "CA1")
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(loaded))
	}
	if loaded[0].Name != "initialize" || loaded[1].Name != "prompt" {
		t.Errorf("Entries out of order: %+v", loaded)
	}
	if string(loaded[1].Payload) != `{"voicePrompt":"hello"}` {
		t.Errorf("Payload not preserved: %s", loaded[1].Payload)
	}
	if loaded[0].Payload != nil {
		t.Errorf("Expected empty payload, got %s", loaded[0].Payload)
	}
}

func TestStore_PurgeTerminated(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	old := entities.NewSession("CA-old", time.Minute)
	old.Status = entities.SessionStatusTerminated
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh := entities.NewSession("CA-fresh", time.Minute)

	for _, s := range []*entities.Session{old, fresh} {
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		store.AppendEntry(ctx, entities.JournalEntry{CallSid: s.CallSid, Seq: 0, Kind: entities.EntryActivity, Name: "initialize"})
	}

	purged, err := store.PurgeTerminated(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminated: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged session, got %d", purged)
	}

	if _, err := store.GetSession(ctx, "CA-old"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected CA-old to be purged, got %v", err)
	}
	if entries, _ := store.LoadEntries(ctx, "CA-old"); len(entries) != 0 {
		t.Errorf("Expected CA-old entries to be purged, got %d", len(entries))
	}
	if entries, _ := store.LoadEntries(ctx, "CA-fresh"); len(entries) != 1 {
		t.Errorf("Expected CA-fresh entries to survive, got %d", len(entries))
	}
}

func TestStore_Transcripts(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	tr := entities.NewTranscript("CA1", "be helpful")
	tr.Append(entities.RoleUser, "hello")
	if err := store.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	tr.Append(entities.RoleAssistant, "Hi there.")
	if err := store.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("SaveTranscript overwrite: %v", err)
	}

	got, err := store.GetTranscript(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("Expected 3 messages, got %d", got.Len())
	}
	if got.Messages[2].Role != entities.RoleAssistant || got.Messages[2].Text != "Hi there." {
		t.Errorf("Unexpected last message: %+v", got.Messages[2])
	}
	if got.NextSeq != tr.NextSeq {
		t.Errorf("Expected next seq %d, got %d", tr.NextSeq, got.NextSeq)
	}

	if err := store.DeleteTranscript(ctx, "CA1"); err != nil {
		t.Fatalf("DeleteTranscript: %v", err)
	}
	if _, err := store.GetTranscript(ctx, "CA1"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
