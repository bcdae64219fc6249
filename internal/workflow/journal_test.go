package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/adapters"
	"github.com/satriahrh/callrelay/domain/entities"
)

// unwritableStore fails every append while broken is set
type unwritableStore struct {
	*adapters.MemoryStore
	broken atomic.Bool
}

func (s *unwritableStore) AppendEntry(ctx context.Context, entry entities.JournalEntry) error {
	if s.broken.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.AppendEntry(ctx, entry)
}

type noteResult struct {
	Count int `json:"count"`
}

func TestJournal_ReplaySkipsCompletedActivities(t *testing.T) {
	ctx := context.Background()
	store := adapters.NewMemoryStore()
	logger := zap.NewNop()

	runs := 0
	note := func(ctx context.Context) (noteResult, error) {
		runs++
		return noteResult{Count: runs}, nil
	}

	j, err := Open(ctx, store, "CA1", logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if j.Replaying() {
		t.Fatal("Fresh journal should not be replaying")
	}

	first, err := Do(ctx, j, "note", note)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	ev, err := j.Await(ctx, func(context.Context) (Event, error) {
		return NewEvent("prompt", map[string]string{"text": "hello"})
	})
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if ev.Name != "prompt" {
		t.Errorf("Expected prompt event, got %s", ev.Name)
	}

	// Rebuild the journal as a restarted process would.
	replay, err := Open(ctx, store, "CA1", logger)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if !replay.Replaying() {
		t.Fatal("Reopened journal should be replaying")
	}

	again, err := Do(ctx, replay, "note", note)
	if err != nil {
		t.Fatalf("Replayed Do failed: %v", err)
	}
	if runs != 1 {
		t.Errorf("Expected activity to run once, ran %d times", runs)
	}
	if again != first {
		t.Errorf("Expected recorded result %+v, got %+v", first, again)
	}

	replayed, err := replay.Await(ctx, func(context.Context) (Event, error) {
		t.Fatal("wait must not be called during replay")
		return Event{}, nil
	})
	if err != nil {
		t.Fatalf("Replayed Await failed: %v", err)
	}
	var payload map[string]string
	if err := replayed.Decode(&payload); err != nil || payload["text"] != "hello" {
		t.Errorf("Expected recorded payload, got %v (%v)", payload, err)
	}

	if replay.Replaying() {
		t.Error("Replay should be complete")
	}
	if _, err := Do(ctx, replay, "note", note); err != nil {
		t.Fatalf("Live Do after replay failed: %v", err)
	}
	if runs != 2 || replay.Len() != 3 {
		t.Errorf("Expected live activity to run and record, runs=%d len=%d", runs, replay.Len())
	}
}

func TestJournal_Nondeterminism(t *testing.T) {
	ctx := context.Background()
	store := adapters.NewMemoryStore()
	logger := zap.NewNop()

	j, _ := Open(ctx, store, "CA1", logger)
	Do(ctx, j, "initialize", func(context.Context) (struct{}, error) { return struct{}{}, nil })

	replay, _ := Open(ctx, store, "CA1", logger)
	_, err := Do(ctx, replay, "summarize", func(context.Context) (string, error) { return "", nil })
	if !errors.Is(err, ErrNondeterminism) {
		t.Errorf("Expected ErrNondeterminism, got %v", err)
	}

	replay, _ = Open(ctx, store, "CA1", logger)
	_, err = replay.Await(ctx, func(context.Context) (Event, error) { return Event{Name: "x"}, nil })
	if !errors.Is(err, ErrNondeterminism) {
		t.Errorf("Expected ErrNondeterminism for event, got %v", err)
	}
}

func TestJournal_RecordedFailureReplays(t *testing.T) {
	ctx := context.Background()
	store := adapters.NewMemoryStore()
	logger := zap.NewNop()
	boom := errors.New("boom")

	j, _ := Open(ctx, store, "CA1", logger)
	if _, err := Do(ctx, j, "send", func(context.Context) (struct{}, error) { return struct{}{}, boom }); !errors.Is(err, boom) {
		t.Fatalf("Expected live error, got %v", err)
	}

	replay, _ := Open(ctx, store, "CA1", logger)
	_, err := Do(ctx, replay, "send", func(context.Context) (struct{}, error) {
		t.Fatal("failed activity must not run again")
		return struct{}{}, nil
	})
	var actErr *ActivityError
	if !errors.As(err, &actErr) || actErr.Message != "boom" {
		t.Errorf("Expected recorded ActivityError, got %v", err)
	}
}

func TestJournal_ContextErrorsAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	store := adapters.NewMemoryStore()
	j, _ := Open(ctx, store, "CA1", zap.NewNop())

	_, err := Do(ctx, j, "summarize", func(context.Context) (string, error) { return "", context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if j.Len() != 0 {
		t.Errorf("Expected nothing recorded, got %d entries", j.Len())
	}
}

func TestJournal_Closed(t *testing.T) {
	ctx := context.Background()
	j, _ := Open(ctx, adapters.NewMemoryStore(), "CA1", zap.NewNop())
	j.Close()

	_, err := Do(ctx, j, "note", func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestJournal_WriteFailures(t *testing.T) {
	ctx := context.Background()
	store := &unwritableStore{MemoryStore: adapters.NewMemoryStore()}
	j, _ := Open(ctx, store, "CA1", zap.NewNop())
	store.broken.Store(true)

	_, err := Do(ctx, j, "note", func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrRecord) {
		t.Errorf("Expected ErrRecord from Do, got %v", err)
	}

	boom := errors.New("boom")
	_, err = Do(ctx, j, "send", func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, ErrRecord) || !errors.Is(err, boom) {
		t.Errorf("Expected both the activity error and ErrRecord, got %v", err)
	}

	ev, err := j.Await(ctx, func(context.Context) (Event, error) { return NewEvent("dtmf", 5) })
	if !errors.Is(err, ErrRecord) {
		t.Errorf("Expected ErrRecord from Await, got %v", err)
	}
	if ev.Name != "dtmf" {
		t.Errorf("Expected the unrecorded event back, got %q", ev.Name)
	}

	if j.Len() != 0 {
		t.Errorf("Expected nothing recorded, got %d entries", j.Len())
	}

	store.broken.Store(false)
	if _, err := Do(ctx, j, "note", func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("Expected recording to recover, got %v", err)
	}
	if entries, _ := store.LoadEntries(ctx, "CA1"); len(entries) != 1 || entries[0].Seq != 0 {
		t.Errorf("Expected one entry at seq 0, got %+v", entries)
	}
}

func TestJournal_TransientFailuresAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	store := adapters.NewMemoryStore()
	j, _ := Open(ctx, store, "CA1", zap.NewNop())
	unreachable := errors.New("database unreachable")

	_, err := Do(ctx, j, "update", func(context.Context) (struct{}, error) {
		return struct{}{}, Transient(unreachable)
	})
	if !errors.Is(err, unreachable) {
		t.Fatalf("Expected the wrapped error, got %v", err)
	}
	if j.Len() != 0 {
		t.Errorf("Expected nothing recorded, got %d entries", j.Len())
	}

	replay, _ := Open(ctx, store, "CA1", zap.NewNop())
	ran := false
	if _, err := Do(ctx, replay, "update", func(context.Context) (struct{}, error) {
		ran = true
		return struct{}{}, nil
	}); err != nil {
		t.Fatalf("Do after resume failed: %v", err)
	}
	if !ran {
		t.Error("Expected the activity to run again after resume")
	}
	if Transient(nil) != nil {
		t.Error("Expected Transient(nil) to be nil")
	}
}
