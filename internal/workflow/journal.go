// Package workflow records the control flow of a call orchestrator so it
// can be rebuilt after a restart. Every wait point and side effect takes
// the next position in an ordered per-call log; on replay the recorded
// outcomes are returned in order and completed side effects are skipped.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

// Journal is the replay log of one call. It is driven by a single
// orchestrator goroutine; the read accessors are safe from any goroutine.
type Journal struct {
	callSid string
	repo    repositories.JournalRepository
	logger  *zap.Logger

	mu      sync.Mutex
	entries []entities.JournalEntry
	cursor  int
	history int
	closed  bool
}

// Open loads the recorded history of a call
func Open(ctx context.Context, repo repositories.JournalRepository, callSid string, logger *zap.Logger) (*Journal, error) {
	entries, err := repo.LoadEntries(ctx, callSid)
	if err != nil {
		return nil, fmt.Errorf("workflow: load journal %s: %w", callSid, err)
	}
	for i, entry := range entries {
		if entry.Seq != i {
			return nil, fmt.Errorf("workflow: journal %s has a gap at seq %d", callSid, i)
		}
	}

	if len(entries) > 0 {
		logger.Info("Replaying journal", zap.Int("entries", len(entries)))
	}

	return &Journal{
		callSid: callSid,
		repo:    repo,
		logger:  logger,
		entries: entries,
		history: len(entries),
	}, nil
}

// CallSid returns the call this journal belongs to
func (j *Journal) CallSid() string {
	return j.callSid
}

// Replaying reports whether recorded history remains to be consumed
func (j *Journal) Replaying() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor < j.history
}

// Len returns the number of recorded positions
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Entries returns a copy of the recorded positions
func (j *Journal) Entries() []entities.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]entities.JournalEntry(nil), j.entries...)
}

// Close stops further recording
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
}

// Await returns the next recorded event while replaying. Otherwise it
// blocks on wait and records whichever event wait returns. When recording
// fails the event is returned together with the error; it has left its
// source and is not in the journal.
func (j *Journal) Await(ctx context.Context, wait func(context.Context) (Event, error)) (Event, error) {
	if entry, ok := j.next(); ok {
		if entry.Kind != entities.EntryEvent {
			return Event{}, fmt.Errorf("%w: seq %d is activity %q, expected an event", ErrNondeterminism, entry.Seq, entry.Name)
		}
		return Event{Name: entry.Name, Payload: entry.Payload}, nil
	}

	ev, err := wait(ctx)
	if err != nil {
		return Event{}, err
	}
	if err := j.record(ctx, entities.EntryEvent, ev.Name, ev.Payload, ""); err != nil {
		return ev, err
	}
	return ev, nil
}

// Do runs an activity once. While replaying, the recorded result (or
// failure) is returned and fn is not called. Context errors and Transient
// failures are not recorded, so the activity runs again on resume.
func Do[T any](ctx context.Context, j *Journal, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if entry, ok := j.next(); ok {
		if entry.Kind != entities.EntryActivity || entry.Name != name {
			return zero, fmt.Errorf("%w: seq %d is %s %q, expected activity %q", ErrNondeterminism, entry.Seq, entry.Kind, entry.Name, name)
		}
		if entry.Error != "" {
			return zero, &ActivityError{Name: name, Message: entry.Error}
		}
		var result T
		if len(entry.Payload) > 0 {
			if err := json.Unmarshal(entry.Payload, &result); err != nil {
				return zero, fmt.Errorf("workflow: decode %s result: %w", name, err)
			}
		}
		j.logger.Debug("Skipped completed activity", zap.String("activity", name), zap.Int("seq", entry.Seq))
		return result, nil
	}

	result, err := fn(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || isTransient(err) {
			return zero, err
		}
		if recErr := j.record(ctx, entities.EntryActivity, name, nil, err.Error()); recErr != nil {
			return zero, errors.Join(err, recErr)
		}
		return zero, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("workflow: encode %s result: %w", name, err)
	}
	if err := j.record(ctx, entities.EntryActivity, name, payload, ""); err != nil {
		return zero, err
	}
	return result, nil
}

func (j *Journal) next() (entities.JournalEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cursor >= j.history {
		return entities.JournalEntry{}, false
	}
	entry := j.entries[j.cursor]
	j.cursor++
	if j.cursor == j.history {
		j.logger.Info("Journal replay complete", zap.Int("entries", j.history))
	}
	return entry, true
}

func (j *Journal) record(ctx context.Context, kind entities.EntryKind, name string, payload json.RawMessage, errMsg string) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	entry := entities.JournalEntry{
		CallSid:    j.callSid,
		Seq:        len(j.entries),
		Kind:       kind,
		Name:       name,
		Payload:    payload,
		Error:      errMsg,
		RecordedAt: time.Now().UTC(),
	}
	j.mu.Unlock()

	// The in-memory position only advances once the entry is durable.
	if err := j.repo.AppendEntry(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRecord, name, err)
	}

	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.cursor = len(j.entries)
	j.history = j.cursor
	j.mu.Unlock()
	return nil
}
