package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

// MemoryStore is an in-memory implementation of repositories.Storage.
// State is lost when the process exits, so it only survives orchestrator
// restarts within one process.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*entities.Session       // call sid -> session
	entries     map[string][]entities.JournalEntry // call sid -> ordered journal
	transcripts map[string]*entities.Transcript    // call sid -> transcript
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*entities.Session),
		entries:     make(map[string][]entities.JournalEntry),
		transcripts: make(map[string]*entities.Transcript),
	}
}

// CreateSession implements repositories.JournalRepository
func (m *MemoryStore) CreateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.CallSid]; exists {
		return fmt.Errorf("session %s: %w", session.CallSid, repositories.ErrAlreadyExists)
	}
	copied := *session
	m.sessions[session.CallSid] = &copied
	return nil
}

// GetSession implements repositories.JournalRepository
func (m *MemoryStore) GetSession(ctx context.Context, callSid string) (*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[callSid]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", callSid, repositories.ErrNotFound)
	}
	copied := *session
	return &copied, nil
}

// UpdateSession implements repositories.JournalRepository
func (m *MemoryStore) UpdateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.CallSid]; !exists {
		return fmt.Errorf("session %s: %w", session.CallSid, repositories.ErrNotFound)
	}
	copied := *session
	m.sessions[session.CallSid] = &copied
	return nil
}

// ListSessions implements repositories.JournalRepository
func (m *MemoryStore) ListSessions(ctx context.Context, statuses ...entities.SessionStatus) ([]*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*entities.Session
	for _, session := range m.sessions {
		if !hasStatus(session.Status, statuses) {
			continue
		}
		copied := *session
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// AppendEntry implements repositories.JournalRepository
func (m *MemoryStore) AppendEntry(ctx context.Context, entry entities.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries[entry.CallSid] {
		if existing.Seq == entry.Seq {
			return fmt.Errorf("%s#%d: %w", entry.CallSid, entry.Seq, repositories.ErrDuplicateEntry)
		}
	}
	m.entries[entry.CallSid] = append(m.entries[entry.CallSid], entry)
	return nil
}

// LoadEntries implements repositories.JournalRepository
func (m *MemoryStore) LoadEntries(ctx context.Context, callSid string) ([]entities.JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := append([]entities.JournalEntry(nil), m.entries[callSid]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// PurgeTerminated implements repositories.JournalRepository
func (m *MemoryStore) PurgeTerminated(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for callSid, session := range m.sessions {
		if session.Status != entities.SessionStatusTerminated || !session.UpdatedAt.Before(before) {
			continue
		}
		delete(m.sessions, callSid)
		delete(m.entries, callSid)
		purged++
	}
	return purged, nil
}

// SaveTranscript implements repositories.TranscriptRepository
func (m *MemoryStore) SaveTranscript(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[transcript.CallSid] = transcript.Clone()
	return nil
}

// GetTranscript implements repositories.TranscriptRepository
func (m *MemoryStore) GetTranscript(ctx context.Context, callSid string) (*entities.Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transcript, exists := m.transcripts[callSid]
	if !exists {
		return nil, fmt.Errorf("transcript %s: %w", callSid, repositories.ErrNotFound)
	}
	return transcript.Clone(), nil
}

// DeleteTranscript implements repositories.TranscriptRepository
func (m *MemoryStore) DeleteTranscript(ctx context.Context, callSid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transcripts, callSid)
	return nil
}

// Close implements repositories.Storage
func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func hasStatus(status entities.SessionStatus, statuses []entities.SessionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
