package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/satriahrh/callrelay/domain/entities"
)

var (
	// ErrNotFound is returned when a session or transcript does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a session twice
	ErrAlreadyExists = errors.New("already exists")
	// ErrDuplicateEntry is returned when a journal position is written twice
	ErrDuplicateEntry = errors.New("duplicate journal entry")
)

// JournalRepository persists session headers and their ordered journal
type JournalRepository interface {
	CreateSession(ctx context.Context, session *entities.Session) error
	GetSession(ctx context.Context, callSid string) (*entities.Session, error)
	UpdateSession(ctx context.Context, session *entities.Session) error
	// ListSessions returns sessions in any of the given statuses, or all
	// sessions when none are given.
	ListSessions(ctx context.Context, statuses ...entities.SessionStatus) ([]*entities.Session, error)

	AppendEntry(ctx context.Context, entry entities.JournalEntry) error
	// LoadEntries returns the journal ordered by Seq
	LoadEntries(ctx context.Context, callSid string) ([]entities.JournalEntry, error)

	// PurgeTerminated deletes terminated sessions last updated before the
	// cutoff together with their entries.
	PurgeTerminated(ctx context.Context, before time.Time) (int, error)
}

// TranscriptRepository persists the transcript owned by a call's actor
type TranscriptRepository interface {
	SaveTranscript(ctx context.Context, transcript *entities.Transcript) error
	GetTranscript(ctx context.Context, callSid string) (*entities.Transcript, error)
	DeleteTranscript(ctx context.Context, callSid string) error
}

// Storage is implemented by every backend
type Storage interface {
	JournalRepository
	TranscriptRepository
	Close(ctx context.Context) error
}
