// Package gormstore persists call sessions, journals and transcripts in a
// SQL database through GORM. SQLite and MySQL are supported.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

// Store implements repositories.Storage on top of a *gorm.DB.
type Store struct {
	db *gorm.DB
}

// Open connects to the named driver ("sqlite" or "mysql") and migrates
// the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: connect %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("gormstore: auto-migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateSession implements repositories.JournalRepository
func (s *Store) CreateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	rec := sessionToRecord(session)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("session %s: %w", session.CallSid, repositories.ErrAlreadyExists)
		}
		return fmt.Errorf("gormstore: create session: %w", err)
	}
	return nil
}

// GetSession implements repositories.JournalRepository
func (s *Store) GetSession(ctx context.Context, callSid string) (*entities.Session, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).Where("call_sid = ?", callSid).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", callSid, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("gormstore: get session %s: %w", callSid, err)
	}
	return rec.toEntity(), nil
}

// UpdateSession implements repositories.JournalRepository
func (s *Store) UpdateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	rec := sessionToRecord(session)
	result := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("call_sid = ?", session.CallSid).
		Select("*").
		Updates(&rec)
	if result.Error != nil {
		return fmt.Errorf("gormstore: update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", session.CallSid, repositories.ErrNotFound)
	}
	return nil
}

// ListSessions implements repositories.JournalRepository
func (s *Store) ListSessions(ctx context.Context, statuses ...entities.SessionStatus) ([]*entities.Session, error) {
	q := s.db.WithContext(ctx).Order("started_at")
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, st := range statuses {
			names = append(names, string(st))
		}
		q = q.Where("status IN ?", names)
	}

	var recs []SessionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list sessions: %w", err)
	}

	sessions := make([]*entities.Session, 0, len(recs))
	for _, rec := range recs {
		sessions = append(sessions, rec.toEntity())
	}
	return sessions, nil
}

// AppendEntry implements repositories.JournalRepository
func (s *Store) AppendEntry(ctx context.Context, entry entities.JournalEntry) error {
	rec := EntryRecord{
		CallSid:    entry.CallSid,
		Seq:        entry.Seq,
		Kind:       string(entry.Kind),
		Name:       entry.Name,
		Payload:    string(entry.Payload),
		Error:      entry.Error,
		RecordedAt: entry.RecordedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%s#%d: %w", entry.CallSid, entry.Seq, repositories.ErrDuplicateEntry)
		}
		return fmt.Errorf("gormstore: append entry: %w", err)
	}
	return nil
}

// LoadEntries implements repositories.JournalRepository
func (s *Store) LoadEntries(ctx context.Context, callSid string) ([]entities.JournalEntry, error) {
	var recs []EntryRecord
	err := s.db.WithContext(ctx).Where("call_sid = ?", callSid).Order("seq").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: load entries for %s: %w", callSid, err)
	}

	entries := make([]entities.JournalEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, rec.toEntity())
	}
	return entries, nil
}

// PurgeTerminated implements repositories.JournalRepository
func (s *Store) PurgeTerminated(ctx context.Context, before time.Time) (int, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&SessionRecord{}).
			Select("call_sid").
			Where("status = ? AND updated_at < ?", string(entities.SessionStatusTerminated), before)

		if err := tx.Where("call_sid IN (?)", stale).Delete(&EntryRecord{}).Error; err != nil {
			return err
		}
		result := tx.Where("status = ? AND updated_at < ?", string(entities.SessionStatusTerminated), before).
			Delete(&SessionRecord{})
		if result.Error != nil {
			return result.Error
		}
		purged = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("gormstore: purge terminated: %w", err)
	}
	return int(purged), nil
}

// SaveTranscript implements repositories.TranscriptRepository
func (s *Store) SaveTranscript(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}

	rec, err := transcriptToRecord(transcript)
	if err != nil {
		return fmt.Errorf("gormstore: encode transcript: %w", err)
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("gormstore: save transcript: %w", err)
	}
	return nil
}

// GetTranscript implements repositories.TranscriptRepository
func (s *Store) GetTranscript(ctx context.Context, callSid string) (*entities.Transcript, error) {
	var rec TranscriptRecord
	err := s.db.WithContext(ctx).Where("call_sid = ?", callSid).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("transcript %s: %w", callSid, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("gormstore: get transcript %s: %w", callSid, err)
	}

	transcript, err := rec.toEntity()
	if err != nil {
		return nil, fmt.Errorf("gormstore: decode transcript %s: %w", callSid, err)
	}
	return transcript, nil
}

// DeleteTranscript implements repositories.TranscriptRepository
func (s *Store) DeleteTranscript(ctx context.Context, callSid string) error {
	if err := s.db.WithContext(ctx).Where("call_sid = ?", callSid).Delete(&TranscriptRecord{}).Error; err != nil {
		return fmt.Errorf("gormstore: delete transcript %s: %w", callSid, err)
	}
	return nil
}

// Close implements repositories.Storage
func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
