package gormstore

import (
	"encoding/json"
	"time"

	"github.com/satriahrh/callrelay/domain/entities"
)

// SessionRecord is the row form of entities.Session.
type SessionRecord struct {
	CallSid   string `gorm:"primaryKey;size:64"`
	From      string `gorm:"column:caller;size:32"`
	To        string `gorm:"column:callee;size:32"`
	Status    string `gorm:"size:16;index:idx_status_updated"`
	Cause     string `gorm:"size:255"`
	StartedAt time.Time
	Deadline  time.Time
	UpdatedAt time.Time `gorm:"index:idx_status_updated"`
}

func (SessionRecord) TableName() string { return "sessions" }

// EntryRecord is one journal position. (CallSid, Seq) is the primary key.
type EntryRecord struct {
	CallSid    string `gorm:"primaryKey;size:64"`
	Seq        int    `gorm:"primaryKey;autoIncrement:false"`
	Kind       string `gorm:"size:16"`
	Name       string `gorm:"size:64"`
	Payload    string `gorm:"type:text"`
	Error      string `gorm:"type:text"`
	RecordedAt time.Time
}

func (EntryRecord) TableName() string { return "journal_entries" }

// TranscriptRecord stores the message list as a JSON document.
type TranscriptRecord struct {
	CallSid   string `gorm:"primaryKey;size:64"`
	NextSeq   int64
	Messages  string `gorm:"type:mediumtext"`
	UpdatedAt time.Time
}

func (TranscriptRecord) TableName() string { return "transcripts" }

// AllModels returns every model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&SessionRecord{},
		&EntryRecord{},
		&TranscriptRecord{},
	}
}

func sessionToRecord(s *entities.Session) SessionRecord {
	return SessionRecord{
		CallSid:   s.CallSid,
		From:      s.From,
		To:        s.To,
		Status:    string(s.Status),
		Cause:     s.Cause,
		StartedAt: s.StartedAt,
		Deadline:  s.Deadline,
		UpdatedAt: s.UpdatedAt,
	}
}

func (r SessionRecord) toEntity() *entities.Session {
	return &entities.Session{
		CallSid:   r.CallSid,
		From:      r.From,
		To:        r.To,
		Status:    entities.SessionStatus(r.Status),
		Cause:     r.Cause,
		StartedAt: r.StartedAt,
		Deadline:  r.Deadline,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r EntryRecord) toEntity() entities.JournalEntry {
	entry := entities.JournalEntry{
		CallSid:    r.CallSid,
		Seq:        r.Seq,
		Kind:       entities.EntryKind(r.Kind),
		Name:       r.Name,
		Error:      r.Error,
		RecordedAt: r.RecordedAt,
	}
	if r.Payload != "" {
		entry.Payload = json.RawMessage(r.Payload)
	}
	return entry
}

func transcriptToRecord(t *entities.Transcript) (TranscriptRecord, error) {
	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return TranscriptRecord{}, err
	}
	return TranscriptRecord{
		CallSid:   t.CallSid,
		NextSeq:   t.NextSeq,
		Messages:  string(messages),
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func (r TranscriptRecord) toEntity() (*entities.Transcript, error) {
	t := &entities.Transcript{
		CallSid:   r.CallSid,
		NextSeq:   r.NextSeq,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Messages), &t.Messages); err != nil {
		return nil, err
	}
	return t, nil
}
