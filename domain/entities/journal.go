package entities

import (
	"encoding/json"
	"time"
)

// EntryKind distinguishes what a journal entry records
type EntryKind string

const (
	// EntryEvent records which source won a wait point and its payload
	EntryEvent EntryKind = "event"
	// EntryActivity records the completed result of a side effect
	EntryActivity EntryKind = "activity"
)

// JournalEntry is one position in a call's orchestration history.
// (CallSid, Seq) is unique.
type JournalEntry struct {
	CallSid    string          `json:"call_sid" bson:"call_sid"`
	Seq        int             `json:"seq" bson:"seq"`
	Kind       EntryKind       `json:"kind" bson:"kind"`
	Name       string          `json:"name" bson:"name"`
	Payload    json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty"`
	Error      string          `json:"error,omitempty" bson:"error,omitempty"`
	RecordedAt time.Time       `json:"recorded_at" bson:"recorded_at"`
}
