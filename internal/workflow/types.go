package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNondeterminism is returned when replayed control flow asks for a
// different step than the one recorded at the same position.
var ErrNondeterminism = errors.New("workflow: history does not match control flow")

// ErrClosed is returned when recording into a closed journal
var ErrClosed = errors.New("workflow: journal closed")

// ErrRecord is returned when an outcome could not be written to the
// journal. The orchestrator must stop: its position is no longer durable.
var ErrRecord = errors.New("workflow: journal write failed")

// Event is the recorded outcome of a wait point: which source won and
// what it delivered.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON payload
func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("workflow: encode %s: %w", name, err)
	}
	return Event{Name: name, Payload: data}, nil
}

// Decode unmarshals the payload into v
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("workflow: decode %s: %w", e.Name, err)
	}
	return nil
}

// ActivityError is a recorded activity failure. Replays return it instead
// of running the activity again.
type ActivityError struct {
	Name    string
	Message string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %s", e.Name, e.Message)
}

// Transient marks an activity failure that must not be recorded. The
// caller gives up instead of branching on it, so a resumed run tries the
// activity again.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
