package entities

import (
	"errors"
	"time"
)

// SessionStatus represents the lifecycle state of a call session
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusActive       SessionStatus = "active"
	SessionStatusTerminating  SessionStatus = "terminating"
	SessionStatusTerminated   SessionStatus = "terminated"
)

// DefaultSessionTTL bounds the lifetime of a call session
const DefaultSessionTTL = 30 * time.Minute

// Session is the durable header of one call. The journal entries that
// drive its orchestrator are stored next to it under the same CallSid.
type Session struct {
	CallSid   string        `json:"call_sid" bson:"_id"`
	From      string        `json:"from,omitempty" bson:"from,omitempty"`
	To        string        `json:"to,omitempty" bson:"to,omitempty"`
	Status    SessionStatus `json:"status" bson:"status"`
	Cause     string        `json:"cause,omitempty" bson:"cause,omitempty"`
	StartedAt time.Time     `json:"started_at" bson:"started_at"`
	Deadline  time.Time     `json:"deadline" bson:"deadline"`
	UpdatedAt time.Time     `json:"updated_at" bson:"updated_at"`
}

// NewSession creates a session that must finish within ttl
func NewSession(callSid string, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now().UTC()
	return &Session{
		CallSid:   callSid,
		Status:    SessionStatusInitializing,
		StartedAt: now,
		Deadline:  now.Add(ttl),
		UpdatedAt: now,
	}
}

// IsOpen reports whether the session still needs an orchestrator
func (s *Session) IsOpen() bool {
	return s.Status != SessionStatusTerminated
}

// IsExpired checks if the session deadline has passed
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.Deadline)
}

// Transition moves the session forward. States never move backwards.
func (s *Session) Transition(status SessionStatus) error {
	if status.rank() < s.Status.rank() {
		return errors.New("session status cannot move backwards")
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.CallSid == "" {
		return errors.New("call sid is required")
	}
	if s.Status.rank() < 0 {
		return errors.New("invalid session status")
	}
	if s.Deadline.IsZero() {
		return errors.New("deadline is required")
	}
	return nil
}

func (s SessionStatus) rank() int {
	switch s {
	case SessionStatusInitializing:
		return 0
	case SessionStatusActive:
		return 1
	case SessionStatusTerminating:
		return 2
	case SessionStatusTerminated:
		return 3
	}
	return -1
}
