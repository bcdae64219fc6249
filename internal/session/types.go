package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/satriahrh/callrelay/domain/entities"
)

var (
	// ErrSessionNotFound is returned for calls without a running orchestrator
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionClosed is returned once a call has terminated
	ErrSessionClosed = errors.New("session: closed")
)

// Reasons a turn is cancelled before its stream ends
var (
	errCallerInterrupted = errors.New("caller interrupted")
	errTurnSuperseded    = errors.New("turn superseded")
	errCallEnding        = errors.New("call ending")
	errSuspended         = errors.New("orchestrator suspended")
)

// Config tunes every orchestrator started by a Manager
type Config struct {
	TTL             time.Duration
	EscalationDigit int
	// QueueSize bounds the pending prompts and digits of one call
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = entities.DefaultSessionTTL
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
}

// StartOptions carries what the incoming-call webhook knows about a call
type StartOptions struct {
	From string
	To   string
}

// Snapshot is a point-in-time view of a running orchestrator
type Snapshot struct {
	CallSid        string                 `json:"call_sid"`
	From           string                 `json:"from,omitempty"`
	To             string                 `json:"to,omitempty"`
	Status         entities.SessionStatus `json:"status"`
	Cause          string                 `json:"cause,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	Deadline       time.Time              `json:"deadline"`
	ActiveTurn     string                 `json:"active_turn,omitempty"`
	JournalEntries int                    `json:"journal_entries"`
}

// Event is a lifecycle notification published by the Manager
type Event struct {
	CallSid   string      `json:"call_sid"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Event types
const (
	EventSessionStarted     = "session_started"
	EventSessionActive      = "session_active"
	EventTurnStarted        = "turn_started"
	EventTurnCompleted      = "turn_completed"
	EventTurnInterrupted    = "turn_interrupted"
	EventTurnFailed         = "turn_failed"
	EventSessionEscalated   = "session_escalated"
	EventSessionTerminated  = "session_terminated"
	EventSessionSuspended   = "session_suspended"
	EventInterruptDelivered = "interrupt_delivered"
)

// Journal names of wait-point outcomes
const (
	waitSetup    = "setup"
	waitPrompt   = "prompt"
	waitDTMF     = "dtmf"
	waitDeadline = "deadline"
	waitTerminal = "terminal"
)

// Fixed transcript notes
const (
	escalationReason = "user-requested"

	interruptedTurnNote = "The previous message was interrupted by the user. " +
		"They may not have heard everything, so you may need to repeat some of it."
)

func interruptNote(utterance string) string {
	return "The customer interrupted your response before it could be completely read to them. " +
		"They only heard up to when you said: " + utterance
}

func keypadNote(digit int) string {
	return fmt.Sprintf("The user entered '%s' on their phone keypad.", digitLabel(digit))
}

func digitLabel(digit int) string {
	switch digit {
	case 10:
		return "*"
	case 11:
		return "#"
	default:
		return fmt.Sprint(digit)
	}
}

func terminalCause(status string) string {
	return "call status " + status
}

const (
	causeDeadline   = "deadline exceeded"
	causeEscalated  = "escalated to agent"
	causeStale      = "transcript unavailable"
	causeTerminated = "terminated"
)
