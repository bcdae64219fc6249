package api

import (
	"time"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/internal/session"
)

// IncomingCallRequest is the form posted by the call-control layer when a
// call arrives
type IncomingCallRequest struct {
	CallSid string `form:"CallSid"`
	From    string `form:"From"`
	To      string `form:"To"`
}

// IncomingCallResponse tells the call-control layer where to open the relay
type IncomingCallResponse struct {
	CallSid   string    `json:"call_sid"`
	RelayURL  string    `json:"relay_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CallStatusRequest is the form posted when the call changes status
type CallStatusRequest struct {
	CallSid    string `form:"CallSid"`
	CallStatus string `form:"CallStatus"`
}

// ActionCallbackRequest is the form posted after the relay session ends
type ActionCallbackRequest struct {
	CallSid       string `form:"CallSid"`
	SessionStatus string `form:"SessionStatus"`
	HandoffData   string `form:"HandoffData"`
}

// CallResponse describes one call for the admin API. Live is set while the
// call has a running orchestrator in this process.
type CallResponse struct {
	Session    *entities.Session    `json:"session"`
	Live       *session.Snapshot    `json:"live,omitempty"`
	Transcript *entities.Transcript `json:"transcript,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
