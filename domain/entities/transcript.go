package entities

import (
	"time"

	"github.com/jinzhu/copier"
)

// Role identifies who produced a transcript message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
)

// Message is one entry of a call transcript
type Message struct {
	Seq       int64     `json:"seq" bson:"seq"`
	Role      Role      `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Transcript is the conversation history of one call. Messages[0] is
// always the system instructions and Seq only ever grows.
type Transcript struct {
	CallSid   string    `json:"call_sid" bson:"_id"`
	Messages  []Message `json:"messages" bson:"messages"`
	NextSeq   int64     `json:"next_seq" bson:"next_seq"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewTranscript creates a transcript holding only the system instructions
func NewTranscript(callSid, instructions string) *Transcript {
	t := &Transcript{CallSid: callSid}
	t.Reset(instructions)
	return t
}

// Append adds a message with the next sequence number
func (t *Transcript) Append(role Role, text string) Message {
	now := time.Now().UTC()
	msg := Message{
		Seq:       t.NextSeq,
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}
	t.NextSeq++
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = now
	return msg
}

// RemoveLast drops the newest message. The system message is never removed.
func (t *Transcript) RemoveLast() bool {
	if len(t.Messages) <= 1 {
		return false
	}
	t.Messages = t.Messages[:len(t.Messages)-1]
	t.UpdatedAt = time.Now().UTC()
	return true
}

// Reset discards everything but a fresh system message
func (t *Transcript) Reset(instructions string) {
	t.Messages = nil
	t.Append(RoleSystem, instructions)
}

// Len returns the number of messages
func (t *Transcript) Len() int {
	return len(t.Messages)
}

// Last returns the newest message
func (t *Transcript) Last() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// Clone returns a deep copy that shares no memory with t
func (t *Transcript) Clone() *Transcript {
	out := &Transcript{}
	if err := copier.CopyWithOption(out, t, copier.Option{DeepCopy: true}); err != nil {
		out.CallSid = t.CallSid
		out.NextSeq = t.NextSeq
		out.UpdatedAt = t.UpdatedAt
		out.Messages = append([]Message(nil), t.Messages...)
	}
	return out
}
