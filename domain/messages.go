package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// InboundType is the discriminant of a relay event.
type InboundType string

const (
	InboundSetup     InboundType = "setup"
	InboundPrompt    InboundType = "prompt"
	InboundDTMF      InboundType = "dtmf"
	InboundInterrupt InboundType = "interrupt"
	InboundError     InboundType = "error"
)

// InboundEvent is implemented by every payload the relay can send.
type InboundEvent interface {
	InboundType() InboundType
}

// Inbound is a classified relay event tagged with the call it arrived on.
// CallSid always comes from the transport, never from the payload.
type Inbound struct {
	CallSid string
	Event   InboundEvent
}

// Setup is the first event on a relay connection.
type Setup struct {
	SessionID        string            `json:"sessionId"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	Direction        string            `json:"direction,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// Prompt carries transcribed caller speech. Last is false for partial
// fragments that will be completed by a later prompt.
type Prompt struct {
	Text     string `json:"voicePrompt"`
	Language string `json:"lang,omitempty"`
	Last     bool   `json:"last"`
}

// DTMF is a single keypad press. '*' and '#' decode to 10 and 11.
type DTMF struct {
	Digit int `json:"digit"`
}

// Interrupt reports that the caller spoke over the assistant.
type Interrupt struct {
	UtteranceUntilInterrupt  string `json:"utteranceUntilInterrupt"`
	DurationUntilInterruptMs int    `json:"durationUntilInterruptMs"`
}

// RelayError is an error reported by the relay itself.
type RelayError struct {
	Description string `json:"description"`
}

func (*Setup) InboundType() InboundType      { return InboundSetup }
func (*Prompt) InboundType() InboundType     { return InboundPrompt }
func (*DTMF) InboundType() InboundType       { return InboundDTMF }
func (*Interrupt) InboundType() InboundType  { return InboundInterrupt }
func (*RelayError) InboundType() InboundType { return InboundError }

// UnmarshalJSON treats a missing "last" flag as a complete prompt.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	var aux struct {
		Text     string `json:"voicePrompt"`
		Language string `json:"lang"`
		Last     *bool  `json:"last"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Text = aux.Text
	p.Language = aux.Language
	p.Last = aux.Last == nil || *aux.Last
	return nil
}

// UnmarshalJSON accepts the digit either as a JSON number or as a
// one character string.
func (d *DTMF) UnmarshalJSON(data []byte) error {
	var aux struct {
		Digit json.RawMessage `json:"digit"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw := bytes.TrimSpace(aux.Digit)
	if len(raw) == 0 {
		return fmt.Errorf("digit is required")
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
	} else {
		text = string(raw)
	}

	digit, err := ParseDigit(text)
	if err != nil {
		return err
	}
	d.Digit = digit
	return nil
}

// ParseDigit converts a keypad symbol to its numeric value.
func ParseDigit(s string) (int, error) {
	switch s {
	case "*":
		return 10, nil
	case "#":
		return 11, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 11 {
		return 0, fmt.Errorf("invalid digit %q", s)
	}
	return n, nil
}

// DecodeInbound classifies a raw relay payload. Unknown discriminants
// yield ErrUnknownMessageType and undecodable payloads ErrMalformedMessage.
func DecodeInbound(callSid string, raw []byte) (Inbound, error) {
	var head struct {
		Type InboundType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if head.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	var event InboundEvent
	switch head.Type {
	case InboundSetup:
		event = &Setup{}
	case InboundPrompt:
		event = &Prompt{}
	case InboundDTMF:
		event = &DTMF{}
	case InboundInterrupt:
		event = &Interrupt{}
	case InboundError:
		event = &RelayError{}
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}

	if err := json.Unmarshal(raw, event); err != nil {
		return Inbound{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, head.Type, err)
	}
	return Inbound{CallSid: callSid, Event: event}, nil
}

// OutboundType is the discriminant of a message sent to the relay.
type OutboundType string

const (
	OutboundText       OutboundType = "text"
	OutboundPlay       OutboundType = "play"
	OutboundSendDigits OutboundType = "sendDigits"
	OutboundLanguage   OutboundType = "language"
	OutboundEnd        OutboundType = "end"
)

// OutboundMessage is implemented by every message the relay accepts.
type OutboundMessage interface {
	OutboundType() OutboundType
}

// TextToken is a speech-ready fragment. An empty token with Last set
// closes the current utterance.
type TextToken struct {
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

type PlayAudio struct {
	Source      string `json:"source"`
	Loop        int    `json:"loop,omitempty"`
	Preemptible bool   `json:"preemptible,omitempty"`
}

type PlayDTMF struct {
	Digits string `json:"digits"`
}

type SwitchLanguage struct {
	TTSLanguage           string `json:"ttsLanguage,omitempty"`
	TranscriptionLanguage string `json:"transcriptionLanguage,omitempty"`
}

// HandoffAction tells the call-control layer what to do after the relay ends.
type HandoffAction string

const (
	HandoffHangup   HandoffAction = "hangup"
	HandoffEscalate HandoffAction = "escalate"
)

// Handoff is serialized into the handoffData string of an end message.
type Handoff struct {
	Action  HandoffAction `json:"action"`
	Reason  string        `json:"reason"`
	Summary string        `json:"summary"`
}

// EndSession closes the relay session.
type EndSession struct {
	Handoff Handoff
}

func (TextToken) OutboundType() OutboundType      { return OutboundText }
func (PlayAudio) OutboundType() OutboundType      { return OutboundPlay }
func (PlayDTMF) OutboundType() OutboundType       { return OutboundSendDigits }
func (SwitchLanguage) OutboundType() OutboundType { return OutboundLanguage }
func (EndSession) OutboundType() OutboundType     { return OutboundEnd }

func (m TextToken) MarshalJSON() ([]byte, error) {
	type wire TextToken
	return json.Marshal(struct {
		Type OutboundType `json:"type"`
		wire
	}{OutboundText, wire(m)})
}

func (m PlayAudio) MarshalJSON() ([]byte, error) {
	type wire PlayAudio
	return json.Marshal(struct {
		Type OutboundType `json:"type"`
		wire
	}{OutboundPlay, wire(m)})
}

func (m PlayDTMF) MarshalJSON() ([]byte, error) {
	type wire PlayDTMF
	return json.Marshal(struct {
		Type OutboundType `json:"type"`
		wire
	}{OutboundSendDigits, wire(m)})
}

func (m SwitchLanguage) MarshalJSON() ([]byte, error) {
	type wire SwitchLanguage
	return json.Marshal(struct {
		Type OutboundType `json:"type"`
		wire
	}{OutboundLanguage, wire(m)})
}

func (m EndSession) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(m.Handoff)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type        OutboundType `json:"type"`
		HandoffData string       `json:"handoffData"`
	}{OutboundEnd, string(data)})
}

// EncodeOutbound renders a message in the relay wire format.
func EncodeOutbound(msg OutboundMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil outbound message", ErrMalformedMessage)
	}
	return json.Marshal(msg)
}

// DecodeOutbound parses a message in the relay wire format. It is used by
// the operator API and the relay simulator.
func DecodeOutbound(raw []byte) (OutboundMessage, error) {
	var head struct {
		Type        OutboundType `json:"type"`
		HandoffData string       `json:"handoffData"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var (
		msg OutboundMessage
		err error
	)
	switch head.Type {
	case OutboundText:
		var m TextToken
		err = json.Unmarshal(raw, &m)
		msg = m
	case OutboundPlay:
		var m PlayAudio
		err = json.Unmarshal(raw, &m)
		msg = m
	case OutboundSendDigits:
		var m PlayDTMF
		err = json.Unmarshal(raw, &m)
		msg = m
	case OutboundLanguage:
		var m SwitchLanguage
		err = json.Unmarshal(raw, &m)
		msg = m
	case OutboundEnd:
		var m EndSession
		if head.HandoffData != "" {
			err = json.Unmarshal([]byte(head.HandoffData), &m.Handoff)
		}
		msg = m
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, head.Type, err)
	}
	return msg, nil
}
