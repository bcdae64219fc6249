package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, ev InboundEvent)
	}{
		{
			name: "setup with custom parameters",
			raw:  `{"type":"setup","sessionId":"VX1","callSid":"CA-forged","from":"+100","to":"+200","customParameters":{"vip":"true"}}`,
			check: func(t *testing.T, ev InboundEvent) {
				s, ok := ev.(*Setup)
				if !ok {
					t.Fatalf("Expected *Setup, got %T", ev)
				}
				if s.SessionID != "VX1" || s.From != "+100" || s.To != "+200" {
					t.Errorf("Unexpected setup fields: %+v", s)
				}
				if s.CustomParameters["vip"] != "true" {
					t.Errorf("Expected vip=true, got %v", s.CustomParameters)
				}
			},
		},
		{
			name: "prompt defaults to last",
			raw:  `{"type":"prompt","voicePrompt":"hello","lang":"en-US"}`,
			check: func(t *testing.T, ev InboundEvent) {
				p := ev.(*Prompt)
				if p.Text != "hello" || p.Language != "en-US" || !p.Last {
					t.Errorf("Unexpected prompt: %+v", p)
				}
			},
		},
		{
			name: "partial prompt",
			raw:  `{"type":"prompt","voicePrompt":"check my","last":false}`,
			check: func(t *testing.T, ev InboundEvent) {
				if ev.(*Prompt).Last {
					t.Error("Expected partial prompt")
				}
			},
		},
		{
			name: "dtmf as string",
			raw:  `{"type":"dtmf","digit":"0"}`,
			check: func(t *testing.T, ev InboundEvent) {
				if d := ev.(*DTMF).Digit; d != 0 {
					t.Errorf("Expected digit 0, got %d", d)
				}
			},
		},
		{
			name: "dtmf as number",
			raw:  `{"type":"dtmf","digit":7}`,
			check: func(t *testing.T, ev InboundEvent) {
				if d := ev.(*DTMF).Digit; d != 7 {
					t.Errorf("Expected digit 7, got %d", d)
				}
			},
		},
		{
			name: "dtmf pound",
			raw:  `{"type":"dtmf","digit":"#"}`,
			check: func(t *testing.T, ev InboundEvent) {
				if d := ev.(*DTMF).Digit; d != 11 {
					t.Errorf("Expected digit 11, got %d", d)
				}
			},
		},
		{
			name: "interrupt",
			raw:  `{"type":"interrupt","utteranceUntilInterrupt":"Let me check your","durationUntilInterruptMs":900}`,
			check: func(t *testing.T, ev InboundEvent) {
				i := ev.(*Interrupt)
				if i.UtteranceUntilInterrupt != "Let me check your" || i.DurationUntilInterruptMs != 900 {
					t.Errorf("Unexpected interrupt: %+v", i)
				}
			},
		},
		{
			name: "error",
			raw:  `{"type":"error","description":"tts failed"}`,
			check: func(t *testing.T, ev InboundEvent) {
				if d := ev.(*RelayError).Description; d != "tts failed" {
					t.Errorf("Expected description, got %q", d)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := DecodeInbound("CA123", []byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeInbound failed: %v", err)
			}
			if in.CallSid != "CA123" {
				t.Errorf("Expected call sid from transport, got %s", in.CallSid)
			}
			tt.check(t, in.Event)
		})
	}
}

func TestDecodeInbound_ClassificationErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrMalformedMessage},
		{"missing type", `{"voicePrompt":"hi"}`, ErrMalformedMessage},
		{"unknown type", `{"type":"transfer"}`, ErrUnknownMessageType},
		{"bad digit", `{"type":"dtmf","digit":"x"}`, ErrMalformedMessage},
		{"missing digit", `{"type":"dtmf"}`, ErrMalformedMessage},
		{"wrong field type", `{"type":"prompt","voicePrompt":12}`, ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInbound("CA123", []byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEncodeOutbound(t *testing.T) {
	tests := []struct {
		name string
		msg  OutboundMessage
		want string
	}{
		{"text", TextToken{Token: "Hi there.", Last: false}, `{"type":"text","token":"Hi there.","last":false}`},
		{"final text", TextToken{Last: true}, `{"type":"text","token":"","last":true}`},
		{"play", PlayAudio{Source: "https://example.com/a.mp3", Loop: 2}, `{"type":"play","source":"https://example.com/a.mp3","loop":2}`},
		{"digits", PlayDTMF{Digits: "12#"}, `{"type":"sendDigits","digits":"12#"}`},
		{"language", SwitchLanguage{TTSLanguage: "es-ES", TranscriptionLanguage: "es-ES"}, `{"type":"language","ttsLanguage":"es-ES","transcriptionLanguage":"es-ES"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeOutbound(tt.msg)
			if err != nil {
				t.Fatalf("EncodeOutbound failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEncodeOutbound_EndSessionHandoffIsString(t *testing.T) {
	msg := EndSession{Handoff: Handoff{Action: HandoffEscalate, Reason: "user-requested", Summary: "Caller%20asked."}}
	raw, err := EncodeOutbound(msg)
	if err != nil {
		t.Fatalf("EncodeOutbound failed: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if wire["type"] != "end" {
		t.Errorf("Expected type end, got %v", wire["type"])
	}
	data, ok := wire["handoffData"].(string)
	if !ok {
		t.Fatalf("Expected handoffData string, got %T", wire["handoffData"])
	}

	var handoff Handoff
	if err := json.Unmarshal([]byte(data), &handoff); err != nil {
		t.Fatalf("handoffData is not JSON: %v", err)
	}
	if handoff != msg.Handoff {
		t.Errorf("Expected %+v, got %+v", msg.Handoff, handoff)
	}

	decoded, err := DecodeOutbound(raw)
	if err != nil {
		t.Fatalf("DecodeOutbound failed: %v", err)
	}
	if end, ok := decoded.(EndSession); !ok || end.Handoff != msg.Handoff {
		t.Errorf("Expected %+v, got %+v", msg, decoded)
	}
}

func TestDecodeOutbound_Unknown(t *testing.T) {
	if _, err := DecodeOutbound([]byte(`{"type":"dance"}`)); !errors.Is(err, ErrUnknownMessageType) {
		t.Errorf("Expected ErrUnknownMessageType, got %v", err)
	}
	if _, err := EncodeOutbound(nil); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("Expected ErrMalformedMessage, got %v", err)
	}
}
