package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/callrelay/domain"
)

func TestSimulator_PrintsUtterances(t *testing.T) {
	out := new(bytes.Buffer)
	sim := &simulator{out: out}

	sim.print(domain.TextToken{Token: "Hello there."})
	sim.print(domain.TextToken{Token: " Bye"})
	sim.print(domain.TextToken{Last: true})
	sim.print(domain.EndSession{Handoff: domain.Handoff{Action: domain.HandoffEscalate, Reason: "user-requested", Summary: "S."}})

	got := out.String()
	if !strings.Contains(got, "assistant> Hello there. Bye\n") {
		t.Errorf("expected joined utterance, got: %s", got)
	}
	if !strings.Contains(got, "[end action=escalate") || !strings.Contains(got, "summary: S.") {
		t.Errorf("expected end message, got: %s", got)
	}
}

// relayPeer records the JSON frames written by the simulator
func relayPeer(t *testing.T) (*websocket.Conn, <-chan []byte) {
	t.Helper()
	frames := make(chan []byte, 8)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- raw
		}
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, frames
}

func TestSimulator_HandleLine(t *testing.T) {
	conn, frames := relayPeer(t)
	sim := &simulator{conn: conn, out: new(bytes.Buffer)}
	sim.speech.WriteString("Let me check")

	tests := []struct {
		line string
		want domain.InboundType
	}{
		{"What is my balance?", domain.InboundPrompt},
		{"/dtmf #", domain.InboundDTMF},
		{"/interrupt", domain.InboundInterrupt},
	}

	for _, tt := range tests {
		if err := sim.handleLine(options{}, tt.line); err != nil {
			t.Fatalf("handleLine(%q) failed: %v", tt.line, err)
		}

		select {
		case raw := <-frames:
			in, err := domain.DecodeInbound("CA1", raw)
			if err != nil {
				t.Fatalf("frame for %q does not decode: %v", tt.line, err)
			}
			if in.Event.InboundType() != tt.want {
				t.Errorf("line %q: expected %s, got %s", tt.line, tt.want, in.Event.InboundType())
			}
			if ev, ok := in.Event.(*domain.Interrupt); ok && ev.UtteranceUntilInterrupt != "Let me check" {
				t.Errorf("expected interrupt utterance 'Let me check', got %q", ev.UtteranceUntilInterrupt)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame written for %q", tt.line)
		}
	}

	if err := sim.handleLine(options{}, "/dtmf x"); err == nil {
		t.Error("expected an invalid digit to be rejected")
	}
}
