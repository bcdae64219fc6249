// Command relaysim plays the relay's side of a call against a running
// callrelay server. Lines typed on stdin become caller prompts.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/satriahrh/callrelay/domain"
)

type incomingCallResponse struct {
	CallSid  string `json:"call_sid"`
	RelayURL string `json:"relay_url"`
}

type options struct {
	server  string
	callSid string
	from    string
	to      string
	params  map[string]string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "relaysim",
		Short: "Simulate the relay side of a voice call",
		Long: `Starts a call through the incoming-call webhook, opens the relay websocket and
turns stdin into relay events:

  <text>          caller prompt
  /dtmf <digit>   keypad press (0-9, * or #)
  /interrupt      caller speaks over the assistant
  /hangup         call status completed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.callSid == "" {
				opts.callSid = "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
			}
			return run(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "callrelay server base URL")
	cmd.Flags().StringVar(&opts.callSid, "call-sid", "", "call sid, generated when empty")
	cmd.Flags().StringVar(&opts.from, "from", "+15550000001", "caller number")
	cmd.Flags().StringVar(&opts.to, "to", "+15550000002", "called number")
	cmd.Flags().StringToStringVar(&opts.params, "param", nil, "custom parameter key=value sent with setup")
	return cmd
}

func run(in io.Reader, out io.Writer, opts options) error {
	relayURL, err := startCall(opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Call %s started, connecting to relay...\n", opts.callSid)

	conn, resp, err := websocket.DefaultDialer.Dial(relayURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("relay connection failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("relay connection failed: %w", err)
	}
	defer conn.Close()

	sim := &simulator{conn: conn, out: out}
	if err := sim.write(map[string]interface{}{
		"type":             domain.InboundSetup,
		"sessionId":        "VX" + opts.callSid,
		"from":             opts.from,
		"to":               opts.to,
		"direction":        "inbound",
		"customParameters": opts.params,
	}); err != nil {
		return err
	}

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		sim.readLoop()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(out, "Connected. Type to speak.")
	for {
		select {
		case <-ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sim.handleLine(opts, strings.TrimSpace(line)); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func startCall(opts options) (string, error) {
	form := url.Values{"CallSid": {opts.callSid}, "From": {opts.from}, "To": {opts.to}}
	resp, err := http.PostForm(strings.TrimSuffix(opts.server, "/")+"/calls", form)
	if err != nil {
		return "", fmt.Errorf("incoming call webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("incoming call webhook returned %d: %s", resp.StatusCode, body)
	}

	var call incomingCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return "", fmt.Errorf("decode incoming call response: %w", err)
	}
	return call.RelayURL, nil
}

type simulator struct {
	conn *websocket.Conn
	out  io.Writer

	// Text of the utterance being spoken, used as the interrupt point.
	mu     sync.Mutex
	speech strings.Builder
}

func (s *simulator) write(v interface{}) error {
	return s.conn.WriteJSON(v)
}

func (s *simulator) handleLine(opts options, line string) error {
	switch {
	case line == "":
		return nil

	case strings.HasPrefix(line, "/dtmf"):
		digit := strings.TrimSpace(strings.TrimPrefix(line, "/dtmf"))
		if _, err := domain.ParseDigit(digit); err != nil {
			return err
		}
		return s.write(map[string]interface{}{"type": domain.InboundDTMF, "digit": digit})

	case line == "/interrupt":
		s.mu.Lock()
		heard := s.speech.String()
		s.mu.Unlock()
		return s.write(map[string]interface{}{
			"type":                     domain.InboundInterrupt,
			"utteranceUntilInterrupt":  heard,
			"durationUntilInterruptMs": len(heard) * 60,
		})

	case line == "/hangup":
		form := url.Values{"CallSid": {opts.callSid}, "CallStatus": {"completed"}}
		resp, err := http.PostForm(strings.TrimSuffix(opts.server, "/")+"/calls/status", form)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	return s.write(map[string]interface{}{
		"type":        domain.InboundPrompt,
		"voicePrompt": line,
		"lang":        "en-US",
		"last":        true,
	})
}

func (s *simulator) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Fprintf(s.out, "! relay closed: %v\n", err)
			} else {
				fmt.Fprintln(s.out, "Relay closed.")
			}
			return
		}

		msg, err := domain.DecodeOutbound(raw)
		if err != nil {
			fmt.Fprintf(s.out, "! undecodable message %s: %v\n", raw, err)
			continue
		}
		s.print(msg)
	}
}

func (s *simulator) print(msg domain.OutboundMessage) {
	switch m := msg.(type) {
	case domain.TextToken:
		s.mu.Lock()
		s.speech.WriteString(m.Token)
		if m.Last {
			fmt.Fprintf(s.out, "assistant> %s\n", strings.TrimSpace(s.speech.String()))
			s.speech.Reset()
		}
		s.mu.Unlock()
	case domain.PlayAudio:
		fmt.Fprintf(s.out, "[play %s]\n", m.Source)
	case domain.PlayDTMF:
		fmt.Fprintf(s.out, "[send digits %s]\n", m.Digits)
	case domain.SwitchLanguage:
		fmt.Fprintf(s.out, "[language tts=%s transcription=%s]\n", m.TTSLanguage, m.TranscriptionLanguage)
	case domain.EndSession:
		fmt.Fprintf(s.out, "[end action=%s reason=%q]\nsummary: %s\n", m.Handoff.Action, m.Handoff.Reason, m.Handoff.Summary)
	}
}
