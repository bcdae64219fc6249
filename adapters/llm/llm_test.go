package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/callrelay/domain/entities"
)

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{"valid", GeminiConfig{APIKey: "key"}, false},
		{"missing key", GeminiConfig{}, true},
		{"temperature too high", GeminiConfig{APIKey: "key", Temperature: 3}, true},
		{"negative topP", GeminiConfig{APIKey: "key", TopP: -0.1}, true},
		{"negative timeout", GeminiConfig{APIKey: "key", TimeoutSeconds: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestToContents(t *testing.T) {
	messages := []entities.Message{
		{Role: entities.RoleSystem, Text: "be helpful"},
		{Role: entities.RoleDeveloper, Text: "vip=true"},
		{Role: entities.RoleUser, Text: "hello"},
		{Role: entities.RoleAssistant, Text: "Hi there."},
		{Role: entities.RoleAssistant, Text: ""},
	}

	system, contents := toContents(messages)
	if system == nil || system.Parts[0].Text != "be helpful" {
		t.Fatalf("Expected system instruction, got %+v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser || !strings.Contains(contents[0].Parts[0].Text, "vip=true") {
		t.Errorf("Expected developer note as user turn, got %+v", contents[0])
	}
	if contents[2].Role != genai.RoleModel {
		t.Errorf("Expected assistant as model role, got %s", contents[2].Role)
	}
}

func TestToContents_MidCallSystemMessagesKeepTheirPlace(t *testing.T) {
	messages := []entities.Message{
		{Role: entities.RoleSystem, Text: "be helpful"},
		{Role: entities.RoleUser, Text: "hello"},
		{Role: entities.RoleSystem, Text: "the caller is verified"},
		{Role: entities.RoleUser, Text: "what is my balance"},
	}

	system, contents := toContents(messages)
	if system == nil || len(system.Parts) != 1 || system.Parts[0].Text != "be helpful" {
		t.Fatalf("Expected only the leading system message as instruction, got %+v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != genai.RoleUser || contents[1].Parts[0].Text != "[note] the caller is verified" {
		t.Errorf("Expected the later system message as a note between the prompts, got %+v", contents[1])
	}
	if contents[2].Parts[0].Text != "what is my balance" {
		t.Errorf("Expected the second prompt last, got %q", contents[2].Parts[0].Text)
	}

	if system, _ := toContents(messages[1:]); system != nil {
		t.Errorf("Expected no instruction without a leading system message, got %+v", system)
	}
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiLLM {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	model, err := NewGeminiLLM(context.Background(), GeminiConfig{
		APIKey:         "test-key",
		TimeoutSeconds: 5,
		BaseURL:        server.URL + "/",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewGeminiLLM failed: %v", err)
	}
	return model
}

func TestGeminiLLM_CompleteMakesOneRequest(t *testing.T) {
	var requests atomic.Int32
	model := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	})

	messages := []entities.Message{{Role: entities.RoleUser, Text: "hello"}}
	if _, err := model.Complete(context.Background(), messages, "Summarize."); err == nil {
		t.Fatal("Expected an error from an unavailable model")
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("Expected a single request, got %d", n)
	}
}

func TestGeminiLLM_CompleteSendsInstructionsLast(t *testing.T) {
	var body struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	}
	model := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"The caller wants a refund."}]}}]}`))
	})

	messages := []entities.Message{
		{Role: entities.RoleSystem, Text: "be helpful"},
		{Role: entities.RoleUser, Text: "I want my money back"},
	}
	text, err := model.Complete(context.Background(), messages, "Summarize.")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "The caller wants a refund." {
		t.Errorf("Expected the candidate text, got %q", text)
	}

	if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "be helpful" {
		t.Errorf("Expected the system instruction, got %+v", body.SystemInstruction)
	}
	if len(body.Contents) != 2 {
		t.Fatalf("Expected prompt and instructions, got %+v", body.Contents)
	}
	if last := body.Contents[1]; last.Role != genai.RoleUser || last.Parts[0].Text != "Summarize." {
		t.Errorf("Expected the instructions as the trailing user turn, got %+v", last)
	}
}

func TestScriptedLLM_Replies(t *testing.T) {
	model := NewScriptedLLM(WithReplies([]string{"Hi there.", " How can I help?"}))

	var got []string
	for chunk, err := range model.CompleteStreaming(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		got = append(got, chunk)
	}
	if strings.Join(got, "") != "Hi there. How can I help?" {
		t.Errorf("Unexpected reply: %q", got)
	}

	messages := []entities.Message{{Role: entities.RoleUser, Text: "order pizza"}}
	var echoed strings.Builder
	for chunk := range model.CompleteStreaming(context.Background(), messages) {
		echoed.WriteString(chunk)
	}
	if !strings.Contains(echoed.String(), "order pizza") {
		t.Errorf("Expected echo of last user message, got %q", echoed.String())
	}
	if model.Calls() != 2 {
		t.Errorf("Expected 2 calls, got %d", model.Calls())
	}
}

func TestScriptedLLM_StreamError(t *testing.T) {
	boom := errors.New("boom")
	model := NewScriptedLLM(WithReplies([]string{"a", "b", "c"}), WithStreamError(boom))

	var chunks int
	var gotErr error
	for _, err := range model.CompleteStreaming(context.Background(), nil) {
		if err != nil {
			gotErr = err
			break
		}
		chunks++
	}
	if !errors.Is(gotErr, boom) || chunks != 1 {
		t.Errorf("Expected boom after 1 chunk, got %v after %d", gotErr, chunks)
	}
}
