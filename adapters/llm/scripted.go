package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/satriahrh/callrelay/domain/entities"
)

// ScriptedLLM replays canned replies. It backs local development without
// an API key and the session tests. Once the script is exhausted it echoes
// the caller's last message.
type ScriptedLLM struct {
	mu         sync.Mutex
	replies    [][]string
	summary    string
	chunkDelay time.Duration
	streamErr  error
	calls      int
}

// ScriptedOption configures a ScriptedLLM
type ScriptedOption func(*ScriptedLLM)

// WithReplies queues replies already split into stream chunks
func WithReplies(replies ...[]string) ScriptedOption {
	return func(s *ScriptedLLM) {
		s.replies = append(s.replies, replies...)
	}
}

// WithSummary sets the text returned by Complete
func WithSummary(summary string) ScriptedOption {
	return func(s *ScriptedLLM) {
		s.summary = summary
	}
}

// WithChunkDelay pauses before each streamed chunk
func WithChunkDelay(d time.Duration) ScriptedOption {
	return func(s *ScriptedLLM) {
		s.chunkDelay = d
	}
}

// WithStreamError makes every stream fail after its first chunk
func WithStreamError(err error) ScriptedOption {
	return func(s *ScriptedLLM) {
		s.streamErr = err
	}
}

// NewScriptedLLM creates a scripted model
func NewScriptedLLM(opts ...ScriptedOption) *ScriptedLLM {
	s := &ScriptedLLM{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calls returns how many streams were started
func (s *ScriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// CompleteStreaming implements repositories.LargeLanguageModel
func (s *ScriptedLLM) CompleteStreaming(ctx context.Context, messages []entities.Message) iter.Seq2[string, error] {
	s.mu.Lock()
	s.calls++
	var chunks []string
	if len(s.replies) > 0 {
		chunks = s.replies[0]
		s.replies = s.replies[1:]
	} else {
		chunks = splitWords(echo(messages))
	}
	delay, streamErr := s.chunkDelay, s.streamErr
	s.mu.Unlock()

	return func(yield func(string, error) bool) {
		for i, chunk := range chunks {
			if delay > 0 {
				select {
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				case <-time.After(delay):
				}
			}
			if streamErr != nil && i == 1 {
				yield("", streamErr)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Complete implements repositories.LargeLanguageModel
func (s *ScriptedLLM) Complete(ctx context.Context, messages []entities.Message, instructions string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()
	if summary != "" {
		return summary, nil
	}

	users := 0
	for _, msg := range messages {
		if msg.Role == entities.RoleUser {
			users++
		}
	}
	return fmt.Sprintf("The caller sent %d messages during the call.", users), nil
}

func echo(messages []entities.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == entities.RoleUser {
			return fmt.Sprintf("You said: %s. How else can I help?", strings.TrimRight(messages[i].Text, ".!?"))
		}
	}
	return "Hello! How can I help you today?"
}

// splitWords keeps the leading space on every word after the first so the
// chunks concatenate back to the original text.
func splitWords(text string) []string {
	words := strings.Fields(text)
	chunks := make([]string, 0, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks = append(chunks, w)
	}
	return chunks
}
