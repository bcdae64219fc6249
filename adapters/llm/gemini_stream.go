package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/callrelay/domain/entities"
)

// CompleteStreaming implements repositories.LargeLanguageModel
func (g *GeminiLLM) CompleteStreaming(ctx context.Context, messages []entities.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, contents := toContents(messages)
		if len(contents) == 0 {
			yield("", fmt.Errorf("gemini stream: no conversation to complete"))
			return
		}

		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		chunks := 0
		for response, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, g.requestConfig(system)) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}

			text := responseText(response)
			if text == "" {
				continue
			}
			chunks++
			if !yield(text, nil) {
				return
			}
		}

		g.logger.Debug("Gemini stream finished", zap.Int("chunks", chunks))
	}
}

// toContents converts transcript messages to Gemini format. A leading
// system message becomes the system instruction. Later system messages and
// developer notes keep their place as user turns, because Gemini only knows
// the user and model roles.
func toContents(messages []entities.Message) (*genai.Content, []*genai.Content) {
	var (
		system   *genai.Content
		contents []*genai.Content
	)

	for i, msg := range messages {
		switch msg.Role {
		case entities.RoleSystem:
			if i == 0 {
				system = genai.NewContentFromText(msg.Text, genai.RoleUser)
				continue
			}
			contents = append(contents, note(msg.Text))
		case entities.RoleAssistant:
			if msg.Text == "" {
				continue
			}
			contents = append(contents, genai.NewContentFromText(msg.Text, genai.RoleModel))
		case entities.RoleDeveloper:
			contents = append(contents, note(msg.Text))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Text, genai.RoleUser))
		}
	}

	return system, contents
}

func note(text string) *genai.Content {
	return genai.NewContentFromText("[note] "+text, genai.RoleUser)
}

// responseText extracts text from the first candidate
func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
