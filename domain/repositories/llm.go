package repositories

import (
	"context"
	"iter"

	"github.com/satriahrh/callrelay/domain/entities"
)

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// CompleteStreaming yields text fragments of the reply to the
	// conversation. Iteration stops at the first error.
	CompleteStreaming(ctx context.Context, messages []entities.Message) iter.Seq2[string, error]
	// Complete returns a single reply after applying extra instructions
	Complete(ctx context.Context, messages []entities.Message, instructions string) (string, error)
}
