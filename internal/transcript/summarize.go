package transcript

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const scopeName = "github.com/satriahrh/callrelay/internal/transcript"

var tracer = otel.Tracer(scopeName)

// maxSummarySentences bounds the handoff summary
const maxSummarySentences = 5

// Summarize asks the model for a short factual summary of the conversation.
// The request runs against a snapshot, so the stored transcript never sees
// the summary instructions, and the mailbox stays free while the model
// answers. The result is percent-encoded for embedding in handoff data.
func (a *Actor) Summarize(ctx context.Context) (string, error) {
	snapshot, err := a.GetHistory(ctx)
	if err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "summarize transcript")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.sid", a.callSid),
		attribute.Int("transcript.messages", snapshot.Len()),
	)

	text, err := a.registry.llm.Complete(ctx, snapshot.Messages, summaryInstructions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("transcript: summarize: %w", err)
	}

	summary := EncodeSummary(text)
	a.logger.Info("Transcript summarized", zap.Int("length", len(summary)))
	return summary, nil
}

// EncodeSummary trims text to at most five sentences and percent-encodes
// it. Empty input yields a fixed placeholder so handoffs always carry a
// summary.
func EncodeSummary(text string) string {
	text = limitSentences(strings.Join(strings.Fields(text), " "), maxSummarySentences)
	if text == "" {
		text = noSummary
	}
	return strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

// limitSentences cuts text after its n-th sentence terminal
func limitSentences(text string, n int) string {
	count := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		count++
		if count == n {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return strings.TrimSpace(text)
}
