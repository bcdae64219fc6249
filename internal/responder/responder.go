// Package responder turns a streamed model completion into speech-ready
// text tokens for one turn of a call.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain"
	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

// sentenceTerminals mark the end of a speakable fragment
const sentenceTerminals = ".!?"

// Status tells how a turn ended
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// Turn is the input of one response
type Turn struct {
	CallSid   string
	TurnID    string
	Snapshot  *entities.Transcript
	Utterance string
}

// Result is what the caller persists as the assistant message
type Result struct {
	TurnID string `json:"turnId"`
	Text   string `json:"text"`
	Status Status `json:"status"`
}

// Responder streams model output to the relay sentence by sentence
type Responder struct {
	llm    repositories.LargeLanguageModel
	sink   repositories.OutboundSink
	logger *zap.Logger
}

// New creates a responder
func New(llm repositories.LargeLanguageModel, sink repositories.OutboundSink, logger *zap.Logger) *Responder {
	return &Responder{
		llm:    llm,
		sink:   sink,
		logger: logger,
	}
}

// Respond runs one turn. Cancelling ctx interrupts the turn at the next
// fragment: the relay receives a closing token and the partial text is
// returned with StatusInterrupted. A model failure returns an error.
func (r *Responder) Respond(ctx context.Context, turn Turn) (Result, error) {
	logger := r.logger.With(zap.String("callSid", turn.CallSid), zap.String("turnId", turn.TurnID))

	ctx, span := tracer.Start(ctx, "respond to prompt")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.sid", turn.CallSid),
		attribute.String("turn.id", turn.TurnID),
		attribute.Int("transcript.messages", turn.Snapshot.Len()),
	)

	p := &pending{responder: r, callSid: turn.CallSid, logger: logger}
	result := Result{TurnID: turn.TurnID}

	for chunk, err := range r.llm.CompleteStreaming(ctx, turn.Snapshot.Messages) {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			p.close()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Model stream failed", zap.Error(err))
			return result, fmt.Errorf("responder: stream: %w", err)
		}

		p.buffer.WriteString(chunk)
		if strings.ContainsAny(chunk, sentenceTerminals) {
			if ctx.Err() != nil {
				break
			}
			p.flush(ctx)
		}
	}

	if ctx.Err() != nil {
		p.close()
		result.Text = p.partial()
		result.Status = StatusInterrupted
		span.SetAttributes(attribute.String("turn.status", string(result.Status)))
		logger.Info("Turn interrupted", zap.Int("spoken", p.full.Len()), zap.Int("unspoken", p.buffer.Len()))
		return result, nil
	}

	p.flush(ctx)
	p.close()
	result.Text = p.full.String()
	result.Status = StatusCompleted
	span.SetAttributes(
		attribute.String("turn.status", string(result.Status)),
		attribute.Int("response.length", len(result.Text)),
	)
	logger.Info("Turn completed", zap.Int("length", len(result.Text)))
	return result, nil
}

// pending holds the sentence buffer and the accumulated response of a turn
type pending struct {
	responder *Responder
	callSid   string
	logger    *zap.Logger

	buffer strings.Builder
	full   strings.Builder
}

func (p *pending) flush(ctx context.Context) {
	if p.buffer.Len() == 0 {
		return
	}
	sentence := p.buffer.String()
	p.buffer.Reset()
	p.full.WriteString(sentence)
	trace.SpanFromContext(ctx).AddEvent("fragment flushed", trace.WithAttributes(attribute.Int("fragment.length", len(sentence))))
	p.send(ctx, domain.TextToken{Token: sentence})
}

// close ends the utterance on the relay
func (p *pending) close() {
	p.send(context.Background(), domain.TextToken{Last: true})
}

func (p *pending) partial() string {
	return p.full.String() + p.buffer.String()
}

func (p *pending) send(ctx context.Context, msg domain.OutboundMessage) {
	if err := p.responder.sink.Send(context.WithoutCancel(ctx), p.callSid, msg); err != nil {
		level := zap.WarnLevel
		if !errors.Is(err, repositories.ErrNotConnected) {
			level = zap.ErrorLevel
		}
		p.logger.Log(level, "Failed to send text token", zap.Error(err))
	}
}
