// Package session runs one orchestrator per call. The orchestrator waits
// on the call's prompts, keypad digits, deadline and terminal signal,
// drives the transcript and the responder, and records every wait-point
// outcome and side effect in the call's journal so a restarted process
// resumes the call without repeating what was already done.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain"
	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
	"github.com/satriahrh/callrelay/internal/responder"
	"github.com/satriahrh/callrelay/internal/transcript"
	"github.com/satriahrh/callrelay/internal/workflow"
)

// turn is the in-flight response of one prompt
type turn struct {
	id     string
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Orchestrator is the state machine of one call
type Orchestrator struct {
	callSid    string
	manager    *Manager
	journal    *workflow.Journal
	transcript *transcript.Actor
	logger     *zap.Logger

	setup    chan *domain.Setup
	prompts  chan *domain.Prompt
	digits   chan *domain.DTMF
	terminal chan string
	done     chan struct{}

	// owned by run
	fragments []string

	mu      sync.Mutex
	session *entities.Session
	turn    *turn
	turns   sync.WaitGroup
}

func newOrchestrator(m *Manager, j *workflow.Journal, callSid string) *Orchestrator {
	return &Orchestrator{
		callSid:    callSid,
		manager:    m,
		journal:    j,
		transcript: m.transcripts.Actor(callSid),
		logger:     m.logger.With(zap.String("callSid", callSid)),
		setup:      make(chan *domain.Setup, 1),
		prompts:    make(chan *domain.Prompt, m.cfg.QueueSize),
		digits:     make(chan *domain.DTMF, m.cfg.QueueSize),
		terminal:   make(chan string, 1),
		done:       make(chan struct{}),
		session: &entities.Session{
			CallSid: callSid,
			Status:  entities.SessionStatusInitializing,
		},
	}
}

// CallSid returns the call this orchestrator drives
func (o *Orchestrator) CallSid() string {
	return o.callSid
}

// Done is closed when the orchestrator has exited
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Snapshot returns the current state of the call
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	s := Snapshot{
		CallSid:   o.callSid,
		From:      o.session.From,
		To:        o.session.To,
		Status:    o.session.Status,
		Cause:     o.session.Cause,
		StartedAt: o.session.StartedAt,
		Deadline:  o.session.Deadline,
	}
	if o.turn != nil {
		s.ActiveTurn = o.turn.id
	}
	o.mu.Unlock()

	s.JournalEntries = o.journal.Len()
	return s
}

func (o *Orchestrator) run(ctx context.Context, opts StartOptions) {
	defer close(o.done)
	defer o.manager.remove(o)

	cause, err := o.drive(ctx, opts)
	if err == nil {
		err = o.terminate(ctx, cause)
	}
	if err == nil {
		return
	}

	o.waitTurn(o.cancelTurn(errSuspended))
	o.turns.Wait()
	if ctx.Err() != nil {
		o.logger.Info("Orchestrator suspended")
	} else {
		o.logger.Error("Orchestrator stopped", zap.Error(err))
	}
	o.manager.emitEvent(o.callSid, EventSessionSuspended, nil)
}

// drive runs the call until it must terminate and returns the cause. An
// error means the orchestrator cannot continue and the call stays open
// for a later resume.
func (o *Orchestrator) drive(ctx context.Context, opts StartOptions) (string, error) {
	session, err := workflow.Do(ctx, o.journal, "start_session", func(ctx context.Context) (*entities.Session, error) {
		session, err := o.createSession(ctx, opts)
		return session, retryable(err)
	})
	if err != nil {
		return o.failure(err)
	}
	o.mu.Lock()
	o.session = session
	o.mu.Unlock()

	if err := o.activity(ctx, "initialize_transcript", o.transcript.Initialize); err != nil {
		return o.failure(err)
	}

	deadline := time.NewTimer(time.Until(session.Deadline))
	defer deadline.Stop()

	ev, err := o.await(ctx, o.waitSetup(deadline.C))
	if err != nil {
		return o.failure(err)
	}
	switch ev.Name {
	case waitSetup:
		if cause, err := o.handleSetup(ctx, ev); cause != "" || err != nil {
			return cause, err
		}
	case waitDeadline, waitTerminal:
		return o.endCause(ev)
	default:
		return "", fmt.Errorf("%w: unexpected event %q while initializing", workflow.ErrNondeterminism, ev.Name)
	}

	for {
		ev, err := o.await(ctx, o.waitActive(deadline.C))
		if err != nil {
			return o.failure(err)
		}

		var cause string
		switch ev.Name {
		case waitPrompt:
			cause, err = o.handlePrompt(ctx, ev)
		case waitDTMF:
			cause, err = o.handleDTMF(ctx, ev)
		case waitDeadline, waitTerminal:
			cause, err = o.endCause(ev)
		default:
			err = fmt.Errorf("%w: unexpected event %q", workflow.ErrNondeterminism, ev.Name)
		}
		if cause != "" || err != nil {
			return cause, err
		}
	}
}

// await records the outcome of one wait point
func (o *Orchestrator) await(ctx context.Context, wait func(context.Context) (workflow.Event, error)) (workflow.Event, error) {
	ev, err := o.journal.Await(ctx, wait)
	if errors.Is(err, workflow.ErrRecord) {
		o.logger.Error("Event dropped, journal unavailable", zap.String("event", ev.Name), zap.Error(err))
	}
	return ev, err
}

func (o *Orchestrator) createSession(ctx context.Context, opts StartOptions) (*entities.Session, error) {
	session := entities.NewSession(o.callSid, o.manager.cfg.TTL)
	session.From = opts.From
	session.To = opts.To

	err := o.manager.store.CreateSession(ctx, session)
	if errors.Is(err, repositories.ErrAlreadyExists) {
		return o.manager.store.GetSession(ctx, o.callSid)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (o *Orchestrator) waitSetup(deadline <-chan time.Time) func(context.Context) (workflow.Event, error) {
	return func(ctx context.Context) (workflow.Event, error) {
		select {
		case <-ctx.Done():
			return workflow.Event{}, ctx.Err()
		case setup := <-o.setup:
			return workflow.NewEvent(waitSetup, setup)
		case <-deadline:
			return workflow.NewEvent(waitDeadline, nil)
		case status := <-o.terminal:
			return workflow.NewEvent(waitTerminal, status)
		}
	}
}

func (o *Orchestrator) waitActive(deadline <-chan time.Time) func(context.Context) (workflow.Event, error) {
	return func(ctx context.Context) (workflow.Event, error) {
		select {
		case <-ctx.Done():
			return workflow.Event{}, ctx.Err()
		case prompt := <-o.prompts:
			return workflow.NewEvent(waitPrompt, prompt)
		case digit := <-o.digits:
			return workflow.NewEvent(waitDTMF, digit)
		case <-deadline:
			return workflow.NewEvent(waitDeadline, nil)
		case status := <-o.terminal:
			return workflow.NewEvent(waitTerminal, status)
		}
	}
}

func (o *Orchestrator) handleSetup(ctx context.Context, ev workflow.Event) (string, error) {
	var setup domain.Setup
	if err := ev.Decode(&setup); err != nil {
		return "", err
	}
	o.logger.Info("Relay session set up",
		zap.String("sessionId", setup.SessionID),
		zap.Int("customParameters", len(setup.CustomParameters)))

	if len(setup.CustomParameters) > 0 {
		note := customParametersNote(setup.CustomParameters)
		err := o.activity(ctx, "note_custom_parameters", func(ctx context.Context) error {
			return o.transcript.AddDeveloperMessage(ctx, note)
		})
		if err != nil {
			return o.failure(err)
		}
	}

	if err := o.transition(ctx, entities.SessionStatusActive, ""); err != nil {
		return o.failure(err)
	}
	o.manager.emitEvent(o.callSid, EventSessionActive, setup.SessionID)
	return "", nil
}

func (o *Orchestrator) handlePrompt(ctx context.Context, ev workflow.Event) (string, error) {
	var prompt domain.Prompt
	if err := ev.Decode(&prompt); err != nil {
		return "", err
	}
	if !prompt.Last {
		o.fragments = append(o.fragments, prompt.Text)
		return "", nil
	}

	text := strings.TrimSpace(strings.Join(append(o.fragments, prompt.Text), " "))
	o.fragments = nil
	if text == "" {
		return "", nil
	}

	// The previous turn finishes (and persists) before the new prompt lands.
	o.waitTurn(o.cancelTurn(errTurnSuperseded))

	var snapshot *entities.Transcript
	err := o.activity(ctx, "add_user_message", func(ctx context.Context) error {
		var err error
		snapshot, err = o.transcript.AddUserMessage(ctx, text)
		return err
	})
	if err != nil {
		return o.failure(err)
	}

	turnID, err := workflow.Do(ctx, o.journal, "start_turn", func(ctx context.Context) (string, error) {
		if snapshot == nil {
			var err error
			if snapshot, err = o.transcript.GetHistory(ctx); err != nil {
				return "", retryable(err)
			}
		}
		id := uuid.NewString()
		o.startTurn(ctx, id, snapshot, text)
		return id, nil
	})
	if err != nil {
		return o.failure(err)
	}

	o.logger.Debug("Prompt dispatched", zap.String("turnId", turnID))
	return "", nil
}

func (o *Orchestrator) handleDTMF(ctx context.Context, ev workflow.Event) (string, error) {
	var dtmf domain.DTMF
	if err := ev.Decode(&dtmf); err != nil {
		return "", err
	}

	if dtmf.Digit == o.manager.cfg.EscalationDigit {
		return o.escalate(ctx)
	}

	note := keypadNote(dtmf.Digit)
	err := o.activity(ctx, "note_keypad", func(ctx context.Context) error {
		return o.transcript.AddDeveloperMessage(ctx, note)
	})
	if err != nil {
		return o.failure(err)
	}
	return "", nil
}

// escalate hands the call to an agent with a summary of the conversation
func (o *Orchestrator) escalate(ctx context.Context) (string, error) {
	o.logger.Info("Caller requested escalation")
	o.waitTurn(o.cancelTurn(errTurnSuperseded))

	summary, err := workflow.Do(ctx, o.journal, "summarize", func(ctx context.Context) (string, error) {
		summary, err := o.transcript.Summarize(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			o.logger.Warn("Escalating without a model summary", zap.Error(err))
			return transcript.EncodeSummary(""), nil
		}
		return summary, nil
	})
	if err != nil {
		return o.failure(err)
	}

	end := domain.EndSession{Handoff: domain.Handoff{
		Action:  domain.HandoffEscalate,
		Reason:  escalationReason,
		Summary: summary,
	}}
	err = o.activity(ctx, "send_end_session", func(ctx context.Context) error {
		o.send(ctx, end)
		return nil
	})
	if err != nil {
		return o.failure(err)
	}

	o.manager.emitEvent(o.callSid, EventSessionEscalated, end.Handoff)
	return causeEscalated, nil
}

func (o *Orchestrator) endCause(ev workflow.Event) (string, error) {
	if ev.Name == waitDeadline {
		o.logger.Info("Session deadline reached")
		return causeDeadline, nil
	}

	var status string
	if err := ev.Decode(&status); err != nil {
		return "", err
	}
	o.logger.Info("Call ended", zap.String("status", status))
	return terminalCause(status), nil
}

// terminate drives the session to Terminated and releases the transcript.
// An error leaves the call open at the last recorded step.
func (o *Orchestrator) terminate(ctx context.Context, cause string) error {
	o.logger.Info("Terminating session", zap.String("cause", cause))

	if err := o.transition(ctx, entities.SessionStatusTerminating, cause); err != nil && o.fatal(err) {
		return fmt.Errorf("record termination: %w", err)
	}

	o.waitTurn(o.cancelTurn(errCallEnding))
	o.turns.Wait()

	if err := o.activity(ctx, "delete_transcript", o.transcript.Delete); err != nil {
		if o.fatal(err) {
			return fmt.Errorf("delete transcript: %w", err)
		}
		o.logger.Warn("Transcript already gone", zap.Error(err))
	}

	if err := o.transition(ctx, entities.SessionStatusTerminated, ""); err != nil && o.fatal(err) {
		return fmt.Errorf("record terminated session: %w", err)
	}

	o.journal.Close()
	o.manager.emitEvent(o.callSid, EventSessionTerminated, cause)
	o.logger.Info("Session terminated", zap.String("cause", cause))
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, status entities.SessionStatus, cause string) error {
	o.mu.Lock()
	if err := o.session.Transition(status); err != nil {
		o.mu.Unlock()
		return err
	}
	if cause != "" {
		o.session.Cause = cause
	}
	snapshot := *o.session
	o.mu.Unlock()

	return o.activity(ctx, "transition_"+string(status), func(ctx context.Context) error {
		return o.manager.store.UpdateSession(ctx, &snapshot)
	})
}

// activity runs a side effect without a result at the next journal position
func (o *Orchestrator) activity(ctx context.Context, name string, fn func(context.Context) error) error {
	_, err := workflow.Do(ctx, o.journal, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, retryable(fn(ctx))
	})
	return err
}

// retryable keeps every failure but a missing transcript out of the
// journal, so a resumed orchestrator runs the side effect again.
func retryable(err error) error {
	if err == nil || errors.Is(err, transcript.ErrTranscriptNotFound) {
		return err
	}
	return workflow.Transient(err)
}

// fatal reports errors after which the orchestrator must stop and leave
// the call open for Recover.
func (o *Orchestrator) fatal(err error) bool {
	if errors.Is(err, workflow.ErrRecord) ||
		errors.Is(err, workflow.ErrNondeterminism) ||
		errors.Is(err, workflow.ErrClosed) {
		return true
	}
	return !stale(err)
}

// stale reports a missing transcript, seen live or replayed from the
// journal. Only such failures are recorded.
func stale(err error) bool {
	var failed *workflow.ActivityError
	return errors.Is(err, transcript.ErrTranscriptNotFound) || errors.As(err, &failed)
}

// failure maps an activity error to the loop outcome. A missing transcript
// ends the session; anything else suspends the orchestrator.
func (o *Orchestrator) failure(err error) (string, error) {
	if o.fatal(err) {
		return "", err
	}
	o.logger.Warn("Call state unavailable, ending session", zap.Error(err))
	return causeStale, nil
}

func (o *Orchestrator) startTurn(ctx context.Context, id string, snapshot *entities.Transcript, utterance string) {
	turnCtx, cancel := context.WithCancelCause(ctx)
	t := &turn{id: id, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.turn = t
	o.mu.Unlock()

	o.turns.Add(1)
	o.manager.emitEvent(o.callSid, EventTurnStarted, id)

	go func() {
		defer o.turns.Done()
		defer close(t.done)
		defer cancel(nil)
		defer o.clearTurn(t)

		result, err := o.manager.responder.Respond(turnCtx, responder.Turn{
			CallSid:   o.callSid,
			TurnID:    id,
			Snapshot:  snapshot,
			Utterance: utterance,
		})
		if err != nil {
			o.logger.Warn("Turn failed", zap.String("turnId", id), zap.Error(err))
			o.manager.emitEvent(o.callSid, EventTurnFailed, id)
			return
		}

		cause := context.Cause(turnCtx)
		suspended := ctx.Err() != nil || errors.Is(cause, errSuspended)
		if result.Status == responder.StatusInterrupted && suspended {
			// A reply cut short by suspension is dropped with its stream.
			o.logger.Info("Turn abandoned", zap.String("turnId", id), zap.Int("heard", len(result.Text)))
			return
		}
		o.finishTurn(context.WithoutCancel(ctx), result, cause)
	}()
}

// finishTurn persists what the caller heard. Only a turn cut short by the
// caller is followed by the interruption note.
func (o *Orchestrator) finishTurn(ctx context.Context, result responder.Result, cause error) {
	var err error
	switch result.Status {
	case responder.StatusCompleted:
		if result.Text != "" {
			err = o.transcript.AddAssistantMessage(ctx, result.Text)
		}
		o.manager.emitEvent(o.callSid, EventTurnCompleted, result)
	case responder.StatusInterrupted:
		err = o.transcript.AddAssistantMessage(ctx, result.Text)
		if err == nil && errors.Is(cause, errCallerInterrupted) {
			err = o.transcript.AddDeveloperMessage(ctx, interruptedTurnNote)
		}
		o.manager.emitEvent(o.callSid, EventTurnInterrupted, result)
	}

	if err != nil {
		o.logger.Warn("Failed to persist turn result", zap.String("turnId", result.TurnID), zap.Error(err))
	}
}

// cancelTurn cancels the active turn, if any, with cause and returns a
// channel closed once it has finished. The first cause is kept.
func (o *Orchestrator) cancelTurn(cause error) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.turn == nil {
		return nil
	}
	o.turn.cancel(cause)
	return o.turn.done
}

func (o *Orchestrator) waitTurn(done <-chan struct{}) {
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) clearTurn(t *turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn == t {
		o.turn = nil
	}
}

// interrupt handles an interruption immediately, outside the wait loop
func (o *Orchestrator) interrupt(ctx context.Context, ev *domain.Interrupt) error {
	select {
	case <-o.done:
		return ErrSessionClosed
	default:
	}

	if err := o.transcript.AddDeveloperMessage(ctx, interruptNote(ev.UtteranceUntilInterrupt)); err != nil {
		return err
	}
	o.cancelTurn(errCallerInterrupted)

	o.logger.Info("Caller interrupted",
		zap.Int("durationMs", ev.DurationUntilInterruptMs),
		zap.Int("heard", len(ev.UtteranceUntilInterrupt)))
	o.manager.emitEvent(o.callSid, EventInterruptDelivered, ev.UtteranceUntilInterrupt)
	return nil
}

func (o *Orchestrator) deliver(ctx context.Context, event domain.InboundEvent) error {
	switch ev := event.(type) {
	case *domain.Setup:
		select {
		case o.setup <- ev:
		default:
			o.logger.Warn("Duplicate setup ignored", zap.String("sessionId", ev.SessionID))
		}
		return nil
	case *domain.Prompt:
		return enqueue(ctx, o, o.prompts, ev)
	case *domain.DTMF:
		return enqueue(ctx, o, o.digits, ev)
	case *domain.Interrupt:
		return o.interrupt(ctx, ev)
	case *domain.RelayError:
		o.logger.Warn("Relay reported an error", zap.String("description", ev.Description))
		return nil
	}
	return fmt.Errorf("%w: %T", domain.ErrUnknownMessageType, event)
}

// signal raises the terminal signal. Only the first status is kept.
func (o *Orchestrator) signal(status string) {
	select {
	case o.terminal <- status:
	default:
	}
}

func (o *Orchestrator) send(ctx context.Context, msg domain.OutboundMessage) {
	if err := o.manager.sink.Send(ctx, o.callSid, msg); err != nil {
		o.logger.Warn("Failed to send outbound message",
			zap.String("type", string(msg.OutboundType())),
			zap.Error(err))
	}
}

func enqueue[T any](ctx context.Context, o *Orchestrator, ch chan<- T, v T) error {
	select {
	case <-o.done:
		return ErrSessionClosed
	default:
	}

	select {
	case ch <- v:
		return nil
	case <-o.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func customParametersNote(params map[string]string) string {
	var b strings.Builder
	b.WriteString("The caller provided these custom parameters:")
	for _, key := range slices.Sorted(maps.Keys(params)) {
		fmt.Fprintf(&b, "\n%s=%s", key, params[key])
	}
	return b.String()
}
