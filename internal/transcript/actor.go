// Package transcript owns the conversation history of each call. Every
// call gets one actor goroutine that applies operations in submission
// order, so no two operations for the same call ever overlap.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

// ErrTranscriptNotFound is returned for operations on a transcript that was
// never initialized or has been deleted.
var ErrTranscriptNotFound = errors.New("transcript: not found")

const mailboxSize = 64

// Actor serializes all operations on one call's transcript
type Actor struct {
	callSid  string
	inbox    chan func()
	quit     chan struct{}
	stopOnce sync.Once

	registry *Registry
	logger   *zap.Logger

	// owned by the actor goroutine
	state   *entities.Transcript
	deleted bool
}

func newActor(r *Registry, callSid string) *Actor {
	a := &Actor{
		callSid:  callSid,
		inbox:    make(chan func(), mailboxSize),
		quit:     make(chan struct{}),
		registry: r,
		logger:   r.logger.With(zap.String("callSid", callSid)),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	for {
		select {
		case op := <-a.inbox:
			op()
		case <-a.quit:
			return
		}
	}
}

func (a *Actor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
}

// do submits fn to the mailbox and waits for its result
func (a *Actor) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	op := func() { done <- fn() }

	select {
	case a.inbox <- op:
	case <-a.quit:
		return ErrTranscriptNotFound
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-a.quit:
		select {
		case err := <-done:
			return err
		default:
			return ErrTranscriptNotFound
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load rehydrates the transcript from storage after a restart
func (a *Actor) load(ctx context.Context) error {
	if a.deleted {
		return ErrTranscriptNotFound
	}
	if a.state != nil {
		return nil
	}

	t, err := a.registry.repo.GetTranscript(ctx, a.callSid)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrTranscriptNotFound
		}
		return fmt.Errorf("transcript: load %s: %w", a.callSid, err)
	}
	a.state = t
	a.logger.Debug("Transcript rehydrated", zap.Int("messages", t.Len()))
	return nil
}

// persist writes the current state. A failed write keeps the in-memory
// state authoritative and is retried by the next mutation.
func (a *Actor) persist(ctx context.Context) {
	if err := a.registry.repo.SaveTranscript(ctx, a.state); err != nil {
		a.logger.Error("Failed to persist transcript", zap.Error(err))
	}
}

// mutate loads, applies fn and persists, all inside the mailbox
func (a *Actor) mutate(ctx context.Context, fn func(t *entities.Transcript)) error {
	return a.do(ctx, func() error {
		ioCtx := context.WithoutCancel(ctx)
		if err := a.load(ioCtx); err != nil {
			return err
		}
		fn(a.state)
		a.persist(ioCtx)
		return nil
	})
}

// Initialize creates a transcript holding only the system instructions
func (a *Actor) Initialize(ctx context.Context) error {
	return a.do(ctx, func() error {
		if a.deleted {
			return ErrTranscriptNotFound
		}
		a.state = entities.NewTranscript(a.callSid, a.registry.instructions)
		a.persist(context.WithoutCancel(ctx))
		return nil
	})
}

// AddUserMessage appends the caller's words and returns the resulting snapshot
func (a *Actor) AddUserMessage(ctx context.Context, text string) (*entities.Transcript, error) {
	var snapshot *entities.Transcript
	err := a.mutate(ctx, func(t *entities.Transcript) {
		t.Append(entities.RoleUser, text)
		snapshot = t.Clone()
	})
	return snapshot, err
}

func (a *Actor) AddAssistantMessage(ctx context.Context, text string) error {
	return a.mutate(ctx, func(t *entities.Transcript) { t.Append(entities.RoleAssistant, text) })
}

func (a *Actor) AddSystemMessage(ctx context.Context, text string) error {
	return a.mutate(ctx, func(t *entities.Transcript) { t.Append(entities.RoleSystem, text) })
}

func (a *Actor) AddDeveloperMessage(ctx context.Context, text string) error {
	return a.mutate(ctx, func(t *entities.Transcript) { t.Append(entities.RoleDeveloper, text) })
}

// RemoveLastMessage drops the newest message but never the system message
func (a *Actor) RemoveLastMessage(ctx context.Context) error {
	return a.mutate(ctx, func(t *entities.Transcript) { t.RemoveLast() })
}

// ClearHistory resets the transcript to the system instructions
func (a *Actor) ClearHistory(ctx context.Context) error {
	return a.mutate(ctx, func(t *entities.Transcript) { t.Reset(a.registry.instructions) })
}

// GetHistory returns a snapshot reflecting every operation submitted before it
func (a *Actor) GetHistory(ctx context.Context) (*entities.Transcript, error) {
	var snapshot *entities.Transcript
	err := a.do(ctx, func() error {
		if err := a.load(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		snapshot = a.state.Clone()
		return nil
	})
	return snapshot, err
}

func (a *Actor) GetMessageCount(ctx context.Context) (int, error) {
	var n int
	err := a.do(ctx, func() error {
		if err := a.load(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		n = a.state.Len()
		return nil
	})
	return n, err
}

// Delete releases the transcript. Later operations on the call fail with
// ErrTranscriptNotFound.
func (a *Actor) Delete(ctx context.Context) error {
	err := a.do(ctx, func() error {
		a.deleted = true
		a.state = nil
		if err := a.registry.repo.DeleteTranscript(context.WithoutCancel(ctx), a.callSid); err != nil {
			a.logger.Error("Failed to delete stored transcript", zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.stop()
	a.registry.remove(a)
	a.logger.Info("Transcript deleted")
	return nil
}
