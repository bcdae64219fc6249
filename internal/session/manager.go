package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain"
	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
	"github.com/satriahrh/callrelay/internal/responder"
	"github.com/satriahrh/callrelay/internal/transcript"
	"github.com/satriahrh/callrelay/internal/workflow"
)

// Manager owns the orchestrators of every live call
type Manager struct {
	logger      *zap.Logger
	store       repositories.JournalRepository
	transcripts *transcript.Registry
	responder   *responder.Responder
	sink        repositories.OutboundSink
	cfg         Config

	sessions  map[string]*Orchestrator
	eventChan chan Event
	mu        sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager
func NewManager(
	store repositories.JournalRepository,
	transcripts *transcript.Registry,
	responder *responder.Responder,
	sink repositories.OutboundSink,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:      logger,
		store:       store,
		transcripts: transcripts,
		responder:   responder,
		sink:        sink,
		cfg:         cfg,
		sessions:    make(map[string]*Orchestrator),
		eventChan:   make(chan Event, 100),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start runs the orchestrator of callSid. Starting a running call returns
// its orchestrator; a call with a recorded journal is resumed from it.
func (m *Manager) Start(ctx context.Context, callSid string, opts StartOptions) (*Orchestrator, error) {
	if callSid == "" {
		return nil, errors.New("session: call sid is required")
	}

	if o, exists := m.Get(callSid); exists {
		return o, nil
	}
	if m.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}

	// Storage round-trips happen outside the lock; the map is checked again
	// before the orchestrator is inserted.
	existing, err := m.store.GetSession(ctx, callSid)
	switch {
	case err == nil && !existing.IsOpen():
		return nil, ErrSessionClosed
	case err != nil && !errors.Is(err, repositories.ErrNotFound):
		return nil, fmt.Errorf("session: load %s: %w", callSid, err)
	}

	j, err := workflow.Open(ctx, m.store, callSid, m.logger.With(zap.String("callSid", callSid)))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	if o, exists := m.sessions[callSid]; exists {
		return o, nil
	}

	o := newOrchestrator(m, j, callSid)
	m.sessions[callSid] = o

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		o.run(m.ctx, opts)
	}()

	m.emitEvent(callSid, EventSessionStarted, map[string]interface{}{"resumed": j.Replaying()})
	m.logger.Info("Session started", zap.String("callSid", callSid), zap.Bool("resumed", j.Replaying()))
	return o, nil
}

// Get returns the running orchestrator of callSid
func (m *Manager) Get(callSid string) (*Orchestrator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, exists := m.sessions[callSid]
	return o, exists
}

// Deliver hands a classified relay event to its call. A setup event starts
// the call when no webhook did. Interrupts take the bypass path.
func (m *Manager) Deliver(ctx context.Context, in domain.Inbound) error {
	if setup, ok := in.Event.(*domain.Setup); ok {
		o, err := m.Start(ctx, in.CallSid, StartOptions{From: setup.From, To: setup.To})
		if err != nil {
			return err
		}
		return o.deliver(ctx, setup)
	}

	o, exists := m.Get(in.CallSid)
	if !exists {
		return ErrSessionNotFound
	}
	return o.deliver(ctx, in.Event)
}

// Interrupt cancels the active turn of callSid after noting what the
// caller heard. It never waits behind the call's wait loop.
func (m *Manager) Interrupt(ctx context.Context, callSid string, ev *domain.Interrupt) error {
	o, exists := m.Get(callSid)
	if !exists {
		return ErrSessionNotFound
	}
	return o.interrupt(ctx, ev)
}

// Signal raises the terminal signal of callSid with the call's final status
func (m *Manager) Signal(callSid, status string) error {
	o, exists := m.Get(callSid)
	if !exists {
		return ErrSessionNotFound
	}
	o.signal(status)
	return nil
}

// Recover resumes every call left open by a previous process
func (m *Manager) Recover(ctx context.Context) (int, error) {
	open, err := m.store.ListSessions(ctx,
		entities.SessionStatusInitializing,
		entities.SessionStatusActive,
		entities.SessionStatusTerminating,
	)
	if err != nil {
		return 0, fmt.Errorf("session: list open sessions: %w", err)
	}

	resumed := 0
	for _, s := range open {
		if _, running := m.Get(s.CallSid); running {
			continue
		}
		if _, err := m.Start(ctx, s.CallSid, StartOptions{From: s.From, To: s.To}); err != nil {
			m.logger.Error("Failed to resume session", zap.String("callSid", s.CallSid), zap.Error(err))
			continue
		}
		resumed++
	}

	m.logger.Info("Sessions recovered", zap.Int("resumed", resumed), zap.Int("open", len(open)))
	return resumed, nil
}

// List returns a snapshot of every running call ordered by call sid
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	snapshots := make([]Snapshot, 0, len(m.sessions))
	for _, o := range m.sessions {
		snapshots = append(snapshots, o.Snapshot())
	}
	m.mu.RUnlock()

	slices.SortFunc(snapshots, func(a, b Snapshot) int {
		return strings.Compare(a.CallSid, b.CallSid)
	})
	return snapshots
}

// Shutdown suspends every orchestrator. Their calls stay open and are
// resumed by Recover in the next process.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("Session manager stopped")
}

func (m *Manager) remove(o *Orchestrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[o.callSid] == o {
		delete(m.sessions, o.callSid)
	}
}

func (m *Manager) emitEvent(callSid, eventType string, data interface{}) {
	event := Event{
		CallSid:   callSid,
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	select {
	case m.eventChan <- event:
	default:
		m.logger.Warn("Event channel full, dropping event", zap.String("type", eventType))
	}
}

// EventChannel returns the channel of lifecycle events
func (m *Manager) EventChannel() <-chan Event {
	return m.eventChan
}

// StartEventListener logs lifecycle events until ctx is done
func (m *Manager) StartEventListener(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-m.eventChan:
				m.handleEvent(event)
			}
		}
	}()
}

func (m *Manager) handleEvent(event Event) {
	eventData, _ := json.Marshal(event.Data)
	logger := m.logger.With(zap.String("callSid", event.CallSid))

	switch event.Type {
	case EventSessionStarted, EventSessionActive, EventSessionTerminated, EventSessionEscalated:
		logger.Info("Session event", zap.String("type", event.Type), zap.ByteString("data", eventData))
	case EventTurnFailed, EventSessionSuspended:
		logger.Warn("Session event", zap.String("type", event.Type), zap.ByteString("data", eventData))
	default:
		logger.Debug("Session event", zap.String("type", event.Type), zap.ByteString("data", eventData))
	}
}
