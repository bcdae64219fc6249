package transcript

import (
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain/repositories"
)

// Registry hands out the actor of each call, spawning it on first use.
// An actor spawned after a restart rehydrates from the repository.
type Registry struct {
	mu     sync.Mutex
	actors map[string]*Actor

	repo         repositories.TranscriptRepository
	llm          repositories.LargeLanguageModel
	logger       *zap.Logger
	instructions string
}

// NewRegistry creates a registry backed by repo. llm serves Summarize.
func NewRegistry(repo repositories.TranscriptRepository, llm repositories.LargeLanguageModel, logger *zap.Logger) *Registry {
	return &Registry{
		actors:       make(map[string]*Actor),
		repo:         repo,
		llm:          llm,
		logger:       logger,
		instructions: SystemInstructions,
	}
}

// Actor returns the actor owning callSid's transcript
func (r *Registry) Actor(callSid string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[callSid]; ok {
		return a
	}
	a := newActor(r, callSid)
	r.actors[callSid] = a
	return a
}

// Len returns the number of live actors
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Shutdown stops every actor without touching stored transcripts
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for callSid, a := range r.actors {
		a.stop()
		delete(r.actors, callSid)
	}
}

func (r *Registry) remove(a *Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.actors[a.callSid] == a {
		delete(r.actors, a.callSid)
	}
}
