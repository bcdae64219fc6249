package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

// cronParser accepts 5-field expressions and descriptors such as @every 5m
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Janitor purges the journals of terminated calls and ends calls whose
// deadline passed while no process was running them.
type Janitor struct {
	manager   *Manager
	store     repositories.JournalRepository
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
}

// NewJanitor creates a janitor running on the given cron schedule
func NewJanitor(manager *Manager, store repositories.JournalRepository, schedule string, retention time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		manager:   manager,
		store:     store,
		schedule:  schedule,
		retention: retention,
		cron:      cron.New(cron.WithParser(cronParser)),
		logger:    logger,
	}
}

// Start schedules the cleanup
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.runCleanup); err != nil {
		return fmt.Errorf("janitor: schedule %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.logger.Info("Journal janitor started", zap.String("schedule", j.schedule))
	return nil
}

// Stop waits for a running cleanup to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("Journal janitor stopped")
}

func (j *Janitor) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	purged, expired, err := j.RunOnce(ctx, time.Now())
	if err != nil {
		j.logger.Error("Journal cleanup failed", zap.Error(err))
		return
	}
	j.logger.Info("Journal cleanup completed", zap.Int("purged", purged), zap.Int("expired", expired))
}

// RunOnce purges terminated journals older than the retention and resumes
// expired open calls so their orchestrators terminate them.
func (j *Janitor) RunOnce(ctx context.Context, now time.Time) (purged, expired int, err error) {
	purged, err = j.store.PurgeTerminated(ctx, now.Add(-j.retention))
	if err != nil {
		return 0, 0, fmt.Errorf("janitor: purge: %w", err)
	}

	open, err := j.store.ListSessions(ctx,
		entities.SessionStatusInitializing,
		entities.SessionStatusActive,
		entities.SessionStatusTerminating,
	)
	if err != nil {
		return purged, 0, fmt.Errorf("janitor: list open sessions: %w", err)
	}

	for _, s := range open {
		if !s.IsExpired(now) {
			continue
		}
		if _, running := j.manager.Get(s.CallSid); running {
			continue
		}
		if _, err := j.manager.Start(ctx, s.CallSid, StartOptions{From: s.From, To: s.To}); err != nil {
			j.logger.Warn("Failed to expire session", zap.String("callSid", s.CallSid), zap.Error(err))
			continue
		}
		expired++
	}
	return purged, expired, nil
}
