package backup

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs automatic backups on timers: lightweight snapshots
// frequently, complete snapshots less often. Retention pruning happens
// inside each Create call.
type Scheduler struct {
	manager *Manager
	logger  *slog.Logger

	lightweightEvery time.Duration
	completeEvery    time.Duration
}

// NewScheduler returns a Scheduler over the given manager.
func NewScheduler(manager *Manager, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		manager:          manager,
		logger:           logger,
		lightweightEvery: manager.cfg.LightweightBackupInterval(),
		completeEvery:    manager.cfg.CompleteBackupInterval(),
	}
}

// Start runs the backup timers until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	light := time.NewTicker(s.lightweightEvery)
	defer light.Stop()
	complete := time.NewTicker(s.completeEvery)
	defer complete.Stop()

	s.logger.Info("backup scheduler started",
		slog.Duration("lightweight_every", s.lightweightEvery),
		slog.Duration("complete_every", s.completeEvery),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-light.C:
			s.runOnce(KindLightweight)
		case <-complete.C:
			s.runOnce(KindComplete)
		}
	}
}

// RunBeforeRiskyOperation takes an immediate complete snapshot. Called ahead
// of migrations and restores.
func (s *Scheduler) RunBeforeRiskyOperation() (string, error) {
	return s.manager.Create(KindComplete, TriggerAuto)
}

func (s *Scheduler) runOnce(kind Kind) {
	if _, err := s.manager.Create(kind, TriggerAuto); err != nil {
		s.logger.Error("scheduled backup failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
