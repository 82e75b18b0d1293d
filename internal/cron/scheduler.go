package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"virtualpos/internal/repository"
)

// Scheduler runs the background maintenance jobs.
type Scheduler struct {
	cron       *cron.Cron
	ops        *repository.OperationRepository
	schedule   string
	pendingTTL time.Duration
	logger     *zap.Logger
}

// New creates the cron scheduler. pendingTTL is how long a pending
// operation may wait for its confirmation before it is written off;
// schedule is a cron expression with a seconds field.
func New(ops *repository.OperationRepository, schedule string, pendingTTL time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		ops:        ops,
		schedule:   schedule,
		pendingTTL: pendingTTL,
		logger:     logger,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler...")

	// Expire stale pending operations. Abandoned carts and expired
	// Bitpay invoices never confirm; this keeps their rows from sitting
	// pending forever.
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.logger.Debug("Running: expire pending operations")
		s.expirePendingOperations()
	}); err != nil {
		s.logger.Error("invalid sweep schedule, sweeper disabled",
			zap.String("schedule", s.schedule), zap.Error(err))
	}

	s.cron.Start()
}

// Stop stops the scheduler and returns a context that closes once the
// running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) expirePendingOperations() {
	cutoff := time.Now().Add(-s.pendingTTL)
	n, err := s.ops.ExpirePendingOlderThan(cutoff)
	if err != nil {
		s.logger.Error("expire pending operations failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired pending operations", zap.Int64("count", n))
	}
}
