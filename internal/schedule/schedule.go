// Package schedule runs discovery cycles on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/discovery"
)

// DefaultSpec runs one discovery cycle a day.
const DefaultSpec = "@every 24h"

// Cycler runs one full discovery cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (discovery.CycleReport, error)
}

// Scheduler wraps robfig/cron. At most one cycle runs at a time; ticks that
// land while a cycle is in flight are dropped.
type Scheduler struct {
	cycler  Cycler
	spec    string
	logger  *zap.Logger
	running atomic.Bool
}

// New creates a Scheduler. An empty spec uses DefaultSpec.
func New(cycler Cycler, spec string, logger *zap.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cycler: cycler, spec: spec, logger: logger}
}

// Run starts the cron, runs one cycle immediately, and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{s.logger}))
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("add cron schedule %q: %w", s.spec, err)
	}
	c.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec))

	go s.RunOnce(ctx)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce runs a cycle unless one is already in flight. It reports whether a
// cycle ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("discovery cycle still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	report, err := s.cycler.RunCycle(ctx)
	if err != nil {
		s.logger.Error("discovery cycle aborted", zap.Error(err))
		return true
	}
	s.logger.Info("discovery cycle complete",
		zap.Int("keywords", len(report.Keywords)),
		zap.Int("failed", report.Failed()),
		zap.Int("enqueued", report.Enqueued()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return true
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
