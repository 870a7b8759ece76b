// Package worker runs the retry queue sweep on a schedule.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"postbell/internal/queue"
)

// Sweeper is the queue operation triggered on each tick.
type Sweeper interface {
	Sweep(ctx context.Context) (queue.SweepResult, error)
}

type Scheduler struct {
	sweeper Sweeper
	spec    string
	log     *zap.Logger
	parser  cron.Parser

	mu sync.Mutex
	c  *cron.Cron
}

// NewScheduler validates spec (standard cron or descriptors such as
// "@every 1m").
func NewScheduler(sweeper Sweeper, spec string, log *zap.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return &Scheduler{
		sweeper: sweeper,
		spec:    spec,
		log:     log,
		parser:  parser,
	}, nil
}

// Start runs sweeps until Stop. A tick is skipped while the previous sweep
// is still running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c

	s.log.Info("sweep scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("sweep scheduler stopped")
}

// RunOnce performs a single sweep, logging its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.log.Error("queue sweep failed", zap.Error(err))
		return
	}
	if res.Claimed > 0 {
		s.log.Info("queue sweep finished",
			zap.Int("claimed", res.Claimed),
			zap.Int("sent", res.Sent),
			zap.Int("retried", res.Retried),
			zap.Int("failed", res.Failed),
		)
	}
}
