// Package scheduler wires up the cron job that periodically expires booking
// holds whose TTL elapsed without confirmation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// HoldSweeper expires elapsed PRE_BOOKED holds and reports how many.
type HoldSweeper interface {
	ExpireHolds(ctx context.Context) (int, error)
}

// Scheduler wraps robfig/cron and manages the sweep loop.
type Scheduler struct {
	cron    *cron.Cron
	sweeper HoldSweeper
	spec    string // cron spec, e.g. "@every 15m"
	log     *slog.Logger
}

// New creates a Scheduler that sweeps on the given cron spec.
func New(sweeper HoldSweeper, spec string, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cron.DefaultLogger), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		sweeper: sweeper,
		spec:    spec,
		log:     log,
	}
}

// Start registers the job and starts the scheduler. Also runs one sweep
// immediately so holds that lapsed while the service was down are released
// without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info("[scheduler] cron started", "spec", s.spec)

	go s.Sweep(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler and waits for a running sweep.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("[scheduler] cron stopped")
}

// Sweep runs one expiry pass and returns the number of holds expired.
func (s *Scheduler) Sweep(ctx context.Context) int {
	n, err := s.sweeper.ExpireHolds(ctx)
	if err != nil {
		s.log.Error("[scheduler] hold sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		s.log.Info("[scheduler] expired booking holds", "count", n)
	}
	return n
}
