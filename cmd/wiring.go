package main

import (
	"context"
	"fmt"
	"log/slog"

	"fieldops/dispatch-service/internal/assignment"
	"fieldops/dispatch-service/internal/config"
	"fieldops/dispatch-service/internal/db"
	"fieldops/dispatch-service/internal/dispatch"
	"fieldops/dispatch-service/internal/matching"
	"fieldops/dispatch-service/internal/notify"
	"fieldops/dispatch-service/internal/slots"
	"fieldops/dispatch-service/internal/store"
	"fieldops/dispatch-service/internal/task"
)

// app holds the wired dispatch core and the connections to release on exit.
type app struct {
	svc       *dispatch.Service
	allocator *slots.Allocator
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build connects the backing stores and assembles the dispatch core.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	var (
		st    store.Store
		pub   notify.Publisher
		cache task.ResultCache
	)

	if cfg.Memory {
		log.Warn("[dispatch-service] Running with the in-memory store; state is lost on exit")
		st = store.NewMemoryStore()
		pub = notify.NewRecorder(log)
		cache = task.NewMemoryResultCache(cfg.Tuning.ResultCacheTTL, nil)
	} else {
		// ── PostgreSQL ───────────────────────────────────────────────────────
		log.Info("[dispatch-service] Connecting to PostgreSQL…")
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		log.Info("[dispatch-service] PostgreSQL connected ✓")

		// ── Redis ────────────────────────────────────────────────────────────
		log.Info("[dispatch-service] Connecting to Redis…")
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		log.Info("[dispatch-service] Redis connected ✓")

		st = store.NewPostgresStore(pool)
		pub = notify.NewRedisPublisher(rdb, log)
		cache = task.NewRedisResultCache(rdb, cfg.Tuning.ResultCacheTTL)
	}

	t := cfg.Tuning
	w := matching.Weights{Capacity: t.Weights.Capacity, Quality: t.Weights.Quality, Distance: t.Weights.Distance}
	matcher := matching.NewMatcher(st, st, st, matching.NewScorer(w, nil), t.CandidateLimit, nil, log)

	engine := assignment.NewEngine(st, matcher, pub, assignment.Config{
		Policy: assignment.Policy{
			AutoAcceptCountries:  t.AutoAcceptCountries,
			UrgentScoreThreshold: t.UrgentScoreThreshold,
		},
		OfferTTL:  t.OfferTTL(),
		MaxRounds: t.MaxEscalationRounds,
	}, log)

	a.allocator = slots.NewAllocator(st, slots.Config{
		Shifts:        shiftTable(t.Shifts),
		HoldTTL:       t.HoldTTL(),
		LookaheadDays: t.LookaheadDays,
	}, log)

	runner := task.NewRunner(task.Policy{
		MaxRetries: t.MaxRetries,
		Base:       t.BackoffBase,
		Cap:        t.BackoffCap,
		Timeout:    t.TaskTimeout,
	}, log, task.WithCache(cache))

	a.svc = dispatch.NewService(matcher, engine, a.allocator, runner)
	return a, nil
}

func shiftTable(in []config.Shift) slots.ShiftTable {
	out := make(slots.ShiftTable, 0, len(in))
	for _, s := range in {
		out = append(out, slots.Shift{Name: s.Name, Range: slots.Range{Start: s.Start, End: s.End}})
	}
	return out
}
