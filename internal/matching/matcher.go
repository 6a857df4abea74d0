package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/store"
)

// DefaultLimit caps the ranked list when the caller does not.
const DefaultLimit = 10

// Options tune one FindCandidates call.
type Options struct {
	Limit         int
	// All returns every eligible candidate and ignores Limit.
	All           bool
	IncludeFunnel bool
	// Exclude drops candidates after ranking; ranks keep their original value.
	Exclude map[string]bool
}

// Result is the output of one matching run.
type Result struct {
	Job    model.Job
	Ranked []model.CandidateScore
	// ActiveRules are the priority rules for the job's service type valid now.
	ActiveRules []model.PriorityRule
	Funnel      *Funnel
}

// Matcher runs eligibility and scoring against the store.
type Matcher struct {
	jobs   store.JobReader
	dir    store.DirectoryReader
	audit  store.FunnelWriter
	scorer Scorer
	limit  int
	now    func() time.Time
	log    *slog.Logger
}

// NewMatcher returns a Matcher. limit <= 0 uses DefaultLimit.
func NewMatcher(jobs store.JobReader, dir store.DirectoryReader, audit store.FunnelWriter, scorer Scorer, limit int, now func() time.Time, log *slog.Logger) *Matcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{jobs: jobs, dir: dir, audit: audit, scorer: scorer, limit: limit, now: now, log: log}
}

// FindCandidates returns the ranked eligible candidates for a job.
func (m *Matcher) FindCandidates(ctx context.Context, jobID string, opts Options) (Result, error) {
	started := time.Now()
	now := m.now()

	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("load job: %w", err)
	}
	if job.IsCancelled() {
		return Result{}, model.InvalidState(model.CodeJobCancelled, fmt.Sprintf("job %s is cancelled", job.ID))
	}

	candidates, err := m.dir.ListCandidates(ctx, store.CandidateFilter{Country: job.Country})
	if err != nil {
		return Result{}, fmt.Errorf("list candidates: %w", err)
	}

	providerIDs := make([]string, 0, len(candidates))
	seen := make(map[string]bool)
	for _, c := range candidates {
		if !seen[c.ProviderID] {
			seen[c.ProviderID] = true
			providerIDs = append(providerIDs, c.ProviderID)
		}
	}

	var (
		providers map[string]model.Provider
		rules     []model.PriorityRule
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := m.dir.GetProviders(gCtx, providerIDs)
		if err != nil {
			return fmt.Errorf("load providers: %w", err)
		}
		providers = p
		return nil
	})
	g.Go(func() error {
		r, err := m.dir.ListPriorities(gCtx, job.ServiceType)
		if err != nil {
			return fmt.Errorf("load priorities: %w", err)
		}
		rules = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	funnel := &Funnel{RunID: uuid.NewString(), JobID: job.ID, TotalEvaluated: len(candidates)}
	scores := make([]model.CandidateScore, 0, len(candidates))
	for _, v := range Evaluate(job, candidates, providers, rules, now) {
		funnel.record(v.Candidate.ID, StepEligibility, v.Eligible, v.Reasons, now)
		if !v.Eligible {
			continue
		}
		funnel.TotalEligible++
		s := m.scorer.Score(job, v.Candidate)
		funnel.record(v.Candidate.ID, StepScoring, true, s.Reasons, now)
		scores = append(scores, s)
	}
	Rank(scores)

	limit := opts.Limit
	if limit <= 0 {
		limit = m.limit
	}
	if opts.All {
		limit = len(scores)
	}
	ranked := make([]model.CandidateScore, 0, min(limit, len(scores)))
	for _, s := range scores {
		if len(ranked) == limit {
			break
		}
		if opts.Exclude[s.CandidateID] {
			continue
		}
		ranked = append(ranked, s)
	}

	active := make([]model.PriorityRule, 0, len(rules))
	for _, r := range rules {
		if r.ActiveAt(now) {
			active = append(active, r)
		}
	}

	funnel.Duration = time.Since(started)
	m.log.Debug("matching run complete",
		"job_id", job.ID, "run_id", funnel.RunID,
		"evaluated", funnel.TotalEvaluated, "eligible", funnel.TotalEligible,
		"returned", len(ranked), "duration", funnel.Duration)

	res := Result{Job: job, Ranked: ranked, ActiveRules: active}
	if opts.IncludeFunnel {
		if err := m.audit.AppendFunnel(ctx, funnel.Entries); err != nil {
			return Result{}, fmt.Errorf("append funnel: %w", err)
		}
		res.Funnel = funnel
	}
	return res, nil
}
