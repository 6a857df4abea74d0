// Package task runs externally invoked units of work as named tasks: each
// call carries an idempotency key, gets a per-attempt timeout, and transient
// failures are retried with capped exponential backoff. Domain errors are
// surfaced on the first attempt.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fieldops/dispatch-service/internal/model"
)

// Policy bounds the retries of one task invocation.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
	Timeout    time.Duration
}

// DefaultPolicy is three retries with 1s..60s backoff and a 30s attempt timeout.
var DefaultPolicy = Policy{MaxRetries: 3, Base: time.Second, Cap: time.Minute, Timeout: 30 * time.Second}

// Backoff returns the wait before retry number attempt (0-based):
// min(Base·2^attempt, Cap).
func (p Policy) Backoff(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		if d >= p.Cap/2 {
			return p.Cap
		}
		d *= 2
	}
	return min(d, p.Cap)
}

// Failure is the typed error surfaced to callers once a task gives up.
type Failure struct {
	Task          string
	Key           string
	Code          string
	Kind          model.Kind
	Attempts      int
	NoRetriesLeft bool
	Err           error
}

func (f *Failure) Error() string {
	if f.NoRetriesLeft {
		return fmt.Sprintf("task %s: no retries left after %d attempts: %v", f.Task, f.Attempts, f.Err)
	}
	return fmt.Sprintf("task %s: %v", f.Task, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner executes tasks under a retry policy and an optional result cache.
type Runner struct {
	policy Policy
	cache  ResultCache
	sleep  Sleeper
	log    *slog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithSleeper replaces the backoff wait; tests use it to avoid real sleeps.
func WithSleeper(s Sleeper) Option { return func(r *Runner) { r.sleep = s } }

// WithCache stores successful results under the task's idempotency key.
func WithCache(c ResultCache) Option { return func(r *Runner) { r.cache = c } }

func NewRunner(p Policy, log *slog.Logger, opts ...Option) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{policy: p, sleep: sleepContext, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run invokes fn as the task name with idempotency key key. A cached result
// for (name, key) is returned without calling fn.
func Run[T any](ctx context.Context, r *Runner, name, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if r.cache != nil && key != "" {
		var cached T
		hit, err := r.cache.Get(ctx, name, key, &cached)
		if err != nil {
			r.log.Warn("task cache read failed", "task", name, "key", key, "err", err)
		} else if hit {
			return cached, nil
		}
	}

	for attempt := 0; ; attempt++ {
		out, err := runOnce(ctx, r.policy.Timeout, fn)
		if err == nil {
			if r.cache != nil && key != "" {
				if err := r.cache.Put(ctx, name, key, out); err != nil {
					r.log.Warn("task cache write failed", "task", name, "key", key, "err", err)
				}
			}
			return out, nil
		}

		if !Retryable(err) || ctx.Err() != nil {
			return zero, failure(name, key, attempt+1, false, err)
		}
		if attempt >= r.policy.MaxRetries {
			r.log.Error("task gave up", "task", name, "key", key, "attempts", attempt+1, "err", err)
			return zero, failure(name, key, attempt+1, true, err)
		}

		wait := r.policy.Backoff(attempt)
		r.log.Warn("task attempt failed, retrying",
			"task", name, "key", key, "attempt", attempt+1, "backoff", wait, "err", err)
		if err := r.sleep(ctx, wait); err != nil {
			return zero, failure(name, key, attempt+1, false, err)
		}
	}
}

func runOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func failure(name, key string, attempts int, exhausted bool, err error) *Failure {
	f := &Failure{
		Task:          name,
		Key:           key,
		Code:          model.CodeOf(err),
		Kind:          model.KindOf(err),
		Attempts:      attempts,
		NoRetriesLeft: exhausted,
		Err:           err,
	}
	if f.Kind == "" && Retryable(err) {
		f.Kind = model.KindTransient
	}
	if f.Code == "" && f.Kind == model.KindTransient {
		f.Code = model.CodeStoreUnavailable
	}
	return f
}
