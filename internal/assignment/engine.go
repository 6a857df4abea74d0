package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fieldops/dispatch-service/internal/matching"
	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/notify"
	"fieldops/dispatch-service/internal/store"
)

// Manual-review reasons written on the job.
const (
	ReviewNoProviders         = "no_providers_found"
	ReviewEscalationExhausted = "escalation_exhausted"
	ReviewNoNextCandidate     = "no_next_candidate"
)

// Ranker produces ranked candidates for a job.
type Ranker interface {
	FindCandidates(ctx context.Context, jobID string, opts matching.Options) (matching.Result, error)
}

// Store is the slice of persistence the engine needs.
type Store interface {
	store.JobReader
	store.DirectoryReader
	store.AssignmentStore
}

// Config carries the engine's tuning and injectable clock/id sources.
type Config struct {
	Policy    Policy
	OfferTTL  time.Duration
	MaxRounds int
	Now       func() time.Time
	NewID     func() string
}

// Engine commits decisions and drives the offer/escalation lifecycle.
// Every method is safe to call repeatedly with the same arguments.
type Engine struct {
	store  Store
	ranker Ranker
	notify notify.Publisher
	cfg    Config
	log    *slog.Logger
}

// NewEngine returns an Engine. Missing clock and id sources default to
// time.Now and random UUIDs.
func NewEngine(st Store, ranker Ranker, pub notify.Publisher, cfg Config, log *slog.Logger) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: st, ranker: ranker, notify: pub, cfg: cfg, log: log}
}

// ─── Decision ────────────────────────────────────────────────────────────────

// DecisionResult is a decision plus whatever it committed.
type DecisionResult struct {
	Decision   Decision               `json:"decision"`
	Ranked     []model.CandidateScore `json:"ranked"`
	Assignment *model.Assignment      `json:"assignment,omitempty"`
	Job        model.Job              `json:"job"`
	Replayed   bool                   `json:"replayed"`
}

// DecideAssignment ranks the candidates for a job, applies the decision rules
// and commits an auto-assignment when one matches. NO_CANDIDATE routes the job
// to manual review; OFFER_REQUIRED commits nothing. A job that is already
// assigned is never re-decided: an earlier auto-assignment is replayed, any
// other commitment is JOB_ALREADY_ASSIGNED.
func (e *Engine) DecideAssignment(ctx context.Context, jobID string) (DecisionResult, error) {
	now := e.cfg.Now()

	current, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return DecisionResult{}, err
	}
	if current.IsAssigned() {
		return e.committedDecision(ctx, current)
	}

	// The P1 rule looks at every eligible candidate, not just the top of the list.
	res, err := e.ranker.FindCandidates(ctx, jobID, matching.Options{All: true})
	if err != nil {
		return DecisionResult{}, err
	}
	d := Decide(res.Job, res.Ranked, res.ActiveRules, e.cfg.Policy, now)
	out := DecisionResult{Decision: d, Ranked: res.Ranked, Job: res.Job}

	switch d.Outcome {
	case OutcomeNoCandidate:
		job, err := e.flagForReview(ctx, res.Job, ReviewNoProviders, now)
		if err != nil {
			return DecisionResult{}, err
		}
		out.Job = job
		return out, nil

	case OutcomeOffer:
		return out, nil
	}

	a := model.Assignment{
		ID:          e.cfg.NewID(),
		JobID:       res.Job.ID,
		CandidateID: d.Target.CandidateID,
		ProviderID:  d.Target.ProviderID,
		Mode:        d.Mode,
		Method:      model.MethodAuto,
		State:       model.AssignmentAccepted,
		Rank:        d.Target.Rank,
		Score:       d.Target.Score,
		Reason:      d.Reason,
		AcceptedAt:  &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	committed, created, err := e.store.CommitAutoAssignment(ctx, a, model.JobAssignment{
		JobID: a.JobID, CandidateID: a.CandidateID, ProviderID: a.ProviderID,
	})
	if err != nil {
		return DecisionResult{}, fmt.Errorf("commit auto-assignment: %w", err)
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return DecisionResult{}, fmt.Errorf("reload job: %w", err)
	}

	e.log.Info("job auto-assigned",
		"job_id", jobID, "candidate_id", committed.CandidateID, "rule", d.Rule, "replayed", !created)
	out.Assignment = &committed
	out.Job = job
	out.Replayed = !created
	return out, nil
}

// committedDecision reports the auto-assignment that already owns job.
func (e *Engine) committedDecision(ctx context.Context, job model.Job) (DecisionResult, error) {
	all, err := e.store.ListAssignments(ctx, job.ID)
	if err != nil {
		return DecisionResult{}, err
	}
	for i := range all {
		a := all[i]
		if a.State != model.AssignmentAccepted || a.CandidateID != job.AssignedCandidateID || a.Method != model.MethodAuto {
			continue
		}
		target := model.CandidateScore{CandidateID: a.CandidateID, ProviderID: a.ProviderID, Rank: a.Rank, Score: a.Score}
		return DecisionResult{
			Decision:   auto(ruleOf(a.Reason), a.Mode, target, a.Reason),
			Ranked:     []model.CandidateScore{},
			Assignment: &a,
			Job:        job,
			Replayed:   true,
		}, nil
	}
	return DecisionResult{}, model.InvalidState(model.CodeJobAlreadyAssigned,
		fmt.Sprintf("job %s is already assigned to %s", job.ID, job.AssignedCandidateID))
}

// ─── Offers ──────────────────────────────────────────────────────────────────

// OfferRequest identifies the candidate to offer a job to. Rank and Score are
// the snapshot from the ranking that selected it.
type OfferRequest struct {
	JobID       string
	CandidateID string
	Rank        int
	Score       float64
}

// OfferResult is the open offer for a (job, candidate) pair.
type OfferResult struct {
	Assignment model.Assignment `json:"assignment"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	Replayed   bool             `json:"replayed"`
}

// SendOffer creates an OFFERED assignment and emits an OFFER_SENT intent. An
// open assignment for the same pair is returned instead of a duplicate.
func (e *Engine) SendOffer(ctx context.Context, req OfferRequest) (OfferResult, error) {
	now := e.cfg.Now()

	job, err := e.store.GetJob(ctx, req.JobID)
	if err != nil {
		return OfferResult{}, err
	}
	if job.IsCancelled() {
		return OfferResult{}, model.InvalidState(model.CodeJobCancelled, fmt.Sprintf("job %s is cancelled", job.ID))
	}
	if job.IsAssigned() {
		return OfferResult{}, model.InvalidState(model.CodeJobAlreadyAssigned,
			fmt.Sprintf("job %s is already assigned to %s", job.ID, job.AssignedCandidateID))
	}

	candidate, err := e.store.GetCandidate(ctx, req.CandidateID)
	if err != nil {
		return OfferResult{}, err
	}
	provider, err := e.store.GetProvider(ctx, candidate.ProviderID)
	if err != nil {
		return OfferResult{}, err
	}
	if provider.Status != model.ProviderActive {
		return OfferResult{}, model.InvalidState(model.CodeProviderInactive,
			fmt.Sprintf("provider %s is %s", provider.ID, provider.Status))
	}

	round, err := e.nextRound(ctx, job.ID)
	if err != nil {
		return OfferResult{}, err
	}
	offer := e.newOffer(job.ID, candidate, req.Rank, req.Score, round, model.MethodOffer, now)
	a, created, err := e.store.CreateOpenAssignment(ctx, offer)
	if err != nil {
		return OfferResult{}, fmt.Errorf("create offer: %w", err)
	}
	if created {
		e.publishOffer(ctx, model.TemplateOfferSent, a)
		e.log.Info("offer sent", "job_id", a.JobID, "candidate_id", a.CandidateID, "assignment_id", a.ID)
	}
	return OfferResult{Assignment: a, ExpiresAt: e.expiry(a), Replayed: !created}, nil
}

// nextRound numbers a new offer after every earlier one for the job, so the
// escalation bound holds across reject and re-offer cycles.
func (e *Engine) nextRound(ctx context.Context, jobID string) (int, error) {
	all, err := e.store.ListAssignments(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("list assignments: %w", err)
	}
	last := 0
	for _, a := range all {
		last = max(last, a.Round)
	}
	return last + 1, nil
}

func (e *Engine) newOffer(jobID string, c model.Candidate, rank int, score float64, round int, method model.AssignmentMethod, now time.Time) model.Assignment {
	expires := now.Add(e.cfg.OfferTTL)
	return model.Assignment{
		ID:          e.cfg.NewID(),
		JobID:       jobID,
		CandidateID: c.ID,
		ProviderID:  c.ProviderID,
		Mode:        model.ModeOffer,
		Method:      method,
		State:       model.AssignmentOffered,
		Rank:        rank,
		Score:       score,
		Round:       round,
		OfferedAt:   &now,
		ExpiresAt:   &expires,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// expiry is the absolute deadline of an offer, derived from its send time
// when the record carries none.
func (e *Engine) expiry(a model.Assignment) time.Time {
	if a.ExpiresAt != nil {
		return *a.ExpiresAt
	}
	if a.OfferedAt != nil {
		return a.OfferedAt.Add(e.cfg.OfferTTL)
	}
	return a.CreatedAt.Add(e.cfg.OfferTTL)
}

// Accept moves an OFFERED assignment to ACCEPTED and assigns the job.
// An offer past its deadline cannot be accepted even if the expiry signal has
// not been processed yet.
func (e *Engine) Accept(ctx context.Context, assignmentID string) (model.Assignment, error) {
	now := e.cfg.Now()
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return model.Assignment{}, err
	}
	if a.State == model.AssignmentExpired || (a.State == model.AssignmentOffered && !now.Before(e.expiry(a))) {
		return model.Assignment{}, model.InvalidState(model.CodeOfferExpired,
			fmt.Sprintf("offer %s expired at %s", a.ID, e.expiry(a).Format(time.RFC3339)))
	}
	if a.State != model.AssignmentOffered {
		return model.Assignment{}, model.InvalidState(model.CodeInvalidTransition,
			fmt.Sprintf("assignment %s is %s, only OFFERED can be accepted", a.ID, a.State))
	}

	accepted, err := e.store.TransitionAssignment(ctx, a.ID, model.AssignmentOffered, store.Transition{
		To: model.AssignmentAccepted,
		At: now,
		Job: &model.JobAssignment{
			JobID: a.JobID, CandidateID: a.CandidateID, ProviderID: a.ProviderID,
		},
	})
	if err != nil {
		return model.Assignment{}, err
	}
	e.log.Info("offer accepted", "job_id", a.JobID, "candidate_id", a.CandidateID, "assignment_id", a.ID)
	return accepted, nil
}

// Reject moves an open assignment to REJECTED. Re-running candidate selection
// is left to the caller.
func (e *Engine) Reject(ctx context.Context, assignmentID, reason string) (model.Assignment, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return model.Assignment{}, err
	}
	if err := checkTransition(a, model.AssignmentRejected); err != nil {
		return model.Assignment{}, err
	}
	rejected, err := e.store.TransitionAssignment(ctx, a.ID, a.State, store.Transition{
		To: model.AssignmentRejected, At: e.cfg.Now(), RejectReason: reason,
	})
	if err != nil {
		return model.Assignment{}, err
	}
	e.log.Info("offer rejected", "job_id", a.JobID, "candidate_id", a.CandidateID, "reason", reason)
	return rejected, nil
}

// ─── Expiry & escalation ─────────────────────────────────────────────────────

// EscalationStatus is the result of processing an expiry signal.
type EscalationStatus string

const (
	// EscalationEscalated: a follow-up offer is open.
	EscalationEscalated EscalationStatus = "ESCALATED"
	// EscalationExhausted: the job went to manual review.
	EscalationExhausted EscalationStatus = "EXHAUSTED"
	// EscalationSkipped: nothing to do (answered offer, or job no longer open).
	EscalationSkipped EscalationStatus = "SKIPPED"
)

// EscalationOutcome reports what an expiry signal produced.
type EscalationOutcome struct {
	Status   EscalationStatus  `json:"status"`
	Expired  model.Assignment  `json:"expired"`
	Next     *model.Assignment `json:"next,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Replayed bool              `json:"replayed"`
}

// ExpireOffer processes the expiry signal for an offer in the given round.
// The signal may be delivered more than once: only the delivery that moves
// the assignment out of OFFERED escalates, later ones report the existing
// outcome.
func (e *Engine) ExpireOffer(ctx context.Context, assignmentID string, round int) (EscalationOutcome, error) {
	now := e.cfg.Now()
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return EscalationOutcome{}, err
	}
	if a.Round != round {
		return EscalationOutcome{}, model.InvalidState(model.CodeRoundMismatch,
			fmt.Sprintf("assignment %s is in round %d, signal was for round %d", a.ID, a.Round, round))
	}

	if a.State == model.AssignmentOffered {
		if deadline := e.expiry(a); now.Before(deadline) {
			return EscalationOutcome{}, model.InvalidState(model.CodeOfferNotExpired,
				fmt.Sprintf("offer %s expires at %s", a.ID, deadline.Format(time.RFC3339)))
		}
		expired, err := e.store.TransitionAssignment(ctx, a.ID, model.AssignmentOffered, store.Transition{
			To: model.AssignmentExpired, At: now,
		})
		switch {
		case err == nil:
			e.log.Info("offer expired", "job_id", a.JobID, "assignment_id", a.ID, "round", a.Round)
			return e.escalate(ctx, expired, false, now)
		case errors.Is(err, model.ErrInvalidState):
			// Another delivery or an answer won the race.
			if a, err = e.store.GetAssignment(ctx, assignmentID); err != nil {
				return EscalationOutcome{}, err
			}
		default:
			return EscalationOutcome{}, err
		}
	}

	switch a.State {
	case model.AssignmentExpired:
		return e.resume(ctx, a, now)
	case model.AssignmentAccepted, model.AssignmentRejected:
		return EscalationOutcome{Status: EscalationSkipped, Expired: a, Reason: "offer already " + string(a.State)}, nil
	}
	return EscalationOutcome{}, checkTransition(a, model.AssignmentExpired)
}

// resume reports the outcome of an already-expired assignment, finishing the
// escalation if an earlier delivery stopped after the expiry commit.
func (e *Engine) resume(ctx context.Context, expired model.Assignment, now time.Time) (EscalationOutcome, error) {
	all, err := e.store.ListAssignments(ctx, expired.JobID)
	if err != nil {
		return EscalationOutcome{}, err
	}
	for i := range all {
		if all[i].Method == model.MethodEscalation && all[i].Round == expired.Round+1 {
			return EscalationOutcome{Status: EscalationEscalated, Expired: expired, Next: &all[i], Replayed: true}, nil
		}
	}
	job, err := e.store.GetJob(ctx, expired.JobID)
	if err != nil {
		return EscalationOutcome{}, err
	}
	if job.State == model.JobManualReview {
		return EscalationOutcome{Status: EscalationExhausted, Expired: expired, Reason: job.ReviewReason, Replayed: true}, nil
	}
	return e.escalate(ctx, expired, true, now)
}

func (e *Engine) escalate(ctx context.Context, expired model.Assignment, replayed bool, now time.Time) (EscalationOutcome, error) {
	job, err := e.store.GetJob(ctx, expired.JobID)
	if err != nil {
		return EscalationOutcome{}, err
	}
	if job.IsCancelled() || job.IsAssigned() {
		return EscalationOutcome{Status: EscalationSkipped, Expired: expired, Reason: "job is " + string(job.State), Replayed: replayed}, nil
	}
	if expired.Round >= e.cfg.MaxRounds {
		return e.exhaust(ctx, job, expired, ReviewEscalationExhausted, replayed, now)
	}

	previous, err := e.store.ListAssignments(ctx, job.ID)
	if err != nil {
		return EscalationOutcome{}, err
	}
	exclude := map[string]bool{expired.CandidateID: true}
	for _, a := range previous {
		exclude[a.CandidateID] = true
	}

	res, err := e.ranker.FindCandidates(ctx, job.ID, matching.Options{Limit: 1, Exclude: exclude})
	if err != nil {
		return EscalationOutcome{}, fmt.Errorf("find next candidate: %w", err)
	}
	if len(res.Ranked) == 0 {
		return e.exhaust(ctx, job, expired, ReviewNoNextCandidate, replayed, now)
	}
	next := res.Ranked[0]

	offer := e.newOffer(job.ID, model.Candidate{ID: next.CandidateID, ProviderID: next.ProviderID},
		next.Rank, next.Score, expired.Round+1, model.MethodEscalation, now)
	offer.Reason = "escalated from " + expired.CandidateID
	a, created, err := e.store.CreateOpenAssignment(ctx, offer)
	if err != nil {
		return EscalationOutcome{}, fmt.Errorf("create escalation offer: %w", err)
	}
	if created {
		e.publishOffer(ctx, model.TemplateOfferEscalated, a)
		e.log.Info("offer escalated",
			"job_id", job.ID, "from", expired.CandidateID, "to", a.CandidateID, "round", a.Round)
	}
	return EscalationOutcome{Status: EscalationEscalated, Expired: expired, Next: &a, Replayed: replayed || !created}, nil
}

func (e *Engine) exhaust(ctx context.Context, job model.Job, expired model.Assignment, reason string, replayed bool, now time.Time) (EscalationOutcome, error) {
	if _, err := e.flagForReview(ctx, job, reason, now); err != nil {
		if errors.Is(err, model.ErrInvalidState) {
			// The job was assigned or cancelled after the checks above.
			return EscalationOutcome{Status: EscalationSkipped, Expired: expired, Reason: model.CodeOf(err), Replayed: replayed}, nil
		}
		return EscalationOutcome{}, err
	}
	e.log.Warn("escalation exhausted", "job_id", job.ID, "round", expired.Round, "reason", reason)
	return EscalationOutcome{Status: EscalationExhausted, Expired: expired, Reason: reason, Replayed: replayed}, nil
}

// ─── Notifications ───────────────────────────────────────────────────────────

func (e *Engine) flagForReview(ctx context.Context, job model.Job, reason string, now time.Time) (model.Job, error) {
	flagged, err := e.store.FlagForReview(ctx, job.ID, reason, now)
	if err != nil {
		return model.Job{}, fmt.Errorf("flag for review: %w", err)
	}
	e.notify.Publish(ctx, model.Intent{
		ID:        e.cfg.NewID(),
		Recipient: notify.OperatorRecipient,
		Template:  model.TemplateManualReview,
		Variables: map[string]string{"jobId": job.ID, "reason": reason},
		CreatedAt: now,
	})
	return flagged, nil
}

func (e *Engine) publishOffer(ctx context.Context, template string, a model.Assignment) {
	e.notify.Publish(ctx, model.Intent{
		ID:        e.cfg.NewID(),
		Recipient: a.CandidateID,
		Template:  template,
		Variables: map[string]string{
			"jobId":        a.JobID,
			"assignmentId": a.ID,
			"round":        strconv.Itoa(a.Round),
			"expiresAt":    e.expiry(a).Format(time.RFC3339),
		},
		CreatedAt: a.CreatedAt,
	})
}
