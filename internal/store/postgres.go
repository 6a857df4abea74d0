package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldops/dispatch-service/internal/model"
)

// PostgresStore implements Store on a pgx connection pool. The schema is
// managed outside this service; the unit-of-work methods rely on:
//
//	CREATE UNIQUE INDEX assignments_open_pair ON assignments (job_id, work_team_id)
//	  WHERE state IN ('PENDING', 'OFFERED');
//	CREATE UNIQUE INDEX bookings_idempotency_key ON bookings (idempotency_key);
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

const jobColumns = `
	id, service_type, required_skills, COALESCE(postal_code, ''), country, business_unit,
	urgency, state, COALESCE(assigned_work_team_id::text, ''), COALESCE(assigned_provider_id::text, ''),
	COALESCE(scheduled_date::text, ''), COALESCE(scheduled_start_slot, 0), COALESCE(scheduled_end_slot, 0),
	COALESCE(review_reason, ''), updated_at`

func scanJob(row rowScanner) (model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID, &j.ServiceType, &j.RequiredSkills, &j.PostalCode, &j.Country, &j.BusinessUnit,
		&j.Urgency, &j.State, &j.AssignedCandidateID, &j.AssignedProviderID,
		&j.ScheduledDate, &j.ScheduledStartSlot, &j.ScheduledEndSlot,
		&j.ReviewReason, &j.UpdatedAt,
	)
	return j, err
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, model.NotFound(model.CodeJobNotFound, fmt.Sprintf("job %s not found", id))
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("getJob: %w", err)
	}
	return j, nil
}

// lockJob loads the job row FOR UPDATE inside tx.
func lockJob(ctx context.Context, tx pgx.Tx, id string) (model.Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, model.NotFound(model.CodeJobNotFound, fmt.Sprintf("job %s not found", id))
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("lockJob: %w", err)
	}
	return j, nil
}

func checkAssignable(job model.Job, candidateID string) error {
	if job.IsCancelled() {
		return model.InvalidState(model.CodeJobCancelled, fmt.Sprintf("job %s is cancelled", job.ID))
	}
	if job.IsAssigned() && job.AssignedCandidateID != candidateID {
		return model.InvalidState(model.CodeJobAlreadyAssigned,
			fmt.Sprintf("job %s is already assigned to %s", job.ID, job.AssignedCandidateID))
	}
	return nil
}

func assignJob(ctx context.Context, tx pgx.Tx, upd model.JobAssignment, at time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE jobs
		 SET state = CASE WHEN state = 'SCHEDULED' THEN state ELSE 'ASSIGNED' END,
		     assigned_work_team_id = $2, assigned_provider_id = $3,
		     review_reason = NULL, updated_at = $4
		 WHERE id = $1`,
		upd.JobID, upd.CandidateID, upd.ProviderID, at,
	)
	if err != nil {
		return fmt.Errorf("assignJob: %w", err)
	}
	return nil
}

// ─── Directory ───────────────────────────────────────────────────────────────

func (s *PostgresStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT w.id, w.provider_id, w.name, w.skills, w.max_daily_jobs, w.postal_codes
		 FROM work_teams w
		 JOIN providers p ON p.id = w.provider_id
		 WHERE $1 = '' OR p.country = $1
		 ORDER BY w.id`,
		filter.Country,
	)
	if err != nil {
		return nil, fmt.Errorf("listCandidates query: %w", err)
	}
	defer rows.Close()

	candidates := make([]model.Candidate, 0)
	index := make(map[string]int)
	ids := make([]string, 0)
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ID, &c.ProviderID, &c.Name, &c.Skills, &c.MaxDailyJobs, &c.PostalCodes); err != nil {
			return nil, fmt.Errorf("listCandidates scan: %w", err)
		}
		index[c.ID] = len(candidates)
		ids = append(ids, c.ID)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listCandidates rows: %w", err)
	}
	if len(ids) == 0 {
		return candidates, nil
	}

	perf, err := s.skillStats(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, records := range perf {
		candidates[index[id]].Performance = records
	}
	return candidates, nil
}

func (s *PostgresStore) skillStats(ctx context.Context, ids []string) (map[string][]model.SkillPerformance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT work_team_id, skill, completed_jobs, quality_rating, rating_count
		 FROM work_team_skill_stats
		 WHERE work_team_id = ANY($1)
		 ORDER BY work_team_id, skill`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("skillStats query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.SkillPerformance)
	for rows.Next() {
		var id string
		var p model.SkillPerformance
		if err := rows.Scan(&id, &p.Skill, &p.CompletedJobs, &p.QualityRating, &p.RatingCount); err != nil {
			return nil, fmt.Errorf("skillStats scan: %w", err)
		}
		out[id] = append(out[id], p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (model.Candidate, error) {
	var c model.Candidate
	err := s.pool.QueryRow(ctx,
		`SELECT id, provider_id, name, skills, max_daily_jobs, postal_codes FROM work_teams WHERE id = $1`, id,
	).Scan(&c.ID, &c.ProviderID, &c.Name, &c.Skills, &c.MaxDailyJobs, &c.PostalCodes)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Candidate{}, model.NotFound(model.CodeCandidateNotFound, fmt.Sprintf("work team %s not found", id))
	}
	if err != nil {
		return model.Candidate{}, fmt.Errorf("getCandidate: %w", err)
	}
	perf, err := s.skillStats(ctx, []string{id})
	if err != nil {
		return model.Candidate{}, err
	}
	c.Performance = perf[id]
	return c, nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, country, business_unit FROM providers WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Status, &p.Country, &p.BusinessUnit)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Provider{}, model.NotFound(model.CodeProviderNotFound, fmt.Sprintf("provider %s not found", id))
	}
	if err != nil {
		return model.Provider{}, fmt.Errorf("getProvider: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetProviders(ctx context.Context, ids []string) (map[string]model.Provider, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, country, business_unit FROM providers WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("getProviders query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Provider, len(ids))
	for rows.Next() {
		var p model.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Country, &p.BusinessUnit); err != nil {
			return nil, fmt.Errorf("getProviders scan: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListPriorities(ctx context.Context, serviceType string) ([]model.PriorityRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT work_team_id, service_type, level, valid_from, valid_until
		 FROM work_team_priorities WHERE service_type = $1`,
		serviceType,
	)
	if err != nil {
		return nil, fmt.Errorf("listPriorities query: %w", err)
	}
	defer rows.Close()

	out := make([]model.PriorityRule, 0)
	for rows.Next() {
		var r model.PriorityRule
		if err := rows.Scan(&r.CandidateID, &r.ServiceType, &r.Level, &r.ValidFrom, &r.ValidUntil); err != nil {
			return nil, fmt.Errorf("listPriorities scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAbsences(ctx context.Context, candidateID, fromDate, toDate string) ([]model.PlannedAbsence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT work_team_id, start_date::text, end_date::text, approved
		 FROM planned_absences
		 WHERE work_team_id = $1 AND end_date >= $2::date AND start_date <= $3::date`,
		candidateID, fromDate, toDate,
	)
	if err != nil {
		return nil, fmt.Errorf("listAbsences query: %w", err)
	}
	defer rows.Close()

	out := make([]model.PlannedAbsence, 0)
	for rows.Next() {
		var a model.PlannedAbsence
		if err := rows.Scan(&a.CandidateID, &a.StartDate, &a.EndDate, &a.Approved); err != nil {
			return nil, fmt.Errorf("listAbsences scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── Assignments ─────────────────────────────────────────────────────────────

const assignmentColumns = `
	id, job_id, work_team_id, provider_id, mode, method, state, rank, score, round,
	COALESCE(reason, ''), COALESCE(reject_reason, ''),
	offered_at, expires_at, accepted_at, rejected_at, expired_at, created_at, updated_at`

func scanAssignment(row rowScanner) (model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(
		&a.ID, &a.JobID, &a.CandidateID, &a.ProviderID, &a.Mode, &a.Method, &a.State,
		&a.Rank, &a.Score, &a.Round, &a.Reason, &a.RejectReason,
		&a.OfferedAt, &a.ExpiresAt, &a.AcceptedAt, &a.RejectedAt, &a.ExpiredAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

const insertAssignment = `
	INSERT INTO assignments (id, job_id, work_team_id, provider_id, mode, method, state, rank, score, round,
	                         reason, offered_at, expires_at, accepted_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14, $15, $15)`

func insertArgs(a model.Assignment) []any {
	return []any{
		a.ID, a.JobID, a.CandidateID, a.ProviderID, a.Mode, a.Method, a.State, a.Rank, a.Score, a.Round,
		a.Reason, a.OfferedAt, a.ExpiresAt, a.AcceptedAt, a.CreatedAt,
	}
}

func (s *PostgresStore) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	a, err := scanAssignment(s.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Assignment{}, model.NotFound(model.CodeAssignmentNotFound, fmt.Sprintf("assignment %s not found", id))
	}
	if err != nil {
		return model.Assignment{}, fmt.Errorf("getAssignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context, jobID string) ([]model.Assignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE job_id = $1 ORDER BY round, created_at`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listAssignments query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("listAssignments scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateOpenAssignment(ctx context.Context, a model.Assignment) (model.Assignment, bool, error) {
	created, err := scanAssignment(s.pool.QueryRow(ctx,
		`WITH ins AS (`+insertAssignment+`
		   ON CONFLICT (job_id, work_team_id) WHERE state IN ('PENDING', 'OFFERED') DO NOTHING
		   RETURNING *
		 )
		 SELECT `+assignmentColumns+` FROM ins`,
		insertArgs(a)...,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Assignment{}, false, fmt.Errorf("createOpenAssignment: %w", err)
	}

	existing, err := scanAssignment(s.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments
		 WHERE job_id = $1 AND work_team_id = $2 AND state IN ('PENDING', 'OFFERED')`,
		a.JobID, a.CandidateID,
	))
	if err != nil {
		return model.Assignment{}, false, fmt.Errorf("createOpenAssignment existing: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) CommitAutoAssignment(ctx context.Context, a model.Assignment, upd model.JobAssignment) (model.Assignment, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Assignment{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := lockJob(ctx, tx, upd.JobID)
	if err != nil {
		return model.Assignment{}, false, err
	}
	if err := checkAssignable(job, upd.CandidateID); err != nil {
		return model.Assignment{}, false, err
	}
	if job.IsAssigned() {
		existing, err := scanAssignment(tx.QueryRow(ctx,
			`SELECT `+assignmentColumns+` FROM assignments
			 WHERE job_id = $1 AND work_team_id = $2 AND state = 'ACCEPTED'
			 ORDER BY created_at LIMIT 1`,
			a.JobID, a.CandidateID,
		))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return model.Assignment{}, false, fmt.Errorf("commitAutoAssignment existing: %w", err)
		}
	}

	created, err := scanAssignment(tx.QueryRow(ctx,
		`WITH ins AS (`+insertAssignment+` RETURNING *) SELECT `+assignmentColumns+` FROM ins`,
		insertArgs(a)...,
	))
	if err != nil {
		return model.Assignment{}, false, fmt.Errorf("commitAutoAssignment insert: %w", err)
	}
	if err := assignJob(ctx, tx, upd, a.CreatedAt); err != nil {
		return model.Assignment{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Assignment{}, false, fmt.Errorf("commit: %w", err)
	}
	return created, true, nil
}

func (s *PostgresStore) TransitionAssignment(ctx context.Context, id string, from model.AssignmentState, t Transition) (model.Assignment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if t.Job != nil {
		job, err := lockJob(ctx, tx, t.Job.JobID)
		if err != nil {
			return model.Assignment{}, err
		}
		if err := checkAssignable(job, t.Job.CandidateID); err != nil {
			return model.Assignment{}, err
		}
	}

	a, err := scanAssignment(tx.QueryRow(ctx,
		`WITH upd AS (
		   UPDATE assignments
		   SET state = $3::text, updated_at = $4::timestamptz,
		       offered_at  = CASE WHEN $3::text = 'OFFERED'  THEN $4::timestamptz ELSE offered_at END,
		       accepted_at = CASE WHEN $3::text = 'ACCEPTED' THEN $4::timestamptz ELSE accepted_at END,
		       rejected_at = CASE WHEN $3::text = 'REJECTED' THEN $4::timestamptz ELSE rejected_at END,
		       expired_at  = CASE WHEN $3::text = 'EXPIRED'  THEN $4::timestamptz ELSE expired_at END,
		       reject_reason = CASE WHEN $3::text = 'REJECTED' THEN NULLIF($5, '') ELSE reject_reason END
		   WHERE id = $1 AND state = $2::text
		   RETURNING *
		 )
		 SELECT `+assignmentColumns+` FROM upd`,
		id, string(from), string(t.To), t.At, t.RejectReason,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetAssignment(ctx, id)
		if getErr != nil {
			return model.Assignment{}, getErr
		}
		return model.Assignment{}, model.InvalidState(model.CodeInvalidTransition,
			fmt.Sprintf("assignment %s is %s, expected %s", id, current.State, from))
	}
	if err != nil {
		return model.Assignment{}, fmt.Errorf("transitionAssignment: %w", err)
	}

	if t.Job != nil {
		if err := assignJob(ctx, tx, *t.Job, t.At); err != nil {
			return model.Assignment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Assignment{}, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FlagForReview(ctx context.Context, jobID, reason string, at time.Time) (model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`WITH upd AS (
		   UPDATE jobs SET state = 'MANUAL_REVIEW', review_reason = $2, updated_at = $3
		   WHERE id = $1 AND state NOT IN ('ASSIGNED', 'SCHEDULED', 'CANCELLED')
		   RETURNING *
		 )
		 SELECT `+jobColumns+` FROM upd`,
		jobID, reason, at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return model.Job{}, getErr
		}
		if err := reviewable(current); err != nil {
			return model.Job{}, err
		}
		return model.Job{}, fmt.Errorf("flagForReview: job %s changed concurrently", jobID)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("flagForReview: %w", err)
	}
	return j, nil
}

// ─── Bookings ────────────────────────────────────────────────────────────────

const bookingColumns = `
	id, work_team_id, job_id, booking_date::text, start_slot, end_slot, COALESCE(shift, ''), status,
	hold_expires_at, idempotency_key, created_at, confirmed_at, cancelled_at`

func scanBooking(row rowScanner) (model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID, &b.CandidateID, &b.JobID, &b.Date, &b.StartSlot, &b.EndSlot, &b.Shift, &b.Status,
		&b.HoldExpiresAt, &b.IdempotencyKey, &b.CreatedAt, &b.ConfirmedAt, &b.CancelledAt,
	)
	return b, err
}

func (s *PostgresStore) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, model.NotFound(model.CodeBookingNotFound, fmt.Sprintf("booking %s not found", id))
	}
	if err != nil {
		return model.Booking{}, fmt.Errorf("getBooking: %w", err)
	}
	return b, nil
}

const blockingBookings = `
	SELECT ` + bookingColumns + ` FROM bookings
	WHERE work_team_id = $1 AND booking_date = $2::date
	  AND (status = 'CONFIRMED' OR (status = 'PRE_BOOKED' AND hold_expires_at > $3))
	ORDER BY start_slot, id`

func (s *PostgresStore) ListBlockingBookings(ctx context.Context, candidateID, date string, now time.Time) ([]model.Booking, error) {
	rows, err := s.pool.Query(ctx, blockingBookings, candidateID, date, now)
	if err != nil {
		return nil, fmt.Errorf("listBlockingBookings query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("listBlockingBookings scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) bookingByKey(ctx context.Context, q pgx.Tx, key string) (model.Booking, error) {
	return scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = $1`, key))
}

func (s *PostgresStore) ReserveBooking(ctx context.Context, b model.Booking, upd model.JobSchedule, now time.Time) (model.Booking, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Booking{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialises every reservation for one work team and day.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.CandidateID+"|"+b.Date); err != nil {
		return model.Booking{}, false, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := s.bookingByKey(ctx, tx, b.IdempotencyKey)
	if err == nil && existing.Blocks(now) {
		return existing, true, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, false, fmt.Errorf("reserveBooking replay: %w", err)
	}

	job, err := lockJob(ctx, tx, upd.JobID)
	if err != nil {
		return model.Booking{}, false, err
	}
	if job.IsCancelled() {
		return model.Booking{}, false, model.InvalidState(model.CodeJobCancelled, fmt.Sprintf("job %s is cancelled", job.ID))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bookings SET status = 'EXPIRED'
		 WHERE work_team_id = $1 AND booking_date = $2::date
		   AND status = 'PRE_BOOKED' AND hold_expires_at <= $3`,
		b.CandidateID, b.Date, now,
	); err != nil {
		return model.Booking{}, false, fmt.Errorf("expire stale holds: %w", err)
	}

	// A dead booking under the key keeps its row but releases the key.
	if _, err := tx.Exec(ctx,
		`UPDATE bookings
		 SET status = CASE WHEN status = 'PRE_BOOKED' THEN 'EXPIRED' ELSE status END,
		     idempotency_key = idempotency_key || '#' || id
		 WHERE idempotency_key = $1
		   AND (status IN ('EXPIRED', 'CANCELLED') OR (status = 'PRE_BOOKED' AND hold_expires_at <= $2))`,
		b.IdempotencyKey, now,
	); err != nil {
		return model.Booking{}, false, fmt.Errorf("release booking key: %w", err)
	}

	var clash string
	err = tx.QueryRow(ctx,
		`SELECT id FROM bookings
		 WHERE work_team_id = $1 AND booking_date = $2::date
		   AND status IN ('PRE_BOOKED', 'CONFIRMED')
		   AND start_slot <= $4 AND $3 <= end_slot
		 LIMIT 1`,
		b.CandidateID, b.Date, b.StartSlot, b.EndSlot,
	).Scan(&clash)
	if err == nil {
		return model.Booking{}, false, model.Conflict(model.CodeSlotNotAvailable,
			fmt.Sprintf("slots %d-%d on %s overlap booking %s", b.StartSlot, b.EndSlot, b.Date, clash))
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, false, fmt.Errorf("overlap check: %w", err)
	}

	created, err := scanBooking(tx.QueryRow(ctx,
		`WITH ins AS (
		   INSERT INTO bookings (id, work_team_id, job_id, booking_date, start_slot, end_slot, shift, status,
		                         hold_expires_at, idempotency_key, created_at)
		   VALUES ($1, $2, $3, $4::date, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)
		   ON CONFLICT (idempotency_key) DO NOTHING
		   RETURNING *
		 )
		 SELECT `+bookingColumns+` FROM ins`,
		b.ID, b.CandidateID, b.JobID, b.Date, b.StartSlot, b.EndSlot, b.Shift, b.Status,
		b.HoldExpiresAt, b.IdempotencyKey, b.CreatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Same key committed under another work team's lock.
		existing, err := s.bookingByKey(ctx, tx, b.IdempotencyKey)
		if err != nil {
			return model.Booking{}, false, fmt.Errorf("reserveBooking replay: %w", err)
		}
		return existing, true, nil
	}
	if err != nil {
		return model.Booking{}, false, fmt.Errorf("reserveBooking insert: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs
		 SET state = 'SCHEDULED', assigned_work_team_id = $2,
		     assigned_provider_id = COALESCE(NULLIF($3, ''), assigned_provider_id),
		     scheduled_date = $4::date, scheduled_start_slot = $5, scheduled_end_slot = $6,
		     review_reason = NULL, updated_at = $7
		 WHERE id = $1`,
		upd.JobID, upd.CandidateID, upd.ProviderID, upd.Date, upd.StartSlot, upd.EndSlot, now,
	); err != nil {
		return model.Booking{}, false, fmt.Errorf("schedule job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Booking{}, false, fmt.Errorf("commit: %w", err)
	}
	return created, false, nil
}

func (s *PostgresStore) TransitionBooking(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus, at time.Time) (model.Booking, error) {
	fromStates := make([]string, len(from))
	for i, st := range from {
		fromStates[i] = string(st)
	}
	b, err := scanBooking(s.pool.QueryRow(ctx,
		`WITH upd AS (
		   UPDATE bookings
		   SET status = $3::text,
		       confirmed_at = CASE WHEN $3::text = 'CONFIRMED' THEN $4::timestamptz ELSE confirmed_at END,
		       cancelled_at = CASE WHEN $3::text = 'CANCELLED' THEN $4::timestamptz ELSE cancelled_at END
		   WHERE id = $1 AND status = ANY($2::text[])
		   RETURNING *
		 )
		 SELECT `+bookingColumns+` FROM upd`,
		id, fromStates, string(to), at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetBooking(ctx, id)
		if getErr != nil {
			return model.Booking{}, getErr
		}
		return model.Booking{}, model.InvalidState(model.CodeInvalidTransition,
			fmt.Sprintf("booking %s is %s, cannot move to %s", id, current.Status, to))
	}
	if err != nil {
		return model.Booking{}, fmt.Errorf("transitionBooking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET status = 'EXPIRED' WHERE status = 'PRE_BOOKED' AND hold_expires_at <= $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expireHolds: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ─── Funnel ──────────────────────────────────────────────────────────────────

func (s *PostgresStore) AppendFunnel(ctx context.Context, entries []model.FunnelAuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"matching_funnel"},
		[]string{"run_id", "job_id", "work_team_id", "step", "passed", "reasons", "created_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.RunID, e.JobID, e.CandidateID, e.Step, e.Passed, e.Reasons, e.CreatedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("appendFunnel: %w", err)
	}
	return nil
}
