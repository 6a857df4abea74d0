package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"fieldops/dispatch-service/internal/model"
)

// MemoryStore is an in-process Store guarded by a single mutex. It backs
// tests and the --memory development mode; every unit of work runs under the
// lock, which gives the same at-most-one-winner guarantee as the SQL store.
type MemoryStore struct {
	mu sync.Mutex

	jobs        map[string]model.Job
	providers   map[string]model.Provider
	candidates  map[string]model.Candidate
	priorities  []model.PriorityRule
	absences    []model.PlannedAbsence
	assignments map[string]model.Assignment
	bookings    map[string]model.Booking
	bookingKeys map[string]string
	funnel      []model.FunnelAuditEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        map[string]model.Job{},
		providers:   map[string]model.Provider{},
		candidates:  map[string]model.Candidate{},
		assignments: map[string]model.Assignment{},
		bookings:    map[string]model.Booking{},
		bookingKeys: map[string]string{},
	}
}

// ─── Seeding ─────────────────────────────────────────────────────────────────

func (m *MemoryStore) PutJob(j model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = copyJob(j)
}

func (m *MemoryStore) PutProvider(p model.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

func (m *MemoryStore) PutCandidate(c model.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[c.ID] = copyCandidate(c)
}

func (m *MemoryStore) PutPriority(r model.PriorityRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priorities = append(m.priorities, r)
}

func (m *MemoryStore) PutAbsence(a model.PlannedAbsence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absences = append(m.absences, a)
}

// Funnel returns the audit entries recorded for a job, oldest first.
func (m *MemoryStore) Funnel(jobID string) []model.FunnelAuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FunnelAuditEntry
	for _, e := range m.funnel {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Bookings returns every booking for a candidate on a date, whatever its status.
func (m *MemoryStore) Bookings(candidateID, date string) []model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.bookings {
		if b.CandidateID == candidateID && b.Date == date {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out
}

// ─── Readers ─────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetJob(_ context.Context, id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, model.NotFound(model.CodeJobNotFound, fmt.Sprintf("job %s not found", id))
	}
	return copyJob(j), nil
}

func (m *MemoryStore) ListCandidates(_ context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Candidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		if filter.Country != "" {
			p, ok := m.providers[c.ProviderID]
			if !ok || p.Country != filter.Country {
				continue
			}
		}
		out = append(out, copyCandidate(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetCandidate(_ context.Context, id string) (model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return model.Candidate{}, model.NotFound(model.CodeCandidateNotFound, fmt.Sprintf("work team %s not found", id))
	}
	return copyCandidate(c), nil
}

func (m *MemoryStore) GetProvider(_ context.Context, id string) (model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return model.Provider{}, model.NotFound(model.CodeProviderNotFound, fmt.Sprintf("provider %s not found", id))
	}
	return p, nil
}

func (m *MemoryStore) GetProviders(_ context.Context, ids []string) (map[string]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.Provider, len(ids))
	for _, id := range ids {
		if p, ok := m.providers[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPriorities(_ context.Context, serviceType string) ([]model.PriorityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PriorityRule
	for _, r := range m.priorities {
		if r.ServiceType == serviceType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAbsences(_ context.Context, candidateID, fromDate, toDate string) ([]model.PlannedAbsence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PlannedAbsence
	for _, a := range m.absences {
		if a.CandidateID != candidateID || a.EndDate < fromDate || a.StartDate > toDate {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ─── Assignments ─────────────────────────────────────────────────────────────

func (m *MemoryStore) GetAssignment(_ context.Context, id string) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return model.Assignment{}, model.NotFound(model.CodeAssignmentNotFound, fmt.Sprintf("assignment %s not found", id))
	}
	return a, nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, jobID string) ([]model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Assignment
	for _, a := range m.assignments {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateOpenAssignment(_ context.Context, a model.Assignment) (model.Assignment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assignments {
		if existing.JobID == a.JobID && existing.CandidateID == a.CandidateID && existing.State.IsOpen() {
			return existing, false, nil
		}
	}
	m.assignments[a.ID] = a
	return a, true, nil
}

func (m *MemoryStore) CommitAutoAssignment(_ context.Context, a model.Assignment, upd model.JobAssignment) (model.Assignment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.assignableJobLocked(upd)
	if err != nil {
		return model.Assignment{}, false, err
	}
	if job.IsAssigned() {
		for _, existing := range m.assignments {
			if existing.JobID == a.JobID && existing.CandidateID == a.CandidateID && existing.State == model.AssignmentAccepted {
				return existing, false, nil
			}
		}
	}

	m.assignments[a.ID] = a
	m.assignJobLocked(job, upd, a.CreatedAt)
	return a, true, nil
}

func (m *MemoryStore) TransitionAssignment(_ context.Context, id string, from model.AssignmentState, t Transition) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return model.Assignment{}, model.NotFound(model.CodeAssignmentNotFound, fmt.Sprintf("assignment %s not found", id))
	}
	if a.State != from {
		return model.Assignment{}, model.InvalidState(model.CodeInvalidTransition,
			fmt.Sprintf("assignment %s is %s, expected %s", id, a.State, from))
	}

	var job model.Job
	if t.Job != nil {
		var err error
		if job, err = m.assignableJobLocked(*t.Job); err != nil {
			return model.Assignment{}, err
		}
	}

	applyTransition(&a, t)
	m.assignments[id] = a
	if t.Job != nil {
		m.assignJobLocked(job, *t.Job, t.At)
	}
	return a, nil
}

func (m *MemoryStore) FlagForReview(_ context.Context, jobID, reason string, at time.Time) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, model.NotFound(model.CodeJobNotFound, fmt.Sprintf("job %s not found", jobID))
	}
	if err := reviewable(j); err != nil {
		return model.Job{}, err
	}
	j.State = model.JobManualReview
	j.ReviewReason = reason
	j.UpdatedAt = at
	m.jobs[jobID] = j
	return copyJob(j), nil
}

// assignableJobLocked loads the job and rejects cancelled jobs or jobs
// committed to another candidate.
func (m *MemoryStore) assignableJobLocked(upd model.JobAssignment) (model.Job, error) {
	job, ok := m.jobs[upd.JobID]
	if !ok {
		return model.Job{}, model.NotFound(model.CodeJobNotFound, fmt.Sprintf("job %s not found", upd.JobID))
	}
	if job.IsCancelled() {
		return model.Job{}, model.InvalidState(model.CodeJobCancelled, fmt.Sprintf("job %s is cancelled", job.ID))
	}
	if job.IsAssigned() && job.AssignedCandidateID != upd.CandidateID {
		return model.Job{}, model.InvalidState(model.CodeJobAlreadyAssigned,
			fmt.Sprintf("job %s is already assigned to %s", job.ID, job.AssignedCandidateID))
	}
	return job, nil
}

func (m *MemoryStore) assignJobLocked(job model.Job, upd model.JobAssignment, at time.Time) {
	if job.State != model.JobScheduled {
		job.State = model.JobAssigned
	}
	job.AssignedCandidateID = upd.CandidateID
	job.AssignedProviderID = upd.ProviderID
	job.ReviewReason = ""
	job.UpdatedAt = at
	m.jobs[job.ID] = job
}

func applyTransition(a *model.Assignment, t Transition) {
	at := t.At
	a.State = t.To
	a.UpdatedAt = at
	switch t.To {
	case model.AssignmentOffered:
		a.OfferedAt = &at
	case model.AssignmentAccepted:
		a.AcceptedAt = &at
	case model.AssignmentRejected:
		a.RejectedAt = &at
		a.RejectReason = t.RejectReason
	case model.AssignmentExpired:
		a.ExpiredAt = &at
	}
}

// ─── Bookings ────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetBooking(_ context.Context, id string) (model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return model.Booking{}, model.NotFound(model.CodeBookingNotFound, fmt.Sprintf("booking %s not found", id))
	}
	return b, nil
}

func (m *MemoryStore) ListBlockingBookings(_ context.Context, candidateID, date string, now time.Time) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockingLocked(candidateID, date, now), nil
}

func (m *MemoryStore) ReserveBooking(_ context.Context, b model.Booking, upd model.JobSchedule, now time.Time) (model.Booking, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Only a live booking answers a replay; an expired or cancelled one
	// gives way to a fresh hold under the same key.
	if id, ok := m.bookingKeys[b.IdempotencyKey]; ok && m.bookings[id].Blocks(now) {
		return m.bookings[id], true, nil
	}

	job, ok := m.jobs[upd.JobID]
	if !ok {
		return model.Booking{}, false, model.NotFound(model.CodeJobNotFound, fmt.Sprintf("job %s not found", upd.JobID))
	}
	if job.IsCancelled() {
		return model.Booking{}, false, model.InvalidState(model.CodeJobCancelled, fmt.Sprintf("job %s is cancelled", job.ID))
	}

	for id, existing := range m.bookings {
		if existing.CandidateID == b.CandidateID && existing.Date == b.Date &&
			existing.Status == model.BookingPreBooked && !now.Before(existing.HoldExpiresAt) {
			existing.Status = model.BookingExpired
			m.bookings[id] = existing
		}
	}
	for _, existing := range m.blockingLocked(b.CandidateID, b.Date, now) {
		if model.RangesOverlap(existing.StartSlot, existing.EndSlot, b.StartSlot, b.EndSlot) {
			return model.Booking{}, false, model.Conflict(model.CodeSlotNotAvailable,
				fmt.Sprintf("slots %d-%d on %s overlap booking %s", b.StartSlot, b.EndSlot, b.Date, existing.ID))
		}
	}

	m.bookings[b.ID] = b
	m.bookingKeys[b.IdempotencyKey] = b.ID

	job.State = model.JobScheduled
	job.AssignedCandidateID = upd.CandidateID
	if upd.ProviderID != "" {
		job.AssignedProviderID = upd.ProviderID
	}
	job.ScheduledDate = upd.Date
	job.ScheduledStartSlot = upd.StartSlot
	job.ScheduledEndSlot = upd.EndSlot
	job.ReviewReason = ""
	job.UpdatedAt = now
	m.jobs[job.ID] = job

	return b, false, nil
}

func (m *MemoryStore) TransitionBooking(_ context.Context, id string, from []model.BookingStatus, to model.BookingStatus, at time.Time) (model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return model.Booking{}, model.NotFound(model.CodeBookingNotFound, fmt.Sprintf("booking %s not found", id))
	}
	if !slices.Contains(from, b.Status) {
		return model.Booking{}, model.InvalidState(model.CodeInvalidTransition,
			fmt.Sprintf("booking %s is %s, cannot move to %s", id, b.Status, to))
	}
	b.Status = to
	switch to {
	case model.BookingConfirmed:
		b.ConfirmedAt = &at
	case model.BookingCancelled:
		b.CancelledAt = &at
	}
	m.bookings[id] = b
	return b, nil
}

func (m *MemoryStore) ExpireHolds(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, b := range m.bookings {
		if b.Status == model.BookingPreBooked && !now.Before(b.HoldExpiresAt) {
			b.Status = model.BookingExpired
			m.bookings[id] = b
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) blockingLocked(candidateID, date string, now time.Time) []model.Booking {
	var out []model.Booking
	for _, b := range m.bookings {
		if b.CandidateID == candidateID && b.Date == date && b.Blocks(now) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out
}

// ─── Funnel ──────────────────────────────────────────────────────────────────

func (m *MemoryStore) AppendFunnel(_ context.Context, entries []model.FunnelAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funnel = append(m.funnel, entries...)
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func sortBookings(items []model.Booking) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].StartSlot != items[j].StartSlot {
			return items[i].StartSlot < items[j].StartSlot
		}
		return items[i].ID < items[j].ID
	})
}

func copyJob(j model.Job) model.Job {
	j.RequiredSkills = slices.Clone(j.RequiredSkills)
	return j
}

func copyCandidate(c model.Candidate) model.Candidate {
	c.Skills = slices.Clone(c.Skills)
	c.PostalCodes = slices.Clone(c.PostalCodes)
	c.Performance = slices.Clone(c.Performance)
	return c
}
