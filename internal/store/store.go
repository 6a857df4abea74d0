// Package store defines the data-store boundary of the dispatch core.
//
// Job and directory records are exposed through read-only views. Assignment
// and Booking are only mutated through the unit-of-work methods below; each
// of them is atomic and is the single cross-request ordering point for its key:
//
//	assignment creation  (job id, candidate id)
//	booking creation     (candidate id, date, slot range)
package store

import (
	"context"
	"fmt"
	"time"

	"fieldops/dispatch-service/internal/model"
)

// CandidateFilter narrows the candidate listing. Empty fields match all.
type CandidateFilter struct {
	Country string
}

// JobReader is the read-only projection of service orders.
type JobReader interface {
	GetJob(ctx context.Context, id string) (model.Job, error)
}

// DirectoryReader is the read-only projection of the provider directory.
type DirectoryReader interface {
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error)
	GetCandidate(ctx context.Context, id string) (model.Candidate, error)
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	GetProviders(ctx context.Context, ids []string) (map[string]model.Provider, error)
	ListPriorities(ctx context.Context, serviceType string) ([]model.PriorityRule, error)
	ListAbsences(ctx context.Context, candidateID, fromDate, toDate string) ([]model.PlannedAbsence, error)
}

// Transition describes a compare-and-set move of an assignment.
// When Job is set, the job is assigned in the same unit of work.
type Transition struct {
	To           model.AssignmentState
	At           time.Time
	RejectReason string
	Job          *model.JobAssignment
}

// AssignmentStore owns Assignment records and the job setters tied to them.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, id string) (model.Assignment, error)
	ListAssignments(ctx context.Context, jobID string) ([]model.Assignment, error)

	// CreateOpenAssignment inserts a unless an open (PENDING/OFFERED)
	// assignment already exists for the same job and candidate, in which case
	// the existing one is returned with created=false.
	CreateOpenAssignment(ctx context.Context, a model.Assignment) (model.Assignment, bool, error)

	// CommitAutoAssignment inserts an ACCEPTED assignment and assigns the job
	// as one unit. If the job is already assigned to the same candidate the
	// existing accepted assignment is returned with created=false.
	CommitAutoAssignment(ctx context.Context, a model.Assignment, upd model.JobAssignment) (model.Assignment, bool, error)

	// TransitionAssignment applies t only if the assignment is still in from.
	TransitionAssignment(ctx context.Context, id string, from model.AssignmentState, t Transition) (model.Assignment, error)

	// FlagForReview moves the job to MANUAL_REVIEW with a reason. Assigned,
	// scheduled and cancelled jobs are refused with InvalidState.
	FlagForReview(ctx context.Context, jobID, reason string, at time.Time) (model.Job, error)
}

// BookingStore owns Booking records and the job schedule setter.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (model.Booking, error)
	ListBlockingBookings(ctx context.Context, candidateID, date string, now time.Time) ([]model.Booking, error)

	// ReserveBooking returns the live (held or confirmed) booking stored under
	// b.IdempotencyKey unchanged if there is one (replayed=true). An expired
	// or cancelled booking under the key is superseded. Otherwise it expires stale
	// holds, re-checks overlap and inserts b plus the job schedule as one
	// unit, failing with Conflict/SLOT_NOT_AVAILABLE on overlap.
	ReserveBooking(ctx context.Context, b model.Booking, upd model.JobSchedule, now time.Time) (model.Booking, bool, error)

	// TransitionBooking moves a booking to `to` only if its status is one of from.
	TransitionBooking(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus, at time.Time) (model.Booking, error)

	// ExpireHolds marks every pre-booking whose hold elapsed before now EXPIRED.
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
}

// FunnelWriter appends matching audit entries.
type FunnelWriter interface {
	AppendFunnel(ctx context.Context, entries []model.FunnelAuditEntry) error
}

// Store is everything the dispatch core needs from persistence.
type Store interface {
	JobReader
	DirectoryReader
	AssignmentStore
	BookingStore
	FunnelWriter
}

// reviewable refuses jobs whose outcome is already settled.
func reviewable(j model.Job) error {
	switch {
	case j.IsCancelled():
		return model.InvalidState(model.CodeJobCancelled, fmt.Sprintf("job %s is cancelled", j.ID))
	case j.IsAssigned():
		return model.InvalidState(model.CodeJobAlreadyAssigned,
			fmt.Sprintf("job %s is already assigned to %s", j.ID, j.AssignedCandidateID))
	}
	return nil
}
