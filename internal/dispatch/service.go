// Package dispatch is the orchestrator boundary of the dispatch service.
// Every operation takes a closed input record carrying the caller's
// idempotency key, validates it, and runs the core call as a named task.
// It is transport-agnostic: used by the HTTP handler and the gRPC server.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"fieldops/dispatch-service/internal/assignment"
	"fieldops/dispatch-service/internal/matching"
	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/slots"
	"fieldops/dispatch-service/internal/task"
)

// Task names, also used as result cache namespaces.
const (
	TaskFindCandidates    = "findCandidates"
	TaskDecideAssignment  = "decideAssignment"
	TaskSendOffer         = "sendOffer"
	TaskExpireOffer       = "expireOffer"
	TaskAcceptOffer       = "acceptOffer"
	TaskRejectOffer       = "rejectOffer"
	TaskCheckAvailability = "checkAvailability"
	TaskReserveSlot       = "reserveSlot"
	TaskConfirmBooking    = "confirmBooking"
	TaskCancelBooking     = "cancelBooking"
)

// ─── Input / output records ──────────────────────────────────────────────────

type FindCandidatesInput struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=200"`
	JobID          string `json:"jobId" validate:"required"`
	Limit          int    `json:"limit" validate:"gte=0,lte=100"`
	IncludeFunnel  bool   `json:"includeFunnel"`
}

type FindCandidatesOutput struct {
	JobID  string                 `json:"jobId"`
	Ranked []model.CandidateScore `json:"ranked"`
	Funnel *matching.Funnel       `json:"funnel,omitempty"`
}

type DecideAssignmentInput struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=200"`
	JobID          string `json:"jobId" validate:"required"`
}

type SendOfferInput struct {
	IdempotencyKey string  `json:"idempotencyKey" validate:"required,max=200"`
	JobID          string  `json:"jobId" validate:"required"`
	CandidateID    string  `json:"candidateId" validate:"required"`
	Rank           int     `json:"rank" validate:"gte=0"`
	Score          float64 `json:"score" validate:"gte=0,lte=1"`
}

type ExpireOfferInput struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=200"`
	AssignmentID   string `json:"assignmentId" validate:"required"`
	Round          int    `json:"round" validate:"gte=1"`
}

type AcceptOfferInput struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=200"`
	AssignmentID   string `json:"assignmentId" validate:"required"`
}

type RejectOfferInput struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=200"`
	AssignmentID   string `json:"assignmentId" validate:"required"`
	Reason         string `json:"reason" validate:"max=500"`
}

type CheckAvailabilityInput struct {
	IdempotencyKey  string `json:"idempotencyKey" validate:"required,max=200"`
	CandidateID     string `json:"candidateId" validate:"required"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	Shift           string `json:"shift" validate:"required"`
	DurationMinutes int    `json:"durationMinutes" validate:"gt=0,lte=1440"`
}

// ReserveSlotInput books either an explicit Range or the first free run of
// DurationMinutes inside Shift.
type ReserveSlotInput struct {
	IdempotencyKey  string       `json:"idempotencyKey" validate:"required,max=200"`
	JobID           string       `json:"jobId" validate:"required"`
	CandidateID     string       `json:"candidateId" validate:"required"`
	Date            string       `json:"date" validate:"required,datetime=2006-01-02"`
	Shift           string       `json:"shift" validate:"required_without=Range"`
	DurationMinutes int          `json:"durationMinutes" validate:"gte=0,lte=1440"`
	Range           *slots.Range `json:"range,omitempty"`
}

type BookingInput struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=200"`
	BookingID      string `json:"bookingId" validate:"required"`
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service wires the matching, assignment and slot components behind the
// task runner.
type Service struct {
	matcher   *matching.Matcher
	engine    *assignment.Engine
	allocator *slots.Allocator
	runner    *task.Runner
	validate  *validator.Validate
}

func NewService(m *matching.Matcher, e *assignment.Engine, a *slots.Allocator, r *task.Runner) *Service {
	return &Service{matcher: m, engine: e, allocator: a, runner: r, validate: validator.New()}
}

func (s *Service) FindCandidates(ctx context.Context, in FindCandidatesInput) (FindCandidatesOutput, error) {
	if err := s.check(in); err != nil {
		return FindCandidatesOutput{}, err
	}
	return task.Run(ctx, s.runner, TaskFindCandidates, in.IdempotencyKey, func(ctx context.Context) (FindCandidatesOutput, error) {
		res, err := s.matcher.FindCandidates(ctx, in.JobID, matching.Options{Limit: in.Limit, IncludeFunnel: in.IncludeFunnel})
		if err != nil {
			return FindCandidatesOutput{}, err
		}
		return FindCandidatesOutput{JobID: res.Job.ID, Ranked: res.Ranked, Funnel: res.Funnel}, nil
	})
}

func (s *Service) DecideAssignment(ctx context.Context, in DecideAssignmentInput) (assignment.DecisionResult, error) {
	if err := s.check(in); err != nil {
		return assignment.DecisionResult{}, err
	}
	return task.Run(ctx, s.runner, TaskDecideAssignment, in.IdempotencyKey, func(ctx context.Context) (assignment.DecisionResult, error) {
		return s.engine.DecideAssignment(ctx, in.JobID)
	})
}

func (s *Service) SendOffer(ctx context.Context, in SendOfferInput) (assignment.OfferResult, error) {
	if err := s.check(in); err != nil {
		return assignment.OfferResult{}, err
	}
	return task.Run(ctx, s.runner, TaskSendOffer, in.IdempotencyKey, func(ctx context.Context) (assignment.OfferResult, error) {
		return s.engine.SendOffer(ctx, assignment.OfferRequest{
			JobID:       in.JobID,
			CandidateID: in.CandidateID,
			Rank:        in.Rank,
			Score:       in.Score,
		})
	})
}

func (s *Service) ExpireOffer(ctx context.Context, in ExpireOfferInput) (assignment.EscalationOutcome, error) {
	if err := s.check(in); err != nil {
		return assignment.EscalationOutcome{}, err
	}
	return task.Run(ctx, s.runner, TaskExpireOffer, in.IdempotencyKey, func(ctx context.Context) (assignment.EscalationOutcome, error) {
		return s.engine.ExpireOffer(ctx, in.AssignmentID, in.Round)
	})
}

func (s *Service) AcceptOffer(ctx context.Context, in AcceptOfferInput) (model.Assignment, error) {
	if err := s.check(in); err != nil {
		return model.Assignment{}, err
	}
	return task.Run(ctx, s.runner, TaskAcceptOffer, in.IdempotencyKey, func(ctx context.Context) (model.Assignment, error) {
		return s.engine.Accept(ctx, in.AssignmentID)
	})
}

func (s *Service) RejectOffer(ctx context.Context, in RejectOfferInput) (model.Assignment, error) {
	if err := s.check(in); err != nil {
		return model.Assignment{}, err
	}
	return task.Run(ctx, s.runner, TaskRejectOffer, in.IdempotencyKey, func(ctx context.Context) (model.Assignment, error) {
		return s.engine.Reject(ctx, in.AssignmentID, in.Reason)
	})
}

func (s *Service) CheckAvailability(ctx context.Context, in CheckAvailabilityInput) (slots.Availability, error) {
	if err := s.check(in); err != nil {
		return slots.Availability{}, err
	}
	return task.Run(ctx, s.runner, TaskCheckAvailability, in.IdempotencyKey, func(ctx context.Context) (slots.Availability, error) {
		return s.allocator.CheckAvailability(ctx, slots.AvailabilityRequest{
			CandidateID:     in.CandidateID,
			Date:            in.Date,
			Shift:           in.Shift,
			DurationMinutes: in.DurationMinutes,
		})
	})
}

func (s *Service) ReserveSlot(ctx context.Context, in ReserveSlotInput) (slots.Reservation, error) {
	if err := s.check(in); err != nil {
		return slots.Reservation{}, err
	}
	return task.Run(ctx, s.runner, TaskReserveSlot, in.IdempotencyKey, func(ctx context.Context) (slots.Reservation, error) {
		return s.allocator.Reserve(ctx, slots.ReserveRequest{
			JobID:           in.JobID,
			CandidateID:     in.CandidateID,
			Date:            in.Date,
			Shift:           in.Shift,
			DurationMinutes: in.DurationMinutes,
			Range:           in.Range,
		})
	})
}

func (s *Service) ConfirmBooking(ctx context.Context, in BookingInput) (model.Booking, error) {
	if err := s.check(in); err != nil {
		return model.Booking{}, err
	}
	return task.Run(ctx, s.runner, TaskConfirmBooking, in.IdempotencyKey, func(ctx context.Context) (model.Booking, error) {
		return s.allocator.Confirm(ctx, in.BookingID)
	})
}

func (s *Service) CancelBooking(ctx context.Context, in BookingInput) (model.Booking, error) {
	if err := s.check(in); err != nil {
		return model.Booking{}, err
	}
	return task.Run(ctx, s.runner, TaskCancelBooking, in.IdempotencyKey, func(ctx context.Context) (model.Booking, error) {
		return s.allocator.Cancel(ctx, in.BookingID)
	})
}

// check validates an input record and converts validator failures into a
// single Validation error listing every offending field.
func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.Validation(model.CodeInvalidInput, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return model.Validation(model.CodeInvalidInput, "invalid input: "+strings.Join(msgs, "; "))
}
