package slots

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/store"
)

// MaxAlternatives caps the suggestions returned with an unavailable answer.
const MaxAlternatives = 3

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:fieldops:dispatch:booking"))

// IdempotencyKey derives the booking key from job, date and slot range.
func IdempotencyKey(jobID, date string, r Range) string {
	return uuid.NewSHA1(keyNamespace, []byte(fmt.Sprintf("%s|%s|%d|%d", jobID, date, r.Start, r.End))).String()
}

// Store is the slice of persistence the allocator needs.
type Store interface {
	store.JobReader
	store.DirectoryReader
	store.BookingStore
}

// Config carries the allocator's tuning and injectable clock/id sources.
type Config struct {
	Shifts        ShiftTable
	HoldTTL       time.Duration
	LookaheadDays int
	Now           func() time.Time
	NewID         func() string
}

// Allocator checks availability and places booking holds.
type Allocator struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

func NewAllocator(st Store, cfg Config, log *slog.Logger) *Allocator {
	if len(cfg.Shifts) == 0 {
		cfg.Shifts = DefaultShifts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if log == nil {
		log = slog.Default()
	}
	return &Allocator{store: st, cfg: cfg, log: log}
}

// ─── Availability ────────────────────────────────────────────────────────────

// AvailabilityRequest asks for DurationMinutes inside Shift on Date.
type AvailabilityRequest struct {
	CandidateID     string
	Date            string
	Shift           string
	DurationMinutes int
}

// Alternative is a suggested date and shift with a free range.
type Alternative struct {
	Date  string `json:"date"`
	Shift string `json:"shift"`
	Range Range  `json:"range"`
}

// Availability answers an AvailabilityRequest.
type Availability struct {
	Available     bool          `json:"available"`
	Range         *Range        `json:"range,omitempty"`
	RequiredSlots int           `json:"requiredSlots"`
	LongestFree   int           `json:"longestFree"`
	Absent        bool          `json:"absent,omitempty"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
}

// CheckAvailability scans the requested shift for the first free run long
// enough for the duration. When there is none it suggests up to three
// alternatives on the following working days within the lookahead window.
func (a *Allocator) CheckAvailability(ctx context.Context, req AvailabilityRequest) (Availability, error) {
	day, shift, need, err := a.parse(req.Date, req.Shift, req.DurationMinutes)
	if err != nil {
		return Availability{}, err
	}
	if _, err := a.store.GetCandidate(ctx, req.CandidateID); err != nil {
		return Availability{}, err
	}

	last := day.AddDate(0, 0, a.cfg.LookaheadDays)
	absences, err := a.store.ListAbsences(ctx, req.CandidateID, req.Date, last.Format(model.DateLayout))
	if err != nil {
		return Availability{}, fmt.Errorf("list absences: %w", err)
	}

	out := Availability{RequiredSlots: need}
	if absent(absences, req.Date) {
		out.Absent = true
	} else {
		scan, err := a.scan(ctx, req.CandidateID, req.Date, shift.Range, need)
		if err != nil {
			return Availability{}, err
		}
		out.LongestFree = scan.Longest
		if scan.Found {
			out.Available = true
			out.Range = &scan.First
			return out, nil
		}
	}

	alts, err := a.alternatives(ctx, req.CandidateID, day, shift, need, absences)
	if err != nil {
		return Availability{}, err
	}
	out.Alternatives = alts
	return out, nil
}

func (a *Allocator) alternatives(ctx context.Context, candidateID string, from time.Time, requested Shift, need int, absences []model.PlannedAbsence) ([]Alternative, error) {
	order := make([]Shift, 0, len(a.cfg.Shifts))
	order = append(order, requested)
	for _, s := range a.cfg.Shifts {
		if s.Name != requested.Name {
			order = append(order, s)
		}
	}

	var out []Alternative
	for offset := 1; offset <= a.cfg.LookaheadDays && len(out) < MaxAlternatives; offset++ {
		day := from.AddDate(0, 0, offset)
		date := day.Format(model.DateLayout)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday || absent(absences, date) {
			continue
		}
		busy, err := a.busy(ctx, candidateID, date)
		if err != nil {
			return nil, err
		}
		for _, s := range order {
			if len(out) == MaxAlternatives {
				break
			}
			if scan := ScanWindow(busy, s.Range, need); scan.Found {
				out = append(out, Alternative{Date: date, Shift: s.Name, Range: scan.First})
			}
		}
	}
	return out, nil
}

// ─── Reservation ─────────────────────────────────────────────────────────────

// ReserveRequest books a range for a job. Range is optional: when nil the
// first free run of DurationMinutes inside Shift is used.
type ReserveRequest struct {
	JobID           string
	CandidateID     string
	Date            string
	Shift           string
	DurationMinutes int
	Range           *Range
}

// Reservation is the booking held for a request.
type Reservation struct {
	Booking  model.Booking `json:"booking"`
	Replayed bool          `json:"replayed"`
}

// Reserve places a PRE_BOOKED hold and schedules the job in one unit of work.
// A repeat of the same (job, date, range) returns the original booking.
func (a *Allocator) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	now := a.cfg.Now()

	r, shiftName, err := a.resolveRange(req)
	if err != nil {
		return Reservation{}, err
	}
	candidate, err := a.store.GetCandidate(ctx, req.CandidateID)
	if err != nil {
		return Reservation{}, err
	}

	if r == nil {
		// Shift-derived range: a hold this job already owns in the shift is
		// the answer to a retried request.
		shift, _ := a.cfg.Shifts.Lookup(shiftName)
		need := SlotsForDuration(req.DurationMinutes)
		existing, err := a.store.ListBlockingBookings(ctx, req.CandidateID, req.Date, now)
		if err != nil {
			return Reservation{}, fmt.Errorf("list bookings: %w", err)
		}
		for _, b := range existing {
			br := Range{Start: b.StartSlot, End: b.EndSlot}
			if b.JobID == req.JobID && br.Len() == need && br.Start >= shift.Start && br.End <= shift.End {
				return Reservation{Booking: b, Replayed: true}, nil
			}
		}
		scan, err := a.scan(ctx, req.CandidateID, req.Date, shift.Range, need)
		if err != nil {
			return Reservation{}, err
		}
		if !scan.Found {
			return Reservation{}, model.Conflict(model.CodeSlotNotAvailable,
				fmt.Sprintf("no %d free slots in %s shift on %s", need, shift.Name, req.Date))
		}
		r = &scan.First
	}

	absences, err := a.store.ListAbsences(ctx, req.CandidateID, req.Date, req.Date)
	if err != nil {
		return Reservation{}, fmt.Errorf("list absences: %w", err)
	}
	if absent(absences, req.Date) {
		return Reservation{}, model.Conflict(model.CodeSlotNotAvailable,
			fmt.Sprintf("work team %s is absent on %s", req.CandidateID, req.Date))
	}

	b := model.Booking{
		ID:             a.cfg.NewID(),
		CandidateID:    req.CandidateID,
		JobID:          req.JobID,
		Date:           req.Date,
		StartSlot:      r.Start,
		EndSlot:        r.End,
		Shift:          shiftName,
		Status:         model.BookingPreBooked,
		HoldExpiresAt:  now.Add(a.cfg.HoldTTL),
		IdempotencyKey: IdempotencyKey(req.JobID, req.Date, *r),
		CreatedAt:      now,
	}
	held, replayed, err := a.store.ReserveBooking(ctx, b, model.JobSchedule{
		JobID:       req.JobID,
		CandidateID: req.CandidateID,
		ProviderID:  candidate.ProviderID,
		Date:        req.Date,
		StartSlot:   r.Start,
		EndSlot:     r.End,
	}, now)
	if err != nil {
		return Reservation{}, err
	}
	if !replayed {
		a.log.Info("slot held",
			"job_id", req.JobID, "candidate_id", req.CandidateID, "date", req.Date,
			"range", r.String(), "hold_expires_at", held.HoldExpiresAt)
	}
	return Reservation{Booking: held, Replayed: replayed}, nil
}

// resolveRange validates the request and returns the explicit range, or nil
// when the range is to be derived from the shift.
func (a *Allocator) resolveRange(req ReserveRequest) (*Range, string, error) {
	if _, err := time.Parse(model.DateLayout, req.Date); err != nil {
		return nil, "", model.Validation(model.CodeInvalidInput, fmt.Sprintf("invalid date %q", req.Date))
	}
	if req.Range != nil {
		if !req.Range.Valid() {
			return nil, "", model.Validation(model.CodeInvalidInput, fmt.Sprintf("invalid slot range %s", req.Range))
		}
		r := *req.Range
		return &r, req.Shift, nil
	}
	_, shift, _, err := a.parse(req.Date, req.Shift, req.DurationMinutes)
	if err != nil {
		return nil, "", err
	}
	return nil, shift.Name, nil
}

// ─── Hold lifecycle ──────────────────────────────────────────────────────────

// Confirm turns a live hold into a confirmed booking.
func (a *Allocator) Confirm(ctx context.Context, bookingID string) (model.Booking, error) {
	now := a.cfg.Now()
	b, err := a.store.GetBooking(ctx, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status == model.BookingPreBooked && !now.Before(b.HoldExpiresAt) {
		if _, err := a.store.TransitionBooking(ctx, b.ID, []model.BookingStatus{model.BookingPreBooked}, model.BookingExpired, now); err != nil {
			a.log.Warn("expire elapsed hold failed", "booking_id", b.ID, "err", err)
		}
		return model.Booking{}, model.InvalidState(model.CodeHoldExpired,
			fmt.Sprintf("hold %s expired at %s", b.ID, b.HoldExpiresAt.Format(time.RFC3339)))
	}
	return a.store.TransitionBooking(ctx, b.ID, []model.BookingStatus{model.BookingPreBooked}, model.BookingConfirmed, now)
}

// Cancel releases a held or confirmed booking.
func (a *Allocator) Cancel(ctx context.Context, bookingID string) (model.Booking, error) {
	return a.store.TransitionBooking(ctx, bookingID,
		[]model.BookingStatus{model.BookingPreBooked, model.BookingConfirmed}, model.BookingCancelled, a.cfg.Now())
}

// ExpireHolds marks every elapsed hold EXPIRED.
func (a *Allocator) ExpireHolds(ctx context.Context) (int, error) {
	n, err := a.store.ExpireHolds(ctx, a.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("expire holds: %w", err)
	}
	return n, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (a *Allocator) parse(date, shiftName string, minutes int) (time.Time, Shift, int, error) {
	day, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return time.Time{}, Shift{}, 0, model.Validation(model.CodeInvalidInput, fmt.Sprintf("invalid date %q", date))
	}
	shift, ok := a.cfg.Shifts.Lookup(shiftName)
	if !ok {
		return time.Time{}, Shift{}, 0, model.Validation(model.CodeInvalidInput, fmt.Sprintf("unknown shift %q", shiftName))
	}
	need := SlotsForDuration(minutes)
	if minutes <= 0 || need > SlotsPerDay {
		return time.Time{}, Shift{}, 0, model.Validation(model.CodeInvalidInput, fmt.Sprintf("invalid duration %d minutes", minutes))
	}
	return day, shift, need, nil
}

func (a *Allocator) busy(ctx context.Context, candidateID, date string) ([]Range, error) {
	bookings, err := a.store.ListBlockingBookings(ctx, candidateID, date, a.cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	out := make([]Range, len(bookings))
	for i, b := range bookings {
		out[i] = Range{Start: b.StartSlot, End: b.EndSlot}
	}
	return out, nil
}

func (a *Allocator) scan(ctx context.Context, candidateID, date string, window Range, need int) (Scan, error) {
	busy, err := a.busy(ctx, candidateID, date)
	if err != nil {
		return Scan{}, err
	}
	return ScanWindow(busy, window, need), nil
}

func absent(absences []model.PlannedAbsence, date string) bool {
	for _, ab := range absences {
		if ab.Covers(date) {
			return true
		}
	}
	return false
}
