package model

import "time"

// AssignmentState values mirror the assignment_state enum in PostgreSQL.
type AssignmentState string

const (
	AssignmentPending  AssignmentState = "PENDING"
	AssignmentOffered  AssignmentState = "OFFERED"
	AssignmentAccepted AssignmentState = "ACCEPTED"
	AssignmentRejected AssignmentState = "REJECTED"
	AssignmentExpired  AssignmentState = "EXPIRED"
)

// IsOpen reports whether the assignment still awaits an outcome.
func (s AssignmentState) IsOpen() bool {
	return s == AssignmentPending || s == AssignmentOffered
}

// AssignmentMode is how the candidate is engaged.
type AssignmentMode string

const (
	ModeAutoAccept AssignmentMode = "AUTO_ACCEPT"
	ModeDirect     AssignmentMode = "DIRECT"
	ModeOffer      AssignmentMode = "OFFER"
)

// AssignmentMethod is which path created the assignment.
type AssignmentMethod string

const (
	MethodAuto       AssignmentMethod = "AUTO"
	MethodOffer      AssignmentMethod = "OFFER"
	MethodEscalation AssignmentMethod = "ESCALATION"
)

// Assignment links a job to one candidate.
type Assignment struct {
	ID           string           `json:"id"`
	JobID        string           `json:"jobId"`
	CandidateID  string           `json:"candidateId"`
	ProviderID   string           `json:"providerId"`
	Mode         AssignmentMode   `json:"mode"`
	Method       AssignmentMethod `json:"method"`
	State        AssignmentState  `json:"state"`
	Rank         int              `json:"rank"`
	Score        float64          `json:"score"`
	Round        int              `json:"round"`
	Reason       string           `json:"reason,omitempty"`
	RejectReason string           `json:"rejectReason,omitempty"`
	OfferedAt    *time.Time       `json:"offeredAt,omitempty"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
	AcceptedAt   *time.Time       `json:"acceptedAt,omitempty"`
	RejectedAt   *time.Time       `json:"rejectedAt,omitempty"`
	ExpiredAt    *time.Time       `json:"expiredAt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// BookingStatus values mirror the booking_status enum in PostgreSQL.
type BookingStatus string

const (
	BookingPreBooked BookingStatus = "PRE_BOOKED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
)

// Booking holds a contiguous slot range [StartSlot, EndSlot] for a work
// team on one date.
type Booking struct {
	ID             string        `json:"id"`
	CandidateID    string        `json:"candidateId"`
	JobID          string        `json:"jobId"`
	Date           string        `json:"date"`
	StartSlot      int           `json:"startSlot"`
	EndSlot        int           `json:"endSlot"`
	Shift          string        `json:"shift,omitempty"`
	Status         BookingStatus `json:"status"`
	HoldExpiresAt  time.Time     `json:"holdExpiresAt"`
	IdempotencyKey string        `json:"idempotencyKey"`
	CreatedAt      time.Time     `json:"createdAt"`
	ConfirmedAt    *time.Time    `json:"confirmedAt,omitempty"`
	CancelledAt    *time.Time    `json:"cancelledAt,omitempty"`
}

// Blocks reports whether the booking occupies its slots at instant now.
// A pre-booking whose hold elapsed no longer blocks, even before the
// sweeper marks it EXPIRED.
func (b Booking) Blocks(now time.Time) bool {
	switch b.Status {
	case BookingConfirmed:
		return true
	case BookingPreBooked:
		return now.Before(b.HoldExpiresAt)
	}
	return false
}

// RangesOverlap reports whether inclusive slot ranges [s1,e1] and [s2,e2]
// share at least one slot.
func RangesOverlap(s1, e1, s2, e2 int) bool { return s1 <= e2 && s2 <= e1 }

// JobAssignment is the narrow update applied to a Job when a candidate is
// committed.
type JobAssignment struct {
	JobID       string
	CandidateID string
	ProviderID  string
}

// JobSchedule is the narrow update applied to a Job when a slot is held.
type JobSchedule struct {
	JobID       string
	CandidateID string
	ProviderID  string
	Date        string
	StartSlot   int
	EndSlot     int
}
