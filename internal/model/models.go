// Package model defines the records shared by the dispatch service.
//
// Job, Provider and Candidate are owned by external collaborators (order
// management, provider directory) and are only read here, apart from the
// narrow job setters exposed by the store. Assignment and Booking are owned
// and lifecycle-managed by this service.
package model

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used for bookings and absences.
const DateLayout = "2006-01-02"

// Urgency mirrors the service_order urgency enum.
type Urgency string

const (
	UrgencyUrgent   Urgency = "URGENT"
	UrgencyStandard Urgency = "STANDARD"
	UrgencyLow      Urgency = "LOW"
)

// ParseUrgency converts a raw string to an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(s)
	switch u {
	case UrgencyUrgent, UrgencyStandard, UrgencyLow:
		return u, nil
	}
	return "", Validation("INVALID_URGENCY", fmt.Sprintf("unknown urgency %q", s))
}

// JobState is the lifecycle state of a service order.
type JobState string

const (
	JobCreated      JobState = "CREATED"
	JobAssigned     JobState = "ASSIGNED"
	JobScheduled    JobState = "SCHEDULED"
	JobCancelled    JobState = "CANCELLED"
	JobManualReview JobState = "MANUAL_REVIEW"
)

// Job is a service order as seen by the dispatch core.
type Job struct {
	ID             string   `json:"id"`
	ServiceType    string   `json:"serviceType"`
	RequiredSkills []string `json:"requiredSkills"`
	PostalCode     string   `json:"postalCode,omitempty"`
	Country        string   `json:"country"`
	BusinessUnit   string   `json:"businessUnit"`
	Urgency        Urgency  `json:"urgency"`
	State          JobState `json:"state"`

	AssignedCandidateID string `json:"assignedCandidateId,omitempty"`
	AssignedProviderID  string `json:"assignedProviderId,omitempty"`

	ScheduledDate      string `json:"scheduledDate,omitempty"`
	ScheduledStartSlot int    `json:"scheduledStartSlot,omitempty"`
	ScheduledEndSlot   int    `json:"scheduledEndSlot,omitempty"`

	ReviewReason string    `json:"reviewReason,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsCancelled reports whether the job left the dispatch flow for good.
func (j Job) IsCancelled() bool { return j.State == JobCancelled }

// IsAssigned reports whether a candidate has already been committed.
func (j Job) IsAssigned() bool { return j.State == JobAssigned || j.State == JobScheduled }

// ProviderStatus mirrors the provider directory status.
type ProviderStatus string

const (
	ProviderActive    ProviderStatus = "ACTIVE"
	ProviderInactive  ProviderStatus = "INACTIVE"
	ProviderSuspended ProviderStatus = "SUSPENDED"
)

// Provider is the organisation owning one or more work teams.
type Provider struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       ProviderStatus `json:"status"`
	Country      string         `json:"country"`
	BusinessUnit string         `json:"businessUnit"`
}

// SkillPerformance is the historical record of a work team for one skill.
// QualityRating is on a 0-5 scale and only meaningful when RatingCount > 0.
type SkillPerformance struct {
	Skill         string  `json:"skill"`
	CompletedJobs int     `json:"completedJobs"`
	QualityRating float64 `json:"qualityRating"`
	RatingCount   int     `json:"ratingCount"`
}

// Candidate is a work team evaluated for a job.
type Candidate struct {
	ID           string             `json:"id"`
	ProviderID   string             `json:"providerId"`
	Name         string             `json:"name"`
	Skills       []string           `json:"skills"`
	MaxDailyJobs int                `json:"maxDailyJobs"`
	PostalCodes  []string           `json:"postalCodes"`
	Performance  []SkillPerformance `json:"performance,omitempty"`
}

// Priority is the classification of a work team for a service type.
type Priority string

const (
	PriorityP1     Priority = "P1"      // always accept
	PriorityP2     Priority = "P2"      // bundle-only
	PriorityOptOut Priority = "OPT_OUT" // never offered
)

// PriorityRule classifies one work team for one service type during a
// validity window. A nil bound is open.
type PriorityRule struct {
	CandidateID string     `json:"candidateId"`
	ServiceType string     `json:"serviceType"`
	Level       Priority   `json:"level"`
	ValidFrom   *time.Time `json:"validFrom,omitempty"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`
}

// ActiveAt reports whether the rule's window contains t.
func (r PriorityRule) ActiveAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && !t.Before(*r.ValidUntil) {
		return false
	}
	return true
}

// PlannedAbsence blocks a work team for whole days between StartDate and
// EndDate inclusive.
type PlannedAbsence struct {
	CandidateID string `json:"candidateId"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Approved    bool   `json:"approved"`
}

// Covers reports whether date (YYYY-MM-DD) falls inside an approved absence.
func (a PlannedAbsence) Covers(date string) bool {
	return a.Approved && date >= a.StartDate && date <= a.EndDate
}

// CandidateScore is the ephemeral ranking result for one candidate.
type CandidateScore struct {
	CandidateID string   `json:"candidateId"`
	ProviderID  string   `json:"providerId"`
	Rank        int      `json:"rank"`
	Score       float64  `json:"score"`
	Capacity    float64  `json:"capacity"`
	Quality     float64  `json:"quality"`
	Distance    float64  `json:"distance"`
	Reasons     []string `json:"reasons,omitempty"`
}

// FunnelAuditEntry records one decision for one candidate at one stage.
type FunnelAuditEntry struct {
	RunID       string    `json:"runId"`
	JobID       string    `json:"jobId"`
	CandidateID string    `json:"candidateId"`
	Step        string    `json:"step"`
	Passed      bool      `json:"passed"`
	Reasons     []string  `json:"reasons,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Intent is a notification request handed to the delivery subsystem.
type Intent struct {
	ID        string            `json:"id"`
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Notification template codes.
const (
	TemplateOfferSent      = "OFFER_SENT"
	TemplateOfferEscalated = "OFFER_ESCALATED"
	TemplateManualReview   = "MANUAL_REVIEW_REQUIRED"
)
