package matching

import (
	"time"

	"fieldops/dispatch-service/internal/model"
)

// Funnel stages.
const (
	StepEligibility = "eligibility"
	StepScoring     = "scoring"
)

// Funnel is the audit report of one matching run.
type Funnel struct {
	RunID          string                   `json:"runId"`
	JobID          string                   `json:"jobId"`
	TotalEvaluated int                      `json:"totalEvaluated"`
	TotalEligible  int                      `json:"totalEligible"`
	Entries        []model.FunnelAuditEntry `json:"entries"`
	Duration       time.Duration            `json:"durationNs"`
}

func (f *Funnel) record(candidateID, step string, passed bool, reasons []string, at time.Time) {
	f.Entries = append(f.Entries, model.FunnelAuditEntry{
		RunID:       f.RunID,
		JobID:       f.JobID,
		CandidateID: candidateID,
		Step:        step,
		Passed:      passed,
		Reasons:     reasons,
		CreatedAt:   at,
	})
}
