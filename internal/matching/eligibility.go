// Package matching filters and ranks the work teams able to perform a job.
//
// The pipeline is strictly sequential inside one request: eligibility, then
// scoring, then ranking. Every candidate leaves one audit entry per stage it
// reached, pass or fail.
package matching

import (
	"slices"
	"time"

	"fieldops/dispatch-service/internal/model"
)

// Machine-readable rejection reasons.
const (
	ReasonMissingSkills    = "missing_required_specialties"
	ReasonPostalCode       = "postal_code_not_covered"
	ReasonProviderInactive = "provider_inactive"
	ReasonBusinessScope    = "business_scope_mismatch"
	ReasonOptedOut         = "service_type_opted_out"
)

// Verdict is the eligibility outcome for one candidate.
type Verdict struct {
	Candidate model.Candidate
	Eligible  bool
	Reasons   []string
}

// Evaluate checks every candidate against the job. It has no side effects.
// A provider absent from providers is treated as inactive.
func Evaluate(job model.Job, candidates []model.Candidate, providers map[string]model.Provider, rules []model.PriorityRule, now time.Time) []Verdict {
	postal := ""
	if job.PostalCode != "" {
		postal = NormalizePostalCode(job.PostalCode)
	}
	optedOut := make(map[string]bool)
	for _, r := range rules {
		if r.Level == model.PriorityOptOut && r.ServiceType == job.ServiceType && r.ActiveAt(now) {
			optedOut[r.CandidateID] = true
		}
	}

	out := make([]Verdict, 0, len(candidates))
	for _, c := range candidates {
		var reasons []string
		if !HasSkills(c, job.RequiredSkills) {
			reasons = append(reasons, ReasonMissingSkills)
		}
		if postal != "" && !covers(c, postal) {
			reasons = append(reasons, ReasonPostalCode)
		}
		p, ok := providers[c.ProviderID]
		if !ok || p.Status != model.ProviderActive {
			reasons = append(reasons, ReasonProviderInactive)
		} else if !inScope(job, p) {
			reasons = append(reasons, ReasonBusinessScope)
		}
		if optedOut[c.ID] {
			reasons = append(reasons, ReasonOptedOut)
		}
		out = append(out, Verdict{Candidate: c, Eligible: len(reasons) == 0, Reasons: reasons})
	}
	return out
}

// HasSkills reports whether c declares every required skill. An empty
// requirement is satisfied by anyone.
func HasSkills(c model.Candidate, required []string) bool {
	for _, s := range required {
		if !slices.Contains(c.Skills, s) {
			return false
		}
	}
	return true
}

func covers(c model.Candidate, postal string) bool {
	for _, pc := range c.PostalCodes {
		if NormalizePostalCode(pc) == postal {
			return true
		}
	}
	return false
}

func inScope(job model.Job, p model.Provider) bool {
	if job.Country != "" && p.Country != job.Country {
		return false
	}
	if job.BusinessUnit != "" && p.BusinessUnit != job.BusinessUnit {
		return false
	}
	return true
}
