package assignment

import (
	"slices"
	"time"

	"fieldops/dispatch-service/internal/model"
)

// Outcome is the kind of decision taken for a job.
type Outcome string

const (
	OutcomeAutoAssign  Outcome = "AUTO_ASSIGN"
	OutcomeOffer       Outcome = "OFFER_REQUIRED"
	OutcomeNoCandidate Outcome = "NO_CANDIDATE"
)

// Rule names the decision rule that matched.
type Rule string

const (
	RulePriority Rule = "priority"
	RuleCountry  Rule = "country"
	RuleUrgent   Rule = "urgent"
	RuleFallback Rule = "fallback"
	RuleNone     Rule = "none"
)

// Reason tags attached to decisions.
const (
	ReasonP1Priority    = "P1 priority — auto-assigned"
	ReasonCountryAccept = "country auto-accept mode"
	ReasonUrgentScore   = "urgent high-score — auto-assigned"
	ReasonOfferRequired = "offer required"
	ReasonNoCandidate   = "no eligible candidates"
)

// Policy holds the deployment-specific decision parameters.
type Policy struct {
	AutoAcceptCountries  []string
	UrgentScoreThreshold float64
}

// Decision is the pure result of Decide.
type Decision struct {
	Outcome Outcome               `json:"outcome"`
	Rule    Rule                  `json:"rule"`
	Mode    model.AssignmentMode  `json:"mode,omitempty"`
	Target  *model.CandidateScore `json:"target,omitempty"`
	Reason  string                `json:"reason"`
}

// Decide applies the decision rules in order, first match wins:
// active P1 priority, country auto-accept, urgent high score, offer.
// ranked must be sorted best first.
func Decide(job model.Job, ranked []model.CandidateScore, rules []model.PriorityRule, p Policy, now time.Time) Decision {
	if len(ranked) == 0 {
		return Decision{Outcome: OutcomeNoCandidate, Rule: RuleNone, Reason: ReasonNoCandidate}
	}

	p1 := make(map[string]bool)
	for _, r := range rules {
		if r.Level == model.PriorityP1 && r.ServiceType == job.ServiceType && r.ActiveAt(now) {
			p1[r.CandidateID] = true
		}
	}
	for i := range ranked {
		if p1[ranked[i].CandidateID] {
			return auto(RulePriority, model.ModeDirect, ranked[i], ReasonP1Priority)
		}
	}

	top := ranked[0]
	if slices.Contains(p.AutoAcceptCountries, job.Country) {
		return auto(RuleCountry, model.ModeAutoAccept, top, ReasonCountryAccept)
	}
	if job.Urgency == model.UrgencyUrgent && top.Score >= p.UrgentScoreThreshold {
		return auto(RuleUrgent, model.ModeDirect, top, ReasonUrgentScore)
	}
	return Decision{Outcome: OutcomeOffer, Rule: RuleFallback, Mode: model.ModeOffer, Target: &top, Reason: ReasonOfferRequired}
}

// ruleOf recovers the rule from a stored auto-assignment reason.
func ruleOf(reason string) Rule {
	switch reason {
	case ReasonP1Priority:
		return RulePriority
	case ReasonCountryAccept:
		return RuleCountry
	case ReasonUrgentScore:
		return RuleUrgent
	}
	return RuleNone
}

func auto(rule Rule, mode model.AssignmentMode, target model.CandidateScore, reason string) Decision {
	return Decision{Outcome: OutcomeAutoAssign, Rule: rule, Mode: mode, Target: &target, Reason: reason}
}
