package assignment_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/dispatch-service/internal/assignment"
	"fieldops/dispatch-service/internal/model"
)

var (
	t0     = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	policy = assignment.Policy{AutoAcceptCountries: []string{"ES", "IT"}, UrgentScoreThreshold: 0.90}
)

func ranked(ids ...string) []model.CandidateScore {
	out := make([]model.CandidateScore, len(ids))
	for i, id := range ids {
		out[i] = model.CandidateScore{CandidateID: id, ProviderID: "p-" + id, Rank: i + 1, Score: 0.7 - float64(i)*0.1}
	}
	return out
}

func p1(candidateID string) model.PriorityRule {
	return model.PriorityRule{CandidateID: candidateID, ServiceType: "install", Level: model.PriorityP1}
}

func TestDecide_PriorityPrecedence(t *testing.T) {
	job := model.Job{ID: "j", ServiceType: "install", Country: "ES", Urgency: model.UrgencyUrgent}
	list := ranked("top", "second", "third")
	list[0].Score = 0.95
	rules := []model.PriorityRule{
		{CandidateID: "top", ServiceType: "install", Level: model.PriorityP2},
		p1("third"),
	}

	d := assignment.Decide(job, list, rules, policy, t0)
	assert.Equal(t, assignment.OutcomeAutoAssign, d.Outcome)
	assert.Equal(t, assignment.RulePriority, d.Rule)
	require.NotNil(t, d.Target)
	assert.Equal(t, "third", d.Target.CandidateID)
	assert.Equal(t, 3, d.Target.Rank)
}

func TestDecide_HighestRankedP1Wins(t *testing.T) {
	job := model.Job{ID: "j", ServiceType: "install", Country: "FR"}
	d := assignment.Decide(job, ranked("a", "b", "c"), []model.PriorityRule{p1("c"), p1("b")}, policy, t0)
	require.NotNil(t, d.Target)
	assert.Equal(t, "b", d.Target.CandidateID)
}

func TestDecide_InactiveOrForeignP1Ignored(t *testing.T) {
	job := model.Job{ID: "j", ServiceType: "install", Country: "FR"}
	from := t0.Add(time.Hour)
	rules := []model.PriorityRule{
		{CandidateID: "b", ServiceType: "install", Level: model.PriorityP1, ValidFrom: &from},
		{CandidateID: "c", ServiceType: "repair", Level: model.PriorityP1},
	}
	d := assignment.Decide(job, ranked("a", "b", "c"), rules, policy, t0)
	assert.Equal(t, assignment.OutcomeOffer, d.Outcome)
}

func TestDecide_ScenarioA(t *testing.T) {
	job := model.Job{ID: "j", ServiceType: "install", RequiredSkills: []string{"HVAC"}, Country: "FR"}
	// c2 scores higher but has no priority.
	list := []model.CandidateScore{
		{CandidateID: "c2", Rank: 1, Score: 0.8},
		{CandidateID: "c1", Rank: 2, Score: 0.6},
	}
	d := assignment.Decide(job, list, []model.PriorityRule{p1("c1")}, policy, t0)
	assert.Equal(t, assignment.OutcomeAutoAssign, d.Outcome)
	assert.Equal(t, "c1", d.Target.CandidateID)
	assert.Contains(t, d.Reason, "P1")
}

func TestDecide_CountryAutoAccept(t *testing.T) {
	job := model.Job{ID: "j", ServiceType: "install", Country: "IT", Urgency: model.UrgencyLow}
	d := assignment.Decide(job, ranked("a", "b"), nil, policy, t0)
	assert.Equal(t, assignment.OutcomeAutoAssign, d.Outcome)
	assert.Equal(t, assignment.RuleCountry, d.Rule)
	assert.Equal(t, model.ModeAutoAccept, d.Mode)
	assert.Equal(t, "a", d.Target.CandidateID)
	assert.Equal(t, assignment.ReasonCountryAccept, d.Reason)
}

func TestDecide_ScenarioB(t *testing.T) {
	job := model.Job{ID: "j", ServiceType: "install", Country: "FR", Urgency: model.UrgencyUrgent}
	list := ranked("a", "b")
	list[0].Score = 0.92
	d := assignment.Decide(job, list, nil, policy, t0)
	assert.Equal(t, assignment.OutcomeAutoAssign, d.Outcome)
	assert.Equal(t, assignment.RuleUrgent, d.Rule)
	assert.True(t, strings.Contains(d.Reason, "urgent"))
}

func TestDecide_UrgentThresholdIsInclusive(t *testing.T) {
	job := model.Job{ID: "j", Country: "FR", Urgency: model.UrgencyUrgent}
	list := ranked("a")
	list[0].Score = 0.90
	assert.Equal(t, assignment.OutcomeAutoAssign, assignment.Decide(job, list, nil, policy, t0).Outcome)

	list[0].Score = 0.8999
	assert.Equal(t, assignment.OutcomeOffer, assignment.Decide(job, list, nil, policy, t0).Outcome)
}

func TestDecide_ScenarioC(t *testing.T) {
	job := model.Job{ID: "j", ServiceType: "install", Country: "FR", Urgency: model.UrgencyStandard}
	list := ranked("a", "b")
	list[0].Score = 0.70
	d := assignment.Decide(job, list, nil, policy, t0)
	assert.Equal(t, assignment.OutcomeOffer, d.Outcome)
	assert.Equal(t, model.ModeOffer, d.Mode)
	assert.Equal(t, assignment.ReasonOfferRequired, d.Reason)
	require.NotNil(t, d.Target)
	assert.Equal(t, "a", d.Target.CandidateID)
}

func TestDecide_NoCandidate(t *testing.T) {
	job := model.Job{ID: "j", Country: "ES", Urgency: model.UrgencyUrgent}
	d := assignment.Decide(job, nil, []model.PriorityRule{p1("x")}, policy, t0)
	assert.Equal(t, assignment.OutcomeNoCandidate, d.Outcome)
	assert.Nil(t, d.Target)
}
