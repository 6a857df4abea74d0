package matching_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/dispatch-service/internal/matching"
	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/store"
)

func newMatcher(s *store.MemoryStore, limit int) *matching.Matcher {
	return matching.NewMatcher(s, s, s, matching.NewScorer(matching.DefaultWeights, nil), limit,
		func() time.Time { return now }, nil)
}

func seedDirectory(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	s.PutJob(model.Job{ID: "job-1", ServiceType: "install", RequiredSkills: []string{"HVAC"}, PostalCode: "28013", Country: "ES", BusinessUnit: "retail", State: model.JobCreated})
	s.PutJob(model.Job{ID: "job-gone", Country: "ES", State: model.JobCancelled})
	s.PutProvider(model.Provider{ID: "p-1", Status: model.ProviderActive, Country: "ES", BusinessUnit: "retail"})
	s.PutProvider(model.Provider{ID: "p-fr", Status: model.ProviderActive, Country: "FR", BusinessUnit: "retail"})

	// Higher index means more completed jobs, so lower capacity score.
	for i := 0; i < 5; i++ {
		s.PutCandidate(model.Candidate{
			ID: fmt.Sprintf("wt-%d", i), ProviderID: "p-1", Skills: []string{"HVAC"},
			MaxDailyJobs: 10, PostalCodes: []string{"28013"},
			Performance: []model.SkillPerformance{{Skill: "HVAC", CompletedJobs: i * 2}},
		})
	}
	s.PutCandidate(model.Candidate{ID: "wt-elec", ProviderID: "p-1", Skills: []string{"ELEC"}, PostalCodes: []string{"28013"}})
	s.PutCandidate(model.Candidate{ID: "wt-fr", ProviderID: "p-fr", Skills: []string{"HVAC"}, PostalCodes: []string{"28013"}})
	return s
}

func TestFindCandidates_RanksAndAudits(t *testing.T) {
	s := seedDirectory(t)
	m := newMatcher(s, 0)

	res, err := m.FindCandidates(context.Background(), "job-1", matching.Options{IncludeFunnel: true})
	require.NoError(t, err)

	require.Len(t, res.Ranked, 5)
	for i, c := range res.Ranked {
		assert.Equal(t, fmt.Sprintf("wt-%d", i), c.CandidateID)
		assert.Equal(t, i+1, c.Rank)
	}

	require.NotNil(t, res.Funnel)
	// wt-fr is filtered out by country at the store.
	assert.Equal(t, 6, res.Funnel.TotalEvaluated)
	assert.Equal(t, 5, res.Funnel.TotalEligible)
	// One eligibility entry per candidate plus one scoring entry per eligible one.
	assert.Len(t, res.Funnel.Entries, 11)
	assert.Equal(t, res.Funnel.Entries, s.Funnel("job-1"))

	for _, e := range res.Funnel.Entries {
		if e.CandidateID == "wt-elec" {
			assert.Equal(t, matching.StepEligibility, e.Step)
			assert.False(t, e.Passed)
			assert.Equal(t, []string{matching.ReasonMissingSkills}, e.Reasons)
		}
	}
}

func TestFindCandidates_LimitAndExclude(t *testing.T) {
	s := seedDirectory(t)
	m := newMatcher(s, 2)

	res, err := m.FindCandidates(context.Background(), "job-1", matching.Options{})
	require.NoError(t, err)
	require.Len(t, res.Ranked, 2)
	assert.Nil(t, res.Funnel)
	assert.Empty(t, s.Funnel("job-1"), "funnel is only persisted on request")

	res, err = m.FindCandidates(context.Background(), "job-1", matching.Options{
		Limit:   3,
		Exclude: map[string]bool{"wt-0": true, "wt-2": true},
	})
	require.NoError(t, err)
	require.Len(t, res.Ranked, 3)
	assert.Equal(t, "wt-1", res.Ranked[0].CandidateID)
	assert.Equal(t, 2, res.Ranked[0].Rank, "ranks survive exclusion")
	assert.Equal(t, "wt-3", res.Ranked[1].CandidateID)
	assert.Equal(t, "wt-4", res.Ranked[2].CandidateID)
}

func TestFindCandidates_ActiveRulesOnly(t *testing.T) {
	s := seedDirectory(t)
	past := now.Add(-48 * time.Hour)
	s.PutPriority(model.PriorityRule{CandidateID: "wt-3", ServiceType: "install", Level: model.PriorityP1})
	s.PutPriority(model.PriorityRule{CandidateID: "wt-4", ServiceType: "install", Level: model.PriorityP1, ValidUntil: &past})
	s.PutPriority(model.PriorityRule{CandidateID: "wt-1", ServiceType: "repair", Level: model.PriorityP1})

	res, err := newMatcher(s, 0).FindCandidates(context.Background(), "job-1", matching.Options{})
	require.NoError(t, err)
	require.Len(t, res.ActiveRules, 1)
	assert.Equal(t, "wt-3", res.ActiveRules[0].CandidateID)
}

func TestFindCandidates_Errors(t *testing.T) {
	s := seedDirectory(t)
	m := newMatcher(s, 0)

	_, err := m.FindCandidates(context.Background(), "missing", matching.Options{})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = m.FindCandidates(context.Background(), "job-gone", matching.Options{})
	assert.Equal(t, model.CodeJobCancelled, model.CodeOf(err))
}
