package matching_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fieldops/dispatch-service/internal/matching"
	"fieldops/dispatch-service/internal/model"
)

type fixedDistance float64

func (d fixedDistance) DistanceScore(model.Job, model.Candidate) float64 { return float64(d) }

func TestCapacityScore(t *testing.T) {
	cases := []struct {
		name string
		c    model.Candidate
		want float64
	}{
		{"undeclared", model.Candidate{}, 0.5},
		{"idle", model.Candidate{MaxDailyJobs: 4}, 1},
		{"half", model.Candidate{MaxDailyJobs: 4, Performance: []model.SkillPerformance{{CompletedJobs: 1}, {CompletedJobs: 1}}}, 0.5},
		{"saturated", model.Candidate{MaxDailyJobs: 2, Performance: []model.SkillPerformance{{CompletedJobs: 9}}}, 0},
	}
	for _, tc := range cases {
		got, _ := matching.CapacityScore(tc.c)
		assert.InDelta(t, tc.want, got, 1e-9, tc.name)
	}
}

func TestQualityScore(t *testing.T) {
	got, note := matching.QualityScore(model.Candidate{})
	assert.InDelta(t, 0.6, got, 1e-9)
	assert.Equal(t, "no quality history", note)

	c := model.Candidate{Performance: []model.SkillPerformance{
		{QualityRating: 5, RatingCount: 3},
		{QualityRating: 4, RatingCount: 1},
		{QualityRating: 0, RatingCount: 0}, // unrated, ignored
	}}
	got, note = matching.QualityScore(c)
	assert.InDelta(t, 0.9, got, 1e-9)
	assert.Equal(t, "high quality history", note)
}

func TestScorer_Composite(t *testing.T) {
	s := matching.NewScorer(matching.DefaultWeights, nil)
	c := model.Candidate{ID: "c", ProviderID: "p", MaxDailyJobs: 5, Performance: []model.SkillPerformance{{CompletedJobs: 2}}}

	score := s.Score(model.Job{}, c)
	// 0.4*0.6 + 0.4*0.6 + 0.2*0.5
	assert.InDelta(t, 0.58, score.Score, 1e-9)
	assert.InDelta(t, 0.5, score.Distance, 1e-9)
	assert.Equal(t, "p", score.ProviderID)

	far := matching.NewScorer(matching.DefaultWeights, fixedDistance(3))
	assert.InDelta(t, 1.0, far.Score(model.Job{}, c).Distance, 1e-9, "distance is clamped")
}

func TestRank_TieBreakByID(t *testing.T) {
	scores := []model.CandidateScore{
		{CandidateID: "c", Score: 0.5},
		{CandidateID: "a", Score: 0.7},
		{CandidateID: "b", Score: 0.5},
		{CandidateID: "d", Score: 0.9},
	}
	matching.Rank(scores)

	var order []string
	for i, s := range scores {
		order = append(order, s.CandidateID)
		assert.Equal(t, i+1, s.Rank)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, order)
}
