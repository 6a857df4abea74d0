package matching

import (
	"math"
	"sort"

	"fieldops/dispatch-service/internal/model"
)

// Weights are the composite score coefficients.
type Weights struct {
	Capacity float64
	Quality  float64
	Distance float64
}

// DefaultWeights is the 0.4/0.4/0.2 reference split.
var DefaultWeights = Weights{Capacity: 0.4, Quality: 0.4, Distance: 0.2}

// DistanceScorer rates how close a work team is to the job, in [0,1].
type DistanceScorer interface {
	DistanceScore(job model.Job, c model.Candidate) float64
}

// NeutralDistance is used when no geographic service is wired in.
type NeutralDistance struct{}

func (NeutralDistance) DistanceScore(model.Job, model.Candidate) float64 { return 0.5 }

const (
	neutralCapacity = 0.5
	defaultRating   = 3.0
	maxRating       = 5.0
)

// Scorer computes CandidateScores.
type Scorer struct {
	Weights  Weights
	Distance DistanceScorer
}

// NewScorer returns a Scorer; a nil distance falls back to NeutralDistance.
func NewScorer(w Weights, distance DistanceScorer) Scorer {
	if distance == nil {
		distance = NeutralDistance{}
	}
	return Scorer{Weights: w, Distance: distance}
}

// Score rates one eligible candidate. Rank is left for Rank to fill in.
func (s Scorer) Score(job model.Job, c model.Candidate) model.CandidateScore {
	capacity, capNote := CapacityScore(c)
	quality, qualNote := QualityScore(c)
	distance := clamp01(s.Distance.DistanceScore(job, c))

	composite := s.Weights.Capacity*capacity + s.Weights.Quality*quality + s.Weights.Distance*distance

	var notes []string
	for _, n := range []string{capNote, qualNote} {
		if n != "" {
			notes = append(notes, n)
		}
	}
	return model.CandidateScore{
		CandidateID: c.ID,
		ProviderID:  c.ProviderID,
		Score:       round4(clamp01(composite)),
		Capacity:    round4(capacity),
		Quality:     round4(quality),
		Distance:    round4(distance),
		Reasons:     notes,
	}
}

// CapacityScore is 1 - min(completed/maxDaily, 1), neutral when the daily
// capacity is undeclared.
func CapacityScore(c model.Candidate) (float64, string) {
	if c.MaxDailyJobs <= 0 {
		return neutralCapacity, "capacity undeclared"
	}
	completed := 0
	for _, p := range c.Performance {
		completed += p.CompletedJobs
	}
	load := math.Min(float64(completed)/float64(c.MaxDailyJobs), 1)
	score := 1 - load
	switch {
	case score == 0:
		return score, "capacity saturated"
	case score >= 0.8:
		return score, "ample capacity"
	}
	return score, ""
}

// QualityScore is the mean rated quality normalized to [0,1]. Unrated work
// teams get the default rating of 3.
func QualityScore(c model.Candidate) (float64, string) {
	sum, n := 0.0, 0
	for _, p := range c.Performance {
		if p.RatingCount > 0 {
			sum += p.QualityRating
			n++
		}
	}
	if n == 0 {
		return defaultRating / maxRating, "no quality history"
	}
	score := clamp01(sum / float64(n) / maxRating)
	if score >= 0.8 {
		return score, "high quality history"
	}
	return score, ""
}

// Rank sorts scores by descending composite score, ties broken by candidate
// id, and assigns 1-based ranks in place.
func Rank(scores []model.CandidateScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].CandidateID < scores[j].CandidateID
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
