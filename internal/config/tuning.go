package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Shift is a named slot window of a working day, bounds inclusive.
type Shift struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

// Weights are the scorer coefficients. They must sum to 1.
type Weights struct {
	Capacity float64 `yaml:"capacity"`
	Quality  float64 `yaml:"quality"`
	Distance float64 `yaml:"distance"`
}

// Tuning groups the business parameters of the dispatch core.
type Tuning struct {
	OfferTTLHours        int      `yaml:"offerTTLHours"`
	MaxEscalationRounds  int      `yaml:"maxEscalationRounds"`
	HoldTTLHours         int      `yaml:"holdTTLHours"`
	UrgentScoreThreshold float64  `yaml:"urgentScoreThreshold"`
	AutoAcceptCountries  []string `yaml:"autoAcceptCountries"`
	Shifts               []Shift  `yaml:"shifts"`
	Weights              Weights  `yaml:"weights"`
	LookaheadDays        int      `yaml:"lookaheadDays"`
	CandidateLimit       int      `yaml:"candidateLimit"`

	MaxRetries     int           `yaml:"maxRetries"`
	BackoffBase    time.Duration `yaml:"backoffBase"`
	BackoffCap     time.Duration `yaml:"backoffCap"`
	TaskTimeout    time.Duration `yaml:"taskTimeout"`
	SweepInterval  string        `yaml:"sweepInterval"`
	ResultCacheTTL time.Duration `yaml:"resultCacheTTL"`
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		OfferTTLHours:        4,
		MaxEscalationRounds:  3,
		HoldTTLHours:         48,
		UrgentScoreThreshold: 0.90,
		AutoAcceptCountries:  []string{"ES", "IT"},
		Shifts: []Shift{
			{Name: "morning", Start: 32, End: 47},
			{Name: "afternoon", Start: 48, End: 67},
			{Name: "evening", Start: 68, End: 83},
		},
		Weights:        Weights{Capacity: 0.4, Quality: 0.4, Distance: 0.2},
		LookaheadDays:  7,
		CandidateLimit: 10,
		MaxRetries:     3,
		BackoffBase:    time.Second,
		BackoffCap:     time.Minute,
		TaskTimeout:    30 * time.Second,
		SweepInterval:  "@every 15m",
		ResultCacheTTL: 24 * time.Hour,
	}
}

// LoadTuning overlays the YAML file at path on the defaults. An empty path
// returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return t, nil
}

// Validate checks every parameter and reports all problems at once.
func (t Tuning) Validate() error {
	var errs []error
	if t.OfferTTLHours < 1 {
		errs = append(errs, fmt.Errorf("offerTTLHours must be >= 1"))
	}
	if t.MaxEscalationRounds < 1 {
		errs = append(errs, fmt.Errorf("maxEscalationRounds must be >= 1"))
	}
	if t.HoldTTLHours < 1 {
		errs = append(errs, fmt.Errorf("holdTTLHours must be >= 1"))
	}
	if t.UrgentScoreThreshold < 0 || t.UrgentScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("urgentScoreThreshold must be within [0,1]"))
	}
	if len(t.Shifts) == 0 {
		errs = append(errs, fmt.Errorf("at least one shift is required"))
	}
	seen := make(map[string]bool)
	for _, s := range t.Shifts {
		if s.Name == "" || seen[s.Name] {
			errs = append(errs, fmt.Errorf("shift names must be unique and non-empty, got %q", s.Name))
		}
		seen[s.Name] = true
		if s.Start < 0 || s.End > 95 || s.Start > s.End {
			errs = append(errs, fmt.Errorf("shift %s: slots %d-%d out of range", s.Name, s.Start, s.End))
		}
	}
	w := t.Weights
	if w.Capacity < 0 || w.Quality < 0 || w.Distance < 0 {
		errs = append(errs, fmt.Errorf("weights must be non-negative"))
	}
	if math.Abs(w.Capacity+w.Quality+w.Distance-1) > 0.001 {
		errs = append(errs, fmt.Errorf("weights must sum to 1, got %.3f", w.Capacity+w.Quality+w.Distance))
	}
	if t.LookaheadDays < 0 {
		errs = append(errs, fmt.Errorf("lookaheadDays must be >= 0"))
	}
	if t.CandidateLimit < 1 {
		errs = append(errs, fmt.Errorf("candidateLimit must be >= 1"))
	}
	if t.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("maxRetries must be >= 0"))
	}
	if t.BackoffBase <= 0 || t.BackoffCap < t.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff requires 0 < backoffBase <= backoffCap"))
	}
	if t.TaskTimeout <= 0 {
		errs = append(errs, fmt.Errorf("taskTimeout must be positive"))
	}
	if _, err := cron.ParseStandard(t.SweepInterval); err != nil {
		errs = append(errs, fmt.Errorf("sweepInterval: %w", err))
	}
	if t.ResultCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("resultCacheTTL must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid tuning: %w", errors.Join(errs...))
	}
	return nil
}

func (t Tuning) OfferTTL() time.Duration { return time.Duration(t.OfferTTLHours) * time.Hour }

func (t Tuning) HoldTTL() time.Duration { return time.Duration(t.HoldTTLHours) * time.Hour }
