// Package scoring ranks competing phase candidates. The scorer computes a
// weighted score per candidate with an optional early-stop threshold; the
// tie-breaker resolves near-equal scores to a single winner.
package scoring

import (
	"errors"
	"fmt"
	"time"
)

// Candidate is one competing output for a phase.
type Candidate struct {
	// ID is unique within a scoring batch.
	ID string `json:"id"`

	// Data is the opaque artifact payload or reference.
	Data interface{} `json:"data"`

	// GeneratedAt orders candidates for tie-breaking only.
	GeneratedAt time.Time `json:"generated_at"`

	// Score is in [0,100]; nil until the scorer evaluates the candidate.
	Score *float64 `json:"score,omitempty"`

	// Breakdown retains the raw per-metric values for audit.
	Breakdown map[string]float64 `json:"score_breakdown,omitempty"`

	// Rank is 1 for the best scored candidate; nil if unscored.
	Rank *int `json:"rank,omitempty"`
}

// Scored reports whether the candidate has been evaluated.
func (c *Candidate) Scored() bool {
	return c.Score != nil
}

// Weights maps metric name to weight on a 0-100 scale.
type Weights map[string]float64

// Validate checks that weights sum to exactly 100. Enforced at
// configuration load, not at scoring time.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return errors.New("scoring weights are required")
	}
	var sum float64
	for name, weight := range w {
		if weight < 0 {
			return fmt.Errorf("weight for metric %q cannot be negative", name)
		}
		sum += weight
	}
	if sum != 100 {
		return fmt.Errorf("scoring weights must sum to 100, got %v", sum)
	}
	return nil
}
