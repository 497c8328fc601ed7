package scoring

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Evaluator produces raw metric values on a 0-100 scale for a candidate.
// Every key declared in the configured weights should be present; missing
// metrics contribute zero.
type Evaluator func(ctx context.Context, c *Candidate) (map[string]float64, error)

// Scorer computes weighted candidate scores deterministically.
type Scorer struct {
	weights Weights

	// earlyStop halts evaluation once a candidate reaches the threshold;
	// zero or negative disables it. Metric functions can be expensive, so
	// remaining candidates stay unscored and unranked.
	earlyStop float64

	logger *zap.Logger
}

// NewScorer validates the weights and creates a scorer. earlyStop <= 0
// disables early stopping.
func NewScorer(weights Weights, earlyStop float64, logger *zap.Logger) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scorer config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{weights: weights, earlyStop: earlyStop, logger: logger}, nil
}

// Score evaluates candidates in input order and assigns score, breakdown,
// and rank in place. Early stop leaves the remaining candidates unscored.
func (s *Scorer) Score(ctx context.Context, candidates []*Candidate, eval Evaluator) error {
	if eval == nil {
		return fmt.Errorf("evaluator is required")
	}

	// Deterministic metric iteration order for logging and breakdown.
	metricNames := make([]string, 0, len(s.weights))
	for name := range s.weights {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := eval(ctx, c)
		if err != nil {
			return fmt.Errorf("metric evaluation failed for candidate %s: %w", c.ID, err)
		}

		breakdown := make(map[string]float64, len(metricNames))
		var total float64
		for _, name := range metricNames {
			value := raw[name]
			breakdown[name] = value
			total += value * s.weights[name]
		}
		score := total / 100

		c.Score = &score
		c.Breakdown = breakdown
		c.Rank = nil

		s.logger.Debug("scored candidate",
			zap.String("candidate_id", c.ID),
			zap.Float64("score", score),
		)

		if s.earlyStop > 0 && score >= s.earlyStop {
			s.logger.Debug("early stop threshold reached",
				zap.String("candidate_id", c.ID),
				zap.Float64("threshold", s.earlyStop),
			)
			break
		}
	}

	assignRanks(candidates)
	return nil
}

// assignRanks orders scored candidates by descending score. The sort is
// stable, so tied scores keep their input order.
func assignRanks(candidates []*Candidate) {
	scored := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Scored() {
			scored = append(scored, c)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].Score > *scored[j].Score
	})
	for i, c := range scored {
		rank := i + 1
		c.Rank = &rank
	}
}
