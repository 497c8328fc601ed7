package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testWeights() Weights {
	return Weights{"metric1": 50, "metric2": 30, "metric3": 20}
}

func fixedEvaluator(values map[string]map[string]float64, calls *int) Evaluator {
	return func(ctx context.Context, c *Candidate) (map[string]float64, error) {
		if calls != nil {
			*calls++
		}
		v, ok := values[c.ID]
		if !ok {
			return nil, fmt.Errorf("no metrics for candidate %s", c.ID)
		}
		return v, nil
	}
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, testWeights().Validate())
	assert.Error(t, Weights{}.Validate())
	assert.Error(t, Weights{"a": 60, "b": 60}.Validate())
	assert.Error(t, Weights{"a": -10, "b": 110}.Validate())
}

func TestScorer_WeightedSum(t *testing.T) {
	scorer, err := NewScorer(testWeights(), 0, nil)
	require.NoError(t, err)

	candidates := []*Candidate{{ID: "a"}}
	eval := fixedEvaluator(map[string]map[string]float64{
		"a": {"metric1": 80, "metric2": 90, "metric3": 70},
	}, nil)

	require.NoError(t, scorer.Score(context.Background(), candidates, eval))

	require.NotNil(t, candidates[0].Score)
	assert.InDelta(t, 81.0, *candidates[0].Score, 1e-9)
	assert.Equal(t, 80.0, candidates[0].Breakdown["metric1"])
	require.NotNil(t, candidates[0].Rank)
	assert.Equal(t, 1, *candidates[0].Rank)
}

func TestScorer_RanksDescending(t *testing.T) {
	scorer, err := NewScorer(testWeights(), 0, nil)
	require.NoError(t, err)

	candidates := []*Candidate{{ID: "low"}, {ID: "high"}, {ID: "mid"}}
	eval := fixedEvaluator(map[string]map[string]float64{
		"low":  {"metric1": 10, "metric2": 10, "metric3": 10},
		"high": {"metric1": 90, "metric2": 90, "metric3": 90},
		"mid":  {"metric1": 50, "metric2": 50, "metric3": 50},
	}, nil)

	require.NoError(t, scorer.Score(context.Background(), candidates, eval))

	assert.Equal(t, 3, *candidates[0].Rank)
	assert.Equal(t, 1, *candidates[1].Rank)
	assert.Equal(t, 2, *candidates[2].Rank)
}

func TestScorer_TiedScoresKeepInputOrder(t *testing.T) {
	scorer, err := NewScorer(testWeights(), 0, nil)
	require.NoError(t, err)

	candidates := []*Candidate{{ID: "first"}, {ID: "second"}}
	same := map[string]float64{"metric1": 60, "metric2": 60, "metric3": 60}
	eval := fixedEvaluator(map[string]map[string]float64{"first": same, "second": same}, nil)

	require.NoError(t, scorer.Score(context.Background(), candidates, eval))

	assert.Equal(t, 1, *candidates[0].Rank)
	assert.Equal(t, 2, *candidates[1].Rank)
}

func TestScorer_EarlyStop(t *testing.T) {
	scorer, err := NewScorer(testWeights(), 75, nil)
	require.NoError(t, err)

	calls := 0
	candidates := []*Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	eval := fixedEvaluator(map[string]map[string]float64{
		"a": {"metric1": 50, "metric2": 50, "metric3": 50},
		"b": {"metric1": 90, "metric2": 90, "metric3": 90},
		"c": {"metric1": 99, "metric2": 99, "metric3": 99},
	}, &calls)

	require.NoError(t, scorer.Score(context.Background(), candidates, eval))

	// Candidate b crosses the threshold; c is never evaluated.
	assert.Equal(t, 2, calls)
	assert.True(t, candidates[0].Scored())
	assert.True(t, candidates[1].Scored())
	assert.False(t, candidates[2].Scored())
	assert.Nil(t, candidates[2].Rank)
	assert.Equal(t, 1, *candidates[1].Rank)
}

func TestScorer_EvaluatorError(t *testing.T) {
	scorer, err := NewScorer(testWeights(), 0, nil)
	require.NoError(t, err)

	eval := fixedEvaluator(map[string]map[string]float64{}, nil)
	err = scorer.Score(context.Background(), []*Candidate{{ID: "x"}}, eval)
	assert.Error(t, err)
}

func TestScorer_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "candidates")
		values := make(map[string]map[string]float64, n)
		build := func() []*Candidate {
			out := make([]*Candidate, n)
			for i := 0; i < n; i++ {
				out[i] = &Candidate{ID: fmt.Sprintf("c%d", i)}
			}
			return out
		}
		for i := 0; i < n; i++ {
			values[fmt.Sprintf("c%d", i)] = map[string]float64{
				"metric1": float64(rapid.IntRange(0, 100).Draw(rt, fmt.Sprintf("m1-%d", i))),
				"metric2": float64(rapid.IntRange(0, 100).Draw(rt, fmt.Sprintf("m2-%d", i))),
				"metric3": float64(rapid.IntRange(0, 100).Draw(rt, fmt.Sprintf("m3-%d", i))),
			}
		}
		threshold := float64(rapid.IntRange(0, 100).Draw(rt, "threshold"))

		scorer, err := NewScorer(testWeights(), threshold, nil)
		require.NoError(rt, err)

		first := build()
		second := build()
		require.NoError(rt, scorer.Score(context.Background(), first, fixedEvaluator(values, nil)))
		require.NoError(rt, scorer.Score(context.Background(), second, fixedEvaluator(values, nil)))

		for i := range first {
			require.Equal(rt, first[i].Score == nil, second[i].Score == nil)
			if first[i].Score != nil {
				require.Equal(rt, *first[i].Score, *second[i].Score)
			}
			require.Equal(rt, first[i].Rank == nil, second[i].Rank == nil)
			if first[i].Rank != nil {
				require.Equal(rt, *first[i].Rank, *second[i].Rank)
			}
		}
	})
}

func scoredCandidate(id string, score float64, generatedAt time.Time) *Candidate {
	return &Candidate{ID: id, Score: &score, GeneratedAt: generatedAt}
}

func TestTieBreaker_Empty(t *testing.T) {
	tb := NewTieBreaker(3)
	assert.Nil(t, tb.Select(nil))
	assert.Nil(t, tb.Select([]*Candidate{{ID: "unscored"}}))
}

func TestTieBreaker_WithinMarginPrefersLatest(t *testing.T) {
	tb := NewTieBreaker(5)
	earlier := time.Now()
	later := earlier.Add(time.Second)

	winner := tb.Select([]*Candidate{
		scoredCandidate("older-high", 85, earlier),
		scoredCandidate("newer-close", 83, later),
	})
	require.NotNil(t, winner)
	assert.Equal(t, "newer-close", winner.ID)
}

func TestTieBreaker_OutsideMarginKeepsTopScore(t *testing.T) {
	tb := NewTieBreaker(5)
	earlier := time.Now()
	later := earlier.Add(time.Second)

	winner := tb.Select([]*Candidate{
		scoredCandidate("high", 90, earlier),
		scoredCandidate("low-but-newer", 70, later),
	})
	require.NotNil(t, winner)
	assert.Equal(t, "high", winner.ID)
}

func TestTieBreaker_IgnoresUnscored(t *testing.T) {
	tb := NewTieBreaker(3)
	now := time.Now()

	winner := tb.Select([]*Candidate{
		{ID: "unscored", GeneratedAt: now.Add(time.Hour)},
		scoredCandidate("scored", 50, now),
	})
	require.NotNil(t, winner)
	assert.Equal(t, "scored", winner.ID)
}
