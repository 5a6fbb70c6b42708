package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptiveStrategySharesWeightAcrossFiredArms(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Vector: ArmScore{Present: true, Score: 1.0}, Field: ArmScore{Present: true, Score: 1.0}},
		{ID: "b", Vector: ArmScore{Present: true, Score: 1.0}},
	}
	results := Rank(candidates, Options{Strategy: StrategyAdaptive})
	require.Len(t, results, 2)
	byID := toMap(results)
	assert.InDelta(t, 1.0, byID["a"].Score, 1e-9)
	assert.InDelta(t, 1.0, byID["b"].Score, 1e-9)
}

func TestAdaptiveExcludesAbsentArmsFromNormalization(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Vector: ArmScore{Present: true, Score: 0.5}},
	}
	results := Rank(candidates, Options{Strategy: StrategyAdaptive})
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
}

func TestWeightedStrategyRedistributesMissingArmWeight(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Vector: ArmScore{Present: true, Score: 0.8}, Field: ArmScore{Present: true, Score: 0.4}},
	}
	weights := Weights{Vector: 0.5, Field: 0.3, Graph: 0.2}
	results := Rank(candidates, Options{Strategy: StrategyWeighted, Weights: weights})
	require.Len(t, results, 1)
	// graph weight (0.2) is absent, so vector/field split 0.5/0.3 renormalized over 0.8
	expected := 0.8*(0.5/0.8) + 0.4*(0.3/0.8)
	assert.InDelta(t, expected, results[0].Score, 1e-9)
}

func TestReciprocalRankSumsAcrossArms(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Vector: ArmScore{Present: true, Score: 0.9, Rank: 1}, Field: ArmScore{Present: true, Score: 0.9, Rank: 3}},
		{ID: "b", Vector: ArmScore{Present: true, Score: 0.8, Rank: 2}},
	}
	results := Rank(candidates, Options{Strategy: StrategyReciprocalRank})
	byID := toMap(results)
	expectedA := 1.0/61 + 1.0/63
	expectedB := 1.0 / 62
	assert.InDelta(t, expectedA, byID["a"].Score, 1e-9)
	assert.InDelta(t, expectedB, byID["b"].Score, 1e-9)
}

func TestResultsSortedByScoreDescendingTieBreakByID(t *testing.T) {
	candidates := []Candidate{
		{ID: "z", Vector: ArmScore{Present: true, Score: 0.5}},
		{ID: "a", Vector: ArmScore{Present: true, Score: 0.5}},
		{ID: "m", Vector: ArmScore{Present: true, Score: 0.9}},
	}
	results := Rank(candidates, Options{})
	require.Len(t, results, 3)
	assert.Equal(t, "m", results[0].ID)
	assert.Equal(t, "a", results[1].ID)
	assert.Equal(t, "z", results[2].ID)
}

func TestRecencyBoostDecaysOlderCandidates(t *testing.T) {
	day := int64(24 * 60 * 60 * 1000)
	now := int64(100 * day)
	candidates := []Candidate{
		{ID: "fresh", Vector: ArmScore{Present: true, Score: 1.0}, UpdatedAt: now},
		{ID: "stale", Vector: ArmScore{Present: true, Score: 1.0}, UpdatedAt: now - 60*day},
	}
	results := Rank(candidates, Options{Boost: BoostRecent, Now: now})
	byID := toMap(results)
	assert.Greater(t, byID["fresh"].Score, byID["stale"].Score)
	assert.InDelta(t, 1.0, byID["fresh"].Score, 1e-9)
}

func TestArmsMapReflectsOnlyPresentArms(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Vector: ArmScore{Present: true, Score: 0.7}},
	}
	results := Rank(candidates, Options{})
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Arms, "vector")
	assert.NotContains(t, results[0].Arms, "field")
	assert.NotContains(t, results[0].Arms, "graph")
}

func toMap(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.ID] = r
	}
	return out
}
