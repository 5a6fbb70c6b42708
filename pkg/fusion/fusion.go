// Package fusion implements the fusion ranker (C8): combines per-arm
// scores (vector similarity, metadata predicate match, graph hop
// distance) from the query planner into one ordered, deterministic
// result list (spec §4.8).
package fusion

import (
	"math"
	"sort"
	"time"
)

// Strategy selects how arm scores are combined into a final score.
type Strategy string

const (
	// StrategyAdaptive weights arms equally among those that actually
	// fired; missing arms are excluded from normalization. Default.
	StrategyAdaptive Strategy = "adaptive"
	// StrategyWeighted applies caller-supplied weights, redistributing
	// the weight of any arm that did not fire proportionally among the
	// others.
	StrategyWeighted Strategy = "weighted"
	// StrategyReciprocalRank sums 1/(k+rank) per arm a candidate appears
	// in (Reciprocal Rank Fusion, k=60).
	StrategyReciprocalRank Strategy = "reciprocal_rank"
)

// rrfConstant is RRF's standard smoothing constant.
const rrfConstant = 60

// Weights are the user-supplied per-arm weights for StrategyWeighted.
// Any arm's weight may be zero; weights need not sum to 1 (missing arms'
// share is redistributed across the arms that fired).
type Weights struct {
	Vector float64
	Field  float64
	Graph  float64
}

// Boost selects a post-fusion score adjustment.
type Boost string

const (
	BoostNone   Boost = ""
	BoostRecent Boost = "recent"
)

// DefaultRecencyHalfLife is τ in exp(-Δage/τ): 30 days expressed as a
// duration.
const DefaultRecencyHalfLife = 30 * 24 * time.Hour

// ArmScore holds a candidate's raw score from one arm, in [0,1], or
// absent (Present=false) when that arm did not produce a score for this
// candidate. Rank is the 1-indexed position within that arm's own result
// list, used by StrategyReciprocalRank; 0 if absent.
type ArmScore struct {
	Present bool
	Score   float64
	Rank    int
}

// Candidate is one fusion input: an id plus its score from each arm that
// evaluated it, and the metadata needed for boosts.
type Candidate struct {
	ID        string
	Entity    string // "noun" or "verb", surfaced in Result
	Vector    ArmScore
	Field     ArmScore
	Graph     ArmScore
	UpdatedAt int64 // ms epoch, used by BoostRecent
}

// Options configures one fusion run.
type Options struct {
	Strategy        Strategy
	Weights         Weights // only consulted when Strategy == StrategyWeighted
	Boost           Boost
	RecencyHalfLife time.Duration // defaults to DefaultRecencyHalfLife when zero
	Now             int64         // ms epoch "now" for recency boost; defaults to time.Now()
}

// Result is one ranked, scored output row (spec §4.8 Output).
type Result struct {
	ID     string
	Entity string
	Score  float64
	Arms   map[string]float64 // per-arm contribution, present arms only
}

// Rank fuses candidates per opts, returning results sorted by score
// descending, ties broken by smaller id.
func Rank(candidates []Candidate, opts Options) []Result {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyAdaptive
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score, arms := fuseOne(c, strategy, opts.Weights)
		results = append(results, Result{ID: c.ID, Entity: c.Entity, Score: score, Arms: arms})
	}

	if opts.Boost == BoostRecent {
		applyRecencyBoost(results, candidates, opts)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

func fuseOne(c Candidate, strategy Strategy, weights Weights) (float64, map[string]float64) {
	switch strategy {
	case StrategyReciprocalRank:
		return fuseReciprocalRank(c)
	case StrategyWeighted:
		return fuseWeighted(c, weights)
	default:
		return fuseAdaptive(c)
	}
}

func fuseAdaptive(c Candidate) (float64, map[string]float64) {
	arms := armMap(c)
	if len(arms) == 0 {
		return 0, arms
	}
	share := 1.0 / float64(len(arms))
	var total float64
	for _, v := range arms {
		total += v * share
	}
	return total, arms
}

func fuseWeighted(c Candidate, weights Weights) (float64, map[string]float64) {
	arms := armMap(c)
	if len(arms) == 0 {
		return 0, arms
	}
	var totalWeight float64
	raw := map[string]float64{"vector": weights.Vector, "field": weights.Field, "graph": weights.Graph}
	for name := range arms {
		totalWeight += raw[name]
	}
	if totalWeight == 0 {
		return fuseAdaptive(c)
	}
	var total float64
	for name, score := range arms {
		total += score * (raw[name] / totalWeight)
	}
	return total, arms
}

func fuseReciprocalRank(c Candidate) (float64, map[string]float64) {
	arms := armMap(c)
	var total float64
	ranks := map[string]ArmScore{"vector": c.Vector, "field": c.Field, "graph": c.Graph}
	for name := range arms {
		rank := ranks[name].Rank
		if rank <= 0 {
			rank = 1
		}
		total += 1.0 / float64(rrfConstant+rank)
	}
	return total, arms
}

func armMap(c Candidate) map[string]float64 {
	arms := make(map[string]float64, 3)
	if c.Vector.Present {
		arms["vector"] = c.Vector.Score
	}
	if c.Field.Present {
		arms["field"] = c.Field.Score
	}
	if c.Graph.Present {
		arms["graph"] = c.Graph.Score
	}
	return arms
}

func applyRecencyBoost(results []Result, candidates []Candidate, opts Options) {
	halfLife := opts.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = DefaultRecencyHalfLife
	}
	now := opts.Now
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	byID := make(map[string]int64, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c.UpdatedAt
	}
	tauMillis := float64(halfLife.Milliseconds())
	for i := range results {
		updatedAt, ok := byID[results[i].ID]
		if !ok || updatedAt == 0 {
			continue
		}
		age := float64(now - updatedAt)
		if age < 0 {
			age = 0
		}
		results[i].Score *= math.Exp(-age / tauMillis)
	}
}
