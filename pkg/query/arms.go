package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/vexgraph/vexgraph/pkg/math/vector"
	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/vectorindex"
)

// resolveGraphArm runs a breadth-first traversal from spec.From out to
// spec.Depth hops, respecting direction and an optional verb-type filter,
// and returns each reached id's minimum hop distance (spec §4.7 graph
// arm, scored as graph_score = 1/(1+hops) by buildCandidates).
func (p *Planner) resolveGraphArm(ctx context.Context, spec *ConnectedSpec) (map[string]int, error) {
	depth := spec.Depth
	if depth <= 0 {
		depth = 1
	}
	dir := spec.Direction
	if dir == "" {
		dir = DirectionOut
	}

	hops := map[string]int{}
	frontier := []string{spec.From}
	visited := map[string]struct{}{spec.From: {}}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := p.neighborsOf(ctx, id, dir, spec.VerbType)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbors {
				if _, seen := visited[nb]; seen {
					continue
				}
				visited[nb] = struct{}{}
				hops[nb] = d
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return hops, nil
}

func (p *Planner) neighborsOf(ctx context.Context, id string, dir Direction, verbType model.VerbType) ([]string, error) {
	var verbs []*model.Verb
	switch dir {
	case DirectionOut:
		out, err := p.verbs.ListBySource(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query: graph arm ListBySource: %w", err)
		}
		verbs = out
	case DirectionIn:
		in, err := p.verbs.ListByTarget(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query: graph arm ListByTarget: %w", err)
		}
		verbs = in
	default: // DirectionBoth
		out, err := p.verbs.ListBySource(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query: graph arm ListBySource: %w", err)
		}
		in, err := p.verbs.ListByTarget(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query: graph arm ListByTarget: %w", err)
		}
		verbs = append(out, in...)
	}

	out := make([]string, 0, len(verbs))
	for _, v := range verbs {
		if verbType != "" && v.Type != verbType {
			continue
		}
		switch {
		case v.From == id:
			out = append(out, v.To)
		case v.To == id:
			out = append(out, v.From)
		}
	}
	return out, nil
}

// bruteForceVector scores every id in candidateSet directly against query
// and returns the k closest, used when the intersected candidate set is
// small enough that a full distance scan beats an enlarged-ef HNSW search
// (spec §4.7 Ordering rule).
func (p *Planner) bruteForceVector(ctx context.Context, query []float32, candidateSet map[string]struct{}, k int) ([]vectorindex.Result, error) {
	type scored struct {
		id   string
		dist float64
	}
	out := make([]scored, 0, len(candidateSet))
	for id := range candidateSet {
		n, err := p.nouns.Get(ctx, id)
		if err != nil || len(n.Vector) != len(query) {
			continue
		}
		out = append(out, scored{id: id, dist: vector.CosineDistance(query, n.Vector)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].id < out[j].id
	})
	if len(out) > k {
		out = out[:k]
	}
	results := make([]vectorindex.Result, len(out))
	for i, s := range out {
		results[i] = vectorindex.Result{ID: s.id, Distance: s.dist}
	}
	return results, nil
}

// postFilteredVector runs an HNSW search with an enlarged ef and discards
// results outside candidateSet, used when the candidate set is too large
// for a brute-force scan to be cheaper (spec §4.7 Ordering rule).
func (p *Planner) postFilteredVector(query []float32, candidateSet map[string]struct{}, k int) ([]vectorindex.Result, error) {
	ef := k * p.cfg.EfExpansion
	wide, err := p.vector.Search(query, len(candidateSet), ef)
	if err != nil {
		return nil, err
	}
	out := make([]vectorindex.Result, 0, k)
	for _, r := range wide {
		if _, ok := candidateSet[r.ID]; !ok {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// cosineDistanceRange is the maximum distance cosine distance (1 −
// cosine similarity) can reach, since cosine similarity is bounded to
// [-1, 1]. Normalizing by this range turns distance into [0, 1] so
// vector_score = 1 − normalized_distance lands in [0, 1] (spec §4.8),
// matching the fixed cosine default (spec §9 Open Question #4).
const cosineDistanceRange = 2.0

// normalizedDistance maps a raw HNSW distance into [0, 1] so it can be
// turned into a vector_score via 1 − normalizedDistance. Distances
// outside the expected cosine range (e.g. from a Euclidean-configured
// index) are clamped rather than allowed to invert the score.
func normalizedDistance(distance float64) float64 {
	n := distance / cosineDistanceRange
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// buildCandidates assembles the fusion.Candidate list from whichever arms
// fired. An arm that did not fire leaves its ArmScore absent rather than
// zeroed, so fusion excludes it from scoring instead of penalizing the
// candidate for it (spec §4.8).
func (p *Planner) buildCandidates(
	vectorFired bool, vectorResults []vectorindex.Result,
	metaFired bool, metaIDs map[string]struct{},
	graphFired bool, graphHops map[string]int,
) []fusionCandidateInput {
	ids := map[string]struct{}{}
	for _, r := range vectorResults {
		ids[r.ID] = struct{}{}
	}
	if metaFired {
		for id := range metaIDs {
			ids[id] = struct{}{}
		}
	}
	if graphFired {
		for id := range graphHops {
			ids[id] = struct{}{}
		}
	}

	vectorByID := make(map[string]vectorindex.Result, len(vectorResults))
	vectorRankByID := make(map[string]int, len(vectorResults))
	for i, r := range vectorResults {
		vectorByID[r.ID] = r
		vectorRankByID[r.ID] = i + 1
	}

	out := make([]fusionCandidateInput, 0, len(ids))
	for id := range ids {
		c := fusionCandidateInput{ID: id}
		if vectorFired {
			if r, ok := vectorByID[id]; ok {
				c.VectorPresent = true
				c.VectorScore = 1.0 - normalizedDistance(r.Distance)
				c.VectorRank = vectorRankByID[id]
			}
		}
		if metaFired {
			if _, ok := metaIDs[id]; ok {
				c.FieldPresent = true
				c.FieldScore = 1
				c.FieldRank = 1
			}
		}
		if graphFired {
			if hop, ok := graphHops[id]; ok {
				c.GraphPresent = true
				c.GraphScore = 1.0 / float64(1+hop)
				c.GraphRank = hop
			}
		}
		out = append(out, c)
	}
	return out
}

// fusionCandidateInput is an intermediate, package-private shape carrying
// per-arm scores before a noun is fetched for the final Result (kept
// separate from fusion.Candidate only so buildCandidates need not import
// fusion's Entity/UpdatedAt concerns prematurely).
type fusionCandidateInput struct {
	ID string

	VectorPresent bool
	VectorScore   float64
	VectorRank    int

	FieldPresent bool
	FieldScore   float64
	FieldRank    int

	GraphPresent bool
	GraphScore   float64
	GraphRank    int
}

