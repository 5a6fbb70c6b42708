package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vexgraph/vexgraph/pkg/filter"
	"github.com/vexgraph/vexgraph/pkg/fusion"
	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/noun"
	"github.com/vexgraph/vexgraph/pkg/vectorindex"
)

// VectorSearcher is the subset of vectorindex.Index the vector arm needs.
type VectorSearcher interface {
	Search(query []float32, k int, ef int) ([]vectorindex.Result, error)
}

// Embedder turns a text query into a vector (subset of embed.Embedder).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MetaIndex is the subset of metaindex.Index the metadata arm needs.
type MetaIndex interface {
	Equals(field string, value any) (map[string]struct{}, bool)
	In(field string, values []any) (map[string]struct{}, bool)
	Contains(field string, value any) (map[string]struct{}, bool)
	Range(field string, gt, gte, lt, lte *float64) (map[string]struct{}, bool)
	Universe() map[string]struct{}
}

// NounSource is the subset of noun.Store the planner needs: point lookups
// for brute-force scoring and a fallback full scan for predicates the
// index cannot accelerate (evicted fields, regex — spec §4.6).
type NounSource interface {
	Get(ctx context.Context, id string) (*model.Noun, error)
	List(ctx context.Context, f noun.Filter) ([]*model.Noun, error)
}

// VerbSource is the subset of verb.Store the graph arm needs.
type VerbSource interface {
	ListBySource(ctx context.Context, id string) ([]*model.Verb, error)
	ListByTarget(ctx context.Context, id string) ([]*model.Verb, error)
}

// DefaultBruteForceThreshold is the candidate-set size below which the
// vector arm brute-forces distances instead of enlarging ef on the HNSW
// graph (spec §4.7 Ordering rule, default 1000).
const DefaultBruteForceThreshold = 1000

// Config tunes planner behavior.
type Config struct {
	BruteForceThreshold int // default DefaultBruteForceThreshold
	EfExpansion         int // multiplier applied to k to get ef when post-filtering; default 4
}

func DefaultConfig() Config {
	return Config{BruteForceThreshold: DefaultBruteForceThreshold, EfExpansion: 4}
}

// Planner is the triple-intelligence query planner (C7).
type Planner struct {
	cfg      Config
	vector   VectorSearcher
	embedder Embedder
	meta     MetaIndex
	nouns    NounSource
	verbs    VerbSource
}

// New wires a Planner over its collaborators. embedder may be nil if the
// caller never issues text queries (only direct vectors).
func New(cfg Config, vector VectorSearcher, embedder Embedder, meta MetaIndex, nouns NounSource, verbs VerbSource) *Planner {
	if cfg.BruteForceThreshold <= 0 {
		cfg.BruteForceThreshold = DefaultBruteForceThreshold
	}
	if cfg.EfExpansion <= 0 {
		cfg.EfExpansion = 4
	}
	return &Planner{cfg: cfg, vector: vector, embedder: embedder, meta: meta, nouns: nouns, verbs: verbs}
}

// Find executes req and returns a fused, ordered result set (spec §4.7,
// §4.8).
func (p *Planner) Find(ctx context.Context, req Request) (*Response, error) {
	var timings []ArmTiming
	var planParts []string

	var metaIDs map[string]struct{}
	var metaFired bool
	var metaTiming ArmTiming
	var graphHops map[string]int
	var graphFired bool
	var graphTiming ArmTiming

	// Metadata and graph are genuinely independent arms (spec §4.7); each
	// goroutine below only ever touches its own result/timing variables, so
	// no shared state needs a lock despite running concurrently.
	g, gctx := errgroup.WithContext(ctx)
	if req.HasMetaArm() {
		metaFired = true
		g.Go(func() error {
			start := time.Now()
			ids, err := p.resolveMetaArm(gctx, req)
			if err != nil {
				return err
			}
			metaIDs = ids
			metaTiming = ArmTiming{Arm: "metadata", Duration: msSince(start), Resulted: len(ids)}
			return nil
		})
	}
	if req.HasGraphArm() {
		graphFired = true
		g.Go(func() error {
			start := time.Now()
			hops, err := p.resolveGraphArm(gctx, req.Connected)
			if err != nil {
				return err
			}
			graphHops = hops
			graphTiming = ArmTiming{Arm: "graph", Duration: msSince(start), Resulted: len(hops)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("query: resolving arms: %w", err)
	}
	if metaFired {
		timings = append(timings, metaTiming)
	}
	if graphFired {
		timings = append(timings, graphTiming)
	}

	var candidateSet map[string]struct{}
	haveCandidateSet := false
	if metaFired {
		candidateSet = metaIDs
		haveCandidateSet = true
		planParts = append(planParts, "metadata")
	}
	if graphFired {
		graphIDs := make(map[string]struct{}, len(graphHops))
		for id := range graphHops {
			graphIDs[id] = struct{}{}
		}
		if haveCandidateSet {
			candidateSet = intersect(candidateSet, graphIDs)
		} else {
			candidateSet = graphIDs
			haveCandidateSet = true
		}
		planParts = append(planParts, "graph")
	}

	var vectorResults []vectorindex.Result
	vectorFired := req.HasVectorArm()
	if vectorFired {
		start := time.Now()
		queryVec, err := p.resolveQueryVector(ctx, req)
		if err != nil {
			return nil, err
		}
		k := req.Limit + req.Offset
		if k <= 0 {
			k = 10
		}
		if haveCandidateSet && len(candidateSet) < p.cfg.BruteForceThreshold {
			vectorResults, err = p.bruteForceVector(ctx, queryVec, candidateSet, k)
			planParts = append(planParts, "vector(brute-force)")
		} else if haveCandidateSet {
			vectorResults, err = p.postFilteredVector(queryVec, candidateSet, k)
			planParts = append(planParts, "vector(post-filter)")
		} else {
			vectorResults, err = p.vector.Search(queryVec, k, 0)
			planParts = append(planParts, "vector")
		}
		if err != nil {
			return nil, fmt.Errorf("query: vector arm: %w", err)
		}
		timings = append(timings, ArmTiming{Arm: "vector", Duration: msSince(start), Resulted: len(vectorResults)})
	}

	raw := p.buildCandidates(vectorFired, vectorResults, metaFired, metaIDs, graphFired, graphHops)

	candidates := make([]fusion.Candidate, 0, len(raw))
	nounByID := make(map[string]*model.Noun, len(raw))
	for _, c := range raw {
		n, err := p.nouns.Get(ctx, c.ID)
		if err != nil {
			// A candidate surfaced by an arm but no longer present (deleted
			// concurrently with this query) is silently dropped, matching
			// the store's own best-effort scan semantics.
			continue
		}
		nounByID[c.ID] = n
		candidates = append(candidates, fusion.Candidate{
			ID:        c.ID,
			Entity:    "noun",
			Vector:    fusion.ArmScore{Present: c.VectorPresent, Score: c.VectorScore, Rank: c.VectorRank},
			Field:     fusion.ArmScore{Present: c.FieldPresent, Score: c.FieldScore, Rank: c.FieldRank},
			Graph:     fusion.ArmScore{Present: c.GraphPresent, Score: c.GraphScore, Rank: c.GraphRank},
			UpdatedAt: n.UpdatedAt,
		})
	}

	fused := fusion.Rank(candidates, fusion.Options{
		Strategy: req.Fusion.Strategy,
		Weights:  req.Fusion.Weights,
		Boost:    req.Fusion.Boost,
	})

	results := pageResults(fused, nounByID, req.Offset, req.Limit)

	resp := &Response{Results: results}
	if req.Explain {
		plan := "empty"
		if len(planParts) > 0 {
			plan = joinPlan(planParts)
		}
		resp.Explanation = &Explanation{Plan: plan, ArmTiming: timings}
	}
	return resp, nil
}

// pageResults converts fused fusion results into the planner's output
// Result rows, applying offset/limit paging (spec §4.8 Output paging).
func pageResults(fused []fusion.Result, nounByID map[string]*model.Noun, offset, limit int) []Result {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(fused) {
		return []Result{}
	}
	end := len(fused)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := fused[offset:end]
	out := make([]Result, 0, len(page))
	for _, r := range page {
		out = append(out, Result{
			ID:    r.ID,
			Score: r.Score,
			Noun:  nounByID[r.ID],
			Arms:  r.Arms,
		})
	}
	return out
}

func msSince(start time.Time) float64 { return float64(time.Since(start).Microseconds()) / 1000.0 }

func joinPlan(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "+" + p
	}
	return out
}

// resolveQueryVector returns req.Vector directly, or embeds req.Query when
// no vector was supplied.
func (p *Planner) resolveQueryVector(ctx context.Context, req Request) ([]float32, error) {
	if len(req.Vector) > 0 {
		return req.Vector, nil
	}
	if p.embedder == nil {
		return nil, fmt.Errorf("query: text query given but no embedder configured")
	}
	return p.embedder.Embed(ctx, req.Query)
}

// resolveMetaArm resolves the where/type portion of req into an id-set,
// intersecting a type filter (a noun-level field, not metadata) with the
// predicate tree's id-set when both are present.
func (p *Planner) resolveMetaArm(ctx context.Context, req Request) (map[string]struct{}, error) {
	var predIDs map[string]struct{}
	havePred := false
	if req.HasWhere {
		ids, err := p.evalPredicate(ctx, req.Where)
		if err != nil {
			return nil, err
		}
		predIDs = ids
		havePred = true
	}

	if len(req.Types) == 0 {
		if havePred {
			return predIDs, nil
		}
		return map[string]struct{}{}, nil
	}

	typeSet := make(map[model.NounType]struct{}, len(req.Types))
	for _, t := range req.Types {
		typeSet[t] = struct{}{}
	}
	matches, err := p.nouns.List(ctx, func(n *model.Noun) bool {
		_, ok := typeSet[n.Type]
		return ok
	})
	if err != nil {
		return nil, fmt.Errorf("query: type scan: %w", err)
	}
	typeIDs := make(map[string]struct{}, len(matches))
	for _, n := range matches {
		typeIDs[n.ID] = struct{}{}
	}
	if havePred {
		return intersect(predIDs, typeIDs), nil
	}
	return typeIDs, nil
}

// evalPredicate resolves a predicate tree to an id-set, using the metadata
// index for every leaf it can accelerate and falling back to a full scan
// plus filter.Evaluate for the rest (evicted fields, regex — spec §4.6).
func (p *Planner) evalPredicate(ctx context.Context, pred filter.Predicate) (map[string]struct{}, error) {
	if pred.IsLogic() {
		return p.evalLogic(ctx, pred)
	}
	return p.evalLeaf(ctx, pred)
}

func (p *Planner) evalLogic(ctx context.Context, pred filter.Predicate) (map[string]struct{}, error) {
	switch {
	case len(pred.Children) == 1 && isNot(pred):
		child, err := p.evalPredicate(ctx, pred.Children[0])
		if err != nil {
			return nil, err
		}
		universe := p.meta.Universe()
		return complement(universe, child), nil
	case isOr(pred):
		out := make(map[string]struct{})
		for _, c := range pred.Children {
			ids, err := p.evalPredicate(ctx, c)
			if err != nil {
				return nil, err
			}
			for id := range ids {
				out[id] = struct{}{}
			}
		}
		return out, nil
	default: // AND
		var out map[string]struct{}
		for i, c := range pred.Children {
			ids, err := p.evalPredicate(ctx, c)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				out = ids
				continue
			}
			out = intersect(out, ids)
		}
		if out == nil {
			out = map[string]struct{}{}
		}
		return out, nil
	}
}

// predicateLogicIs compares pred.Logic against an untyped string literal.
// filter.Predicate.Logic has an unexported named type, but Go lets an
// untyped string constant compare against any string-kinded type
// regardless of where it's declared, so this needs no export from filter.
func predicateLogicIs(pred filter.Predicate, want string) bool {
	switch want {
	case "and":
		return pred.Logic == "and"
	case "or":
		return pred.Logic == "or"
	case "not":
		return pred.Logic == "not"
	default:
		return false
	}
}

func isNot(pred filter.Predicate) bool { return predicateLogicIs(pred, "not") }
func isOr(pred filter.Predicate) bool  { return predicateLogicIs(pred, "or") }

func (p *Planner) evalLeaf(ctx context.Context, leaf filter.Predicate) (map[string]struct{}, error) {
	switch leaf.Op {
	case filter.OpEquals:
		if ids, ok := p.meta.Equals(leaf.Field, leaf.Value); ok {
			return ids, nil
		}
	case filter.OpIn:
		if ids, ok := p.meta.In(leaf.Field, leaf.Values); ok {
			return ids, nil
		}
	case filter.OpNotIn:
		if ids, ok := p.meta.In(leaf.Field, leaf.Values); ok {
			return complement(p.meta.Universe(), ids), nil
		}
	case filter.OpContains:
		if ids, ok := p.meta.Contains(leaf.Field, leaf.Value); ok {
			return ids, nil
		}
	case filter.OpGT, filter.OpGTE, filter.OpLT, filter.OpLTE:
		gt, gte, lt, lte := boundsFor(leaf)
		if ids, ok := p.meta.Range(leaf.Field, gt, gte, lt, lte); ok {
			return ids, nil
		}
	}
	// Regex always falls back; everything else falls back only when the
	// index couldn't resolve it (evicted or never-seen field).
	return p.bruteForceLeaf(ctx, leaf)
}

func boundsFor(leaf filter.Predicate) (gt, gte, lt, lte *float64) {
	f, ok := toFloatPtr(leaf.Value)
	if !ok {
		return nil, nil, nil, nil
	}
	switch leaf.Op {
	case filter.OpGT:
		gt = f
	case filter.OpGTE:
		gte = f
	case filter.OpLT:
		lt = f
	case filter.OpLTE:
		lte = f
	}
	return
}

func toFloatPtr(v any) (*float64, bool) {
	switch t := v.(type) {
	case float64:
		return &t, true
	case float32:
		f := float64(t)
		return &f, true
	case int:
		f := float64(t)
		return &f, true
	default:
		return nil, false
	}
}

// bruteForceLeaf scans every live noun and evaluates leaf directly,
// the filter evaluator's (C11) role per spec §4.6 Read: "regex falls back
// to filter evaluator (no index acceleration)" generalized to any leaf the
// index cannot resolve.
func (p *Planner) bruteForceLeaf(ctx context.Context, leaf filter.Predicate) (map[string]struct{}, error) {
	nouns, err := p.nouns.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("query: brute-force filter scan: %w", err)
	}
	out := make(map[string]struct{})
	for _, n := range nouns {
		if filter.Evaluate(leaf, n.Metadata) {
			out[n.ID] = struct{}{}
		}
	}
	return out, nil
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if len(a) > len(b) {
		a, b = b, a
	}
	out := make(map[string]struct{}, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func complement(universe, exclude map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(universe))
	for id := range universe {
		if _, ok := exclude[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}
