// Package query implements the triple-intelligence query planner (C7): it
// inspects a find request's shape, dispatches the metadata, graph, and
// vector arms that apply, and hands their candidates to the fusion ranker
// (spec §4.7).
package query

import (
	"github.com/vexgraph/vexgraph/pkg/filter"
	"github.com/vexgraph/vexgraph/pkg/fusion"
	"github.com/vexgraph/vexgraph/pkg/model"
)

// Direction constrains which edge endpoint a graph arm traverses.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// ConnectedSpec is the `connected` graph constraint of a find request.
type ConnectedSpec struct {
	From      string
	Direction Direction      // default DirectionOut
	VerbType  model.VerbType // "" matches every type
	Depth     int            // default 1
}

// FusionSpec configures the fusion ranker for one request.
type FusionSpec struct {
	Strategy fusion.Strategy
	Weights  fusion.Weights
	Boost    fusion.Boost
}

// Request is the planner's input: any subset of a text/vector query, a
// predicate tree, a type filter, a graph constraint, paging, and fusion
// options (spec §6.1 `find`).
type Request struct {
	Query string // embedded via the Embedder collaborator when non-empty

	Vector []float32 // direct vector; takes precedence over Query when both set

	Where    filter.Predicate
	HasWhere bool

	Types []model.NounType

	Connected *ConnectedSpec

	Limit  int
	Offset int

	Fusion  FusionSpec
	Explain bool
}

// HasVectorArm reports whether the request names a vector or text query.
func (r *Request) HasVectorArm() bool { return len(r.Vector) > 0 || r.Query != "" }

// HasMetaArm reports whether the request names predicates or type filters.
func (r *Request) HasMetaArm() bool { return r.HasWhere || len(r.Types) > 0 }

// HasGraphArm reports whether the request names a graph constraint.
func (r *Request) HasGraphArm() bool { return r.Connected != nil }

// ArmTiming records how long one arm took to resolve, surfaced when
// Explain is requested (spec §4.7 Explain).
type ArmTiming struct {
	Arm      string
	Duration float64 // milliseconds
	Resulted int     // candidate count the arm produced
}

// Explanation is returned alongside results when Request.Explain is true.
type Explanation struct {
	Plan      string // e.g. "metadata+vector(post-filter)", "vector(brute-force)"
	ArmTiming []ArmTiming
}

// Result is one ranked, scored output row (spec §4.8 Output), carrying the
// resolved entity so callers need not re-fetch it.
type Result struct {
	ID     string
	Score  float64
	Noun   *model.Noun
	Arms   map[string]float64
}

// Response is the planner's output.
type Response struct {
	Results     []Result
	Explanation *Explanation // nil unless Request.Explain
}
