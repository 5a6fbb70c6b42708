package vexgraph

import (
	"github.com/vexgraph/vexgraph/pkg/filter"
	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/query"
)

// AddRequest is the input to Add (spec §6.1 `add`). At least one of Text
// (embedded via the configured Embedder) or Vector (used directly) must
// be supplied; when both are, Vector is used and Text is not embedded.
type AddRequest struct {
	ID            string `validate:"omitempty"`
	Text          string `validate:"required_without=Vector"`
	Vector        []float32 `validate:"required_without=Text,omitempty,len=384"`
	Type          model.NounType `validate:"required"`
	TypeExtension string
	Metadata      model.Metadata
	Service       string
}

// AddManyRequest is the input to AddMany (spec §6.1 `addMany`).
type AddManyRequest struct {
	Items           []AddRequest `validate:"required,min=1,dive"`
	ContinueOnError bool
}

// AddManyResult reports per-item outcomes of AddMany.
type AddManyResult struct {
	Successful []string
	Failed     []AddManyFailure
	Total      int
}

// AddManyFailure pairs a failed item's index with the error it raised.
type AddManyFailure struct {
	Index int
	Err   error
}

// UpdateRequest is the input to Update (spec §6.1 `update`). Text is a
// pointer so "not supplied" (nil) is distinguishable from "set to empty
// string"; the same holds for Vector's nil-vs-empty via len==0.
type UpdateRequest struct {
	ID       string `validate:"required"`
	Text     *string
	Vector   []float32 `validate:"omitempty,len=384"`
	Metadata model.Metadata
	Merge    bool
}

// RelateRequest is the input to Relate (spec §6.1 `relate`).
type RelateRequest struct {
	From     string `validate:"required"`
	To       string `validate:"required"`
	Type     model.VerbType `validate:"required"`
	Weight   float64
	Metadata model.Metadata
}

// GetRelationsRequest is the input to GetRelations (spec §6.1
// `getRelations`). At least one of From/To/Type must be set; an empty
// request would otherwise require an unbounded full scan the verb store
// has no index for.
type GetRelationsRequest struct {
	From string
	To   string
	Type model.VerbType
}

func (r GetRelationsRequest) hasFilter() bool {
	return r.From != "" || r.To != "" || r.Type != ""
}

// FindRequest is the input to Find (spec §6.1 `find`), mirroring
// query.Request's shape at the public API boundary.
type FindRequest struct {
	Query     string
	Vector    []float32 `validate:"omitempty,len=384"`
	Where     filter.Predicate
	HasWhere  bool
	Types     []model.NounType
	Connected *query.ConnectedSpec
	Limit     int
	Offset    int
	Fusion    query.FusionSpec
	Explain   bool
}

func (r FindRequest) toQueryRequest() query.Request {
	return query.Request{
		Query:     r.Query,
		Vector:    r.Vector,
		Where:     r.Where,
		HasWhere:  r.HasWhere,
		Types:     r.Types,
		Connected: r.Connected,
		Limit:     r.Limit,
		Offset:    r.Offset,
		Fusion:    r.Fusion,
		Explain:   r.Explain,
	}
}

// SimilarRequest is the input to Similar (spec §6.1 `similar`).
type SimilarRequest struct {
	To          string `validate:"required"`
	Limit       int
	Threshold   float64
	IncludeSelf bool // default false per spec §9 Open Question #1
	Fusion      query.FusionSpec
	Explain     bool
}

// StatisticsRequest is the input to GetStatistics (spec §6.1
// `getStatistics`). An empty Service means every known service.
type StatisticsRequest struct {
	Service string
}

// ClearRequest is the input to Clear (spec §6.1 `clear`). An entirely
// empty request clears every noun (and, by cascade, every verb).
type ClearRequest struct {
	Type     model.NounType
	Where    filter.Predicate
	HasWhere bool
}

// Insights is the output of Insights (spec §6.1 `insights`).
type Insights struct {
	Entities      int64
	Relationships int64
	Types         map[model.NounType]int
}
