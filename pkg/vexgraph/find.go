package vexgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/vexgraph/vexgraph/pkg/query"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

// Find runs a hybrid vector/metadata/graph query and returns fused
// results (spec §6.1 `find`). See query.Planner for the arm-fan-out and
// fusion details; Find is a thin translation of the public request shape
// into query.Request.
func (d *DB) Find(ctx context.Context, req FindRequest) (*query.Response, error) {
	return d.planner.Find(ctx, req.toQueryRequest())
}

// Similar returns the nouns most similar to an existing noun's vector
// (spec §6.1 `similar`). By default the source noun itself is excluded
// from the results (spec §9 Open Question #1); set req.IncludeSelf to
// include it.
func (d *DB) Similar(ctx context.Context, req SimilarRequest) (*query.Response, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	src, err := d.nouns.Get(ctx, req.To)
	if err != nil {
		if err == vexerr.ErrNotFound {
			return nil, fmt.Errorf("%w: similar: noun %s does not exist", vexerr.ErrInvalidInput, req.To)
		}
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	// Over-fetch by one so excluding the source (the common case) still
	// leaves `limit` results.
	fetchLimit := limit
	if !req.IncludeSelf {
		fetchLimit++
	}

	resp, err := d.planner.Find(ctx, query.Request{
		Vector:  src.Vector,
		Limit:   fetchLimit,
		Fusion:  req.Fusion,
		Explain: req.Explain,
	})
	if err != nil {
		return nil, err
	}

	filtered := resp.Results[:0:0]
	for _, r := range resp.Results {
		if !req.IncludeSelf && r.ID == req.To {
			continue
		}
		if req.Threshold > 0 && r.Score < req.Threshold {
			continue
		}
		filtered = append(filtered, r)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	resp.Results = filtered
	return resp, nil
}
