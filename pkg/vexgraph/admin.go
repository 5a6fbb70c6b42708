package vexgraph

import (
	"context"

	"github.com/vexgraph/vexgraph/pkg/filter"
	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/stats"
)

// GetStatistics returns a point-in-time snapshot of live counts, scoped
// to req.Service when set or every known service otherwise (spec §6.1
// `getStatistics`).
func (d *DB) GetStatistics(ctx context.Context, req StatisticsRequest) (map[string]stats.Counters, error) {
	if req.Service == "" {
		return d.stats.Snapshot(), nil
	}
	return d.stats.Snapshot(req.Service), nil
}

// Insights aggregates entity/relationship totals and a per-type
// breakdown across every service (spec §6.1 `insights`). Totals come
// from the statistics snapshot; the per-type breakdown is a full scan of
// the noun store.
func (d *DB) Insights(ctx context.Context) (*Insights, error) {
	snap := d.stats.Snapshot()
	var entities, relationships int64
	for _, c := range snap {
		entities += c.NounCount
		relationships += c.VerbCount
	}

	all, err := d.nouns.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	byType := make(map[model.NounType]int)
	for _, n := range all {
		byType[n.Type]++
	}

	return &Insights{
		Entities:      entities,
		Relationships: relationships,
		Types:         byType,
	}, nil
}

// Clear deletes every noun matching req's filters (and, by cascade,
// every verb touching them), or every noun in the store when req is
// entirely empty (spec §6.1 `clear`). Each matching noun is removed
// through Delete so cascade and rollback semantics stay identical to a
// single targeted delete.
func (d *DB) Clear(ctx context.Context, req ClearRequest) (int, error) {
	if err := d.checkWritable(); err != nil {
		return 0, err
	}

	matches, err := d.nouns.List(ctx, func(n *model.Noun) bool {
		if req.Type != "" && n.Type != req.Type {
			return false
		}
		if req.HasWhere {
			return filter.Evaluate(req.Where, n.Metadata)
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, n := range matches {
		ok, err := d.Delete(ctx, n.ID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
