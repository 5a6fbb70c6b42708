package vexgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/stats"
	"github.com/vexgraph/vexgraph/pkg/txn"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

// Relate creates a typed edge between two existing nouns (spec §6.1
// `relate`). Both endpoints must already exist unless Options.AllowDanglingVerbs
// was set at Open (spec §3 Invariants #2).
func (d *DB) Relate(ctx context.Context, req RelateRequest) (string, error) {
	if err := d.checkWritable(); err != nil {
		return "", err
	}
	if err := validateStruct(req); err != nil {
		return "", err
	}

	if !d.allowDanglingVerbs {
		if _, err := d.nouns.Get(ctx, req.From); err != nil {
			if err == vexerr.ErrNotFound {
				return "", fmt.Errorf("%w: relate: from noun %s does not exist", vexerr.ErrInvalidInput, req.From)
			}
			return "", err
		}
		if _, err := d.nouns.Get(ctx, req.To); err != nil {
			if err == vexerr.ErrNotFound {
				return "", fmt.Errorf("%w: relate: to noun %s does not exist", vexerr.ErrInvalidInput, req.To)
			}
			return "", err
		}
	}

	now := model.NowMillis()
	v := &model.Verb{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        req.To,
		Type:      req.Type,
		Weight:    req.Weight,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, _ := json.Marshal(v)

	op := txn.Operation{
		Name:    "put_verb",
		Payload: payload,
		Execute: func(ctx context.Context) (txn.Rollback, error) {
			if err := d.verbs.Put(ctx, v); err != nil {
				return nil, err
			}
			d.stats.Apply("", stats.Delta{Verb: 1})
			rollback := func(rctx context.Context) error {
				if err := d.verbs.Delete(rctx, v.ID); err != nil && err != vexerr.ErrNotFound {
					return err
				}
				d.stats.Apply("", stats.Delta{Verb: -1})
				return nil
			}
			return rollback, nil
		},
	}

	if _, err := d.engine.Execute(ctx, []txn.Operation{op}); err != nil {
		return "", err
	}
	return v.ID, nil
}

// Unrelate removes the verb with id, returning false if it did not exist
// (spec §6.1 `unrelate`).
func (d *DB) Unrelate(ctx context.Context, id string) (bool, error) {
	if err := d.checkWritable(); err != nil {
		return false, err
	}
	v, err := d.verbs.Get(ctx, id)
	if err == vexerr.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	payload, _ := json.Marshal(id)
	op := txn.Operation{
		Name:    "delete_verb",
		Payload: payload,
		Execute: func(ctx context.Context) (txn.Rollback, error) {
			if err := d.verbs.Delete(ctx, id); err != nil {
				return nil, err
			}
			d.stats.Apply("", stats.Delta{Verb: -1})
			rollback := func(rctx context.Context) error {
				if err := d.verbs.Put(rctx, v); err != nil {
					return err
				}
				d.stats.Apply("", stats.Delta{Verb: 1})
				return nil
			}
			return rollback, nil
		},
	}

	if _, err := d.engine.Execute(ctx, []txn.Operation{op}); err != nil {
		return false, err
	}
	return true, nil
}

// GetRelations returns every verb matching req's non-empty fields,
// intersecting indexes where more than one is given (spec §6.1
// `getRelations`). req must constrain at least one of From/To/Type.
func (d *DB) GetRelations(ctx context.Context, req GetRelationsRequest) ([]*model.Verb, error) {
	if !req.hasFilter() {
		return nil, fmt.Errorf("%w: getRelations: at least one of from/to/type is required", vexerr.ErrInvalidInput)
	}

	var sets [][]*model.Verb
	if req.From != "" {
		vs, err := d.verbs.ListBySource(ctx, req.From)
		if err != nil {
			return nil, err
		}
		sets = append(sets, vs)
	}
	if req.To != "" {
		vs, err := d.verbs.ListByTarget(ctx, req.To)
		if err != nil {
			return nil, err
		}
		sets = append(sets, vs)
	}
	if req.Type != "" {
		vs, err := d.verbs.ListByType(ctx, req.Type)
		if err != nil {
			return nil, err
		}
		sets = append(sets, vs)
	}

	if len(sets) == 1 {
		return sets[0], nil
	}

	counts := make(map[string]int, len(sets[0]))
	byID := make(map[string]*model.Verb, len(sets[0]))
	for _, set := range sets {
		seen := make(map[string]struct{}, len(set))
		for _, v := range set {
			if _, dup := seen[v.ID]; dup {
				continue
			}
			seen[v.ID] = struct{}{}
			counts[v.ID]++
			byID[v.ID] = v
		}
	}

	out := make([]*model.Verb, 0, len(byID))
	for id, n := range counts {
		if n == len(sets) {
			out = append(out, byID[id])
		}
	}
	return out, nil
}
