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

// resolveVector returns req's vector directly, or embeds req.Text via the
// configured Embedder, and validates the 384-dimension invariant either
// way (spec §3 Invariants #1, §6.4).
func (d *DB) resolveVector(ctx context.Context, text string, vector []float32) ([]float32, error) {
	if len(vector) > 0 {
		if len(vector) != model.VectorDimensions {
			return nil, vexerr.ErrDimensionMismatch
		}
		return vector, nil
	}
	if d.embedder == nil {
		return nil, fmt.Errorf("%w: text payload given but no embedder configured", vexerr.ErrInvalidInput)
	}
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vexgraph: embed text: %w", err)
	}
	if len(vec) != model.VectorDimensions {
		return nil, vexerr.ErrDimensionMismatch
	}
	return vec, nil
}

// putNounOp builds the transaction operation common to Add and Update:
// index n into the noun store, HNSW graph, and metadata index, replacing
// any prior version of n.ID, and produce a rollback that restores exactly
// what was there before (nil prior means "didn't exist").
func (d *DB) putNounOp(n *model.Noun, prior *model.Noun) txn.Operation {
	payload, _ := json.Marshal(n)
	return txn.Operation{
		Name:    "put_noun",
		Payload: payload,
		Execute: func(ctx context.Context) (txn.Rollback, error) {
			if err := d.nouns.Put(ctx, n); err != nil {
				return nil, err
			}
			if err := d.vectors.Insert(n.ID, n.Vector); err != nil {
				return nil, err
			}
			if prior != nil {
				d.meta.RemoveNoun(prior)
			}
			d.meta.IndexNoun(n)
			if prior == nil {
				d.stats.Apply(n.Service, stats.Delta{Noun: 1})
			}

			rollback := func(rctx context.Context) error {
				d.meta.RemoveNoun(n)
				if prior != nil {
					if err := d.nouns.Put(rctx, prior); err != nil {
						return err
					}
					if err := d.vectors.Insert(prior.ID, prior.Vector); err != nil {
						return err
					}
					d.meta.IndexNoun(prior)
					return nil
				}
				if err := d.nouns.Delete(rctx, n.ID); err != nil && err != vexerr.ErrNotFound {
					return err
				}
				if err := d.vectors.Delete(n.ID); err != nil && err != vexerr.ErrNotFound {
					return err
				}
				d.stats.Apply(n.Service, stats.Delta{Noun: -1})
				return nil
			}
			return rollback, nil
		},
	}
}

// Add creates a noun (spec §6.1 `add`). Re-adding an existing id upserts
// it: latest write wins (§8 Boundary behaviors).
func (d *DB) Add(ctx context.Context, req AddRequest) (string, error) {
	if err := d.checkWritable(); err != nil {
		return "", err
	}
	if err := validateStruct(req); err != nil {
		return "", err
	}

	vec, err := d.resolveVector(ctx, req.Text, req.Vector)
	if err != nil {
		return "", err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	prior, err := d.nouns.Get(ctx, id)
	if err != nil {
		if err != vexerr.ErrNotFound {
			return "", err
		}
		prior = nil
	}

	now := model.NowMillis()
	createdAt := now
	if prior != nil {
		createdAt = prior.CreatedAt
	}
	n := &model.Noun{
		ID:            id,
		Type:          req.Type,
		TypeExtension: req.TypeExtension,
		Vector:        vec,
		Metadata:      req.Metadata,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
		Service:       req.Service,
	}

	tx, err := d.engine.Execute(ctx, []txn.Operation{d.putNounOp(n, prior)})
	if err != nil {
		return "", err
	}
	_ = tx
	d.compactIfNeeded()
	return id, nil
}

// AddMany adds every item in req, continuing past individual failures
// when req.ContinueOnError is set and stopping at the first failure
// otherwise (spec §6.1 `addMany`).
func (d *DB) AddMany(ctx context.Context, req AddManyRequest) (*AddManyResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	result := &AddManyResult{Total: len(req.Items)}
	for i, item := range req.Items {
		id, err := d.Add(ctx, item)
		if err != nil {
			result.Failed = append(result.Failed, AddManyFailure{Index: i, Err: err})
			if !req.ContinueOnError {
				return result, err
			}
			continue
		}
		result.Successful = append(result.Successful, id)
	}
	return result, nil
}

// Get returns the noun with id, or nil if it does not exist (spec §6.1
// `get`).
func (d *DB) Get(ctx context.Context, id string) (*model.Noun, error) {
	n, err := d.nouns.Get(ctx, id)
	if err == vexerr.ErrNotFound {
		return nil, nil
	}
	return n, err
}

// Update partially updates the noun with req.ID (spec §6.1 `update`).
// Returns false if the id does not exist. If req.Text is set the vector
// is recomputed; if only req.Vector is set it replaces the vector
// directly; otherwise the existing vector is preserved (spec §9 Open
// Question #2). req.Merge shallow-merges req.Metadata into the existing
// metadata instead of replacing it wholesale.
func (d *DB) Update(ctx context.Context, req UpdateRequest) (bool, error) {
	if err := d.checkWritable(); err != nil {
		return false, err
	}
	if err := validateStruct(req); err != nil {
		return false, err
	}

	prior, err := d.nouns.Get(ctx, req.ID)
	if err == vexerr.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	vec := prior.Vector
	switch {
	case len(req.Vector) > 0:
		vec = req.Vector
	case req.Text != nil:
		vec, err = d.resolveVector(ctx, *req.Text, nil)
		if err != nil {
			return false, err
		}
	}

	metadata := prior.Metadata
	if req.Metadata != nil {
		if req.Merge {
			metadata = mergeMetadata(prior.Metadata, req.Metadata)
		} else {
			metadata = req.Metadata
		}
	}

	now := model.NowMillis()
	if now <= prior.UpdatedAt {
		now = prior.UpdatedAt + 1 // timestamps are monotonic per id (spec §3 Invariants #7)
	}
	updated := &model.Noun{
		ID:            prior.ID,
		Type:          prior.Type,
		TypeExtension: prior.TypeExtension,
		Vector:        vec,
		Metadata:      metadata,
		CreatedAt:     prior.CreatedAt,
		UpdatedAt:     now,
		Service:       prior.Service,
	}

	if _, err := d.engine.Execute(ctx, []txn.Operation{d.putNounOp(updated, prior)}); err != nil {
		return false, err
	}
	d.compactIfNeeded()
	return true, nil
}

func mergeMetadata(base, overlay model.Metadata) model.Metadata {
	out := make(model.Metadata, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Delete removes the noun with id, cascading to every verb where it is
// an endpoint, and returns false if it did not exist (spec §6.1
// `delete`, lifecycle "Delete").
func (d *DB) Delete(ctx context.Context, id string) (bool, error) {
	if err := d.checkWritable(); err != nil {
		return false, err
	}
	n, err := d.nouns.Get(ctx, id)
	if err == vexerr.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	payload, _ := json.Marshal(id)
	op := txn.Operation{
		Name:    "delete_noun",
		Payload: payload,
		Execute: func(ctx context.Context) (txn.Rollback, error) {
			// Cascade-deleted verbs are captured before deletion so a
			// rollback can restore them exactly.
			touching := make(map[string]*model.Verb)
			for _, list := range []func(context.Context, string) ([]*model.Verb, error){d.verbs.ListBySource, d.verbs.ListByTarget} {
				vs, err := list(ctx, id)
				if err != nil {
					return nil, err
				}
				for _, v := range vs {
					touching[v.ID] = v
				}
			}
			removedVerbs, err := d.verbs.CascadeDelete(ctx, id)
			if err != nil {
				return nil, err
			}
			restored := make([]*model.Verb, 0, len(removedVerbs))
			for _, vid := range removedVerbs {
				if v, ok := touching[vid]; ok {
					restored = append(restored, v)
				}
			}

			if err := d.nouns.Delete(ctx, id); err != nil {
				return nil, err
			}
			if err := d.vectors.Delete(id); err != nil && err != vexerr.ErrNotFound {
				return nil, err
			}
			d.meta.RemoveNoun(n)
			d.stats.Apply(n.Service, stats.Delta{Noun: -1, Verb: -int64(len(removedVerbs))})

			rollback := func(rctx context.Context) error {
				if err := d.nouns.Put(rctx, n); err != nil {
					return err
				}
				if err := d.vectors.Insert(n.ID, n.Vector); err != nil {
					return err
				}
				d.meta.IndexNoun(n)
				for _, v := range restored {
					if err := d.verbs.Put(rctx, v); err != nil {
						return err
					}
				}
				d.stats.Apply(n.Service, stats.Delta{Noun: 1, Verb: int64(len(restored))})
				return nil
			}
			return rollback, nil
		},
	}

	if _, err := d.engine.Execute(ctx, []txn.Operation{op}); err != nil {
		return false, err
	}
	d.compactIfNeeded()
	return true, nil
}
