package vexgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/stats"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
	"github.com/vexgraph/vexgraph/pkg/wal"
)

// walReplayer implements wal.Replayer for Open's crash recovery pass.
// wal.Replay hands it ops belonging to both committed transactions and
// transactions that began but never reached a commit or abort marker
// (the crash happened mid-transaction) — both are re-executed in
// order, per spec §4.2's "if pending, re-execute in order". Replaying
// re-runs the same store writes the original Execute closure made; it
// is idempotent because Put/Insert/IndexNoun and Delete/RemoveNoun are
// themselves idempotent (spec §9 "WAL replay reruns Execute rather
// than diff-replaying").
type walReplayer struct {
	db *DB
}

func (r *walReplayer) ReplayOp(op wal.Op) error {
	ctx := context.Background()
	switch op.Name {
	case "put_noun":
		var n model.Noun
		if err := json.Unmarshal(op.Payload, &n); err != nil {
			return fmt.Errorf("%w: replay put_noun: %v", vexerr.ErrCorruption, err)
		}
		return r.replayPutNoun(ctx, &n)
	case "delete_noun":
		var id string
		if err := json.Unmarshal(op.Payload, &id); err != nil {
			return fmt.Errorf("%w: replay delete_noun: %v", vexerr.ErrCorruption, err)
		}
		return r.replayDeleteNoun(ctx, id)
	case "put_verb":
		var v model.Verb
		if err := json.Unmarshal(op.Payload, &v); err != nil {
			return fmt.Errorf("%w: replay put_verb: %v", vexerr.ErrCorruption, err)
		}
		if err := r.db.verbs.Put(ctx, &v); err != nil {
			return err
		}
		return nil
	case "delete_verb":
		var id string
		if err := json.Unmarshal(op.Payload, &id); err != nil {
			return fmt.Errorf("%w: replay delete_verb: %v", vexerr.ErrCorruption, err)
		}
		if err := r.db.verbs.Delete(ctx, id); err != nil && err != vexerr.ErrNotFound {
			return err
		}
		return nil
	default:
		r.db.lg.Warn("vexgraph: wal replay: unknown op, skipping", zap.String("op", op.Name))
		return nil
	}
}

func (r *walReplayer) replayPutNoun(ctx context.Context, n *model.Noun) error {
	if err := r.db.nouns.Put(ctx, n); err != nil {
		return err
	}
	if len(n.Vector) == model.VectorDimensions {
		if err := r.db.vectors.Insert(n.ID, n.Vector); err != nil {
			return err
		}
	}
	r.db.meta.IndexNoun(n)
	return nil
}

func (r *walReplayer) replayDeleteNoun(ctx context.Context, id string) error {
	n, err := r.db.nouns.Get(ctx, id)
	if err == vexerr.ErrNotFound {
		return nil // already gone: the crash happened after this write landed
	}
	if err != nil {
		return err
	}
	if _, err := r.db.verbs.CascadeDelete(ctx, id); err != nil {
		return err
	}
	if err := r.db.nouns.Delete(ctx, id); err != nil {
		return err
	}
	if err := r.db.vectors.Delete(id); err != nil && err != vexerr.ErrNotFound {
		return err
	}
	r.db.meta.RemoveNoun(n)
	r.db.stats.Apply(n.Service, stats.Delta{Noun: -1})
	return nil
}
