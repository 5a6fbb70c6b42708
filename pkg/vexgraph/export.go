package vexgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/stats"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

// Envelope is the self-describing export/import payload (SPEC_FULL.md
// §4 supplemented feature): every noun and verb plus a statistics
// snapshot, enough to reconstruct an equivalent store from scratch.
type Envelope struct {
	Version int                       `json:"version"`
	Nouns   []*model.Noun             `json:"nouns"`
	Verbs   []*model.Verb             `json:"verbs"`
	Stats   map[string]stats.Counters `json:"stats"`
}

const envelopeVersion = 1

// Export dumps the entire store as an Envelope (spec §6.1 `export`).
func (d *DB) Export(ctx context.Context) (*Envelope, error) {
	nouns, err := d.nouns.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	verbs, err := d.verbs.All(ctx)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Version: envelopeVersion,
		Nouns:   nouns,
		Verbs:   verbs,
		Stats:   d.stats.Snapshot(),
	}, nil
}

// ExportJSON is a convenience wrapper around Export that serializes
// directly to JSON bytes.
func (d *DB) ExportJSON(ctx context.Context) ([]byte, error) {
	env, err := d.Export(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Import loads every noun and verb from env into the store (spec §6.1
// `import`). Nouns are loaded first so verbs referencing them satisfy
// invariant #2 immediately. Nouns keep their ids, and an existing noun
// with the same id is overwritten (latest write wins, as in Add). Each
// verb is re-created through Relate and so receives a fresh id; existing
// verbs are not overwritten.
func (d *DB) Import(ctx context.Context, env *Envelope) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("%w: import: nil envelope", vexerr.ErrInvalidInput)
	}
	if env.Version != envelopeVersion {
		return fmt.Errorf("%w: import: unsupported envelope version %d", vexerr.ErrInvalidInput, env.Version)
	}

	for _, n := range env.Nouns {
		if _, err := d.Add(ctx, AddRequest{
			ID:            n.ID,
			Text:          "",
			Vector:        n.Vector,
			Type:          n.Type,
			TypeExtension: n.TypeExtension,
			Metadata:      n.Metadata,
			Service:       n.Service,
		}); err != nil {
			return fmt.Errorf("vexgraph: import noun %s: %w", n.ID, err)
		}
	}
	for _, v := range env.Verbs {
		if _, err := d.Relate(ctx, RelateRequest{
			From:     v.From,
			To:       v.To,
			Type:     v.Type,
			Weight:   v.Weight,
			Metadata: v.Metadata,
		}); err != nil {
			return fmt.Errorf("vexgraph: import verb %s: %w", v.ID, err)
		}
	}
	return nil
}

// ImportJSON is a convenience wrapper around Import that deserializes
// from JSON bytes.
func (d *DB) ImportJSON(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: import: %v", vexerr.ErrInvalidInput, err)
	}
	return d.Import(ctx, &env)
}
