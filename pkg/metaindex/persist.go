package metaindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/noun"
	"github.com/vexgraph/vexgraph/pkg/storage"
)

const keyPrefix = "meta-index/"

func chunkKey(field, token string) string {
	return keyPrefix + url.PathEscape(field) + "/" + url.PathEscape(token)
}

// NounLister is the subset of noun.Store that Rebuild needs. Satisfied
// by *noun.Store.
type NounLister interface {
	List(ctx context.Context, filter noun.Filter) ([]*model.Noun, error)
}

// Rebuild discards all in-memory state and re-scans every noun in store,
// re-deriving the index from scratch (spec §4.6 Maintenance: rebuild()).
func (ix *Index) Rebuild(ctx context.Context, store NounLister) error {
	nouns, err := store.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("metaindex: rebuild: list nouns: %w", err)
	}

	ix.mu.Lock()
	ix.fields = make(map[string]*fieldIndex)
	ix.evicted = make(map[string]struct{})
	ix.live = make(map[string]struct{})
	ix.fieldsDirty = true
	ix.valuesCache.Purge()
	ix.mu.Unlock()

	for _, n := range nouns {
		ix.IndexNoun(n)
	}
	return nil
}

// Flush persists every indexed field/token id-set as one chunk each
// under meta-index/<field>/<token> (spec §6.3). It is a full dump rather
// than a delta, which keeps the format simple at the cost of rewriting
// unchanged chunks.
func (ix *Index) Flush(ctx context.Context, backend storage.Store) error {
	ix.mu.Lock()
	type chunk struct {
		key string
		ids []string
	}
	var chunks []chunk
	for field, fi := range ix.fields {
		for token, set := range fi.equality {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			chunks = append(chunks, chunk{key: chunkKey(field, token), ids: ids})
		}
	}
	ix.mu.Unlock()

	for _, c := range chunks {
		b, err := json.Marshal(c.ids)
		if err != nil {
			return fmt.Errorf("metaindex: marshal chunk %s: %w", c.key, err)
		}
		if err := backend.Put(ctx, c.key, b); err != nil {
			return fmt.Errorf("metaindex: flush chunk %s: %w", c.key, err)
		}
	}
	return nil
}

// Load reconstructs the index from chunks previously written by Flush,
// without re-scanning the noun store. Numeric tokens are additionally
// inserted into each field's ordered range structure so range queries
// work after a load.
func (ix *Index) Load(ctx context.Context, backend storage.Store) error {
	keys, err := backend.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("metaindex: load: list chunks: %w", err)
	}

	ix.mu.Lock()
	ix.fields = make(map[string]*fieldIndex)
	ix.evicted = make(map[string]struct{})
	ix.live = make(map[string]struct{})
	ix.fieldsDirty = true
	ix.valuesCache.Purge()
	ix.mu.Unlock()

	for _, k := range keys {
		rest := strings.TrimPrefix(k, keyPrefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			continue
		}
		field, err := url.PathUnescape(parts[0])
		if err != nil {
			continue
		}
		token, err := url.PathUnescape(parts[1])
		if err != nil {
			continue
		}
		b, err := backend.Get(ctx, k)
		if err != nil {
			continue
		}
		var ids []string
		if err := json.Unmarshal(b, &ids); err != nil {
			continue
		}

		ix.mu.Lock()
		fi, _ := ix.fieldIndexFor(field, true)
		if fi != nil {
			for _, id := range ids {
				fi.insertEquality(token, id)
				ix.live[id] = struct{}{}
				if f, perr := strconv.ParseFloat(token, 64); perr == nil {
					if _, exists := fi.pos[id]; !exists {
						fi.insertRange(f, id)
					}
				}
			}
		}
		ix.mu.Unlock()
	}
	return nil
}
