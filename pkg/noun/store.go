// Package noun implements the noun store (C3): a typed document store for
// entities, keyed by id, backed by a storage.Store blob and fronted by an
// in-memory hot cache. It performs no similarity search itself.
package noun

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/storage"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

const keyPrefix = "nouns/"

func key(id string) string { return keyPrefix + id }

// Filter narrows list() to a subset of stored nouns. A nil Filter matches
// everything.
type Filter func(*model.Noun) bool

// Store is the noun document store.
type Store struct {
	backend storage.Store
	cache   *lru.Cache[string, *model.Noun]
}

// New wires a noun store over backend with an LRU hot cache of cacheSize
// entries (spec §4.3).
func New(backend storage.Store, cacheSize int) (*Store, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	c, err := lru.New[string, *model.Noun](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("noun: create cache: %w", err)
	}
	return &Store{backend: backend, cache: c}, nil
}

// Put writes n, normalizing its cache entry. Callers own n after Put
// returns; Put caches its own copy, decoded from the bytes it wrote, so
// a cached Get returns the same value types as a Get from the backend.
func (s *Store) Put(ctx context.Context, n *model.Noun) error {
	if n == nil || n.ID == "" {
		return vexerr.ErrInvalidInput
	}
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("noun: marshal %s: %w", n.ID, err)
	}
	if err := s.backend.Put(ctx, key(n.ID), b); err != nil {
		return fmt.Errorf("%w: noun %s: %v", vexerr.ErrStorageFail, n.ID, err)
	}
	var cached model.Noun
	if err := json.Unmarshal(b, &cached); err != nil {
		return fmt.Errorf("noun: normalize %s: %w", n.ID, err)
	}
	s.cache.Add(n.ID, &cached)
	return nil
}

// Get returns the noun with id, or vexerr.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Noun, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached.Clone(), nil
	}
	b, err := s.backend.Get(ctx, key(id))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, vexerr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: noun %s: %v", vexerr.ErrStorageFail, id, err)
	}
	var n model.Noun
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, fmt.Errorf("%w: noun %s: %v", vexerr.ErrCorruption, id, err)
	}
	s.cache.Add(id, n.Clone())
	return &n, nil
}

// Delete removes the noun with id. Returns vexerr.ErrNotFound if absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, key(id)); err != nil {
		if err == storage.ErrNotFound {
			return vexerr.ErrNotFound
		}
		return fmt.Errorf("%w: noun %s: %v", vexerr.ErrStorageFail, id, err)
	}
	s.cache.Remove(id)
	return nil
}

// List returns every noun matching filter (nil matches all), in no
// particular order. Callers needing predicate pushdown over an index
// should prefer pkg/metaindex/pkg/query; List is the C3-level fallback
// full scan.
func (s *Store) List(ctx context.Context, filter Filter) ([]*model.Noun, error) {
	keys, err := s.backend.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list nouns: %v", vexerr.ErrStorageFail, err)
	}
	out := make([]*model.Noun, 0, len(keys))
	for _, k := range keys {
		id := k[len(keyPrefix):]
		n, err := s.Get(ctx, id)
		if err != nil {
			continue // a single corrupt/missing blob does not fail the scan
		}
		if filter == nil || filter(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Exists reports whether id is present without deserializing it fully
// into the returned value (still requires a Get, since the store has no
// separate existence index).
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if err == vexerr.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
