// Package verb implements the verb store (C4): typed directed edges
// between nouns, with inverted indexes by source, target, and type so
// graph-constrained queries don't require a full scan.
package verb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/storage"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

const keyPrefix = "verbs/"

func key(id string) string { return keyPrefix + id }

// Store is the verb (edge) store. The by_from/by_to/by_type indexes are
// kept in memory and rebuilt from the backend on Load; they are not
// themselves persisted since they are cheap to reconstruct from the
// verbs already in storage.
type Store struct {
	backend storage.Store

	mu     sync.RWMutex
	byFrom map[string]map[string]struct{}
	byTo   map[string]map[string]struct{}
	byType map[model.VerbType]map[string]struct{}
}

// New wires an empty verb store over backend. Call Load to rebuild the
// in-memory indexes from existing data when reopening a store.
func New(backend storage.Store) *Store {
	return &Store{
		backend: backend,
		byFrom:  make(map[string]map[string]struct{}),
		byTo:    make(map[string]map[string]struct{}),
		byType:  make(map[model.VerbType]map[string]struct{}),
	}
}

// Load rebuilds the in-memory indexes by scanning every verb already in
// the backend. Call once at open.
func (s *Store) Load(ctx context.Context) error {
	keys, err := s.backend.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("%w: list verbs: %v", vexerr.ErrStorageFail, err)
	}
	for _, k := range keys {
		id := k[len(keyPrefix):]
		v, err := s.fetch(ctx, id)
		if err != nil {
			continue // a single corrupt verb is skipped, not fatal
		}
		s.index(v)
	}
	return nil
}

func (s *Store) index(v *model.Verb) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addTo(s.byFrom, v.From, v.ID)
	addTo(s.byTo, v.To, v.ID)
	addToType(s.byType, v.Type, v.ID)
}

func (s *Store) unindex(v *model.Verb) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removeFrom(s.byFrom, v.From, v.ID)
	removeFrom(s.byTo, v.To, v.ID)
	removeFromType(s.byType, v.Type, v.ID)
}

func addTo(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func addToType(m map[model.VerbType]map[string]struct{}, t model.VerbType, id string) {
	set, ok := m[t]
	if !ok {
		set = make(map[string]struct{})
		m[t] = set
	}
	set[id] = struct{}{}
}

func removeFromType(m map[model.VerbType]map[string]struct{}, t model.VerbType, id string) {
	set, ok := m[t]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, t)
	}
}

func (s *Store) fetch(ctx context.Context, id string) (*model.Verb, error) {
	b, err := s.backend.Get(ctx, key(id))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, vexerr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: verb %s: %v", vexerr.ErrStorageFail, id, err)
	}
	var v model.Verb
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: verb %s: %v", vexerr.ErrCorruption, id, err)
	}
	return &v, nil
}

// Put writes v and updates the by_from/by_to/by_type indexes. If v.ID
// already existed with a different From/To/Type, the old index entries
// are removed first.
func (s *Store) Put(ctx context.Context, v *model.Verb) error {
	if v == nil || v.ID == "" || v.From == "" || v.To == "" {
		return vexerr.ErrInvalidInput
	}
	if old, err := s.fetch(ctx, v.ID); err == nil {
		s.unindex(old)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("verb: marshal %s: %w", v.ID, err)
	}
	if err := s.backend.Put(ctx, key(v.ID), b); err != nil {
		return fmt.Errorf("%w: verb %s: %v", vexerr.ErrStorageFail, v.ID, err)
	}
	s.index(v)
	return nil
}

// Get returns the verb with id, or vexerr.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Verb, error) {
	return s.fetch(ctx, id)
}

// Delete removes the verb with id from storage and its indexes.
func (s *Store) Delete(ctx context.Context, id string) error {
	v, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, key(id)); err != nil {
		return fmt.Errorf("%w: verb %s: %v", vexerr.ErrStorageFail, id, err)
	}
	s.unindex(v)
	return nil
}

// ListBySource returns, in ascending id order, every verb whose From == id.
func (s *Store) ListBySource(ctx context.Context, id string) ([]*model.Verb, error) {
	return s.listByIndex(ctx, s.snapshotIDs(s.byFrom, id))
}

// ListByTarget returns, in ascending id order, every verb whose To == id.
func (s *Store) ListByTarget(ctx context.Context, id string) ([]*model.Verb, error) {
	return s.listByIndex(ctx, s.snapshotIDs(s.byTo, id))
}

// ListByType returns, in ascending id order, every verb of the given type.
func (s *Store) ListByType(ctx context.Context, t model.VerbType) ([]*model.Verb, error) {
	s.mu.RLock()
	set := s.byType[t]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return s.listByIndex(ctx, ids)
}

func (s *Store) snapshotIDs(m map[string]map[string]struct{}, key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := m[key]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) listByIndex(ctx context.Context, ids []string) ([]*model.Verb, error) {
	out := make([]*model.Verb, 0, len(ids))
	for _, id := range ids {
		v, err := s.fetch(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// All returns every verb in the store, in no particular order. Used by
// export, which needs a full dump rather than an index-driven subset.
func (s *Store) All(ctx context.Context) ([]*model.Verb, error) {
	keys, err := s.backend.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list verbs: %v", vexerr.ErrStorageFail, err)
	}
	out := make([]*model.Verb, 0, len(keys))
	for _, k := range keys {
		id := k[len(keyPrefix):]
		v, err := s.fetch(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// CascadeDelete deletes every verb where nounID is either endpoint,
// returning the ids deleted so callers (stats, HNSW) can react (spec
// §4.4, §4.1 edge case #2).
func (s *Store) CascadeDelete(ctx context.Context, nounID string) ([]string, error) {
	outgoing, err := s.ListBySource(ctx, nounID)
	if err != nil {
		return nil, err
	}
	incoming, err := s.ListByTarget(ctx, nounID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(outgoing)+len(incoming))
	var deleted []string
	for _, v := range append(outgoing, incoming...) {
		if _, ok := seen[v.ID]; ok {
			continue
		}
		seen[v.ID] = struct{}{}
		if err := s.Delete(ctx, v.ID); err != nil && err != vexerr.ErrNotFound {
			return deleted, err
		}
		deleted = append(deleted, v.ID)
	}
	return deleted, nil
}
