// Package storage defines the core's single external dependency: a
// minimal blob key-value contract (spec §4.1). Concrete adapters are
// external collaborators by design — the core only consumes Store — but
// this package ships three reference implementations (in-memory, local
// filesystem, Badger-embedded) so the interface can be exercised without
// a caller wiring their own.
package storage

import (
	"context"
	"errors"
	"sort"
)

// ErrNotFound is returned by Get/Delete when key does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the blob key-value contract the core consumes. Keys are UTF-8
// paths; the core groups them under prefixes like "nouns/", "verbs/",
// "meta-index/<field>/", "wal/<segment>" (spec §6.3). Implementations
// must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns keys with the given prefix in ascending lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// SortKeys is a small helper adapters use to satisfy List's ordering
// contract regardless of the underlying storage's native iteration order.
func SortKeys(keys []string) {
	sort.Strings(keys)
}
