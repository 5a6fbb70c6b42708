package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FSStore is a local-filesystem Store: one file per key, rooted at Dir.
// It takes an exclusive flock on Dir/.vexgraph.lock for the lifetime of
// the store so a second process cannot open the same data directory — the
// same single-writer guarantee Badger/Bolt give their data files,
// reproduced here for the plain-file adapter.
type FSStore struct {
	dir  string
	lock *flock.Flock

	mu sync.Mutex
}

// NewFSStore opens (creating if absent) a filesystem-backed Store rooted
// at dir, acquiring an exclusive lock on the directory.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir %s: %w", dir, err)
	}
	lk := flock.New(filepath.Join(dir, ".vexgraph.lock"))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("storage: lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("storage: %s is already open by another process", dir)
	}
	return &FSStore{dir: dir, lock: lk}, nil
}

// keyToPath maps a storage key (a "/"-separated path like "nouns/abc") to
// a filesystem path under dir, escaping any path separators the key
// itself contains so a malicious or malformed key cannot escape dir.
func (f *FSStore) keyToPath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url_escape(p)
	}
	return filepath.Join(append([]string{f.dir}, parts...)...)
}

func (f *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

func (f *FSStore) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.keyToPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage: commit %s: %w", key, err)
	}
	return nil
}

func (f *FSStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.keyToPath(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

func (f *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	root := f.keyToPath(prefix)

	walkRoot := root
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		// prefix doesn't name a directory; walk the parent and filter by
		// string prefix, matching non-directory-aligned prefixes like
		// "meta-index/age/2" intended to match "meta-index/age/25".
		walkRoot = filepath.Dir(root)
	}

	_ = filepath.Walk(walkRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, rerr := filepath.Rel(f.dir, path)
		if rerr != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	SortKeys(keys)
	return keys, nil
}

func (f *FSStore) Close() error {
	return f.lock.Unlock()
}

// url_escape neutralizes path separators and ".." so a key segment cannot
// traverse outside dir; key segments are otherwise opaque ids.
func url_escape(segment string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "__")
	return r.Replace(segment)
}
