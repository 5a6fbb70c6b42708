package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allAdapters(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	bs, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"fs":     fs,
		"badger": bs,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range allAdapters(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "nouns/missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "nouns/a", []byte("alpha")))
			require.NoError(t, s.Put(ctx, "nouns/b", []byte("beta")))
			require.NoError(t, s.Put(ctx, "verbs/a", []byte("rel")))

			v, err := s.Get(ctx, "nouns/a")
			require.NoError(t, err)
			assert.Equal(t, "alpha", string(v))

			keys, err := s.List(ctx, "nouns/")
			require.NoError(t, err)
			assert.Equal(t, []string{"nouns/a", "nouns/b"}, keys)

			require.NoError(t, s.Delete(ctx, "nouns/a"))
			_, err = s.Get(ctx, "nouns/a")
			assert.ErrorIs(t, err, ErrNotFound)

			err = s.Delete(ctx, "nouns/a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreContractOverwritePreservesOtherKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range allAdapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "x", []byte("1")))
			require.NoError(t, s.Put(ctx, "x", []byte("2")))
			require.NoError(t, s.Put(ctx, "y", []byte("keep")))

			v, err := s.Get(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, "2", string(v))

			v, err = s.Get(ctx, "y")
			require.NoError(t, err)
			assert.Equal(t, "keep", string(v))
		})
	}
}
