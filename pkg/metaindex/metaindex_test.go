package metaindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/noun"
	"github.com/vexgraph/vexgraph/pkg/storage"
)

func newIndex(t *testing.T) *Index {
	ix, err := New(DefaultConfig())
	require.NoError(t, err)
	return ix
}

func nounWith(id string, md model.Metadata) *model.Noun {
	return &model.Noun{ID: id, Type: model.NounThing, Metadata: md}
}

func ptr(f float64) *float64 { return &f }

func TestEqualityLookupCaseInsensitive(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"category": "Tech"}))
	ix.IndexNoun(nounWith("b", model.Metadata{"category": "tech"}))

	ids, indexed := ix.Equals("category", "TECH")
	require.True(t, indexed)
	assert.Len(t, ids, 2)
}

func TestExcludedFieldNeverIndexed(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"id": "should-not-index"}))
	_, indexed := ix.Equals("id", "should-not-index")
	assert.False(t, indexed)
}

func TestNestedFieldPathsUseDotNotation(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"address": map[string]any{"city": "Boston"}}))

	ids, indexed := ix.Equals("address.city", "boston")
	require.True(t, indexed)
	assert.Contains(t, ids, "a")
}

func TestArrayContainsLookup(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"tags": []any{"urgent", "review"}}))

	ids, indexed := ix.Contains("tags", "urgent")
	require.True(t, indexed)
	assert.Contains(t, ids, "a")
}

func TestRangeQueryBounds(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"price": 50.0}))
	ix.IndexNoun(nounWith("b", model.Metadata{"price": 150.0}))
	ix.IndexNoun(nounWith("c", model.Metadata{"price": 1500.0}))

	ids, indexed := ix.Range("price", nil, ptr(100), nil, ptr(1000))
	require.True(t, indexed)
	assert.Len(t, ids, 1)
	assert.Contains(t, ids, "b")
}

func TestRemoveNounClearsIndexEntries(t *testing.T) {
	ix := newIndex(t)
	n := nounWith("a", model.Metadata{"category": "tech", "price": 50.0})
	ix.IndexNoun(n)
	ix.RemoveNoun(n)

	ids, _ := ix.Equals("category", "tech")
	assert.Empty(t, ids)
	ids, _ = ix.Range("price", nil, ptr(0), nil, nil)
	assert.Empty(t, ids)
}

func TestInUnionsMultipleValues(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"status": "active"}))
	ix.IndexNoun(nounWith("b", model.Metadata{"status": "archived"}))
	ix.IndexNoun(nounWith("c", model.Metadata{"status": "deleted"}))

	ids, indexed := ix.In("status", []any{"active", "archived"})
	require.True(t, indexed)
	assert.Len(t, ids, 2)
}

func TestFieldsAndValuesDiscovery(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"category": "tech"}))
	ix.IndexNoun(nounWith("b", model.Metadata{"category": "news"}))

	fields := ix.Fields()
	assert.Contains(t, fields, "category")

	values := ix.Values("category")
	assert.ElementsMatch(t, []string{"tech", "news"}, values)
}

func TestMaxIndexSizeEvictsLeastRecentlyUsedField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIndexSize = 2
	ix, err := New(cfg)
	require.NoError(t, err)

	ix.IndexNoun(nounWith("a", model.Metadata{"f1": "x"}))
	ix.IndexNoun(nounWith("b", model.Metadata{"f2": "x"}))
	// touch f2 so f1 becomes the least-recently-used
	ix.Equals("f2", "x")
	ix.IndexNoun(nounWith("c", model.Metadata{"f3": "x"}))

	assert.True(t, ix.IsEvicted("f1"))
	_, indexed := ix.Equals("f1", "x")
	assert.False(t, indexed)
}

func TestUniverseTracksLiveIDs(t *testing.T) {
	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"x": "y"}))
	ix.IndexNoun(nounWith("b", nil))

	universe := ix.Universe()
	assert.Contains(t, universe, "a")
	assert.Contains(t, universe, "b")
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()

	ix := newIndex(t)
	ix.IndexNoun(nounWith("a", model.Metadata{"category": "tech", "price": 50.0}))
	ix.IndexNoun(nounWith("b", model.Metadata{"category": "news", "price": 150.0}))
	require.NoError(t, ix.Flush(ctx, backend))

	loaded := newIndex(t)
	require.NoError(t, loaded.Load(ctx, backend))

	ids, indexed := loaded.Equals("category", "tech")
	require.True(t, indexed)
	assert.Contains(t, ids, "a")

	ids, indexed = loaded.Range("price", nil, ptr(100), nil, nil)
	require.True(t, indexed)
	assert.Contains(t, ids, "b")
}

func TestRebuildRescansNounStore(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	store, err := noun.New(backend, 16)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, nounWith("a", model.Metadata{"category": "tech"})))
	require.NoError(t, store.Put(ctx, nounWith("b", model.Metadata{"category": "news"})))

	ix := newIndex(t)
	require.NoError(t, ix.Rebuild(ctx, store))

	ids, indexed := ix.Equals("category", "tech")
	require.True(t, indexed)
	assert.Contains(t, ids, "a")
	assert.Len(t, ix.Fields(), 1)
}
