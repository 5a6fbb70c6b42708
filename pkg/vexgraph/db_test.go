package vexgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexgraph/vexgraph/pkg/config"
	"github.com/vexgraph/vexgraph/pkg/embed"
	"github.com/vexgraph/vexgraph/pkg/model"
	"github.com/vexgraph/vexgraph/pkg/storage"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WALDir = t.TempDir()
	db, err := Open(context.Background(), Options{
		Backend:  storage.NewMemoryStore(),
		Config:   cfg,
		Embedder: embed.NewDeterministic(),
		HNSWDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

// S1: add then get round-trips every field (spec §8 S1).
func TestAddThenGetRoundTrips(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, AddRequest{
		Text:     "hello world",
		Type:     model.NounDocument,
		Metadata: model.Metadata{"lang": "en"},
		Service:  "docs",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	n, err := db.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, model.NounDocument, n.Type)
	assert.Equal(t, "en", n.Metadata["lang"])
	assert.Len(t, n.Vector, model.VectorDimensions)
}

func TestAddRequiresTextOrVector(t *testing.T) {
	db := testDB(t)
	_, err := db.Add(context.Background(), AddRequest{Type: model.NounThing})
	assert.Error(t, err)
}

func TestAddRejectsWrongDimensionVector(t *testing.T) {
	db := testDB(t)
	_, err := db.Add(context.Background(), AddRequest{
		Type:   model.NounThing,
		Vector: []float32{1, 2, 3},
	})
	assert.Error(t, err)
}

// S2: update preserves the vector when only metadata changes (spec §9
// Open Question #2).
func TestUpdateWithoutTextOrVectorPreservesVector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, AddRequest{Text: "original text", Type: model.NounThing})
	require.NoError(t, err)
	before, err := db.Get(ctx, id)
	require.NoError(t, err)

	ok, err := db.Update(ctx, UpdateRequest{ID: id, Metadata: model.Metadata{"k": "v"}})
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Vector, after.Vector)
	assert.Equal(t, "v", after.Metadata["k"])
}

func TestUpdateMergeKeepsExistingMetadataKeys(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Add(ctx, AddRequest{Text: "x", Type: model.NounThing, Metadata: model.Metadata{"a": 1}})
	require.NoError(t, err)

	_, err = db.Update(ctx, UpdateRequest{ID: id, Metadata: model.Metadata{"b": 2}, Merge: true})
	require.NoError(t, err)

	n, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(1), n.Metadata["a"])
	assert.Equal(t, float64(2), n.Metadata["b"])
}

func TestUpdateUnknownIDReturnsFalse(t *testing.T) {
	db := testDB(t)
	ok, err := db.Update(context.Background(), UpdateRequest{ID: "missing", Metadata: model.Metadata{"a": 1}})
	require.NoError(t, err)
	assert.False(t, ok)
}

// S3: delete cascades to every touching verb (spec §8 S3, §4.4).
func TestDeleteCascadesToVerbs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a, err := db.Add(ctx, AddRequest{Text: "a", Type: model.NounPerson})
	require.NoError(t, err)
	b, err := db.Add(ctx, AddRequest{Text: "b", Type: model.NounPerson})
	require.NoError(t, err)

	vid, err := db.Relate(ctx, RelateRequest{From: a, To: b, Type: model.VerbWorksWith})
	require.NoError(t, err)

	ok, err := db.Delete(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.verbs.Get(ctx, vid)
	assert.Error(t, err)

	n, err := db.Get(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestDeleteUnknownIDReturnsFalse(t *testing.T) {
	db := testDB(t)
	ok, err := db.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelateRejectsDanglingEndpointsByDefault(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a, err := db.Add(ctx, AddRequest{Text: "a", Type: model.NounPerson})
	require.NoError(t, err)

	_, err = db.Relate(ctx, RelateRequest{From: a, To: "missing", Type: model.VerbWorksWith})
	assert.Error(t, err)
}

func TestGetRelationsFiltersBySourceAndType(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a, _ := db.Add(ctx, AddRequest{Text: "a", Type: model.NounPerson})
	b, _ := db.Add(ctx, AddRequest{Text: "b", Type: model.NounPerson})
	c, _ := db.Add(ctx, AddRequest{Text: "c", Type: model.NounPerson})

	_, err := db.Relate(ctx, RelateRequest{From: a, To: b, Type: model.VerbWorksWith})
	require.NoError(t, err)
	_, err = db.Relate(ctx, RelateRequest{From: a, To: c, Type: model.VerbManages})
	require.NoError(t, err)

	rels, err := db.GetRelations(ctx, GetRelationsRequest{From: a, Type: model.VerbWorksWith})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, b, rels[0].To)
}

func TestGetRelationsRequiresAFilter(t *testing.T) {
	db := testDB(t)
	_, err := db.GetRelations(context.Background(), GetRelationsRequest{})
	assert.Error(t, err)
}

// S4/S5: similar excludes the source noun by default (spec §9 Open
// Question #1) and honors IncludeSelf.
func TestSimilarExcludesSelfByDefault(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id, err := db.Add(ctx, AddRequest{Text: "seed", Type: model.NounThing})
	require.NoError(t, err)
	_, err = db.Add(ctx, AddRequest{Text: "another", Type: model.NounThing})
	require.NoError(t, err)

	resp, err := db.Similar(ctx, SimilarRequest{To: id, Limit: 10})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, id, r.ID)
	}
}

func TestSimilarIncludeSelfKeepsSourceInResults(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id, err := db.Add(ctx, AddRequest{Text: "seed", Type: model.NounThing})
	require.NoError(t, err)

	resp, err := db.Similar(ctx, SimilarRequest{To: id, Limit: 10, IncludeSelf: true})
	require.NoError(t, err)
	found := false
	for _, r := range resp.Results {
		if r.ID == id {
			found = true
		}
	}
	assert.True(t, found)
}

func TestClearWithTypeFilterOnlyRemovesMatchingNouns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.Add(ctx, AddRequest{Text: "a", Type: model.NounPerson})
	require.NoError(t, err)
	keep, err := db.Add(ctx, AddRequest{Text: "b", Type: model.NounPlace})
	require.NoError(t, err)

	n, err := db.Clear(ctx, ClearRequest{Type: model.NounPerson})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	kept, err := db.Get(ctx, keep)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

// S6: export then import into a fresh instance round-trips every noun
// and verb (spec §8 S6, SPEC_FULL.md §4 export/import).
func TestExportImportRoundTrips(t *testing.T) {
	ctx := context.Background()
	src := testDB(t)

	a, err := src.Add(ctx, AddRequest{Text: "a", Type: model.NounPerson})
	require.NoError(t, err)
	b, err := src.Add(ctx, AddRequest{Text: "b", Type: model.NounPerson})
	require.NoError(t, err)
	_, err = src.Relate(ctx, RelateRequest{From: a, To: b, Type: model.VerbWorksWith})
	require.NoError(t, err)

	env, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, env.Nouns, 2)
	require.Len(t, env.Verbs, 1)

	dst := testDB(t)
	require.NoError(t, dst.Import(ctx, env))

	gotA, err := dst.Get(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, gotA)

	rels, err := dst.GetRelations(ctx, GetRelationsRequest{From: a})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, b, rels[0].To)
}

func TestGetStatisticsReflectsMutations(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.Add(ctx, AddRequest{Text: "a", Type: model.NounPerson, Service: "svc"})
	require.NoError(t, err)

	snap, err := db.GetStatistics(ctx, StatisticsRequest{Service: "svc"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap["svc"].NounCount)
}

func TestInsightsAggregatesAcrossServices(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.Add(ctx, AddRequest{Text: "a", Type: model.NounPerson, Service: "svc1"})
	require.NoError(t, err)
	_, err = db.Add(ctx, AddRequest{Text: "b", Type: model.NounPlace, Service: "svc2"})
	require.NoError(t, err)

	in, err := db.Insights(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, in.Entities)
	assert.Equal(t, 1, in.Types[model.NounPerson])
	assert.Equal(t, 1, in.Types[model.NounPlace])
}

func TestReadOnlyRejectsMutations(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WALDir = t.TempDir()
	db, err := Open(context.Background(), Options{
		Backend:  storage.NewMemoryStore(),
		Config:   cfg,
		Embedder: embed.NewDeterministic(),
		HNSWDir:  t.TempDir(),
		ReadOnly: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	_, err = db.Add(context.Background(), AddRequest{Text: "x", Type: model.NounThing})
	assert.ErrorIs(t, err, vexerr.ErrReadOnly)
}
