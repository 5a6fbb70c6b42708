package vectorindex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

func axisVector(d int, dim int, mag float32) []float32 {
	v := make([]float32, d)
	v[dim] = mag
	return v
}

func TestInsertRejectsWrongDimensions(t *testing.T) {
	idx := New(DefaultConfig(4))
	err := idx.Insert("a", []float32{1, 2, 3})
	assert.ErrorIs(t, err, vexerr.ErrDimensionMismatch)
}

func TestSearchFindsExactMatch(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.NoError(t, idx.Insert("a", axisVector(4, 0, 1)))
	require.NoError(t, idx.Insert("b", axisVector(4, 1, 1)))
	require.NoError(t, idx.Insert("c", axisVector(4, 2, 1)))

	results, err := idx.Search(axisVector(4, 0, 1), 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestSearchOrdersByAscendingDistance(t *testing.T) {
	idx := New(DefaultConfig(2))
	require.NoError(t, idx.Insert("near", []float32{1, 0.05}))
	require.NoError(t, idx.Insert("far", []float32{0.05, 1}))

	results, err := idx.Search([]float32{1, 0}, 2, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestDeleteTombstonesAndExcludesFromSearch(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.NoError(t, idx.Insert("a", axisVector(4, 0, 1)))
	require.NoError(t, idx.Insert("b", axisVector(4, 1, 1)))

	require.NoError(t, idx.Delete("a"))
	results, err := idx.Search(axisVector(4, 0, 1), 2, 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	idx := New(DefaultConfig(4))
	assert.ErrorIs(t, idx.Delete("missing"), vexerr.ErrNotFound)
}

func TestReinsertSameIDReplacesVector(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.NoError(t, idx.Insert("a", axisVector(4, 0, 1)))
	require.NoError(t, idx.Insert("a", axisVector(4, 1, 1)))

	results, err := idx.Search(axisVector(4, 1, 1), 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestCompactDropsTombstonedNodesAndPreservesLive(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.NoError(t, idx.Insert("a", axisVector(4, 0, 1)))
	require.NoError(t, idx.Insert("b", axisVector(4, 1, 1)))
	require.NoError(t, idx.Delete("a"))

	assert.True(t, idx.NeedsCompaction())
	idx.Compact()
	assert.Equal(t, 1, idx.Len())

	results, err := idx.Search(axisVector(4, 1, 1), 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := New(DefaultConfig(4))
	for i := 0; i < 20; i++ {
		require.NoError(t, idx.Insert(fmt.Sprintf("n%d", i), axisVector(4, i%4, float32(i+1))))
	}
	require.NoError(t, idx.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())

	results, err := loaded.Search(axisVector(4, 0, 1), 3, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestLoadMissingDirReturnsError(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestEuclideanMetricIsUsedWhenConfigured(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.Metric = MetricEuclidean
	idx := New(cfg)
	require.NoError(t, idx.Insert("a", []float32{0, 0}))
	require.NoError(t, idx.Insert("b", []float32{3, 4}))

	results, err := idx.Search([]float32{0, 0}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestLargerDatasetRecallsKNearestApproximately(t *testing.T) {
	idx := New(DefaultConfig(8))
	n := 200
	for i := 0; i < n; i++ {
		v := make([]float32, 8)
		v[i%8] = float32(i%10 + 1)
		v[(i+1)%8] = 0.01
		require.NoError(t, idx.Insert(fmt.Sprintf("v%d", i), v))
	}

	query := make([]float32, 8)
	query[0] = 5
	results, err := idx.Search(query, 5, 50)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}
