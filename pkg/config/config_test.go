package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	os.Setenv("VEXGRAPH_HNSW_M", "32")
	os.Setenv("VEXGRAPH_HNSW_METRIC", "euclidean")
	os.Setenv("VEXGRAPH_VECTOR_DIMENSIONS", "768")
	defer func() {
		os.Unsetenv("VEXGRAPH_HNSW_M")
		os.Unsetenv("VEXGRAPH_HNSW_METRIC")
		os.Unsetenv("VEXGRAPH_VECTOR_DIMENSIONS")
	}()

	c := LoadFromEnv()
	assert.Equal(t, 32, c.HNSWM)
	assert.Equal(t, "euclidean", c.HNSWMetric)
	assert.Equal(t, 768, c.IgnoredDimensionsOverride())
	assert.Equal(t, Dimensions, 384, "the actual dimension constant must never move")
	require.NoError(t, c.Validate())
}

func TestValidateRejectsBadSettings(t *testing.T) {
	c := DefaultConfig()
	c.HNSWMetric = "manhattan"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.HNSWM = 1
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.WALSyncMode = "sometimes"
	assert.Error(t, c.Validate())
}
