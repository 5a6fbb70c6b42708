// Package config loads the tunables for the vexgraph core from environment
// variables (VEXGRAPH_ prefix) or a YAML file, with an env-first
// LoadFromEnv/Validate shape.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dimensions is the hard-coded embedding width (spec §6.4). Any
// VEXGRAPH_VECTOR_DIMENSIONS override is read only so it can be logged and
// ignored — it never changes this constant.
const Dimensions = 384

// Config holds every tunable the core exposes. Unlike the embedding
// dimension, these may all be adjusted.
type Config struct {
	// WAL
	WALEnabled           bool
	WALDir               string
	WALSyncMode          string // "immediate", "batch", "none"
	WALBatchSyncInterval time.Duration

	// HNSW vector index defaults (spec §3 Index state)
	HNSWM              int
	HNSWEfConstruction int
	HNSWEfSearch       int
	HNSWMetric         string // "cosine" or "euclidean"
	HNSWTombstoneRatio float64

	// Noun store hot cache (spec §4.3)
	NounCacheSize int

	// Metadata index (spec §4.6)
	MetaIndexMaxSize int

	// Transaction engine (spec §4.9)
	MaxRollbackRetries int
	DefaultTxTimeout   time.Duration
	DefaultOpTimeout   time.Duration

	// Statistics (spec §4.10)
	StatsFlushInterval  time.Duration
	StatsFlushThreshold int

	// requestedDimensions records an ignored override for logging.
	requestedDimensions int
}

// DefaultConfig returns the core's defaults, matching spec.md §3/§4.2/§4.9.
func DefaultConfig() *Config {
	return &Config{
		WALEnabled:           true,
		WALDir:               "data/wal",
		WALSyncMode:          "batch",
		WALBatchSyncInterval: 100 * time.Millisecond,

		HNSWM:              16,
		HNSWEfConstruction: 200,
		HNSWEfSearch:       50,
		HNSWMetric:         "cosine",
		HNSWTombstoneRatio: 0.20,

		NounCacheSize: 4096,

		MetaIndexMaxSize: 100_000,

		MaxRollbackRetries: 3,
		DefaultTxTimeout:   30 * time.Second,
		DefaultOpTimeout:   10 * time.Second,

		StatsFlushInterval:  5 * time.Second,
		StatsFlushThreshold: 100,
	}
}

// LoadFromEnv loads configuration from VEXGRAPH_-prefixed environment
// variables, falling back to DefaultConfig for anything unset.
func LoadFromEnv() *Config {
	c := DefaultConfig()

	c.WALEnabled = getEnvBool("VEXGRAPH_WAL_ENABLED", c.WALEnabled)
	c.WALDir = getEnv("VEXGRAPH_WAL_DIR", c.WALDir)
	c.WALSyncMode = getEnv("VEXGRAPH_WAL_SYNC_MODE", c.WALSyncMode)
	c.WALBatchSyncInterval = getEnvDuration("VEXGRAPH_WAL_BATCH_INTERVAL", c.WALBatchSyncInterval)

	c.HNSWM = getEnvInt("VEXGRAPH_HNSW_M", c.HNSWM)
	c.HNSWEfConstruction = getEnvInt("VEXGRAPH_HNSW_EF_CONSTRUCTION", c.HNSWEfConstruction)
	c.HNSWEfSearch = getEnvInt("VEXGRAPH_HNSW_EF_SEARCH", c.HNSWEfSearch)
	c.HNSWMetric = getEnv("VEXGRAPH_HNSW_METRIC", c.HNSWMetric)
	c.HNSWTombstoneRatio = getEnvFloat("VEXGRAPH_HNSW_TOMBSTONE_RATIO", c.HNSWTombstoneRatio)

	c.NounCacheSize = getEnvInt("VEXGRAPH_NOUN_CACHE_SIZE", c.NounCacheSize)
	c.MetaIndexMaxSize = getEnvInt("VEXGRAPH_META_INDEX_MAX_SIZE", c.MetaIndexMaxSize)

	c.MaxRollbackRetries = getEnvInt("VEXGRAPH_MAX_ROLLBACK_RETRIES", c.MaxRollbackRetries)
	c.DefaultTxTimeout = getEnvDuration("VEXGRAPH_TX_TIMEOUT", c.DefaultTxTimeout)
	c.DefaultOpTimeout = getEnvDuration("VEXGRAPH_OP_TIMEOUT", c.DefaultOpTimeout)

	c.StatsFlushInterval = getEnvDuration("VEXGRAPH_STATS_FLUSH_INTERVAL", c.StatsFlushInterval)
	c.StatsFlushThreshold = getEnvInt("VEXGRAPH_STATS_FLUSH_THRESHOLD", c.StatsFlushThreshold)

	// Dimension override is read-and-ignored by design (spec §6.4).
	if v := os.Getenv("VEXGRAPH_VECTOR_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.requestedDimensions = n
		}
	}

	return c
}

// LoadFromFile loads YAML configuration, overlaying it on DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// IgnoredDimensionsOverride reports a VEXGRAPH_VECTOR_DIMENSIONS value the
// caller tried to set, so the opener can log that it was ignored. Returns
// 0 if no override was present.
func (c *Config) IgnoredDimensionsOverride() int { return c.requestedDimensions }

// Validate rejects internally-inconsistent configuration before Open uses it.
func (c *Config) Validate() error {
	switch c.WALSyncMode {
	case "immediate", "batch", "none":
	default:
		return fmt.Errorf("config: invalid WAL sync mode %q", c.WALSyncMode)
	}
	switch c.HNSWMetric {
	case "cosine", "euclidean":
	default:
		return fmt.Errorf("config: invalid HNSW metric %q", c.HNSWMetric)
	}
	if c.HNSWM < 2 {
		return fmt.Errorf("config: HNSW M must be >= 2, got %d", c.HNSWM)
	}
	if c.HNSWEfConstruction < 1 {
		return fmt.Errorf("config: HNSW efConstruction must be >= 1, got %d", c.HNSWEfConstruction)
	}
	if c.HNSWEfSearch < 1 {
		return fmt.Errorf("config: HNSW efSearch must be >= 1, got %d", c.HNSWEfSearch)
	}
	if c.HNSWTombstoneRatio <= 0 || c.HNSWTombstoneRatio > 1 {
		return fmt.Errorf("config: HNSW tombstone ratio must be in (0,1], got %f", c.HNSWTombstoneRatio)
	}
	if c.MaxRollbackRetries < 0 {
		return fmt.Errorf("config: max rollback retries must be >= 0, got %d", c.MaxRollbackRetries)
	}
	if c.NounCacheSize < 1 {
		return fmt.Errorf("config: noun cache size must be >= 1, got %d", c.NounCacheSize)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
