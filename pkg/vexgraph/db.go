// Package vexgraph implements the public database handle: the facade
// that wires storage, WAL, noun/verb stores, the HNSW vector index, the
// metadata index, the query planner, the transaction engine, and
// statistics into the operations of spec.md §6.1 (init, add, get,
// update, delete, relate, unrelate, getRelations, find, similar,
// getStatistics, insights, export/import, clear, close).
package vexgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vexgraph/vexgraph/pkg/config"
	"github.com/vexgraph/vexgraph/pkg/embed"
	"github.com/vexgraph/vexgraph/pkg/metaindex"
	"github.com/vexgraph/vexgraph/pkg/noun"
	"github.com/vexgraph/vexgraph/pkg/query"
	"github.com/vexgraph/vexgraph/pkg/stats"
	"github.com/vexgraph/vexgraph/pkg/storage"
	"github.com/vexgraph/vexgraph/pkg/txn"
	"github.com/vexgraph/vexgraph/pkg/vectorindex"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
	"github.com/vexgraph/vexgraph/pkg/verb"
	"github.com/vexgraph/vexgraph/pkg/wal"
)

// validate is shared by every request type's Validate method; it has no
// mutable state so one instance serves the whole handle.
var validate = validator.New()

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", vexerr.ErrInvalidInput, err)
	}
	return nil
}

// Options configures Open. Backend is the only required field; everything
// else falls back to config.DefaultConfig()'s tuning.
type Options struct {
	Backend  storage.Store
	Config   *config.Config
	Embedder embed.Embedder
	Logger   *zap.Logger

	// HNSWDir is where the HNSW graph is persisted/loaded on Close/Open
	// (spec §4.5 Persistence). Defaults to "data/index/hnsw".
	HNSWDir string

	// AllowDanglingVerbs relaxes invariant #2 (every verb references two
	// reachable nouns); off by default per spec §3 Invariants.
	AllowDanglingVerbs bool

	// ReadOnly rejects every mutating operation with vexerr.ErrReadOnly.
	ReadOnly bool
}

// DB is the embeddable hybrid vector+graph database handle. One DB owns
// one storage root; multiple handles on disjoint roots do not interfere
// (spec §9 "Global/ambient state: avoid").
type DB struct {
	cfg      *config.Config
	backend  storage.Store
	wal      *wal.WAL
	engine   *txn.Engine
	nouns    *noun.Store
	verbs    *verb.Store
	vectors  *vectorindex.Index
	meta     *metaindex.Index
	stats    *stats.Collector
	embedder embed.Embedder
	planner  *query.Planner
	lg       *zap.Logger

	hnswDir            string
	allowDanglingVerbs bool
	readOnly           bool

	bgCancel context.CancelFunc
}

// Open performs C1's init(): opens storage, replays the WAL, and loads
// (or rebuilds) the HNSW and metadata indexes (spec §6.1 `init`).
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("%w: vexgraph: Options.Backend is required", vexerr.ErrInvalidInput)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	hnswDir := opts.HNSWDir
	if hnswDir == "" {
		hnswDir = filepath.Join("data", "index", "hnsw")
	}
	if n := cfg.IgnoredDimensionsOverride(); n != 0 {
		lg.Warn("vexgraph: ignoring VEXGRAPH_VECTOR_DIMENSIONS override; dimension is fixed",
			zap.Int("requested", n), zap.Int("fixed", config.Dimensions))
	}

	w, err := wal.Open(wal.Config{
		Dir:               cfg.WALDir,
		SyncMode:          wal.SyncMode(cfg.WALSyncMode),
		BatchSyncInterval: cfg.WALBatchSyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("vexgraph: open wal: %w", err)
	}

	nouns, err := noun.New(opts.Backend, cfg.NounCacheSize)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("vexgraph: open noun store: %w", err)
	}

	verbs := verb.New(opts.Backend)
	if err := verbs.Load(ctx); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("vexgraph: load verb indexes: %w", err)
	}

	meta, err := metaindex.New(metaindex.Config{MaxIndexSize: cfg.MetaIndexMaxSize})
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("vexgraph: create metadata index: %w", err)
	}
	if err := meta.Load(ctx, opts.Backend); err != nil {
		lg.Warn("vexgraph: metadata index load failed, rebuilding", zap.Error(err))
	}
	if len(meta.Universe()) == 0 {
		if err := meta.Rebuild(ctx, nouns); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("vexgraph: rebuild metadata index: %w", err)
		}
	}

	vectors, err := loadOrRebuildVectorIndex(ctx, hnswDir, cfg, nouns, lg)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	statsCollector := stats.New(opts.Backend, stats.Config{
		FlushInterval:  cfg.StatsFlushInterval,
		FlushThreshold: cfg.StatsFlushThreshold,
	}, lg)
	if err := statsCollector.Load(ctx); err != nil {
		lg.Warn("vexgraph: statistics load failed, starting from zero", zap.Error(err))
	}

	engine := txn.New(w, txn.Config{
		MaxRollbackRetries: cfg.MaxRollbackRetries,
		TransactionTimeout: cfg.DefaultTxTimeout,
		OperationTimeout:   cfg.DefaultOpTimeout,
	}, lg)

	db := &DB{
		cfg:                cfg,
		backend:            opts.Backend,
		wal:                w,
		engine:             engine,
		nouns:              nouns,
		verbs:              verbs,
		vectors:            vectors,
		meta:               meta,
		stats:              statsCollector,
		embedder:           opts.Embedder,
		lg:                 lg,
		hnswDir:            hnswDir,
		allowDanglingVerbs: opts.AllowDanglingVerbs,
		readOnly:           opts.ReadOnly,
	}
	db.planner = query.New(query.DefaultConfig(), vectors, opts.Embedder, meta, nouns, verbs)

	// Replay reapplies ops from committed transactions and from any
	// transaction that began but never reached a commit or abort marker
	// (the process crashed mid-transaction, after ops were appended but
	// before the engine recorded an outcome). Both cases re-run the same
	// store writes the original Execute closure made, repairing a crash
	// that landed an operation's first store write (e.g. the noun
	// record) but not its later ones (HNSW insert, metadata indexing).
	if cfg.WALEnabled {
		if err := wal.Replay(cfg.WALDir, &walReplayer{db: db}); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("vexgraph: wal replay: %w", err)
		}
	}

	// Runs for the handle's lifetime so the configured StatsFlushInterval
	// (spec §4.10) is an actual periodic flush, not a dead knob reachable
	// only via the threshold trigger or Close.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	db.bgCancel = bgCancel
	statsCollector.StartBackgroundFlush(bgCtx)

	return db, nil
}

func loadOrRebuildVectorIndex(ctx context.Context, dir string, cfg *config.Config, nouns *noun.Store, lg *zap.Logger) (*vectorindex.Index, error) {
	idx, err := vectorindex.Load(dir)
	if err == nil {
		return idx, nil
	}
	if !os.IsNotExist(err) {
		lg.Warn("vexgraph: hnsw graph corrupt, rebuilding from noun store", zap.Error(err))
	}

	vcfg := vectorindex.Config{
		Dimensions:     config.Dimensions,
		M:              cfg.HNSWM,
		EfConstruction: cfg.HNSWEfConstruction,
		EfSearch:       cfg.HNSWEfSearch,
		Metric:         vectorindex.Metric(cfg.HNSWMetric),
		TombstoneRatio: cfg.HNSWTombstoneRatio,
	}
	idx = vectorindex.New(vcfg)

	all, err := nouns.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vexgraph: rebuild hnsw: list nouns: %w", err)
	}
	for _, n := range all {
		if len(n.Vector) != config.Dimensions {
			continue
		}
		if err := idx.Insert(n.ID, n.Vector); err != nil {
			lg.Warn("vexgraph: skipping noun during hnsw rebuild", zap.String("id", n.ID), zap.Error(err))
		}
	}
	return idx, nil
}

// compactIfNeeded runs the HNSW compaction supplemented by SPEC_FULL.md §4
// synchronously after a commit, once tombstone density crosses the
// configured threshold. It stays synchronous-but-deferred (called after
// the write slot is released) to respect the single-writer model of §5
// without adding a second writer on the graph.
func (d *DB) compactIfNeeded() {
	if d.vectors.NeedsCompaction() {
		d.lg.Info("vexgraph: compacting hnsw index", zap.Float64("tombstoneRatio", d.vectors.TombstoneRatio()))
		d.vectors.Compact()
	}
}

func (d *DB) checkWritable() error {
	if d.readOnly {
		return vexerr.ErrReadOnly
	}
	return nil
}

// Close flushes the WAL, persists the HNSW graph and metadata index, and
// releases storage (spec §6.1 `close`).
func (d *DB) Close(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	d.stats.Stop()
	if d.bgCancel != nil {
		d.bgCancel()
	}

	if err := d.stats.Flush(ctx); err != nil {
		d.lg.Error("vexgraph: close: stats flush failed", zap.Error(err))
		record(err)
	}
	if err := d.meta.Flush(ctx, d.backend); err != nil {
		d.lg.Error("vexgraph: close: metadata flush failed", zap.Error(err))
		record(err)
	}
	if err := d.vectors.Save(d.hnswDir); err != nil {
		d.lg.Error("vexgraph: close: hnsw save failed", zap.Error(err))
		record(err)
	}
	if err := d.wal.Close(); err != nil {
		d.lg.Error("vexgraph: close: wal close failed", zap.Error(err))
		record(err)
	}
	if err := d.backend.Close(); err != nil {
		d.lg.Error("vexgraph: close: backend close failed", zap.Error(err))
		record(err)
	}
	return firstErr
}
