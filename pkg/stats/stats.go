// Package stats implements the statistics component (C10): per-service
// counters of live nouns, verbs, metadata entries, and HNSW index size,
// updated inline with successful mutations and persisted in batches to
// date-partitioned storage keys so no single key becomes a write hotspot
// (spec §4.10).
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vexgraph/vexgraph/pkg/storage"
	"github.com/vexgraph/vexgraph/pkg/vexerr"
)

const keyPrefix = "stats/"
const legacyKey = "stats/_legacy"

// DefaultService is used when a caller supplies no service tag.
const DefaultService = "default"

// Counters is one service's point-in-time counts (spec §4.10).
type Counters struct {
	NounCount     int64 `json:"nounCount"`
	VerbCount     int64 `json:"verbCount"`
	MetadataCount int64 `json:"metadataCount"`
	HNSWIndexSize int64 `json:"hnswIndexSize"`
}

// Delta is a signed adjustment applied inline with a successful mutation.
type Delta struct {
	Noun     int64
	Verb     int64
	Metadata int64
	HNSW     int64
}

func (c *Counters) apply(d Delta) {
	c.NounCount += d.Noun
	c.VerbCount += d.Verb
	c.MetadataCount += d.Metadata
	c.HNSWIndexSize += d.HNSW
}

// Config tunes batching and retry behavior.
type Config struct {
	FlushInterval  time.Duration // default 5s
	FlushThreshold int           // default 100 pending updates
	MaxRetries     int           // default 5, exponential backoff
	InitialBackoff time.Duration // default 50ms
}

// DefaultConfig returns the default flush tuning: flush every 5s or
// every 100 pending updates, whichever comes first (§4.10).
func DefaultConfig() Config {
	return Config{
		FlushInterval:  5 * time.Second,
		FlushThreshold: 100,
		MaxRetries:     5,
		InitialBackoff: 50 * time.Millisecond,
	}
}

// Collector accumulates per-service counters in memory and flushes them to
// a blob store in date-partitioned chunks. Safe for concurrent use.
type Collector struct {
	backend storage.Store
	cfg     Config
	lg      *zap.Logger

	mu        sync.Mutex
	byService map[string]*Counters
	dirty     map[string]struct{}
	pending   int

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New wires a Collector over backend. lg may be nil (no-op logger).
func New(backend storage.Store, cfg Config, lg *zap.Logger) *Collector {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Collector{
		backend:   backend,
		cfg:       cfg,
		lg:        lg,
		byService: make(map[string]*Counters),
		dirty:     make(map[string]struct{}),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

func dateKey(service, date string) string { return keyPrefix + service + "/" + date }

func normalizeService(service string) string {
	if service == "" {
		return DefaultService
	}
	return service
}

// Apply records d against service's in-memory counters immediately. Once
// FlushThreshold pending updates have accumulated across all services, a
// synchronous best-effort flush runs; flush failures are logged, not
// surfaced, since persistence is a batched side effect, not a condition of
// the mutation's success (spec §4.10).
func (c *Collector) Apply(service string, d Delta) {
	service = normalizeService(service)

	c.mu.Lock()
	cnt, ok := c.byService[service]
	if !ok {
		cnt = &Counters{}
		c.byService[service] = cnt
	}
	cnt.apply(d)
	c.dirty[service] = struct{}{}
	c.pending++
	shouldFlush := c.pending >= c.cfg.FlushThreshold
	c.mu.Unlock()

	if shouldFlush {
		if err := c.Flush(context.Background()); err != nil {
			c.lg.Warn("stats: threshold flush failed", zap.Error(err))
		}
	}
}

// Snapshot returns a point-in-time copy of the requested services' counts,
// or every known service if none are named (spec §6.1
// getStatistics({service?})). An unknown service reports zero counts
// rather than being omitted.
func (c *Collector) Snapshot(services ...string) map[string]Counters {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Counters)
	if len(services) == 0 {
		for svc, cnt := range c.byService {
			out[svc] = *cnt
		}
		return out
	}
	for _, svc := range services {
		svc = normalizeService(svc)
		if cnt, ok := c.byService[svc]; ok {
			out[svc] = *cnt
		} else {
			out[svc] = Counters{}
		}
	}
	return out
}

// Services lists every service tag with at least one counter observed.
func (c *Collector) Services() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.byService))
	for svc := range c.byService {
		out = append(out, svc)
	}
	return out
}

// Flush persists every service with pending changes as one chunk at
// stats/<service>/<yyyy-mm-dd>, partitioning by the current UTC date so
// repeated flushes on the same day overwrite one key rather than fanning
// out, while flushes on different days land on different keys (spec
// §4.10 "Partition storage keys by date to avoid single-key hotspots").
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return nil
	}
	type snap struct {
		service  string
		counters Counters
	}
	snaps := make([]snap, 0, len(c.dirty))
	for svc := range c.dirty {
		snaps = append(snaps, snap{service: svc, counters: *c.byService[svc]})
	}
	c.dirty = make(map[string]struct{})
	c.pending = 0
	c.mu.Unlock()

	date := c.now().UTC().Format("2006-01-02")
	var firstErr error
	for _, s := range snaps {
		key := dateKey(s.service, date)
		b, err := json.Marshal(s.counters)
		if err != nil {
			return fmt.Errorf("stats: marshal %s: %w", s.service, err)
		}
		if err := c.putWithBackoff(ctx, key, b); err != nil {
			c.lg.Error("stats: flush chunk failed", zap.String("service", s.service), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			// Leave the service dirty so the next flush retries it rather
			// than silently dropping the update.
			c.mu.Lock()
			c.dirty[s.service] = struct{}{}
			c.mu.Unlock()
			continue
		}
	}
	return firstErr
}

// putWithBackoff retries Put against backend with exponential backoff
// while the store signals throttling (spec §4.10: "treat HTTP 429 and
// equivalent as retriable").
func (c *Collector) putWithBackoff(ctx context.Context, key string, b []byte) error {
	backoff := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		err := c.backend.Put(ctx, key, b)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, vexerr.ErrThrottled) {
			return fmt.Errorf("%w: put %s: %v", vexerr.ErrStorageFail, key, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: put %s after %d retries: %v", vexerr.ErrThrottled, key, c.cfg.MaxRetries, lastErr)
}

// Load reconstructs in-memory counters from the most recent date chunk
// persisted per service, then migrates a legacy flat-counter snapshot (if
// present) into DefaultService when no per-service data exists yet for it
// (spec §4.10 "Accept legacy flat-counter snapshots and migrate").
func (c *Collector) Load(ctx context.Context) error {
	keys, err := c.backend.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("%w: stats: list: %v", vexerr.ErrStorageFail, err)
	}

	latestDate := make(map[string]string) // service -> latest date seen
	latestKey := make(map[string]string)  // service -> its key
	for _, k := range keys {
		if k == legacyKey {
			continue
		}
		rest := strings.TrimPrefix(k, keyPrefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			continue
		}
		svc, date := parts[0], parts[1]
		if cur, ok := latestDate[svc]; !ok || date > cur {
			latestDate[svc] = date
			latestKey[svc] = k
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for svc, k := range latestKey {
		b, err := c.backend.Get(ctx, k)
		if err != nil {
			continue
		}
		var cnt Counters
		if err := json.Unmarshal(b, &cnt); err != nil {
			c.lg.Warn("stats: corrupt snapshot skipped", zap.String("key", k), zap.Error(err))
			continue
		}
		c.byService[svc] = &cnt
	}

	if b, err := c.backend.Get(ctx, legacyKey); err == nil {
		var legacy Counters
		if err := json.Unmarshal(b, &legacy); err == nil {
			if _, ok := c.byService[DefaultService]; !ok {
				c.byService[DefaultService] = &legacy
				c.dirty[DefaultService] = struct{}{}
				c.lg.Info("stats: migrated legacy flat-counter snapshot", zap.String("service", DefaultService))
			}
		}
	}
	return nil
}

// StartBackgroundFlush periodically flushes pending counters at
// cfg.FlushInterval until Stop is called or ctx is done.
func (c *Collector) StartBackgroundFlush(ctx context.Context) {
	go func() {
		t := time.NewTicker(c.cfg.FlushInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := c.Flush(ctx); err != nil {
					c.lg.Warn("stats: periodic flush failed", zap.Error(err))
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the background flush loop started by StartBackgroundFlush. It
// is safe to call multiple times and safe to call even if the loop was
// never started.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
