// Package metaindex implements the metadata inverted index (C6): a
// field-path -> value -> id-set structure supporting equality,
// membership, range, and containment lookups over noun metadata, plus
// fields()/values() discovery with eviction of rarely-used field paths
// once a configured size ceiling is reached (spec §4.6).
package metaindex

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vexgraph/vexgraph/pkg/model"
)

// Config tunes the index's capacity and normalization rules.
type Config struct {
	// MaxIndexSize bounds the number of distinct field paths retained.
	// Beyond it, the least-recently-used field path is evicted and falls
	// back to the filter evaluator (spec §4.6 Maintenance).
	MaxIndexSize int
	// ExcludedFields never enter the index (default: "id").
	ExcludedFields []string
	// ValuesCacheSize bounds the values() discovery cache.
	ValuesCacheSize int
}

// DefaultConfig returns the default index tuning.
func DefaultConfig() Config {
	return Config{
		MaxIndexSize:    512,
		ExcludedFields:  []string{"id"},
		ValuesCacheSize: 256,
	}
}

type rangeEntry struct {
	value float64
	id    string
}

// fieldIndex holds the equality and ordered-range structures for one
// field path. Array elements and string/bool scalars only ever populate
// equality; numeric/date scalars populate both (equality for exact-match
// predicates, ordered for range scans).
type fieldIndex struct {
	equality map[string]map[string]struct{} // token -> id set
	ordered  []rangeEntry                   // sorted by value
	pos      map[string]int                 // id -> index into ordered
	lastUsed uint64
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{
		equality: make(map[string]map[string]struct{}),
		pos:      make(map[string]int),
	}
}

func (fi *fieldIndex) insertEquality(token, id string) {
	set, ok := fi.equality[token]
	if !ok {
		set = make(map[string]struct{})
		fi.equality[token] = set
	}
	set[id] = struct{}{}
}

func (fi *fieldIndex) removeEquality(token, id string) {
	set, ok := fi.equality[token]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(fi.equality, token)
	}
}

func (fi *fieldIndex) insertRange(value float64, id string) {
	pos := sort.Search(len(fi.ordered), func(i int) bool { return fi.ordered[i].value >= value })
	fi.ordered = append(fi.ordered, rangeEntry{})
	copy(fi.ordered[pos+1:], fi.ordered[pos:])
	fi.ordered[pos] = rangeEntry{value: value, id: id}
	for i := pos; i < len(fi.ordered); i++ {
		fi.pos[fi.ordered[i].id] = i
	}
}

func (fi *fieldIndex) removeRange(id string) {
	pos, ok := fi.pos[id]
	if !ok {
		return
	}
	fi.ordered = append(fi.ordered[:pos], fi.ordered[pos+1:]...)
	delete(fi.pos, id)
	for i := pos; i < len(fi.ordered); i++ {
		fi.pos[fi.ordered[i].id] = i
	}
}

// Index is the metadata inverted index. Safe for concurrent use.
type Index struct {
	mu       sync.Mutex
	cfg      Config
	excluded map[string]struct{}
	fields   map[string]*fieldIndex
	evicted  map[string]struct{}
	live     map[string]struct{}
	clock    uint64

	fieldsCache []string
	fieldsDirty bool
	valuesCache *lru.Cache[string, []string]
}

// New creates an empty index per cfg.
func New(cfg Config) (*Index, error) {
	if cfg.MaxIndexSize <= 0 {
		cfg.MaxIndexSize = 512
	}
	if cfg.ValuesCacheSize <= 0 {
		cfg.ValuesCacheSize = 256
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedFields))
	for _, f := range cfg.ExcludedFields {
		excluded[f] = struct{}{}
	}
	vc, err := lru.New[string, []string](cfg.ValuesCacheSize)
	if err != nil {
		return nil, err
	}
	return &Index{
		cfg:         cfg,
		excluded:    excluded,
		fields:      make(map[string]*fieldIndex),
		evicted:     make(map[string]struct{}),
		live:        make(map[string]struct{}),
		fieldsDirty: true,
		valuesCache: vc,
	}, nil
}

func boolToken(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func numToken(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// walk enumerates every indexable leaf of m, calling visit(path, value,
// isArrayElement) for each. Nested maps build dot-separated paths; array
// elements keep their parent's path (spec §4.6 array handling).
func walk(prefix string, v any, excluded map[string]struct{}, visit func(path string, value any, isArrayElement bool)) {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if _, skip := excluded[p]; skip {
				continue
			}
			walk(p, vv, excluded, visit)
		}
	case []any:
		for _, elem := range t {
			visit(prefix, elem, true)
		}
	case nil:
	default:
		if prefix != "" {
			visit(prefix, v, false)
		}
	}
}

// fieldIndexFor returns the fieldIndex for path, creating it (and
// evicting the least-recently-used path if at capacity) when create is
// true. Returns nil, false if path is not and cannot be indexed.
func (ix *Index) fieldIndexFor(path string, create bool) (*fieldIndex, bool) {
	if _, ev := ix.evicted[path]; ev {
		return nil, false
	}
	if fi, ok := ix.fields[path]; ok {
		ix.clock++
		fi.lastUsed = ix.clock
		return fi, true
	}
	if !create {
		return nil, false
	}
	if len(ix.fields) >= ix.cfg.MaxIndexSize {
		ix.evictLRU()
	}
	fi := newFieldIndex()
	ix.clock++
	fi.lastUsed = ix.clock
	ix.fields[path] = fi
	ix.fieldsDirty = true
	return fi, true
}

func (ix *Index) evictLRU() {
	var worstPath string
	var worstUsed uint64 = ^uint64(0)
	for p, fi := range ix.fields {
		if fi.lastUsed < worstUsed {
			worstUsed = fi.lastUsed
			worstPath = p
		}
	}
	if worstPath == "" {
		return
	}
	delete(ix.fields, worstPath)
	ix.evicted[worstPath] = struct{}{}
	ix.fieldsDirty = true
	ix.valuesCache.Remove(worstPath)
}

// IndexNoun enumerates n's metadata and inserts n.ID into every
// applicable field/value structure.
func (ix *Index) IndexNoun(n *model.Noun) {
	if n == nil {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.live[n.ID] = struct{}{}
	walk("", n.Metadata, ix.excluded, func(path string, v any, isArray bool) {
		ix.insertLocked(path, n.ID, v, isArray)
	})
}

func (ix *Index) insertLocked(path, id string, v any, isArray bool) {
	fi, ok := ix.fieldIndexFor(path, true)
	if !ok {
		return
	}
	switch t := v.(type) {
	case bool:
		fi.insertEquality(boolToken(t), id)
	case string:
		fi.insertEquality(strings.ToLower(t), id)
	case float64:
		fi.insertEquality(numToken(t), id)
		if !isArray {
			fi.insertRange(t, id)
		}
	default:
		return
	}
	ix.valuesCache.Remove(path)
}

// RemoveNoun reverses IndexNoun for a noun being deleted or re-indexed.
func (ix *Index) RemoveNoun(n *model.Noun) {
	if n == nil {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.live, n.ID)
	walk("", n.Metadata, ix.excluded, func(path string, v any, isArray bool) {
		ix.removeLocked(path, n.ID, v, isArray)
	})
}

func (ix *Index) removeLocked(path, id string, v any, isArray bool) {
	fi, ok := ix.fields[path]
	if !ok {
		return
	}
	switch t := v.(type) {
	case bool:
		fi.removeEquality(boolToken(t), id)
	case string:
		fi.removeEquality(strings.ToLower(t), id)
	case float64:
		fi.removeEquality(numToken(t), id)
		if !isArray {
			fi.removeRange(id)
		}
	default:
		return
	}
	ix.valuesCache.Remove(path)
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func tokenFor(v any) string {
	switch t := v.(type) {
	case bool:
		return boolToken(t)
	case string:
		return strings.ToLower(t)
	case float64:
		return numToken(t)
	case int:
		return numToken(float64(t))
	default:
		return ""
	}
}

// Equals returns the id-set for field == value, and whether field is
// currently indexed (false means the caller must fall back to the
// filter evaluator, either because the field was never seen or because
// it was evicted under MaxIndexSize pressure).
func (ix *Index) Equals(field string, value any) (map[string]struct{}, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	fi, ok := ix.fieldIndexFor(field, false)
	if !ok {
		return nil, false
	}
	return cloneSet(fi.equality[tokenFor(value)]), true
}

// In returns the union of Equals across values.
func (ix *Index) In(field string, values []any) (map[string]struct{}, bool) {
	out := make(map[string]struct{})
	anyIndexed := false
	for _, v := range values {
		set, ok := ix.Equals(field, v)
		if !ok {
			continue
		}
		anyIndexed = true
		for id := range set {
			out[id] = struct{}{}
		}
	}
	return out, anyIndexed
}

// Contains is the array membership lookup; arrays are indexed via the
// same equality structure as scalars (spec §4.6).
func (ix *Index) Contains(field string, value any) (map[string]struct{}, bool) {
	return ix.Equals(field, value)
}

// Range returns ids whose numeric/date value at field falls in the bound
// described by gt/gte/lt/lte (nil means unbounded on that side).
func (ix *Index) Range(field string, gt, gte, lt, lte *float64) (map[string]struct{}, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	fi, ok := ix.fieldIndexFor(field, false)
	if !ok {
		return nil, false
	}
	if len(fi.ordered) == 0 {
		return map[string]struct{}{}, true
	}

	start := 0
	switch {
	case gte != nil:
		start = sort.Search(len(fi.ordered), func(i int) bool { return fi.ordered[i].value >= *gte })
	case gt != nil:
		start = sort.Search(len(fi.ordered), func(i int) bool { return fi.ordered[i].value > *gt })
	}

	out := make(map[string]struct{})
	for i := start; i < len(fi.ordered); i++ {
		v := fi.ordered[i].value
		if lte != nil && v > *lte {
			break
		}
		if lt != nil && v >= *lt {
			break
		}
		out[fi.ordered[i].id] = struct{}{}
	}
	return out, true
}

// Fields returns every currently-indexed field path, sorted, cached
// until the next write that adds or evicts a field (spec §4.6 Discovery).
func (ix *Index) Fields() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.fieldsDirty && ix.fieldsCache != nil {
		return append([]string(nil), ix.fieldsCache...)
	}
	out := make([]string, 0, len(ix.fields))
	for p := range ix.fields {
		out = append(out, p)
	}
	sort.Strings(out)
	ix.fieldsCache = out
	ix.fieldsDirty = false
	return append([]string(nil), out...)
}

// Values returns every distinct value token seen for field, sorted,
// cached until the next write to that field.
func (ix *Index) Values(field string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cached, ok := ix.valuesCache.Get(field); ok {
		return append([]string(nil), cached...)
	}
	fi, ok := ix.fields[field]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(fi.equality))
	for tok := range fi.equality {
		out = append(out, tok)
	}
	sort.Strings(out)
	ix.valuesCache.Add(field, out)
	return out
}

// IsEvicted reports whether field was indexed once and then dropped
// under MaxIndexSize pressure.
func (ix *Index) IsEvicted(field string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.evicted[field]
	return ok
}

// Universe returns the full live-id set, used to evaluate NOT predicates
// (spec §4.6 Read: "NOT requires the universe").
func (ix *Index) Universe() map[string]struct{} {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return cloneSet(ix.live)
}
