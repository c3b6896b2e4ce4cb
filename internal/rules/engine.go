// internal/rules/engine.go
package rules

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Engine resolves endpoints against loaded rule-sets with an injected
// partition table and an optional bounded result cache.
//
// Engine is safe for concurrent use. Cached results are keyed by rule-set
// fingerprint and the canonical encoding of the parameters, and evaluation is
// pure, so a hit returns exactly what a fresh evaluation would.
type Engine struct {
	partitions *PartitionTable
	cache      *resultCache
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPartitions injects the partition table used by aws.partition.
func WithPartitions(t *PartitionTable) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.partitions = t
		}
	}
}

// WithCache enables a result cache holding at most size entries.
// A size of zero or less disables caching.
func WithCache(size int) EngineOption {
	return func(e *Engine) {
		if size > 0 {
			e.cache = newResultCache(size)
		} else {
			e.cache = nil
		}
	}
}

// NewEngine creates a new rules engine instance.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{partitions: DefaultPartitions()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Partitions returns the engine's partition table.
func (e *Engine) Partitions() *PartitionTable { return e.partitions }

// Resolve evaluates rs against params. See Resolve for the error contract.
func (e *Engine) Resolve(rs *RuleSet, params Params) (ResolvedEndpoint, error) {
	if e.cache == nil {
		return Resolve(rs, e.partitions, params)
	}

	key := cacheKey(rs, params)
	if entry, ok := e.cache.get(key); ok {
		if entry.err != nil {
			return ResolvedEndpoint{}, entry.err
		}
		return entry.endpoint.clone(), nil
	}

	ep, err := Resolve(rs, e.partitions, params)
	if err != nil {
		// Only outcomes of the rule tree are cached; bad input is not.
		if _, ok := err.(*ResolutionError); ok || err == ErrNoRulesMatched {
			e.cache.put(key, ResolvedEndpoint{}, err)
		}
		return ResolvedEndpoint{}, err
	}
	e.cache.put(key, ep.clone(), nil)
	return ep, nil
}

// CacheStats reports result cache counters. All zero when caching is disabled.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// CacheStats returns a snapshot of the cache counters.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.stats()
}

// cacheKey encodes params in sorted name order so equal bindings share a key.
func cacheKey(rs *RuleSet, params Params) string {
	var b strings.Builder
	b.WriteString(rs.Fingerprint())
	for _, name := range sortedKeys(params) {
		b.WriteByte(0)
		b.WriteString(strconv.Quote(name))
		b.WriteByte('=')
		b.WriteString(params[name].String())
	}
	return b.String()
}

type cacheEntry struct {
	endpoint ResolvedEndpoint
	err      error
}

// resultCache is a size-bounded map evicting in insertion order.
type resultCache struct {
	mu      sync.Mutex
	size    int
	entries map[string]cacheEntry
	order   []string
	hits    atomic.Uint64
	misses  atomic.Uint64
}

func newResultCache(size int) *resultCache {
	return &resultCache{
		size:    size,
		entries: make(map[string]cacheEntry, size),
		order:   make([]string, 0, size),
	}
}

func (c *resultCache) get(key string) (cacheEntry, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		c.misses.Add(1)
		return cacheEntry{}, false
	}
	c.hits.Add(1)
	return entry, true
}

func (c *resultCache) put(key string, ep ResolvedEndpoint, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = cacheEntry{endpoint: ep, err: err}
	c.order = append(c.order, key)
}

func (c *resultCache) stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}
