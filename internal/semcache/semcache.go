// Package semcache caches query results keyed by embedding similarity,
// so queries phrased differently but meaning the same thing can reuse
// an earlier answer.
package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/studypath/retrieval/internal/embedder"
	"github.com/studypath/retrieval/internal/vectorstore"
)

const (
	// DefaultThreshold is the minimum cosine similarity between a new
	// query's embedding and a cached one for the cached result to be
	// served.
	DefaultThreshold = 0.95

	// DefaultTTL is how long cached entries live.
	DefaultTTL = time.Hour

	keyPrefix = "semantic_cache:"
)

// entry is the stored record: the original query text, its embedding,
// and the serialized result.
type entry struct {
	Query     string          `json:"query"`
	Embedding []float32       `json:"embedding"`
	Result    json.RawMessage `json:"result"`
}

// Cache is a semantic query cache. A nil KV or nil embedder produces a
// disabled cache where Get always misses and Set is a no-op, so callers
// never branch on whether caching is configured.
type Cache struct {
	kv        KV
	embedder  embedder.Embedder
	threshold float64
	ttl       time.Duration
	logger    *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithThreshold sets the similarity threshold for cache hits.
func WithThreshold(threshold float64) Option {
	return func(c *Cache) {
		c.threshold = threshold
	}
}

// WithTTL sets the time-to-live for new entries.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a semantic cache over kv. Pass a nil kv to get a
// disabled cache.
func New(kv KV, emb embedder.Embedder, opts ...Option) *Cache {
	c := &Cache{
		kv:        kv,
		embedder:  emb,
		threshold: DefaultThreshold,
		ttl:       DefaultTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the cache is operational.
func (c *Cache) Enabled() bool {
	return c.kv != nil && c.embedder != nil
}

// Get looks up a cached result whose stored query embedding is at
// least the similarity threshold away from the incoming query's
// embedding. The best match above the threshold wins. Failures are
// treated as misses.
func (c *Cache) Get(ctx context.Context, query string) (json.RawMessage, bool) {
	if !c.Enabled() {
		return nil, false
	}

	queryEmb, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn("cache lookup embed failed", "error", err)
		c.misses.Add(1)
		return nil, false
	}

	keys, err := c.kv.Scan(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("cache scan failed", "error", err)
		c.misses.Add(1)
		return nil, false
	}

	bestSim := 0.0
	var bestResult json.RawMessage
	for _, key := range keys {
		raw, err := c.kv.Get(ctx, key)
		if err != nil || raw == nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Warn("dropping corrupt cache entry", "key", key)
			_, _ = c.kv.Delete(ctx, key)
			continue
		}
		sim := CosineSimilarity(queryEmb, e.Embedding)
		if sim >= c.threshold && sim > bestSim {
			bestSim = sim
			bestResult = e.Result
		}
	}

	if bestResult == nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("semantic cache hit", "similarity", bestSim)
	return bestResult, true
}

// Set stores a result under the query's embedding. It reports whether
// the entry was written; failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, query string, result json.RawMessage, ttl ...time.Duration) bool {
	if !c.Enabled() {
		return false
	}

	expiry := c.ttl
	if len(ttl) > 0 {
		expiry = ttl[0]
	}

	queryEmb, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn("cache store embed failed", "error", err)
		return false
	}

	raw, err := json.Marshal(entry{Query: query, Embedding: queryEmb, Result: result})
	if err != nil {
		c.logger.Warn("cache entry marshal failed", "error", err)
		return false
	}

	key := keyPrefix + vectorstore.ContentID(query)
	if err := c.kv.SetEx(ctx, key, expiry, raw); err != nil {
		c.logger.Warn("cache store failed", "error", err)
		return false
	}
	return true
}

// Clear removes every cache entry and returns how many were deleted.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}
	keys, err := c.kv.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.kv.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("deleting cache keys: %w", err)
	}
	return n, nil
}

// Stats reports hit and miss counts since startup.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths or a zero-norm vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
