// Package service wires the retrieval stages into a single pipeline:
// semantic cache, query rewriting, parallel vector and keyword search,
// rank fusion, reranking, and context compression.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studypath/retrieval/internal/compressor"
	"github.com/studypath/retrieval/internal/embedder"
	"github.com/studypath/retrieval/internal/rank"
	"github.com/studypath/retrieval/internal/reranker"
	"github.com/studypath/retrieval/internal/rewriter"
	"github.com/studypath/retrieval/internal/semcache"
	"github.com/studypath/retrieval/internal/vectorstore"
)

const (
	// DefaultTopK is how many results a search returns when the
	// request does not say.
	DefaultTopK = 5

	// candidateMultiplier over-fetches from each retriever so fusion
	// and reranking have more candidates than the final cut.
	candidateMultiplier = 3

	maxQueryLength = 500
)

// stopWords are dropped from the keyword-search form of a query. The
// original query is kept for embedding, rewriting, and caching.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "to": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "will": {}, "with": {},
}

// SearchRequest describes one retrieval query.
type SearchRequest struct {
	Collection   string         `json:"collection"`
	Query        string         `json:"query"`
	TopK         int            `json:"top_k"`
	Filters      map[string]any `json:"filters,omitempty"`
	MinRelevance float64        `json:"min_relevance,omitempty"`
	Compress     bool           `json:"compress,omitempty"`
	BypassCache  bool           `json:"bypass_cache,omitempty"`
}

// SearchResponse is the ranked outcome of a search.
type SearchResponse struct {
	Collection     string                    `json:"collection"`
	Query          string                    `json:"query"`
	RewrittenQuery string                    `json:"rewritten_query,omitempty"`
	Results        []vectorstore.RankedResult `json:"results"`
	Cached         bool                      `json:"cached"`
	TookMs         int64                     `json:"took_ms"`
}

// Stats reports collection and pipeline counters.
type Stats struct {
	Collection     string  `json:"collection"`
	DocumentCount  int     `json:"document_count"`
	SearchCount    int64   `json:"search_count"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	TokenReduction float64 `json:"token_reduction_pct"`
}

// RetrievalService runs hybrid search over a vector store.
type RetrievalService struct {
	store      vectorstore.VectorStore
	embedder   embedder.Embedder
	cache      *semcache.Cache
	rewriter   *rewriter.Rewriter
	compressor *compressor.Compressor
	reranker   reranker.Reranker
	rrfK       int
	logger     *slog.Logger

	defaultTopK         int
	defaultMinRelevance float64

	searches atomic.Int64
}

// Option configures a RetrievalService.
type Option func(*RetrievalService)

// WithCache sets the semantic cache.
func WithCache(cache *semcache.Cache) Option {
	return func(s *RetrievalService) {
		s.cache = cache
	}
}

// WithRewriter sets the query rewriter.
func WithRewriter(rw *rewriter.Rewriter) Option {
	return func(s *RetrievalService) {
		s.rewriter = rw
	}
}

// WithCompressor sets the context compressor.
func WithCompressor(c *compressor.Compressor) Option {
	return func(s *RetrievalService) {
		s.compressor = c
	}
}

// WithReranker sets the reranker.
func WithReranker(r reranker.Reranker) Option {
	return func(s *RetrievalService) {
		s.reranker = r
	}
}

// WithRRFK sets the reciprocal rank fusion constant.
func WithRRFK(k int) Option {
	return func(s *RetrievalService) {
		if k > 0 {
			s.rrfK = k
		}
	}
}

// WithDefaultTopK sets how many results a search returns when the
// request does not say.
func WithDefaultTopK(k int) Option {
	return func(s *RetrievalService) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// WithDefaultMinRelevance sets the relevance floor applied when the
// request does not carry one.
func WithDefaultMinRelevance(min float64) Option {
	return func(s *RetrievalService) {
		if min > 0 {
			s.defaultMinRelevance = min
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *RetrievalService) {
		s.logger = logger
	}
}

// NewRetrievalService creates the pipeline over a store and embedder.
// All other stages are optional; missing ones are skipped.
func NewRetrievalService(store vectorstore.VectorStore, emb embedder.Embedder, opts ...Option) *RetrievalService {
	s := &RetrievalService{
		store:       store,
		embedder:    emb,
		rrfK:        rank.DefaultRRFK,
		logger:      slog.Default(),
		defaultTopK: DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs the full pipeline. Individual stage failures degrade
// rather than fail the request: a dead retriever contributes an empty
// list, a dead reranker leaves the fused order in place.
func (s *RetrievalService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if req.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	minRelevance := req.MinRelevance
	if minRelevance <= 0 {
		minRelevance = s.defaultMinRelevance
	}
	s.searches.Add(1)

	query := truncateQuery(req.Query)

	if !req.BypassCache && s.cache != nil {
		if cached, ok := s.cache.Get(ctx, s.cacheKey(req.Collection, query)); ok {
			var resp SearchResponse
			if err := json.Unmarshal(cached, &resp); err == nil && resp.Collection == req.Collection {
				resp.Cached = true
				resp.TookMs = time.Since(startTime).Milliseconds()
				return &resp, nil
			}
		}
	}

	searchQuery := query
	if s.rewriter != nil {
		searchQuery = s.rewriter.Rewrite(ctx, query)
	}

	candidates := topK * candidateMultiplier

	// Vector and keyword retrieval run concurrently. The keyword index
	// is rebuilt from the store snapshot on every call so it can never
	// drift from what the vector side searches.
	var (
		wg          sync.WaitGroup
		vectorList  []vectorstore.RankedResult
		keywordList []vectorstore.RankedResult
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		docs, err := s.store.Query(ctx, req.Collection, searchQuery, candidates, req.Filters)
		if err != nil {
			s.logger.Warn("vector search failed", "collection", req.Collection, "error", err)
			return
		}
		vectorList = make([]vectorstore.RankedResult, len(docs))
		for i, doc := range docs {
			vectorList[i] = vectorstore.RankedResult{Document: doc, Score: doc.Relevance(), Rank: i + 1}
		}
	}()
	go func() {
		defer wg.Done()
		docs, err := s.store.GetAll(ctx, req.Collection, req.Filters)
		if err != nil {
			s.logger.Warn("keyword snapshot failed", "collection", req.Collection, "error", err)
			return
		}
		bm25 := rank.NewBM25(0, 0)
		bm25.Index(docs)
		keywordList = bm25.Search(stripStopWords(searchQuery), candidates)
	}()
	wg.Wait()

	fused := rank.FuseRRF([][]vectorstore.RankedResult{vectorList, keywordList}, s.rrfK)

	results := s.rerank(ctx, searchQuery, fused, topK)

	if minRelevance > 0 {
		results = rank.FilterMinRelevance(results, minRelevance)
	}
	if len(results) > topK {
		results = results[:topK]
	}

	if req.Compress && s.compressor != nil && len(results) > 0 {
		docs := make([]vectorstore.Document, len(results))
		for i, r := range results {
			docs[i] = r.Document
		}
		compressed := s.compressor.Compress(ctx, searchQuery, docs)
		for i := range results {
			results[i].Document = compressed[i]
		}
	}

	resp := &SearchResponse{
		Collection:     req.Collection,
		Query:          query,
		Results:        results,
		TookMs:         time.Since(startTime).Milliseconds(),
	}
	if searchQuery != query {
		resp.RewrittenQuery = searchQuery
	}

	if !req.BypassCache && s.cache != nil && len(results) > 0 {
		if raw, err := json.Marshal(resp); err == nil {
			s.cache.Set(ctx, s.cacheKey(req.Collection, query), raw)
		}
	}

	return resp, nil
}

// rerank applies the configured reranker, keeping the fused order when
// reranking fails or is not configured.
func (s *RetrievalService) rerank(ctx context.Context, query string, fused []vectorstore.RankedResult, topK int) []vectorstore.RankedResult {
	if s.reranker == nil || len(fused) == 0 {
		if len(fused) > topK {
			return fused[:topK]
		}
		return fused
	}

	docs := make([]vectorstore.Document, len(fused))
	for i, r := range fused {
		docs[i] = r.Document
	}
	reranked, err := s.reranker.Rerank(ctx, query, docs, topK)
	if err != nil || len(reranked) == 0 {
		if err != nil {
			s.logger.Warn("reranking failed, keeping fused order", "error", err)
		}
		if len(fused) > topK {
			return fused[:topK]
		}
		return fused
	}
	return reranked
}

// IndexDocuments adds documents to a collection and returns their
// content-derived IDs.
func (s *RetrievalService) IndexDocuments(ctx context.Context, collection string, docs []vectorstore.Document) ([]string, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if err := s.store.GetOrCreateCollection(ctx, collection, nil); err != nil {
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}
	ids, err := s.store.Add(ctx, collection, docs)
	if err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}
	s.logger.Info("indexed documents", "collection", collection, "count", len(ids))
	return ids, nil
}

// DeleteDocument removes one document by ID.
func (s *RetrievalService) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := s.store.Delete(ctx, collection, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ClearCollection removes every document in a collection and flushes
// the semantic cache, since cached results may reference them.
func (s *RetrievalService) ClearCollection(ctx context.Context, collection string) error {
	if err := s.store.ClearCollection(ctx, collection); err != nil {
		return fmt.Errorf("clearing collection: %w", err)
	}
	if s.cache != nil {
		if _, err := s.cache.Clear(ctx); err != nil {
			s.logger.Warn("cache flush after clear failed", "error", err)
		}
	}
	return nil
}

// CollectionStats reports document and cache counters.
func (s *RetrievalService) CollectionStats(ctx context.Context, collection string) (*Stats, error) {
	count, err := s.store.Count(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	stats := &Stats{
		Collection:    collection,
		DocumentCount: count,
		SearchCount:   s.searches.Load(),
	}
	if s.cache != nil {
		stats.CacheHits, stats.CacheMisses = s.cache.Stats()
	}
	if s.compressor != nil {
		in, out := s.compressor.TokenReduction()
		if in > 0 {
			stats.TokenReduction = float64(in-out) / float64(in) * 100
		}
	}
	return stats, nil
}

// cacheKey scopes cached entries to a collection so similar queries
// against different collections cannot cross-serve.
func (s *RetrievalService) cacheKey(collection, query string) string {
	return collection + ": " + query
}

func truncateQuery(query string) string {
	query = strings.TrimSpace(query)
	if len(query) > maxQueryLength {
		query = query[:maxQueryLength]
	}
	return query
}

// stripStopWords drops common function words from the keyword query,
// unless that would leave nothing to search for.
func stripStopWords(query string) string {
	words := strings.Fields(query)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := stopWords[strings.ToLower(w)]; !ok {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return query
	}
	return strings.Join(kept, " ")
}
