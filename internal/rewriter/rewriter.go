// Package rewriter expands short, ambiguous queries before retrieval.
// A query like "ML" retrieves poorly as-is; the rewriter asks a text
// generation model to expand it into a fuller search phrase.
package rewriter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studypath/retrieval/internal/llm"
)

const (
	// DefaultThreshold is the query length below which rewriting runs.
	// Queries at or above it pass through unchanged; rewriting an
	// already-specific query adds latency without benefit.
	DefaultThreshold = 20

	// hardSkipLength is the length at which rewriting never happens,
	// regardless of the configured threshold.
	hardSkipLength = 50

	// defaultMaxTokens bounds the rewritten query length.
	defaultMaxTokens = 100
)

// Rewriter gates and performs query expansion. It never returns an
// error: any generation failure yields the original query.
type Rewriter struct {
	llmClient llm.LLM
	model     string
	threshold int
	logger    *slog.Logger
}

// Option is a functional option for configuring Rewriter.
type Option func(*Rewriter)

// WithModel sets the generation model.
func WithModel(model string) Option {
	return func(r *Rewriter) {
		r.model = model
	}
}

// WithThreshold overrides the rewrite length threshold.
func WithThreshold(threshold int) Option {
	return func(r *Rewriter) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rewriter) {
		r.logger = logger
	}
}

// New creates a query rewriter. A nil llmClient disables rewriting
// entirely; Rewrite then always returns its input.
func New(llmClient llm.LLM, opts ...Option) *Rewriter {
	r := &Rewriter{
		llmClient: llmClient,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite expands the query when it is shorter than the threshold.
// Queries at or above the threshold, and all queries when generation
// fails, come back unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, query string) string {
	if r.llmClient == nil {
		return query
	}
	if len(query) >= r.threshold || len(query) >= hardSkipLength {
		return query
	}

	prompt := fmt.Sprintf(`You are a query expansion expert. Rewrite the following search query to be more detailed and specific for a vector database search.

Original query: %q

Rewrite this query to:
1. Expand abbreviations (e.g., "ML" becomes "machine learning")
2. Add relevant context and related terms
3. Make it more specific and searchable
4. Keep it concise (1-2 sentences max)

Rewritten query:`, query)

	rewritten, err := r.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        r.model,
		SystemPrompt: "You are a helpful assistant that expands search queries.",
		Temperature:  0.3,
		MaxTokens:    defaultMaxTokens,
	})
	if err != nil {
		r.logger.Warn("query rewrite failed, using original", "error", err)
		return query
	}

	rewritten = strings.Trim(strings.TrimSpace(rewritten), `"'`)
	if rewritten == "" {
		return query
	}

	r.logger.Debug("query rewritten", "original", query, "rewritten", rewritten)
	return rewritten
}
