// Package compressor shrinks retrieved documents to the sentences
// relevant to the query, bounding downstream token cost. Extraction
// preserves original wording and sentence order; paraphrasing would
// risk introducing content the source never said.
package compressor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/studypath/retrieval/internal/llm"
	"github.com/studypath/retrieval/internal/vectorstore"
)

const (
	// minTokensToCompress skips compression for short documents, where
	// the extraction call costs more than it saves.
	minTokensToCompress = 100

	// minCompressedLength guards against implausibly short extraction
	// output; below it the original content is kept.
	minCompressedLength = 50

	// defaultMaxTokens bounds each compressed chunk.
	defaultMaxTokens = 500
)

// Compressor extracts query-relevant sentences from documents. All
// failures are soft: a document that cannot be compressed passes
// through with its original content.
type Compressor struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger

	// aggregate token accounting, for observability only
	tokensIn  atomic.Int64
	tokensOut atomic.Int64
}

// Option is a functional option for configuring Compressor.
type Option func(*Compressor)

// WithModel sets the extraction model.
func WithModel(model string) Option {
	return func(c *Compressor) {
		c.model = model
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compressor) {
		c.logger = logger
	}
}

// New creates a context compressor. A nil llmClient disables
// compression; Compress then returns its input unchanged.
func New(llmClient llm.LLM, opts ...Option) *Compressor {
	c := &Compressor{
		llmClient: llmClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress processes each document in order. Short documents are
// skipped, failed extractions keep the original, and metadata on
// compressed documents records the size change.
func (c *Compressor) Compress(ctx context.Context, query string, docs []vectorstore.Document) []vectorstore.Document {
	if c.llmClient == nil || len(docs) == 0 {
		return docs
	}

	out := make([]vectorstore.Document, 0, len(docs))
	var totalIn, totalOut int64

	for _, doc := range docs {
		originalTokens := estimateTokens(doc.Content)
		totalIn += int64(originalTokens)

		if originalTokens < minTokensToCompress {
			out = append(out, doc)
			totalOut += int64(originalTokens)
			continue
		}

		compressed, err := c.compressOne(ctx, query, doc.Content)
		if err != nil {
			c.logger.Warn("compression failed, keeping original", "doc_id", doc.ID, "error", err)
			out = append(out, doc)
			totalOut += int64(originalTokens)
			continue
		}

		meta := make(map[string]any, len(doc.Metadata)+3)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["compressed"] = true
		meta["original_length"] = len(doc.Content)
		meta["compressed_length"] = len(compressed)

		out = append(out, vectorstore.Document{
			ID:       doc.ID,
			Content:  compressed,
			Metadata: meta,
		})
		totalOut += int64(estimateTokens(compressed))
	}

	c.tokensIn.Add(totalIn)
	c.tokensOut.Add(totalOut)
	if totalIn > 0 {
		c.logger.Debug("context compressed",
			"tokens_in", totalIn,
			"tokens_out", totalOut,
			"reduction_pct", float64(totalIn-totalOut)/float64(totalIn)*100,
		)
	}

	return out
}

// TokenReduction returns the cumulative estimated tokens in and out
// since construction.
func (c *Compressor) TokenReduction() (in, out int64) {
	return c.tokensIn.Load(), c.tokensOut.Load()
}

// compressOne extracts relevant sentences from one document. Results
// shorter than minCompressedLength fall back to the original content.
func (c *Compressor) compressOne(ctx context.Context, query, content string) (string, error) {
	prompt := fmt.Sprintf(`You are a text compression expert. Extract only the sentences from the following text that are directly relevant to answering this query:

Query: %q

Text:
%s

Instructions:
1. Extract ONLY sentences that directly answer or relate to the query
2. Preserve the original wording - do not paraphrase
3. Remove redundant or tangential information
4. Keep the extracted sentences in their original order
5. If multiple sentences are relevant, separate them with a space

Relevant sentences:`, query, content)

	compressed, err := c.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        c.model,
		SystemPrompt: "You are a helpful assistant that extracts relevant information.",
		Temperature:  0.1,
		MaxTokens:    defaultMaxTokens,
	})
	if err != nil {
		return "", err
	}

	compressed = strings.TrimSpace(compressed)
	if len(compressed) < minCompressedLength {
		return content, nil
	}
	return compressed, nil
}

// estimateTokens approximates token count as one per four characters.
func estimateTokens(text string) int {
	return len(text) / 4
}
