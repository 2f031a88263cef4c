// Package reranker provides the final precision pass over a small
// candidate set. A reranker sees the query and each document jointly,
// which costs more than either retrieval stage but ranks better.
//
// Two interchangeable strategies exist: a remote rerank service and a
// local cross-encoder driven by an LLM. Selection happens once at
// startup with automatic fallback in either direction; when neither is
// available the pipeline runs with a no-op reranker that preserves the
// fused order.
package reranker

import (
	"context"
	"log/slog"

	"github.com/studypath/retrieval/internal/llm"
	"github.com/studypath/retrieval/internal/vectorstore"
)

// Reranker re-scores candidates against the query. The output is
// sorted by the new score, never larger than the input, and truncated
// to topK. Errors are soft: the caller keeps its pre-rerank ordering.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []vectorstore.Document, topK int) ([]vectorstore.RankedResult, error)
}

// Strategy names accepted by Select.
const (
	StrategyRemote = "remote"
	StrategyLocal  = "local"
)

// Select picks a reranker at startup. The preferred strategy is tried
// first; if it cannot be constructed the other one is used, and when
// neither is available the result is a Noop. The returned value never
// changes for the life of the process.
func Select(preferred string, remoteURL, remoteAPIKey string, llmClient llm.LLM, logger *slog.Logger) Reranker {
	if logger == nil {
		logger = slog.Default()
	}

	remote := func() Reranker {
		if remoteURL == "" || remoteAPIKey == "" {
			return nil
		}
		return NewRemote(RemoteConfig{BaseURL: remoteURL, APIKey: remoteAPIKey})
	}
	local := func() Reranker {
		if llmClient == nil {
			return nil
		}
		return NewCrossEncoder(llmClient)
	}

	order := []func() Reranker{remote, local}
	if preferred == StrategyLocal {
		order = []func() Reranker{local, remote}
	}

	for _, build := range order {
		if r := build(); r != nil {
			logger.Info("reranker selected", "strategy", strategyName(r))
			return r
		}
	}

	logger.Warn("no reranker available, reranking is a no-op")
	return Noop{}
}

func strategyName(r Reranker) string {
	switch r.(type) {
	case *Remote:
		return StrategyRemote
	case *CrossEncoder:
		return StrategyLocal
	default:
		return "noop"
	}
}

// passthrough returns the input order truncated to topK, keeping
// whatever relevance score each document already carries. Shared by
// Noop and by strategy-level fallbacks.
func passthrough(docs []vectorstore.Document, topK int) []vectorstore.RankedResult {
	if topK > len(docs) {
		topK = len(docs)
	}
	results := make([]vectorstore.RankedResult, topK)
	for i := 0; i < topK; i++ {
		results[i] = vectorstore.RankedResult{
			Document: docs[i],
			Score:    docs[i].Relevance(),
			Rank:     i + 1,
		}
	}
	return results
}

// Noop is the degenerate reranker used when no strategy is available.
type Noop struct{}

// Rerank returns the input order truncated to topK.
func (Noop) Rerank(_ context.Context, _ string, docs []vectorstore.Document, topK int) ([]vectorstore.RankedResult, error) {
	return passthrough(docs, topK), nil
}

// Ensure Noop implements Reranker.
var _ Reranker = Noop{}
