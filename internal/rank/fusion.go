package rank

import (
	"sort"

	"github.com/studypath/retrieval/internal/vectorstore"
)

// DefaultRRFK dampens the advantage of rank-1 placement in a single
// short list.
const DefaultRRFK = 60

// FuseRRF merges independently-ranked lists into one ranking by
// Reciprocal Rank Fusion: each appearance of a document at rank r
// contributes 1/(k+r) to its fused score. RRF only needs ordinal
// ranks, so it is robust to the very different score distributions of
// keyword and vector search.
//
// Documents are keyed by content hash; the output is sorted by fused
// score descending with ties broken by first appearance, and ranks are
// reassigned 1..N. The fused set is the union of the inputs; fusion
// never invents candidates, and callers truncate to top-k downstream.
func FuseRRF(lists [][]vectorstore.RankedResult, k int) []vectorstore.RankedResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	type fused struct {
		doc       vectorstore.Document
		score     float64
		firstSeen int
	}

	byKey := make(map[string]*fused)
	order := 0
	for _, list := range lists {
		for _, result := range list {
			key := vectorstore.ContentID(result.Document.Content)
			rrf := 1.0 / float64(k+result.Rank)

			if entry, ok := byKey[key]; ok {
				entry.score += rrf
				continue
			}
			byKey[key] = &fused{doc: result.Document, score: rrf, firstSeen: order}
			order++
		}
	}

	merged := make([]*fused, 0, len(byKey))
	for _, entry := range byKey {
		merged = append(merged, entry)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].firstSeen < merged[j].firstSeen
	})

	results := make([]vectorstore.RankedResult, len(merged))
	for i, entry := range merged {
		results[i] = vectorstore.RankedResult{
			Document: entry.doc,
			Score:    entry.score,
			Rank:     i + 1,
		}
	}
	return results
}

// FilterMinRelevance drops results whose documents carry a relevance
// score below the threshold. Filtering is idempotent: applying the
// same threshold twice yields the same set as applying it once.
func FilterMinRelevance(results []vectorstore.RankedResult, minRelevance float64) []vectorstore.RankedResult {
	if minRelevance <= 0 {
		return results
	}
	filtered := make([]vectorstore.RankedResult, 0, len(results))
	for _, r := range results {
		if r.Document.Relevance() >= minRelevance {
			r.Rank = len(filtered) + 1
			filtered = append(filtered, r)
		}
	}
	return filtered
}
