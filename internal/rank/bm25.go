// Package rank provides the keyword ranking and rank-fusion stages of
// the retrieval pipeline.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/studypath/retrieval/internal/vectorstore"
)

const (
	// DefaultK1 is the term-frequency saturation parameter.
	DefaultK1 = 1.5

	// DefaultB is the document-length normalization parameter.
	DefaultB = 0.75
)

// BM25 is an in-memory keyword index over one corpus snapshot. It is
// rebuilt from the vector store's current contents on every retrieval
// call, so the keyword view can never drift from the vector view. The
// O(corpus) build cost is accepted for the bounded corpora indexed
// here; freshness matters more than amortization.
type BM25 struct {
	k1 float64
	b  float64

	docs      []vectorstore.Document
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	docFreq   map[string]int
}

// NewBM25 creates an empty index with the given parameters. Zero or
// negative values fall back to the defaults.
func NewBM25(k1, b float64) *BM25 {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 {
		b = DefaultB
	}
	return &BM25{k1: k1, b: b, docFreq: make(map[string]int)}
}

// Index builds the term statistics for a document set, replacing any
// previous contents.
func (idx *BM25) Index(docs []vectorstore.Document) {
	idx.docs = docs
	idx.termFreqs = make([]map[string]int, len(docs))
	idx.docLens = make([]int, len(docs))
	idx.docFreq = make(map[string]int, len(docs)*8)

	totalLen := 0
	for i, doc := range docs {
		tokens := tokenize(doc.Content)
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		idx.termFreqs[i] = freqs
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)

		for term := range freqs {
			idx.docFreq[term]++
		}
	}

	if len(docs) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(docs))
	}
}

// Len returns the number of indexed documents.
func (idx *BM25) Len() int {
	return len(idx.docs)
}

// Search scores every indexed document against the query and returns
// the top-k with strictly positive scores. Documents that match no
// query term are never surfaced, even when fewer than topK qualify.
// Each returned document is annotated with a relevance score in [0,1],
// the fraction of distinct query terms it contains, so keyword hits
// survive downstream relevance filtering alongside vector hits.
func (idx *BM25) Search(query string, topK int) []vectorstore.RankedResult {
	if len(idx.docs) == 0 || topK <= 0 {
		return nil
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}
	uniqueTerms := make(map[string]struct{}, len(queryTerms))
	for _, term := range queryTerms {
		uniqueTerms[term] = struct{}{}
	}

	scores := make([]float64, len(idx.docs))
	for _, term := range queryTerms {
		df, ok := idx.docFreq[term]
		if !ok {
			continue
		}
		idf := idx.idf(df)
		for i, freqs := range idx.termFreqs {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			norm := 1 - idx.b + idx.b*float64(idx.docLens[i])/idx.avgDocLen
			scores[i] += idf * (tf * (idx.k1 + 1)) / (tf + idx.k1*norm)
		}
	}

	order := make([]int, len(idx.docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	results := make([]vectorstore.RankedResult, 0, topK)
	for _, i := range order {
		if scores[i] <= 0 {
			break // sorted descending, nothing positive remains
		}
		doc := idx.docs[i]
		doc.Metadata = withRelevance(doc.Metadata, idx.matchFraction(i, uniqueTerms))
		results = append(results, vectorstore.RankedResult{
			Document: doc,
			Score:    scores[i],
			Rank:     len(results) + 1,
		})
		if len(results) == topK {
			break
		}
	}
	return results
}

// matchFraction returns the share of distinct query terms present in
// document i.
func (idx *BM25) matchFraction(i int, terms map[string]struct{}) float64 {
	matched := 0
	for term := range terms {
		if idx.termFreqs[i][term] > 0 {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// withRelevance copies the metadata map before writing the score so
// the indexed snapshot is never mutated.
func withRelevance(meta map[string]any, relevance float64) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[vectorstore.MetaRelevance] = relevance
	return out
}

// idf uses the +1 smoothed formulation, which stays positive for terms
// appearing in most documents.
func (idx *BM25) idf(df int) float64 {
	n := float64(len(idx.docs))
	return math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

// tokenize lowercases and splits on whitespace. Both documents and
// queries go through the same path so term matching is symmetric.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
