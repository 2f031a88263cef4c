package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/studypath/retrieval/internal/llm"
	"github.com/studypath/retrieval/internal/vectorstore"
)

// CrossEncoder scores each (query, document) pair jointly using a text
// generation model, approximating a cross-encoder: the model sees both
// sides together instead of comparing independent encodings.
type CrossEncoder struct {
	llmClient llm.LLM
	model     string
}

// CrossEncoderOption is a functional option for configuring CrossEncoder.
type CrossEncoderOption func(*CrossEncoder)

// WithModel sets the model to use for scoring.
func WithModel(model string) CrossEncoderOption {
	return func(r *CrossEncoder) {
		r.model = model
	}
}

// NewCrossEncoder creates an LLM-backed cross-encoder reranker.
func NewCrossEncoder(llmClient llm.LLM, opts ...CrossEncoderOption) *CrossEncoder {
	r := &CrossEncoder{llmClient: llmClient}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// relevanceScore represents the structured output from the model.
type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
}

type scoreResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank scores every candidate and returns them sorted descending,
// truncated to topK. An unparsable model response falls back to the
// input order annotated with existing relevance scores.
func (r *CrossEncoder) Rerank(ctx context.Context, query string, docs []vectorstore.Document, topK int) ([]vectorstore.RankedResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if topK > len(docs) {
		topK = len(docs)
	}

	prompt := r.buildPrompt(query, docs)

	response, err := r.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0, // deterministic scoring
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("cross-encoder scoring: %w", err)
	}

	scores, err := parseScores(response, len(docs))
	if err != nil {
		// Malformed output is a soft failure: keep the input order.
		return passthrough(docs, topK), nil
	}

	type scored struct {
		doc   vectorstore.Document
		score float64
	}
	all := make([]scored, len(docs))
	for i, doc := range docs {
		all[i] = scored{doc: doc, score: scores[i]}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].score > all[j].score
	})

	results := make([]vectorstore.RankedResult, topK)
	for i := 0; i < topK; i++ {
		doc := all[i].doc
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata[vectorstore.MetaRelevance] = all[i].score
		results[i] = vectorstore.RankedResult{
			Document: doc,
			Score:    all[i].score,
			Rank:     i + 1,
		}
	}
	return results, nil
}

// buildPrompt constructs the scoring prompt.
func (r *CrossEncoder) buildPrompt(query string, docs []vectorstore.Document) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, doc := range docs {
		// Truncate content to avoid token limits
		content := doc.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		sb.WriteString(fmt.Sprintf("[Doc %d]: %s\n\n", i, content))
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseScores extracts scores from the model response, tolerating
// markdown code fences around the JSON.
func parseScores(response string, numDocs int) ([]float64, error) {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}
	response = strings.TrimSpace(response)

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("parsing score response: %w", err)
	}

	scores := make([]float64, numDocs)
	for i := range scores {
		scores[i] = 0.5 // default for entries the model skipped
	}
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= numDocs {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[s.DocIndex] = score
	}
	return scores, nil
}

// Ensure CrossEncoder implements Reranker.
var _ Reranker = (*CrossEncoder)(nil)
