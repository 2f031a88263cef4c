package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/studypath/retrieval/internal/vectorstore"
)

const (
	// DefaultRemoteModel is the default remote rerank model.
	DefaultRemoteModel = "rerank-english-v3.0"

	// defaultRerankTimeout bounds a rerank round trip.
	defaultRerankTimeout = 30 * time.Second
)

// RemoteConfig holds configuration for the remote rerank service.
type RemoteConfig struct {
	// BaseURL is the rerank service endpoint, e.g. https://api.cohere.com.
	BaseURL string

	// APIKey authenticates requests.
	APIKey string

	// Model is the rerank model name.
	Model string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// Remote implements Reranker against an HTTP rerank service that takes
// a (query, documents) batch and returns relevance scores with an
// index permutation.
type Remote struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewRemote creates a remote rerank client.
func NewRemote(cfg RemoteConfig) *Remote {
	model := cfg.Model
	if model == "" {
		model = DefaultRemoteModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRerankTimeout}
	}
	return &Remote{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		client:  client,
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends the whole candidate batch in one call and maps the
// returned permutation back onto the input documents.
func (r *Remote) Rerank(ctx context.Context, query string, docs []vectorstore.Document, topK int) ([]vectorstore.RankedResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if topK > len(docs) {
		topK = len(docs)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: texts,
		TopN:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	results := make([]vectorstore.RankedResult, 0, topK)
	for _, item := range result.Results {
		if item.Index < 0 || item.Index >= len(docs) {
			return nil, fmt.Errorf("rerank index %d out of range", item.Index)
		}
		doc := docs[item.Index]
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata[vectorstore.MetaRelevance] = item.RelevanceScore
		results = append(results, vectorstore.RankedResult{
			Document: doc,
			Score:    item.RelevanceScore,
			Rank:     len(results) + 1,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// Ensure Remote implements Reranker.
var _ Reranker = (*Remote)(nil)
