// Package vectorstore provides durable document storage with
// nearest-neighbor retrieval over named collections.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNotFound is returned when a document or collection does not exist.
var ErrNotFound = errors.New("vectorstore: not found")

// MetaRelevance is the metadata key carrying the normalized relevance
// score assigned to a document at query time.
const MetaRelevance = "relevance_score"

// Document is a unit of indexed content. Documents are immutable once
// indexed; replacing content requires Delete followed by Add.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Relevance returns the relevance score annotated at query time, or 0.
func (d Document) Relevance() float64 {
	if d.Metadata == nil {
		return 0
	}
	switch v := d.Metadata[MetaRelevance].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return 0
}

// RankedResult is a document with its position in one ranking stage.
// Ranked results are transient and never persisted.
type RankedResult struct {
	Document Document
	Score    float64
	Rank     int // 1-based
}

// DistanceMetric identifies how raw distances reported by the storage
// engine convert to a [0,1] relevance score.
type DistanceMetric string

const (
	// DistanceCosine covers cosine distance bounded in [0,2].
	DistanceCosine DistanceMetric = "cosine"

	// DistanceL2 covers unbounded Euclidean distance.
	DistanceL2 DistanceMetric = "l2"
)

// Relevance converts a raw distance to a relevance score in [0,1].
// The 1-d/2 formula is only valid for distances bounded in [0,2], so
// the conversion is a property of the metric rather than a constant.
func (m DistanceMetric) Relevance(distance float64) float64 {
	var rel float64
	switch m {
	case DistanceL2:
		rel = 1.0 / (1.0 + distance)
	default: // cosine
		rel = 1.0 - distance/2.0
	}
	if rel < 0 {
		return 0
	}
	if rel > 1 {
		return 1
	}
	return rel
}

// VectorStore is the interface for vector storage backends. A single
// store instance is constructed at startup and shared by all callers.
type VectorStore interface {
	// GetOrCreateCollection creates the named collection if it does not
	// exist. Calling it for an existing name is not an error.
	GetOrCreateCollection(ctx context.Context, name string, metadata map[string]string) error

	// Add indexes documents into a collection in bounded batches.
	// Documents without an ID receive a content-derived one, so adding
	// identical content twice collides rather than duplicating.
	Add(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Query runs similarity search and returns documents annotated with
	// a relevance_score metadata entry. Filters constrain on metadata:
	// a scalar value means exact match, a slice means "value in set".
	Query(ctx context.Context, collection, query string, topK int, filters map[string]any) ([]Document, error)

	// GetAll returns the current contents of a collection, optionally
	// filtered. Used to snapshot the corpus for keyword indexing.
	GetAll(ctx context.Context, collection string, filters map[string]any) ([]Document, error)

	// Delete removes a single document by ID.
	Delete(ctx context.Context, collection, id string) error

	// ClearCollection removes every document in a collection.
	ClearCollection(ctx context.Context, collection string) error

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases the underlying storage handle.
	Close() error
}

// ContentID derives a stable document ID from content. Duplicate
// content yields the same ID, which dedupes on insert.
func ContentID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "doc_" + hex.EncodeToString(sum[:8])
}

// MatchesFilters reports whether a document's metadata satisfies every
// filter constraint. Scalars compare for equality; slices mean the
// metadata value must be one of the listed values.
func MatchesFilters(meta map[string]any, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := meta[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []any:
			if !containsScalar(w, got) {
				return false
			}
		case []string:
			candidates := make([]any, len(w))
			for i, s := range w {
				candidates[i] = s
			}
			if !containsScalar(candidates, got) {
				return false
			}
		default:
			if !equalScalar(got, want) {
				return false
			}
		}
	}
	return true
}

func containsScalar(candidates []any, got any) bool {
	for _, candidate := range candidates {
		if equalScalar(got, candidate) {
			return true
		}
	}
	return false
}

// equalScalar compares metadata scalars loosely: JSON round-trips turn
// every number into float64, so numeric values compare by magnitude.
func equalScalar(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, okb := toFloat(b)
		return okb && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
