package vectorstore

import (
	"math"
	"strings"
	"testing"
)

func TestContentID(t *testing.T) {
	id := ContentID("hello world")
	if !strings.HasPrefix(id, "doc_") {
		t.Errorf("id %q missing doc_ prefix", id)
	}
	if len(id) != len("doc_")+16 {
		t.Errorf("id %q has wrong length", id)
	}
	if id != ContentID("hello world") {
		t.Error("same content must produce the same id")
	}
	if id == ContentID("hello world!") {
		t.Error("different content must produce different ids")
	}
}

func TestDistanceMetricRelevance(t *testing.T) {
	tests := []struct {
		name     string
		metric   DistanceMetric
		distance float64
		want     float64
	}{
		{"cosine identical", DistanceCosine, 0, 1.0},
		{"cosine orthogonal", DistanceCosine, 1, 0.5},
		{"cosine opposite", DistanceCosine, 2, 0.0},
		{"l2 identical", DistanceL2, 0, 1.0},
		{"l2 unit distance", DistanceL2, 1, 0.5},
		{"l2 far", DistanceL2, 9, 0.1},
		{"unknown metric treated as cosine", DistanceMetric("other"), 1, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.metric.Relevance(tt.distance)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Relevance(%v) = %v, want %v", tt.distance, got, tt.want)
			}
		})
	}

	t.Run("clamped to unit interval", func(t *testing.T) {
		if got := DistanceCosine.Relevance(3); got != 0 {
			t.Errorf("over-range distance gave %v, want 0", got)
		}
		if got := DistanceCosine.Relevance(-0.5); got != 1 {
			t.Errorf("negative distance gave %v, want 1", got)
		}
	})
}

func TestDocumentRelevance(t *testing.T) {
	if r := (Document{}).Relevance(); r != 0 {
		t.Errorf("missing metadata relevance = %v, want 0", r)
	}
	d := Document{Metadata: map[string]any{MetaRelevance: 0.75}}
	if r := d.Relevance(); r != 0.75 {
		t.Errorf("relevance = %v, want 0.75", r)
	}
	d = Document{Metadata: map[string]any{MetaRelevance: float32(0.5)}}
	if r := d.Relevance(); r != 0.5 {
		t.Errorf("float32 relevance = %v, want 0.5", r)
	}
	d = Document{Metadata: map[string]any{MetaRelevance: "high"}}
	if r := d.Relevance(); r != 0 {
		t.Errorf("non-numeric relevance = %v, want 0", r)
	}
}

func TestMatchesFilters(t *testing.T) {
	meta := map[string]any{
		"topic":    "concurrency",
		"level":    2,
		"language": "go",
	}

	tests := []struct {
		name    string
		filters map[string]any
		want    bool
	}{
		{"empty filters match", map[string]any{}, true},
		{"scalar equality", map[string]any{"topic": "concurrency"}, true},
		{"scalar mismatch", map[string]any{"topic": "testing"}, false},
		{"missing key", map[string]any{"author": "anyone"}, false},
		{"in-set match", map[string]any{"language": []any{"go", "rust"}}, true},
		{"in-set miss", map[string]any{"language": []any{"python", "rust"}}, false},
		{"string slice match", map[string]any{"language": []string{"go"}}, true},
		{"numeric across types", map[string]any{"level": float64(2)}, true},
		{"numeric mismatch", map[string]any{"level": float64(3)}, false},
		{"all constraints must hold", map[string]any{"topic": "concurrency", "level": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesFilters(meta, tt.filters); got != tt.want {
				t.Errorf("MatchesFilters = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFloat32BlobRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 0, 3.14159, math.MaxFloat32}
	got := bytesToFloat32Slice(float32SliceToBytes(vec))
	if len(got) != len(vec) {
		t.Fatalf("length %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], vec[i])
		}
	}
	if float32SliceToBytes(nil) != nil {
		t.Error("empty vector should encode to nil")
	}
	if bytesToFloat32Slice(nil) != nil {
		t.Error("nil blob should decode to nil")
	}
}
