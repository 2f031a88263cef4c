package rank

import (
	"math"
	"testing"

	"github.com/studypath/retrieval/internal/vectorstore"
)

func ranked(contents ...string) []vectorstore.RankedResult {
	results := make([]vectorstore.RankedResult, len(contents))
	for i, c := range contents {
		results[i] = vectorstore.RankedResult{
			Document: vectorstore.Document{ID: vectorstore.ContentID(c), Content: c},
			Rank:     i + 1,
		}
	}
	return results
}

func TestFuseRRFScores(t *testing.T) {
	vector := ranked("a", "b", "c")
	keyword := ranked("b", "a")

	fused := FuseRRF([][]vectorstore.RankedResult{vector, keyword}, 60)
	if len(fused) != 3 {
		t.Fatalf("got %d fused results, want union of 3", len(fused))
	}

	// a: 1/61 + 1/62, b: 1/62 + 1/61, c: 1/63. a and b tie exactly,
	// first-seen order breaks it in favor of a.
	wantAB := 1.0/61 + 1.0/62
	if math.Abs(fused[0].Score-wantAB) > 1e-12 {
		t.Errorf("top score = %v, want %v", fused[0].Score, wantAB)
	}
	if fused[0].Document.Content != "a" || fused[1].Document.Content != "b" {
		t.Errorf("tie-break order = %q, %q; want a, b",
			fused[0].Document.Content, fused[1].Document.Content)
	}
	if fused[2].Document.Content != "c" {
		t.Errorf("last = %q, want c", fused[2].Document.Content)
	}
	if math.Abs(fused[2].Score-1.0/63) > 1e-12 {
		t.Errorf("single-list score = %v, want %v", fused[2].Score, 1.0/63)
	}
	for i, r := range fused {
		if r.Rank != i+1 {
			t.Errorf("fused rank %d at position %d", r.Rank, i)
		}
	}
}

func TestFuseRRFDeterministic(t *testing.T) {
	lists := [][]vectorstore.RankedResult{
		ranked("x", "y", "z"),
		ranked("z", "x"),
	}
	first := FuseRRF(lists, 60)
	for run := 0; run < 20; run++ {
		again := FuseRRF(lists, 60)
		for i := range first {
			if again[i].Document.Content != first[i].Document.Content {
				t.Fatalf("run %d: position %d differs", run, i)
			}
		}
	}
}

func TestFuseRRFKeyedByContent(t *testing.T) {
	// Same content under different IDs must fuse into one entry.
	a := vectorstore.RankedResult{
		Document: vectorstore.Document{ID: "doc_1", Content: "same text"},
		Rank:     1,
	}
	b := vectorstore.RankedResult{
		Document: vectorstore.Document{ID: "doc_2", Content: "same text"},
		Rank:     1,
	}
	fused := FuseRRF([][]vectorstore.RankedResult{{a}, {b}}, 60)
	if len(fused) != 1 {
		t.Fatalf("got %d entries, want 1", len(fused))
	}
	if math.Abs(fused[0].Score-2.0/61) > 1e-12 {
		t.Errorf("score = %v, want %v", fused[0].Score, 2.0/61)
	}
}

func TestFuseRRFEmptyInputs(t *testing.T) {
	if fused := FuseRRF(nil, 60); len(fused) != 0 {
		t.Error("nil lists should fuse to empty")
	}
	fused := FuseRRF([][]vectorstore.RankedResult{nil, ranked("only")}, 60)
	if len(fused) != 1 || fused[0].Document.Content != "only" {
		t.Errorf("one empty list should not affect the other: %+v", fused)
	}
}

func TestFuseRRFZeroKUsesDefault(t *testing.T) {
	fused := FuseRRF([][]vectorstore.RankedResult{ranked("a")}, 0)
	want := 1.0 / float64(DefaultRRFK+1)
	if math.Abs(fused[0].Score-want) > 1e-12 {
		t.Errorf("score = %v, want default-k %v", fused[0].Score, want)
	}
}

func relevanceResult(content string, relevance float64, rank int) vectorstore.RankedResult {
	return vectorstore.RankedResult{
		Document: vectorstore.Document{
			Content:  content,
			Metadata: map[string]any{vectorstore.MetaRelevance: relevance},
		},
		Rank: rank,
	}
}

func TestFilterMinRelevance(t *testing.T) {
	results := []vectorstore.RankedResult{
		relevanceResult("high", 0.9, 1),
		relevanceResult("mid", 0.5, 2),
		relevanceResult("low", 0.2, 3),
	}

	filtered := FilterMinRelevance(results, 0.5)
	if len(filtered) != 2 {
		t.Fatalf("got %d results, want 2 (boundary is inclusive)", len(filtered))
	}
	for i, r := range filtered {
		if r.Rank != i+1 {
			t.Errorf("rank not reassigned: position %d has rank %d", i, r.Rank)
		}
	}

	t.Run("idempotent", func(t *testing.T) {
		twice := FilterMinRelevance(filtered, 0.5)
		if len(twice) != len(filtered) {
			t.Errorf("second filter changed the set: %d vs %d", len(twice), len(filtered))
		}
	})

	t.Run("zero threshold passes everything", func(t *testing.T) {
		if got := FilterMinRelevance(results, 0); len(got) != len(results) {
			t.Errorf("got %d, want all %d", len(got), len(results))
		}
	})
}
