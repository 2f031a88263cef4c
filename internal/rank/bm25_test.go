package rank

import (
	"fmt"
	"math"
	"testing"

	"github.com/studypath/retrieval/internal/vectorstore"
)

func corpus(contents ...string) []vectorstore.Document {
	docs := make([]vectorstore.Document, len(contents))
	for i, c := range contents {
		docs[i] = vectorstore.Document{ID: vectorstore.ContentID(c), Content: c}
	}
	return docs
}

func TestBM25Ranking(t *testing.T) {
	idx := NewBM25(0, 0)
	idx.Index(corpus(
		"python is a programming language",
		"python python python snake handling",
		"go is a compiled language",
	))

	results := idx.Search("python", 10)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (only docs containing the term)", len(results))
	}
	// Higher term frequency wins, saturated by k1 but still ahead.
	if results[0].Document.Content != "python python python snake handling" {
		t.Errorf("top result = %q", results[0].Document.Content)
	}
	for i, r := range results {
		if r.Score <= 0 {
			t.Errorf("result %d has non-positive score %v", i, r.Score)
		}
		if r.Rank != i+1 {
			t.Errorf("result %d has rank %d", i, r.Rank)
		}
	}
}

func TestBM25NoMatchMeansNoResult(t *testing.T) {
	idx := NewBM25(0, 0)
	idx.Index(corpus("alpha beta", "gamma delta"))

	if results := idx.Search("epsilon", 5); len(results) != 0 {
		t.Errorf("non-matching query returned %d results", len(results))
	}
	if results := idx.Search("   ", 5); len(results) != 0 {
		t.Errorf("blank query returned %d results", len(results))
	}
}

func TestBM25CaseInsensitive(t *testing.T) {
	idx := NewBM25(0, 0)
	idx.Index(corpus("Goroutines And Channels"))

	if results := idx.Search("goroutines", 1); len(results) != 1 {
		t.Fatal("lowercase query should match capitalized content")
	}
	if results := idx.Search("CHANNELS", 1); len(results) != 1 {
		t.Fatal("uppercase query should match lowercase index")
	}
}

func TestBM25SmoothedIDFStaysPositive(t *testing.T) {
	// A term present in every document must still contribute a
	// positive score under the +1 smoothed formulation.
	idx := NewBM25(0, 0)
	idx.Index(corpus(
		"shared term one",
		"shared term two",
		"shared term three",
	))

	results := idx.Search("shared", 3)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Score <= 0 {
			t.Errorf("ubiquitous term scored %v, want positive", r.Score)
		}
	}
}

func TestBM25IDF(t *testing.T) {
	idx := NewBM25(0, 0)
	idx.Index(corpus("a", "b", "c", "d"))

	// log((n - df + 0.5)/(df + 0.5) + 1) with n=4, df=1.
	want := math.Log((4-1+0.5)/(1+0.5) + 1)
	if got := idx.idf(1); math.Abs(got-want) > 1e-12 {
		t.Errorf("idf(1) = %v, want %v", got, want)
	}
	if idx.idf(1) <= idx.idf(3) {
		t.Error("rarer terms must have higher idf")
	}
}

func TestBM25LengthNormalization(t *testing.T) {
	short := "target"
	long := "target plus many many many extra words diluting the match signal"
	idx := NewBM25(0, 0)
	idx.Index(corpus(short, long))

	results := idx.Search("target", 2)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Document.Content != short {
		t.Error("shorter document should outrank longer one at equal term frequency")
	}
}

func TestBM25Rebuild(t *testing.T) {
	idx := NewBM25(0, 0)
	idx.Index(corpus("old content"))
	idx.Index(corpus("new content", "other text"))

	if idx.Len() != 2 {
		t.Errorf("Len = %d, want 2 after reindex", idx.Len())
	}
	if results := idx.Search("old", 5); len(results) != 0 {
		t.Error("reindex must replace previous contents")
	}
}

func TestBM25TopKTruncation(t *testing.T) {
	docs := make([]vectorstore.Document, 10)
	for i := range docs {
		docs[i] = vectorstore.Document{Content: fmt.Sprintf("common word doc%d", i)}
	}
	idx := NewBM25(0, 0)
	idx.Index(docs)

	if results := idx.Search("common", 3); len(results) != 3 {
		t.Errorf("got %d results, want topK=3", len(results))
	}
}

func TestBM25AnnotatesTermMatchRelevance(t *testing.T) {
	idx := NewBM25(0, 0)
	docs := corpus(
		"alpha beta gamma",
		"alpha only here",
	)
	idx.Index(docs)

	results := idx.Search("alpha beta", 10)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		want := 0.5
		if r.Document.Content == "alpha beta gamma" {
			want = 1.0
		}
		got := r.Document.Relevance()
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%q relevance = %v, want %v", r.Document.Content, got, want)
		}
	}

	// Duplicate query terms must not inflate the fraction.
	results = idx.Search("alpha alpha beta", 10)
	if got := results[len(results)-1].Document.Relevance(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("relevance with repeated query term = %v, want 0.5", got)
	}

	// The indexed snapshot stays untouched.
	for _, d := range docs {
		if _, ok := d.Metadata[vectorstore.MetaRelevance]; ok {
			t.Errorf("index document %q was mutated", d.Content)
		}
	}
}

func TestBM25RelevancePreservesMetadata(t *testing.T) {
	idx := NewBM25(0, 0)
	idx.Index([]vectorstore.Document{{
		ID:       "d1",
		Content:  "alpha beta",
		Metadata: map[string]any{"source": "notes"},
	}})

	results := idx.Search("alpha", 1)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	meta := results[0].Document.Metadata
	if meta["source"] != "notes" {
		t.Errorf("existing metadata lost: %v", meta)
	}
	if _, ok := meta[vectorstore.MetaRelevance]; !ok {
		t.Error("relevance score missing from metadata")
	}
}

func TestBM25EmptyIndex(t *testing.T) {
	idx := NewBM25(0, 0)
	if results := idx.Search("anything", 5); results != nil {
		t.Errorf("empty index returned %v", results)
	}
}
