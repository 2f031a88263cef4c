package reranker

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestCrossEncoderRerank(t *testing.T) {
	client := &scriptedLLM{
		response: `{"scores": [{"doc_index": 0, "score": 0.2}, {"doc_index": 1, "score": 0.9}]}`,
	}
	r := NewCrossEncoder(client)
	docs := docset("about cooking", "about goroutines")

	results, err := r.Rerank(context.Background(), "goroutines", docs, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if results[0].Document.Content != "about goroutines" {
		t.Errorf("top result = %q", results[0].Document.Content)
	}
	if results[0].Score != 0.9 || results[1].Score != 0.2 {
		t.Errorf("scores = %v, %v", results[0].Score, results[1].Score)
	}
	if results[0].Document.Relevance() != 0.9 {
		t.Error("relevance metadata not annotated")
	}
}

func TestCrossEncoderMarkdownFences(t *testing.T) {
	client := &scriptedLLM{
		response: "```json\n{\"scores\": [{\"doc_index\": 0, \"score\": 0.7}]}\n```",
	}
	r := NewCrossEncoder(client)

	results, err := r.Rerank(context.Background(), "q", docset("a"), 1)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if results[0].Score != 0.7 {
		t.Errorf("score = %v, want 0.7 from fenced JSON", results[0].Score)
	}
}

func TestCrossEncoderUnparsableFallsBack(t *testing.T) {
	client := &scriptedLLM{response: "I think the second one is better."}
	r := NewCrossEncoder(client)
	docs := docset("first", "second")

	results, err := r.Rerank(context.Background(), "q", docs, 2)
	if err != nil {
		t.Fatalf("unparsable output must be a soft failure, got %v", err)
	}
	if results[0].Document.Content != "first" {
		t.Error("fallback must keep input order")
	}
}

func TestCrossEncoderGenerateErrorSurfaces(t *testing.T) {
	client := &scriptedLLM{err: errors.New("model unavailable")}
	r := NewCrossEncoder(client)

	if _, err := r.Rerank(context.Background(), "q", docset("a"), 1); err == nil {
		t.Fatal("generation failure must surface so the caller can keep its ordering")
	}
}

func TestParseScores(t *testing.T) {
	t.Run("skipped entries default to 0.5", func(t *testing.T) {
		scores, err := parseScores(`{"scores": [{"doc_index": 2, "score": 0.8}]}`, 3)
		if err != nil {
			t.Fatalf("parseScores: %v", err)
		}
		if scores[0] != 0.5 || scores[1] != 0.5 || scores[2] != 0.8 {
			t.Errorf("scores = %v", scores)
		}
	})

	t.Run("clamped to unit interval", func(t *testing.T) {
		scores, err := parseScores(`{"scores": [{"doc_index": 0, "score": 1.7}, {"doc_index": 1, "score": -0.3}]}`, 2)
		if err != nil {
			t.Fatalf("parseScores: %v", err)
		}
		if scores[0] != 1 || scores[1] != 0 {
			t.Errorf("scores = %v, want clamped 1 and 0", scores)
		}
	})

	t.Run("out-of-range index ignored", func(t *testing.T) {
		scores, err := parseScores(`{"scores": [{"doc_index": 9, "score": 0.9}]}`, 1)
		if err != nil {
			t.Fatalf("parseScores: %v", err)
		}
		if math.Abs(scores[0]-0.5) > 1e-12 {
			t.Errorf("score = %v, want default", scores[0])
		}
	})

	t.Run("garbage errors", func(t *testing.T) {
		if _, err := parseScores("not json at all", 1); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestCrossEncoderPromptTruncatesLongDocs(t *testing.T) {
	r := NewCrossEncoder(&scriptedLLM{})
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	prompt := r.buildPrompt("q", docset(string(long)))
	if len(prompt) > 1500 {
		t.Errorf("prompt length %d, long documents should be truncated", len(prompt))
	}
}
