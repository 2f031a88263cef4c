package compressor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/studypath/retrieval/internal/llm"
	"github.com/studypath/retrieval/internal/vectorstore"
)

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	s.calls++
	return s.response, s.err
}

// longDoc is comfortably above the compression threshold.
func longDoc(id string) vectorstore.Document {
	return vectorstore.Document{
		ID:      id,
		Content: strings.Repeat("Channels synchronize goroutines by passing values. ", 20),
	}
}

func TestCompressExtractsRelevantContent(t *testing.T) {
	extracted := "Channels synchronize goroutines by passing values between them safely."
	client := &scriptedLLM{response: extracted}
	c := New(client)

	out := c.Compress(context.Background(), "how do channels work", []vectorstore.Document{longDoc("d1")})
	if len(out) != 1 {
		t.Fatalf("got %d docs, want 1", len(out))
	}
	if out[0].Content != extracted {
		t.Errorf("content not replaced with extraction")
	}
	if out[0].Metadata["compressed"] != true {
		t.Error("compressed flag missing")
	}
	if out[0].Metadata["original_length"].(int) <= out[0].Metadata["compressed_length"].(int) {
		t.Error("length metadata should show a reduction")
	}

	in, tokOut := c.TokenReduction()
	if in == 0 || tokOut >= in {
		t.Errorf("token accounting in=%d out=%d, want out < in", in, tokOut)
	}
}

func TestCompressSkipsShortDocuments(t *testing.T) {
	client := &scriptedLLM{response: "should never be used"}
	c := New(client)

	short := vectorstore.Document{ID: "s", Content: "tiny document"}
	out := c.Compress(context.Background(), "query", []vectorstore.Document{short})
	if out[0].Content != short.Content {
		t.Error("short document must pass through untouched")
	}
	if client.calls != 0 {
		t.Error("short document must not reach the llm")
	}
}

func TestCompressFailureKeepsOriginal(t *testing.T) {
	client := &scriptedLLM{err: errors.New("model unavailable")}
	c := New(client)

	doc := longDoc("d1")
	out := c.Compress(context.Background(), "query", []vectorstore.Document{doc})
	if out[0].Content != doc.Content {
		t.Error("failed extraction must keep the original content")
	}
	if _, ok := out[0].Metadata["compressed"]; ok {
		t.Error("uncompressed document must not carry the compressed flag")
	}
}

func TestCompressImplausiblyShortOutputKeepsOriginal(t *testing.T) {
	client := &scriptedLLM{response: "ok."}
	c := New(client)

	doc := longDoc("d1")
	out := c.Compress(context.Background(), "query", []vectorstore.Document{doc})
	if out[0].Content != doc.Content {
		t.Error("near-empty extraction must fall back to the original")
	}
}

func TestCompressNilClientPassesThrough(t *testing.T) {
	c := New(nil)
	docs := []vectorstore.Document{longDoc("d1")}
	out := c.Compress(context.Background(), "query", docs)
	if len(out) != 1 || out[0].Content != docs[0].Content {
		t.Error("nil client must return input unchanged")
	}
}

func TestCompressPreservesOrderAndMetadata(t *testing.T) {
	client := &scriptedLLM{response: strings.Repeat("relevant sentence kept. ", 4)}
	c := New(client)

	docs := []vectorstore.Document{
		{ID: "a", Content: "short one"},
		longDoc("b"),
		{ID: "c", Content: "short two", Metadata: map[string]any{"topic": "go"}},
	}
	out := c.Compress(context.Background(), "query", docs)
	if len(out) != 3 {
		t.Fatalf("got %d docs, want 3", len(out))
	}
	for i, want := range []string{"a", "b", "c"} {
		if out[i].ID != want {
			t.Errorf("position %d has id %q, want %q", i, out[i].ID, want)
		}
	}
	if out[2].Metadata["topic"] != "go" {
		t.Error("existing metadata must survive")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("12345678"); got != 2 {
		t.Errorf("estimateTokens = %d, want 2", got)
	}
	if got := estimateTokens(""); got != 0 {
		t.Errorf("estimateTokens(empty) = %d, want 0", got)
	}
}
