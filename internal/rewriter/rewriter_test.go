package rewriter

import (
	"context"
	"errors"
	"testing"

	"github.com/studypath/retrieval/internal/llm"
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

func TestRewriteShortQuery(t *testing.T) {
	client := &scriptedLLM{response: `"machine learning algorithms and model training"`}
	r := New(client)

	got := r.Rewrite(context.Background(), "ML")
	if got != "machine learning algorithms and model training" {
		t.Errorf("got %q, surrounding quotes should be stripped", got)
	}
	if client.calls != 1 {
		t.Errorf("llm called %d times, want 1", client.calls)
	}
}

func TestRewriteGating(t *testing.T) {
	tests := []struct {
		name  string
		query string
		calls int
	}{
		{"short query rewritten", "k8s", 1},
		{"at threshold passes through", "exactly twenty chars", 0},
		{"long query passes through", "how do goroutines communicate over buffered channels in go", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedLLM{response: "expanded"}
			r := New(client)
			r.Rewrite(context.Background(), tt.query)
			if client.calls != tt.calls {
				t.Errorf("llm called %d times, want %d", client.calls, tt.calls)
			}
		})
	}
}

func TestRewriteFailureReturnsOriginal(t *testing.T) {
	client := &scriptedLLM{err: errors.New("model unavailable")}
	r := New(client)

	if got := r.Rewrite(context.Background(), "ML"); got != "ML" {
		t.Errorf("got %q, want original query on failure", got)
	}
}

func TestRewriteEmptyResponseReturnsOriginal(t *testing.T) {
	client := &scriptedLLM{response: "  \"\"  "}
	r := New(client)

	if got := r.Rewrite(context.Background(), "ML"); got != "ML" {
		t.Errorf("got %q, want original for blank rewrite", got)
	}
}

func TestRewriteNilClient(t *testing.T) {
	r := New(nil)
	if got := r.Rewrite(context.Background(), "ML"); got != "ML" {
		t.Errorf("got %q, nil client must pass through", got)
	}
}

func TestRewriteThresholdOption(t *testing.T) {
	client := &scriptedLLM{response: "expanded"}
	r := New(client, WithThreshold(5))

	r.Rewrite(context.Background(), "a longer query")
	if client.calls != 0 {
		t.Error("query above custom threshold should pass through")
	}
	r.Rewrite(context.Background(), "abc")
	if client.calls != 1 {
		t.Error("query below custom threshold should be rewritten")
	}
}
