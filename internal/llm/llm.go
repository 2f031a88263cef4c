// Package llm provides interfaces and implementations for text
// generation clients used by the query rewriter, the reranker, and the
// context compressor.
package llm

import (
	"context"
)

// GenerateOptions configures a generation request.
type GenerateOptions struct {
	// Model specifies the model to use, overriding the client default.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int
}

// LLM defines the interface for text generation clients. Any non-2xx
// response, timeout, or unparsable body is returned as an error; the
// stages consuming this interface treat every error as a soft failure
// and fall back to their documented default.
type LLM interface {
	// Generate sends a prompt and returns the complete response text.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
