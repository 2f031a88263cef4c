package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoProviders is returned when a chain has no clients configured.
var ErrNoProviders = errors.New("llm: no providers configured")

// Chain tries an ordered list of clients and returns the first
// successful generation. The fallback order is a visible data
// structure rather than nested error handling, so it can be asserted
// in tests and logged at startup.
type Chain struct {
	clients []LLM
}

// NewChain builds a fallback chain. Nil entries are skipped.
func NewChain(clients ...LLM) *Chain {
	filtered := make([]LLM, 0, len(clients))
	for _, c := range clients {
		if c != nil {
			filtered = append(filtered, c)
		}
	}
	return &Chain{clients: filtered}
}

// Len returns the number of configured providers.
func (c *Chain) Len() int {
	return len(c.clients)
}

// Generate tries each provider in order, returning the first success.
// All failures are joined into the returned error.
func (c *Chain) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if len(c.clients) == 0 {
		return "", ErrNoProviders
	}

	var errs []error
	for i, client := range c.clients {
		text, err := client.Generate(ctx, prompt, opts)
		if err == nil {
			return text, nil
		}
		errs = append(errs, fmt.Errorf("provider %d: %w", i, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

// Ensure Chain implements LLM interface.
var _ LLM = (*Chain)(nil)
