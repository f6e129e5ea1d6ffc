// Package assistant answers mention prompts through an ordered list of AI
// text providers. Providers are tried strictly in registration order and the
// first success wins; the caller sees one error only when every provider
// failed.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Provider is one AI text backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Chain tries providers in order, short-circuiting on the first success.
type Chain struct {
	providers []Provider
	log       *slog.Logger
}

// NewChain builds a fallback chain. Order is priority order.
func NewChain(log *slog.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = slog.Default()
	}

	return &Chain{
		providers: providers,
		log:       log.With("component", "assistant.chain"),
	}
}

// Complete returns the first provider answer. Empty answers count as
// failures so a degraded provider falls through to the next one.
func (c *Chain) Complete(ctx context.Context, prompt string) (string, error) {
	if len(c.providers) == 0 {
		return "", errors.New("no assistant providers configured")
	}

	var failures []error
	for _, provider := range c.providers {
		answer, err := provider.Complete(ctx, prompt)
		if err != nil {
			c.log.Warn("Assistant provider failed, trying next", "provider", provider.Name(), "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", provider.Name(), err))
			continue
		}

		answer = strings.TrimSpace(answer)
		if answer == "" {
			failures = append(failures, fmt.Errorf("%s: empty answer", provider.Name()))
			continue
		}

		c.log.Debug("Assistant answered", "provider", provider.Name(), "answer_length", len(answer))
		return answer, nil
	}

	return "", fmt.Errorf("all assistant providers failed: %w", errors.Join(failures...))
}
