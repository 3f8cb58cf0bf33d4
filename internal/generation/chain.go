package generation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/logging"
)

// Chain tries an ordered list of providers, moving to the next only after the
// current one fails. Each provider already retries its own transient errors,
// so by the time the chain falls through, the provider is exhausted.
type Chain struct {
	providers []Generator
	logger    *logging.Logger
}

// NewChain creates an ordered provider chain. At least one provider is required.
func NewChain(logger *logging.Logger, providers ...Generator) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Chain{
		providers: providers,
		logger:    logger.Named("generation"),
	}, nil
}

// Name identifies the chain for diagnostics.
func (c *Chain) Name() string {
	return "chain"
}

// Generate tries each provider in order and returns the first success.
// The last provider's error is returned when all fail; it stays transient
// only if every provider failed transiently.
func (c *Chain) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	allTransient := true

	for _, p := range c.providers {
		text, err := p.Generate(ctx, prompt)
		if err == nil {
			return text, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if !IsTransient(err) {
			allTransient = false
		}

		c.logger.Warn(ctx, "provider failed, falling through",
			zap.String("provider", p.Name()),
			zap.Bool("transient", IsTransient(err)),
			zap.Error(err),
		)
	}

	if allTransient {
		return "", Transient(fmt.Errorf("all providers failed: %w", lastErr))
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}

var _ Generator = (*Chain)(nil)
