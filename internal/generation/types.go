// Package generation provides text generation providers for the interview
// engine. Providers wrap LLM HTTP APIs behind a narrow Generator interface
// with rate limiting, bounded timeouts, and typed transient/permanent error
// classification. A Chain composes providers into an ordered fallback list.
package generation

import (
	"context"
	"errors"
	"time"
)

// Generator produces text from a prompt. Implementations must be safe for
// concurrent use.
type Generator interface {
	// Generate returns the model's completion for the prompt. Errors are
	// classified: transient failures (timeouts, 429, 5xx) unwrap to a
	// *TransientError; anything else is permanent.
	Generate(ctx context.Context, prompt string) (string, error)

	// Name identifies the provider for logging and fallback diagnostics.
	Name() string
}

// Config holds configuration for a single provider.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 1024
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0 // ~0.83 requests per second
	defaultBurst     = 5           // Allow bursts of up to 5 requests
)

// TransientError wraps an error that is safe to retry: provider timeouts,
// rate limits, and server-side failures.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
