// Package llm handles provider communication for the scorer panel: prompt
// construction, raw completion calls, opinion parsing, and validation of
// model output against the evidence the scorer was shown.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tribunal/internal/schema"
)

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Options configures provider construction for a run.
type Options struct {
	Provider  string
	Model     string
	MaxTokens int
}

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "anthropic", "":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", providerName)
	}
}

// Classify maps a Complete error to the failure kind the panel records.
// Deadline and cancellation are timeouts; everything else is a provider fault.
func Classify(err error) schema.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return schema.FailTimeout
	}
	return schema.FailProvider
}
