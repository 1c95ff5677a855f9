package domain

import "context"

// GenerationConfig carries sampling parameters for an AI text generation call.
type GenerationConfig struct {
	Temperature     float64
	MaxOutputTokens int
	TopP            float64
	TopK            int
}

// ProviderErrorKind classifies AI provider failures at the adapter boundary so
// downstream logic never inspects error message text.
type ProviderErrorKind string

const (
	ProviderErrTransport   ProviderErrorKind = "transport"
	ProviderErrRateLimited ProviderErrorKind = "rate_limited"
	ProviderErrTimeout     ProviderErrorKind = "timeout"
	ProviderErrBadResponse ProviderErrorKind = "bad_response"
)

// ProviderError is a classified failure from an AI provider adapter.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Message  string
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + string(e.Kind) + ": " + e.Message
}

// AIProvider generates free-form text from a prompt. Implementations make no
// guarantee that the output is valid JSON; the answer extractor handles
// arbitrary formatting.
type AIProvider interface {
	// Generate produces raw model output for the prompt.
	Generate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
	// Name returns the model identifier used in votes and logs.
	Name() string
}
