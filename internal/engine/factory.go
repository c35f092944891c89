package engine

import "fmt"

// Providers understood by New.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// Options holds what New needs to construct any provider.
type Options struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OllamaBaseURL    string
	// Dimensions is the requested embedding size, honoured where the provider supports it.
	Dimensions int
}

// New returns the engine for provider.
func New(provider string, opts Options) (Engine, error) {
	switch provider {
	case ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIEngine(opts.OpenAIAPIKey, opts.OpenAIBaseURL, opts.Dimensions), nil
	case ProviderOllama:
		return NewOllamaEngine(opts.OllamaBaseURL)
	case ProviderAnthropic:
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicEngine(opts.AnthropicAPIKey, opts.AnthropicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", provider)
	}
}
