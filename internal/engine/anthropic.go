package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 1024

// AnthropicEngine generates chat completions with Claude models. It has no
// embeddings API, so it can only serve as the chat provider.
type AnthropicEngine struct {
	client anthropic.Client
}

// NewAnthropicEngine creates an engine for the Anthropic Messages API. A
// non-empty baseURL overrides the API endpoint.
func NewAnthropicEngine(apiKey, baseURL string) *AnthropicEngine {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicEngine{client: anthropic.NewClient(opts...)}
}

func isAnthropicRateLimit(err error) bool {
	var apiErr *anthropic.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func (e *AnthropicEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	system, rest := splitSystem(messages)
	if jsonSchema != nil {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object only.")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicMaxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(rest)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := withRateLimitRetry(ctx, isAnthropicRateLimit, func() (*anthropic.Message, error) {
		return e.client.Messages.New(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (e *AnthropicEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, ErrEmbeddingUnsupported
}

// IsRunning always reports true: the hosted API has no cheap health probe and
// failures surface on the first Chat call.
func (e *AnthropicEngine) IsRunning(_ context.Context) bool {
	return true
}

func (e *AnthropicEngine) ListModels(_ context.Context) ([]string, error) {
	return nil, nil
}

func (e *AnthropicEngine) HasModel(_ context.Context, _ string) bool {
	return true
}

func (e *AnthropicEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	return fmt.Errorf("model %s: %w", name, ErrPullUnsupported)
}
