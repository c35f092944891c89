package engine

import (
	"context"
	"errors"
)

// ErrEmbeddingUnsupported is returned by engines without an embeddings API.
var ErrEmbeddingUnsupported = errors.New("engine does not support embeddings")

// ErrPullUnsupported is returned by hosted engines whose models cannot be downloaded.
var ErrPullUnsupported = errors.New("engine does not support pulling models")

// Engine abstracts an inference provider (OpenAI, Ollama, Anthropic).
// Answer generation, translation and embedding depend on this interface
// instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the provider is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all models the provider offers.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
