package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaEngine adapts the official Ollama API client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) (*OllamaEngine, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", baseURL, err)
	}
	httpClient := &http.Client{Timeout: 120 * time.Second}
	return &OllamaEngine{client: ollama.NewClient(u, httpClient)}, nil
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	stream := false
	req := &ollama.ChatRequest{
		Model:    model,
		Messages: make([]ollama.Message, len(messages)),
		Stream:   &stream,
	}
	for i, m := range messages {
		req.Messages[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	if jsonSchema != nil {
		format, err := json.Marshal(jsonSchema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		req.Format = format
	}

	var out strings.Builder
	err := e.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return out.String(), nil
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &ollama.EmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("ollama embed: empty embedding in response")
	}
	return resp.Embeddings[0], nil
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.Heartbeat(ctx) == nil
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	list, err := e.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel matches both exact names and the implicit ":latest" tag.
func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	names, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name || n == name+":latest" {
			return true
		}
	}
	return false
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	err := e.client.Pull(ctx, &ollama.PullRequest{Model: name}, func(p ollama.ProgressResponse) error {
		if onProgress != nil {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ollama pull %s: %w", name, err)
	}
	return nil
}
