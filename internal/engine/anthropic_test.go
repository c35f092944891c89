package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicEngine_ChatSendsSystemSeparately(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-3-5-haiku-latest",
			"content":     []map[string]any{{"type": "text", "text": "grounded answer"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 3, "output_tokens": 2},
		})
	}))
	defer srv.Close()

	e := NewAnthropicEngine("sk-ant", srv.URL)
	got, err := e.Chat(context.Background(), "claude-3-5-haiku-latest", []Message{
		{Role: RoleSystem, Content: "use the context"},
		{Role: RoleUser, Content: "question"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "grounded answer" {
		t.Errorf("got %q", got)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("sent %d messages, want 1 (system goes out of band)", len(msgs))
	}
	if body["system"] == nil {
		t.Error("system prompt not sent")
	}
}

func TestAnthropicEngine_EmbedUnsupported(t *testing.T) {
	e := NewAnthropicEngine("sk-ant", "")
	if _, err := e.Embed(context.Background(), "any", "text"); !errors.Is(err, ErrEmbeddingUnsupported) {
		t.Errorf("Embed = %v, want ErrEmbeddingUnsupported", err)
	}
}

func TestSplitSystem(t *testing.T) {
	sys, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleSystem, Content: "b"},
	})
	if sys != "a\n\nb" {
		t.Errorf("system = %q", sys)
	}
	if len(rest) != 1 || rest[0].Content != "q" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(ProviderOpenAI, Options{}); err == nil {
		t.Error("openai without key should fail")
	}
	if _, err := New("mlx", Options{}); err == nil {
		t.Error("unknown provider should fail")
	}
	e, err := New(ProviderOllama, Options{OllamaBaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("New(ollama) = %T", e)
	}
}
