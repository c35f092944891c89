package rag

import (
	"strings"
	"testing"

	"github.com/kalambet/workbench/internal/engine"
	"github.com/kalambet/workbench/internal/retrieval"
)

func chunk(id, text string, score float32) retrieval.ContextChunk {
	return retrieval.ContextChunk{
		ID:         id,
		SourceID:   "src-" + id,
		SourceType: retrieval.SourceWeb,
		Origin:     "https://example.com/" + id,
		Title:      "Title " + id,
		Text:       text,
		Score:      score,
	}
}

func TestCompose_EmptyContext(t *testing.T) {
	msgs, used := NewComposer(4000).Compose("what is go?", nil)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != engine.RoleSystem || !strings.Contains(msgs[0].Content, "nothing relevant") {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != engine.RoleUser || msgs[1].Content != "what is go?" {
		t.Errorf("user message = %+v", msgs[1])
	}
	if used != nil {
		t.Errorf("used = %v, want nil", used)
	}
}

func TestCompose_OrdersByScore(t *testing.T) {
	chunks := []retrieval.ContextChunk{
		chunk("low", "low text", 0.2),
		chunk("high", "high text", 0.9),
		chunk("mid", "mid text", 0.5),
	}
	msgs, used := NewComposer(4000).Compose("q", chunks)
	sys := msgs[0].Content

	hi := strings.Index(sys, "high text")
	mid := strings.Index(sys, "mid text")
	lo := strings.Index(sys, "low text")
	if hi < 0 || mid < 0 || lo < 0 {
		t.Fatalf("missing chunks in prompt:\n%s", sys)
	}
	if !(hi < mid && mid < lo) {
		t.Errorf("chunks not ordered by score:\n%s", sys)
	}
	if len(used) != 3 || used[0].ID != "high" {
		t.Errorf("used = %+v", used)
	}
	if !strings.Contains(sys, "Title high <https://example.com/high>") {
		t.Errorf("chunk label missing:\n%s", sys)
	}
}

func TestCompose_TokenBudget(t *testing.T) {
	big := strings.Repeat("a", 1600) // ~400 tokens
	chunks := []retrieval.ContextChunk{
		chunk("1", big, 0.9),
		chunk("2", big, 0.8),
		chunk("3", "small one", 0.1),
	}
	budget := EstimateTokens(baseInstructions) + 10 + 450
	msgs, used := NewComposer(budget).Compose("q", chunks)

	if len(used) != 2 || used[0].ID != "1" || used[1].ID != "3" {
		t.Errorf("used = %v, want [1 3]", ids(used))
	}
	if strings.Count(msgs[0].Content, big) != 1 {
		t.Error("expected exactly one big chunk in prompt")
	}
}

func TestCompose_NothingFits(t *testing.T) {
	chunks := []retrieval.ContextChunk{chunk("1", strings.Repeat("x", 10000), 0.9)}
	msgs, used := NewComposer(100).Compose("q", chunks)
	if used != nil || !strings.Contains(msgs[0].Content, "nothing relevant") {
		t.Errorf("used=%v system=%q", used, msgs[0].Content)
	}
}

func TestNewComposer_Default(t *testing.T) {
	if c := NewComposer(0); c.MaxContextTokens != 4000 {
		t.Errorf("MaxContextTokens = %d, want 4000", c.MaxContextTokens)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range tests {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

func ids(chunks []retrieval.ContextChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}
