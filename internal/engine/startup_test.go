package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/kalambet/workbench/internal/tracing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
	pullErr   error
	chatFn    func(messages []Message) (string, error)
}

func (m *mockEngine) Chat(_ context.Context, _ string, messages []Message, _ *Schema) (string, error) {
	if m.chatFn != nil {
		return m.chatFn(messages)
	}
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	if m.pullErr != nil {
		return m.pullErr
	}
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"llama3.2": true, "all-minilm": true}}
	if err := EnsureReady(context.Background(), m, []string{"llama3.2", "all-minilm"}, io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissingOnce(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"llama3.2": true}}
	if err := EnsureReady(context.Background(), m, []string{"llama3.2", "all-minilm", "all-minilm", ""}, io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "all-minilm" {
		t.Errorf("expected one pull of all-minilm, got %v", m.pulled)
	}
}

func TestEnsureReady_HostedModelsSkipPull(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}, pullErr: fmt.Errorf("x: %w", ErrPullUnsupported)}
	var out strings.Builder
	if err := EnsureReady(context.Background(), m, []string{"gpt-4o-mini"}, &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !strings.Contains(out.String(), "assuming hosted") {
		t.Errorf("output = %q", out.String())
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, []string{"llama3.2"}, io.Discard); err == nil {
		t.Fatal("expected error when engine is down")
	}
}

type captureRecorder struct {
	runs []tracing.Run
}

func (c *captureRecorder) Record(run tracing.Run) { c.runs = append(c.runs, run) }

func TestTraced_RecordsChatAndEmbed(t *testing.T) {
	rec := &captureRecorder{}
	inner := &mockEngine{chatFn: func([]Message) (string, error) { return "", fmt.Errorf("boom") }}
	e := Traced(inner, "openai", rec)

	if _, err := e.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "q"}}, nil); err == nil {
		t.Fatal("expected chat error to pass through")
	}
	if _, err := e.Embed(context.Background(), "m", "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(rec.runs) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(rec.runs))
	}
	if rec.runs[0].Name != "openai.chat" || rec.runs[0].Error != "boom" {
		t.Errorf("chat run = %+v", rec.runs[0])
	}
	if rec.runs[1].RunType != "embedding" || rec.runs[1].Outputs["dimensions"] != 2 {
		t.Errorf("embed run = %+v", rec.runs[1])
	}
}
