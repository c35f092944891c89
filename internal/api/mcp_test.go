package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/workbench/internal/ingest"
	"github.com/kalambet/workbench/internal/retrieval"
	"github.com/kalambet/workbench/internal/storage"
	"github.com/kalambet/workbench/internal/sweep"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPServer_Builds(t *testing.T) {
	env := newTestEnv(t)
	if s := NewMCPServer(env.deps, "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Ask(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpAsk(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "what is in the report?",
		"top_k":    3,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if env.asker.lastTopK != 3 {
		t.Errorf("top_k = %d, want 3", env.asker.lastTopK)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["answer"] != "42" {
		t.Errorf("answer = %v", resp["answer"])
	}
}

func TestMCPTool_Ask_Errors(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpAsk(env.deps)

	result, _ := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if !result.IsError {
		t.Fatal("expected error for missing question")
	}

	env.asker.err = errors.New("llm down")
	result, _ = handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{"question": "hi"}))
	if !result.IsError {
		t.Fatal("expected error when the engine fails")
	}
}

func TestMCPTool_Recall_ReturnsChunks(t *testing.T) {
	env := newTestEnv(t)
	env.retriever.chunks = []retrieval.ContextChunk{
		{ID: "c1", SourceID: "s1", SourceType: retrieval.SourceWeb, Text: "Go is great", Score: 0.95},
		{ID: "c2", SourceID: "s2", SourceType: retrieval.SourceVideo, Text: "Channels are typed", Score: 0.8},
	}
	handler := mcpRecall(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
		"query": "go",
		"limit": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var chunks []json.RawMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &chunks); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
}

func TestMCPTool_Recall_EmptyAndError(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpRecall(env.deps)

	result, _ := handler(context.Background(), makeCallToolRequest("recall", map[string]interface{}{"query": "x"}))
	if result.IsError || toolText(t, result) != "[]" {
		t.Fatalf("expected empty array, got %q", toolText(t, result))
	}
	if env.retriever.lastLimit != 5 {
		t.Errorf("default limit = %d", env.retriever.lastLimit)
	}

	env.retriever.err = errors.New("embed failed")
	result, _ = handler(context.Background(), makeCallToolRequest("recall", map[string]interface{}{"query": "x"}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_IngestURL_QueuesJob(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpIngestURL(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("ingest_url", map[string]interface{}{
		"url":       "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"permanent": true,
		"title":     "Talk",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	job, err := env.store.ClaimNextJob([]string{storage.JobTypeIngestSource})
	if err != nil || job == nil {
		t.Fatalf("expected a queued job, got %v %v", job, err)
	}
	if !strings.Contains(toolText(t, result), job.ID) {
		t.Errorf("response should name the job id")
	}

	var p ingest.Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		t.Fatal(err)
	}
	if !p.Permanent || p.Title != "Talk" {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestMCPTool_IngestURL_RejectsUnsupported(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpIngestURL(env.deps)

	result, _ := handler(context.Background(), makeCallToolRequest("ingest_url", map[string]interface{}{
		"url": "http://insecure.example.com",
	}))
	if !result.IsError {
		t.Fatal("expected error for non-https url")
	}

	job, err := env.store.ClaimNextJob([]string{storage.JobTypeIngestSource})
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatal("no job should be queued")
	}
}

func TestMCPTool_Sweep(t *testing.T) {
	env := newTestEnv(t)
	env.sweeper.report = sweep.Report{Expired: 3, Deleted: 9, Failed: 1}
	handler := mcpSweep(env.deps)

	result, _ := handler(context.Background(), makeCallToolRequest("sweep", nil))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := toolText(t, result); !strings.Contains(got, "Removed 2 expired sources (9 chunks), 1 failures") {
		t.Errorf("unexpected text: %q", got)
	}

	env.sweeper.err = errors.New("store offline")
	result, _ = handler(context.Background(), makeCallToolRequest("sweep", nil))
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPResource_Sources(t *testing.T) {
	env := newTestEnv(t)
	env.sources.sources = []retrieval.Source{testSource("a", true), testSource("b", false)}
	handler := mcpResourceSources(env.deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("kb://sources"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var list []SourceResponse
	if err := json.Unmarshal([]byte(tc.Text), &list); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(list) != 2 || list[0].SourceID != "a" {
		t.Errorf("unexpected sources: %+v", list)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	env := newTestEnv(t)
	env.retriever.chunks = []retrieval.ContextChunk{{ID: "c1", Text: "x"}}
	recall := mcpRecall(env.deps)
	ingestURL := mcpIngestURL(env.deps)

	var wg sync.WaitGroup
	errs := make(chan string, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r, _ := recall(context.Background(), makeCallToolRequest("recall", map[string]interface{}{"query": "q"}))
			if r.IsError {
				errs <- "recall failed"
			}
		}()
		go func() {
			defer wg.Done()
			r, _ := ingestURL(context.Background(), makeCallToolRequest("ingest_url", map[string]interface{}{"url": "https://example.com/page"}))
			if r.IsError {
				errs <- "ingest_url failed"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}
