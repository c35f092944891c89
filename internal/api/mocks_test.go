package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/workbench/internal/ingest"
	"github.com/kalambet/workbench/internal/rag"
	"github.com/kalambet/workbench/internal/retrieval"
	"github.com/kalambet/workbench/internal/storage"
	"github.com/kalambet/workbench/internal/sweep"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockIngester struct {
	mu   sync.Mutex
	reqs []ingest.Request
	res  ingest.Result
	err  error
}

func (m *mockIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return ingest.Result{}, m.err
	}
	res := m.res
	if res.Origin == "" {
		res.Origin = req.Origin
	}
	return res, nil
}

type mockAsker struct {
	answer   rag.Answer
	err      error
	lastTopK int
}

func (m *mockAsker) Ask(_ context.Context, question string, topK int) (rag.Answer, error) {
	m.lastTopK = topK
	if m.err != nil {
		return rag.Answer{}, m.err
	}
	a := m.answer
	a.Question = question
	if a.Sources == nil {
		a.Sources = []retrieval.ContextChunk{}
	}
	return a, nil
}

type mockRetriever struct {
	mu        sync.Mutex
	chunks    []retrieval.ContextChunk
	err       error
	lastLimit int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, topK int) ([]retrieval.ContextChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = topK
	return m.chunks, m.err
}

type mockSources struct {
	mu      sync.Mutex
	sources []retrieval.Source
	err     error
	deleted []string
}

func (m *mockSources) ListSources(_ context.Context, _ time.Time) ([]retrieval.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources, m.err
}

func (m *mockSources) DeleteSource(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sources {
		if s.SourceID == id {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			m.deleted = append(m.deleted, id)
			return s.Chunks, nil
		}
	}
	return 0, nil
}

type mockSweeper struct {
	report sweep.Report
	err    error
	calls  int
}

func (m *mockSweeper) RunOnce(_ context.Context) (sweep.Report, error) {
	m.calls++
	return m.report, m.err
}

type testEnv struct {
	deps      Deps
	ingester  *mockIngester
	asker     *mockAsker
	retriever *mockRetriever
	sources   *mockSources
	sweeper   *mockSweeper
	store     *storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		ingester:  &mockIngester{},
		asker:     &mockAsker{answer: rag.Answer{Text: "42", Model: "test-model"}},
		retriever: &mockRetriever{},
		sources:   &mockSources{},
		sweeper:   &mockSweeper{},
		store:     store,
	}
	env.deps = Deps{
		Ingester:      env.ingester,
		Asker:         env.asker,
		Retriever:     env.retriever,
		Sources:       env.sources,
		Sweeper:       env.sweeper,
		Jobs:          store,
		SessionSecret: []byte("test-secret"),
		Now:           func() time.Time { return testNow },
	}
	return env
}

func testSource(id string, permanent bool) retrieval.Source {
	s := retrieval.Source{
		SourceID:   id,
		SourceType: retrieval.SourceWeb,
		Origin:     "https://example.com/" + id,
		Title:      "Page " + id,
		Language:   "en",
		Permanent:  permanent,
		CreatedAt:  testNow.Add(-10 * time.Minute),
		Chunks:     3,
	}
	if !permanent {
		exp := s.CreatedAt.Add(time.Hour)
		s.ExpiresAt = &exp
	}
	return s
}
