package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/workbench/internal/loader"
	"github.com/kalambet/workbench/internal/retrieval"
	"github.com/kalambet/workbench/internal/splitter"
	"github.com/kalambet/workbench/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockEmbedder struct {
	mu      sync.Mutex
	calls   int
	embedFn func(texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.embedFn != nil {
		return m.embedFn(texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i) + 1, 0.5}
	}
	return out, nil
}

type mockLoader struct {
	docs  []loader.Document
	err   error
	calls []string
}

func (m *mockLoader) Load(_ context.Context, rawURL string) ([]loader.Document, error) {
	m.calls = append(m.calls, rawURL)
	return m.docs, m.err
}

func openVectorStore(t *testing.T) (*storage.Store, *retrieval.SQLiteStore) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, retrieval.NewSQLiteStore(s.DB())
}

func newTestPipeline(vs Store, emb BatchEmbedder, web, video URLLoader) *Pipeline {
	return NewPipeline(vs, emb, web, video, splitter.New(50, 10), time.Hour).
		WithClock(func() time.Time { return t0 })
}

func webDoc(text string) []loader.Document {
	return []loader.Document{{Text: text, Title: "Page Title", Language: "en"}}
}

func TestIngest_TemporaryWebSource(t *testing.T) {
	_, vs := openVectorStore(t)
	web := &mockLoader{docs: webDoc(strings.Repeat("some words here ", 20))}
	p := newTestPipeline(vs, &mockEmbedder{}, web, nil)

	res, err := p.Ingest(context.Background(), Request{Origin: "https://example.com/a"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.SourceType != retrieval.SourceWeb || res.Title != "Page Title" || res.Permanent {
		t.Errorf("result = %+v", res)
	}
	if res.Chunks < 2 {
		t.Errorf("Chunks = %d, want several", res.Chunks)
	}
	if res.ExpiresAt == nil || !res.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want T0+1h", res.ExpiresAt)
	}

	sources, err := vs.ListSources(context.Background(), t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || sources[0].SourceID != res.SourceID || sources[0].Chunks != res.Chunks {
		t.Errorf("sources = %+v", sources)
	}
	if !sources[0].CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v", sources[0].CreatedAt)
	}
}

func TestIngest_PermanentHasNoExpiry(t *testing.T) {
	_, vs := openVectorStore(t)
	p := newTestPipeline(vs, &mockEmbedder{}, &mockLoader{docs: webDoc("short text")}, nil)

	res, err := p.Ingest(context.Background(), Request{Origin: "https://example.com/p", Permanent: true, Title: "Mine"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Permanent || res.ExpiresAt != nil || res.Title != "Mine" {
		t.Errorf("result = %+v", res)
	}
	exp, _ := vs.ExpiredSources(context.Background(), t0.AddDate(1, 0, 0))
	if len(exp) != 0 {
		t.Errorf("permanent source reported expired: %+v", exp)
	}
}

func TestIngest_Duplicate(t *testing.T) {
	_, vs := openVectorStore(t)
	web := &mockLoader{docs: webDoc("hello world")}
	emb := &mockEmbedder{}
	p := newTestPipeline(vs, emb, web, nil)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, Request{Origin: "https://example.com/d"}); err != nil {
		t.Fatal(err)
	}
	_, err := p.Ingest(ctx, Request{Origin: "https://example.com/d"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if len(web.calls) != 1 || emb.calls != 1 {
		t.Errorf("duplicate should not load or embed: loads=%d embeds=%d", len(web.calls), emb.calls)
	}
	if n, _ := vs.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestIngest_ExpiredSourceCanBeReingested(t *testing.T) {
	_, vs := openVectorStore(t)
	now := t0
	p := NewPipeline(vs, &mockEmbedder{}, &mockLoader{docs: webDoc("hello")}, nil, splitter.New(50, 10), time.Hour).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	if _, err := p.Ingest(ctx, Request{Origin: "https://example.com/e"}); err != nil {
		t.Fatal(err)
	}
	now = t0.Add(2 * time.Hour)
	if _, err := p.Ingest(ctx, Request{Origin: "https://example.com/e"}); err != nil {
		t.Errorf("re-ingest after expiry: %v", err)
	}
}

func TestIngest_LoaderFailureWritesNothing(t *testing.T) {
	_, vs := openVectorStore(t)
	p := newTestPipeline(vs, &mockEmbedder{}, &mockLoader{err: errors.New("fetch failed")}, nil)

	if _, err := p.Ingest(context.Background(), Request{Origin: "https://example.com/x"}); err == nil {
		t.Fatal("expected error")
	}
	if n, _ := vs.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestIngest_EmbeddingFailureWritesNothing(t *testing.T) {
	_, vs := openVectorStore(t)
	emb := &mockEmbedder{embedFn: func([]string) ([][]float32, error) { return nil, errors.New("quota") }}
	p := newTestPipeline(vs, emb, &mockLoader{docs: webDoc("hello")}, nil)

	if _, err := p.Ingest(context.Background(), Request{Origin: "https://example.com/x"}); err == nil {
		t.Fatal("expected error")
	}
	if n, _ := vs.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestIngest_NoContent(t *testing.T) {
	_, vs := openVectorStore(t)
	p := newTestPipeline(vs, &mockEmbedder{}, &mockLoader{docs: webDoc("   \n\n  ")}, nil)

	_, err := p.Ingest(context.Background(), Request{Origin: "https://example.com/blank"})
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}
}

func TestIngest_RoutesVideoToVideoLoader(t *testing.T) {
	_, vs := openVectorStore(t)
	web := &mockLoader{docs: webDoc("web")}
	video := &mockLoader{docs: []loader.Document{{Text: "transcript", Title: "Talk", Language: "a.es"}}}
	p := newTestPipeline(vs, &mockEmbedder{}, web, video)

	res, err := p.Ingest(context.Background(), Request{Origin: "https://youtu.be/abc"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.SourceType != retrieval.SourceVideo || len(video.calls) != 1 || len(web.calls) != 0 {
		t.Errorf("result=%+v video=%v web=%v", res, video.calls, web.calls)
	}
	sources, _ := vs.ListSources(context.Background(), t0)
	if len(sources) != 1 || sources[0].Language != "a.es" {
		t.Errorf("sources = %+v", sources)
	}
}

func TestIngest_RejectsInsecureURL(t *testing.T) {
	_, vs := openVectorStore(t)
	p := newTestPipeline(vs, &mockEmbedder{}, &mockLoader{docs: webDoc("x")}, nil)

	_, err := p.Ingest(context.Background(), Request{Origin: "http://example.com"})
	if !errors.Is(err, loader.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestIngest_UploadRejectsNonPDF(t *testing.T) {
	_, vs := openVectorStore(t)
	p := newTestPipeline(vs, &mockEmbedder{}, nil, nil)

	data := []byte("plain text")
	_, err := p.Ingest(context.Background(), Request{Origin: "notes.txt", File: bytes.NewReader(data), Size: int64(len(data))})
	if !errors.Is(err, loader.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

// partialStore writes the first half of a batch, then fails the insert.
type partialStore struct {
	*retrieval.SQLiteStore
	failures int
	onFail   func()
}

func (s *partialStore) Insert(ctx context.Context, records []retrieval.Record) error {
	if s.failures == 0 {
		return s.SQLiteStore.Insert(ctx, records)
	}
	s.failures--
	if err := s.SQLiteStore.Insert(ctx, records[:len(records)/2]); err != nil {
		return err
	}
	if s.onFail != nil {
		s.onFail()
	}
	return errors.New("connection reset mid-batch")
}

func TestIngest_FailedInsertRemovesPartialSource(t *testing.T) {
	_, vs := openVectorStore(t)
	store := &partialStore{SQLiteStore: vs, failures: 1}
	web := &mockLoader{docs: webDoc(strings.Repeat("some words here ", 20))}
	p := newTestPipeline(store, &mockEmbedder{}, web, nil)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, Request{Origin: "https://example.com/partial", Permanent: true}); err == nil {
		t.Fatal("expected insert error")
	}
	if n, _ := vs.Count(ctx); n != 0 {
		t.Fatalf("Count after failed insert = %d, want 0", n)
	}

	res, err := p.Ingest(ctx, Request{Origin: "https://example.com/partial", Permanent: true})
	if err != nil {
		t.Fatalf("retry after failed insert: %v", err)
	}
	if n, _ := vs.Count(ctx); n != res.Chunks {
		t.Errorf("Count = %d, want %d", n, res.Chunks)
	}
}

func TestIngest_FailedInsertCleansUpAfterCancel(t *testing.T) {
	_, vs := openVectorStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &partialStore{SQLiteStore: vs, failures: 1, onFail: cancel}
	web := &mockLoader{docs: webDoc(strings.Repeat("some words here ", 20))}
	p := newTestPipeline(store, &mockEmbedder{}, web, nil)

	if _, err := p.Ingest(ctx, Request{Origin: "https://example.com/cancelled"}); err == nil {
		t.Fatal("expected insert error")
	}
	if n, _ := vs.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

type blockingLoader struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingLoader) Load(ctx context.Context, _ string) ([]loader.Document, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return webDoc("hello world"), nil
}

func TestIngest_ConcurrentSameOriginIsDuplicate(t *testing.T) {
	_, vs := openVectorStore(t)
	web := &blockingLoader{started: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(vs, &mockEmbedder{}, web, nil)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := p.Ingest(ctx, Request{Origin: "https://example.com/race"})
		errc <- err
	}()
	<-web.started

	if _, err := p.Ingest(ctx, Request{Origin: "https://example.com/race"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("concurrent ingest err = %v, want ErrDuplicate", err)
	}

	close(web.release)
	if err := <-errc; err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	sources, _ := vs.ListSources(ctx, t0)
	if len(sources) != 1 {
		t.Errorf("got %d sources, want 1", len(sources))
	}
}
