// Package ingest loads sources, splits and embeds them, and writes the
// resulting chunk records to the vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/workbench/internal/loader"
	"github.com/kalambet/workbench/internal/retrieval"
	"github.com/kalambet/workbench/internal/splitter"
)

var (
	// ErrDuplicate is returned when a live source with the same origin exists.
	ErrDuplicate = errors.New("source already exists")
	// ErrNoContent is returned when a source yields no text chunks.
	ErrNoContent = errors.New("source has no content")
)

// Store is the subset of retrieval.VectorStore ingestion writes through.
type Store interface {
	SourceExists(ctx context.Context, origin string, now time.Time) (bool, error)
	Insert(ctx context.Context, records []retrieval.Record) error
	DeleteSource(ctx context.Context, sourceID string) (int, error)
}

// cleanupTimeout bounds the removal of a partially inserted source.
const cleanupTimeout = 30 * time.Second

// BatchEmbedder embeds many texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// URLLoader loads documents from a URL.
type URLLoader interface {
	Load(ctx context.Context, rawURL string) ([]loader.Document, error)
}

// Request describes one source to ingest. Uploads set File and Size and use
// the file name as Origin; URL sources leave File nil.
type Request struct {
	Origin    string
	Title     string
	Permanent bool
	File      io.ReaderAt
	Size      int64
}

// Result summarises a successful ingestion.
type Result struct {
	SourceID   string               `json:"source_id"`
	SourceType retrieval.SourceType `json:"source_type"`
	Origin     string               `json:"origin"`
	Title      string               `json:"title"`
	Chunks     int                  `json:"chunks"`
	Permanent  bool                 `json:"permanent"`
	ExpiresAt  *time.Time           `json:"expires_at,omitempty"`
}

// Pipeline runs dedupe, load, split, embed and insert for a single source.
// Nothing is written unless every step before the insert succeeds, and a
// failed insert is rolled back.
type Pipeline struct {
	store     Store
	embedder  BatchEmbedder
	web       URLLoader
	video     URLLoader
	splitter  *splitter.Splitter
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPipeline creates a Pipeline. retention is the lifetime of temporary sources.
func NewPipeline(store Store, embedder BatchEmbedder, web, video URLLoader, sp *splitter.Splitter, retention time.Duration) *Pipeline {
	if sp == nil {
		sp = splitter.New(splitter.DefaultChunkSize, splitter.DefaultChunkOverlap)
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		web:       web,
		video:     video,
		splitter:  sp,
		retention: retention,
		now:       time.Now,
		logger:    slog.Default(),
		inflight:  make(map[string]struct{}),
	}
}

// WithClock replaces the pipeline's time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Ingest adds one source to the knowledge base.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	if req.Origin == "" {
		return Result{}, fmt.Errorf("empty origin: %w", loader.ErrUnsupported)
	}
	log := p.logger.With("origin", req.Origin)

	if !p.claim(req.Origin) {
		log.Warn("source is already being ingested")
		return Result{}, ErrDuplicate
	}
	defer p.release(req.Origin)

	exists, err := p.store.SourceExists(ctx, req.Origin, p.now())
	if err != nil {
		return Result{}, fmt.Errorf("checking for duplicate: %w", err)
	}
	if exists {
		log.Warn("source already exists")
		return Result{}, ErrDuplicate
	}

	sourceType, docs, err := p.load(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("loading %s: %w", req.Origin, err)
	}

	var texts []string
	for _, d := range docs {
		texts = append(texts, p.splitter.Split(d.Text)...)
	}
	if len(texts) == 0 {
		return Result{}, ErrNoContent
	}
	log.Info("split source", "documents", len(docs), "chunks", len(texts))

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("embedding chunks: %w", err)
	}

	title := req.Title
	if title == "" {
		title = docs[0].Title
	}
	lang := docs[0].Language
	if lang == "" {
		lang = "en"
	}

	life := retrieval.NewLifecycle(req.Permanent, p.now(), p.retention)
	sourceID := uuid.New().String()
	records := make([]retrieval.Record, len(texts))
	for i, text := range texts {
		records[i] = retrieval.Record{
			ID:         uuid.New().String(),
			SourceID:   sourceID,
			SourceType: sourceType,
			Origin:     req.Origin,
			Title:      title,
			Language:   lang,
			ChunkIndex: i,
			TextChunk:  text,
			Embedding:  vecs[i],
		}
		life.Apply(&records[i])
	}

	if err := p.store.Insert(ctx, records); err != nil {
		p.discard(sourceID, log)
		return Result{}, fmt.Errorf("storing chunks: %w", err)
	}
	log.Info("source ingested", "source_id", sourceID, "chunks", len(records), "permanent", req.Permanent)

	return Result{
		SourceID:   sourceID,
		SourceType: sourceType,
		Origin:     req.Origin,
		Title:      title,
		Chunks:     len(records),
		Permanent:  life.Permanent,
		ExpiresAt:  life.ExpiresAt,
	}, nil
}

// claim marks origin as in flight. It reports false when another ingest of
// the same origin is already running in this process.
func (p *Pipeline) claim(origin string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[origin]; busy {
		return false
	}
	p.inflight[origin] = struct{}{}
	return true
}

func (p *Pipeline) release(origin string) {
	p.mu.Lock()
	delete(p.inflight, origin)
	p.mu.Unlock()
}

// discard removes whatever part of a failed insert reached the store. It runs
// on its own context so a cancelled request still cleans up.
func (p *Pipeline) discard(sourceID string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	n, err := p.store.DeleteSource(ctx, sourceID)
	if err != nil {
		log.Error("removing partially stored source", "source_id", sourceID, "error", err)
		return
	}
	if n > 0 {
		log.Warn("removed partially stored source", "source_id", sourceID, "chunks", n)
	}
}

func (p *Pipeline) load(ctx context.Context, req Request) (retrieval.SourceType, []loader.Document, error) {
	if req.File != nil {
		docs, err := loader.LoadPDF(req.Origin, req.File, req.Size)
		return retrieval.SourceUpload, docs, err
	}

	sourceType, err := loader.Classify(req.Origin)
	if err != nil {
		return "", nil, err
	}
	var l URLLoader
	switch sourceType {
	case retrieval.SourceVideo:
		l = p.video
	default:
		l = p.web
	}
	if l == nil {
		return "", nil, fmt.Errorf("no %s loader configured: %w", sourceType, loader.ErrUnsupported)
	}
	docs, err := l.Load(ctx, req.Origin)
	return sourceType, docs, err
}
