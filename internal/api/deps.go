// Package api serves the workbench's HTML pages, its JSON API and its MCP
// tools.
package api

import (
	"context"
	"time"

	"github.com/kalambet/workbench/internal/ingest"
	"github.com/kalambet/workbench/internal/rag"
	"github.com/kalambet/workbench/internal/retrieval"
	"github.com/kalambet/workbench/internal/storage"
	"github.com/kalambet/workbench/internal/sweep"
)

// Ingester adds a source to the knowledge base synchronously.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// Asker answers questions from the knowledge base.
type Asker interface {
	Ask(ctx context.Context, question string, topK int) (rag.Answer, error)
}

// Retriever returns raw context chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// SourceStore lists and deletes sources.
type SourceStore interface {
	ListSources(ctx context.Context, now time.Time) ([]retrieval.Source, error)
	DeleteSource(ctx context.Context, sourceID string) (int, error)
}

// Sweeper removes expired knowledge on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (sweep.Report, error)
}

// JobQueue queues asynchronous ingestion.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
}

// Deps holds everything the HTTP and MCP surfaces call into.
type Deps struct {
	Ingester  Ingester
	Asker     Asker
	Retriever Retriever
	Sources   SourceStore
	Sweeper   Sweeper
	Jobs      JobQueue

	// Token guards /api; empty disables authentication.
	Token string
	// SessionSecret signs flash cookies.
	SessionSecret []byte

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
