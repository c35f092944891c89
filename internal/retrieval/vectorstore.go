package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for chunk storage and similarity search backends.
// Two implementations exist: MongoStore (Atlas Vector Search) and SQLiteStore
// (brute-force cosine over a local table).
//
// Every read takes the caller's notion of "now" so expired temporary records
// are invisible even before the sweeper removes them.
type VectorStore interface {
	// Insert adds records. Records are never updated after insertion.
	Insert(ctx context.Context, records []Record) error

	// Search returns the top-K live records most similar to vector.
	Search(ctx context.Context, vector []float32, topK int, now time.Time) ([]ScoredRecord, error)

	// SourceExists reports whether a live record with the given origin exists.
	SourceExists(ctx context.Context, origin string, now time.Time) (bool, error)

	// ListSources summarises live sources, newest first.
	ListSources(ctx context.Context, now time.Time) ([]Source, error)

	// ExpiredSources summarises temporary sources whose expiry is at or before now.
	ExpiredSources(ctx context.Context, now time.Time) ([]Source, error)

	// DeleteSource removes every record of a source and returns how many were
	// deleted. Deleting an unknown source is not an error.
	DeleteSource(ctx context.Context, sourceID string) (int, error)

	// Count returns the number of stored records, live or not.
	Count(ctx context.Context) (int, error)

	Close() error
}
