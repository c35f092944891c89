package retrieval

import (
	"context"
	"time"
)

// ContextChunk is a retrieved context fragment with its similarity score.
type ContextChunk struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	Origin     string     `json:"origin"`
	Title      string     `json:"title"`
	Text       string     `json:"text"`
	Score      float32    `json:"score"`
	Permanent  bool       `json:"permanent"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Retriever combines embedding and vector search to find relevant context.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	now      func() time.Time
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store, now: time.Now}
}

// WithClock replaces the retriever's time source.
func (r *Retriever) WithClock(now func() time.Time) *Retriever {
	r.now = now
	return r
}

// Retrieve embeds the query and returns the top-K most similar live chunks.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ContextChunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, vec, topK, r.now())
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:         s.ID,
			SourceID:   s.SourceID,
			SourceType: s.SourceType,
			Origin:     s.Origin,
			Title:      s.Title,
			Text:       s.TextChunk,
			Score:      s.Score,
			Permanent:  s.Permanent,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
		}
	}
	return chunks
}
