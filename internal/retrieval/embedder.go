package retrieval

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kalambet/workbench/internal/engine"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	queryCacheSize = 512
	queryCacheTTL  = 10 * time.Minute
)

// EmbedderOptions tunes an Embedder. Zero values disable the respective feature.
type EmbedderOptions struct {
	// Dimensions is the expected vector length; mismatches are errors.
	Dimensions int
	// RateLimit caps embedding requests per second.
	RateLimit float64
}

// Embedder wraps an Engine to generate text embeddings. Requests are paced by
// a token bucket, and single-text embeddings (queries) are cached.
type Embedder struct {
	engine     engine.Engine
	model      string
	dimensions int
	limiter    *rate.Limiter
	cache      *expirable.LRU[[sha256.Size]byte, []float32]
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string, opts EmbedderOptions) *Embedder {
	emb := &Embedder{
		engine:     e,
		model:      model,
		dimensions: opts.Dimensions,
		cache:      expirable.NewLRU[[sha256.Size]byte, []float32](queryCacheSize, nil, queryCacheTTL),
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		emb.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return emb
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, err
	}
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("model %s returned %d dimensions, want %d", e.model, len(vec), e.dimensions)
	}
	return vec, nil
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	e.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input. Any failure fails the batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
