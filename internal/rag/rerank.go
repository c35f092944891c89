package rag

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/workbench/internal/engine"
	"github.com/kalambet/workbench/internal/retrieval"
)

const (
	rerankConcurrency = 3
	// rerankOverfetch widens retrieval when a reranker will trim the result.
	rerankOverfetch = 2
)

// Reranker re-scores retrieved chunks by relevance to the question.
type Reranker interface {
	Rerank(ctx context.Context, question string, chunks []retrieval.ContextChunk) ([]retrieval.ContextChunk, error)
}

// LLMReranker asks the chat model for a 0..1 relevance score per chunk.
// Chunks scoring below the threshold are dropped. If scoring does not finish
// within the timeout, the chunks are returned in their original order.
type LLMReranker struct {
	chat      Chatter
	model     string
	timeout   time.Duration
	threshold float64
}

// NewLLMReranker creates a reranker. timeout <= 0 means 5s.
func NewLLMReranker(chat Chatter, model string, timeout time.Duration, threshold float64) *LLMReranker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LLMReranker{chat: chat, model: model, timeout: timeout, threshold: threshold}
}

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score": {Type: "number", Description: "Relevance from 0.0 to 1.0"},
	},
	Required: []string{"score"},
}

func (r *LLMReranker) Rerank(ctx context.Context, question string, chunks []retrieval.ContextChunk) ([]retrieval.ContextChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scored := make([]retrieval.ContextChunk, len(chunks))
	copy(scored, chunks)

	g, gctx := errgroup.WithContext(tctx)
	g.SetLimit(rerankConcurrency)
	for i := range scored {
		g.Go(func() error {
			score, err := r.score(gctx, question, scored[i].Text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Keep the vector score for this chunk.
				slog.Debug("rerank scoring failed", "chunk_id", scored[i].ID, "error", err)
				return nil
			}
			scored[i].Score = float32(score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("rerank timed out, keeping retrieval order", "timeout", r.timeout)
		return chunks, nil
	}

	kept := scored[:0]
	for _, c := range scored {
		if float64(c.Score) >= r.threshold {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept, nil
}

func (r *LLMReranker) score(ctx context.Context, question, text string) (float64, error) {
	prompt := "Rate how relevant the text is to the question on a scale from 0.0 to 1.0.\n" +
		"Question: " + question + "\n" +
		"Text: " + text + "\n" +
		`Respond with only a JSON object: {"score": <number>}`

	resp, err := r.chat.Chat(ctx, r.model, []engine.Message{{Role: "user", Content: prompt}}, scoreSchema)
	if err != nil {
		return 0, err
	}
	return parseScore(resp)
}

// parseScore pulls the score out of a reply that may wrap the JSON object in
// a code fence or surrounding prose.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, errors.New("no JSON object in reply")
	}
	obj := s[start : end+1]
	if !gjson.Valid(obj) {
		return 0, errors.New("malformed JSON in reply")
	}
	v := gjson.Get(obj, "score")
	if v.Type != gjson.Number {
		return 0, errors.New("reply has no numeric score")
	}
	score := v.Float()
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
