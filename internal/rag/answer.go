package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/workbench/internal/engine"
	"github.com/kalambet/workbench/internal/retrieval"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 5

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// Retriever finds context chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// Chatter is the subset of engine.Engine used for answers.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Answer is a generated reply with the sources it was grounded on.
type Answer struct {
	Question string                   `json:"question"`
	Text     string                   `json:"answer"`
	Sources  []retrieval.ContextChunk `json:"sources"`
	Model    string                   `json:"model"`
	Duration time.Duration            `json:"duration_ns"`
}

// Answerer runs retrieve, compose and chat for a question.
type Answerer struct {
	retriever Retriever
	composer  *Composer
	chat      Chatter
	model     string
	topK      int
	reranker  Reranker
}

// NewAnswerer creates an Answerer. topK <= 0 uses DefaultTopK.
func NewAnswerer(retriever Retriever, composer *Composer, chat Chatter, model string, topK int) *Answerer {
	if composer == nil {
		composer = NewComposer(0)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Answerer{retriever: retriever, composer: composer, chat: chat, model: model, topK: topK}
}

// WithReranker re-scores retrieved chunks before they are composed. The
// retriever is asked for extra candidates so the reranker has room to drop
// some.
func (a *Answerer) WithReranker(r Reranker) *Answerer {
	a.reranker = r
	return a
}

// Ask answers question from the live knowledge base. topK <= 0 uses the
// answerer's default. Provider failures are returned as errors, never as an
// empty answer.
func (a *Answerer) Ask(ctx context.Context, question string, topK int) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if topK <= 0 {
		topK = a.topK
	}
	start := time.Now()

	fetch := topK
	if a.reranker != nil {
		fetch = topK * rerankOverfetch
	}
	chunks, err := a.retriever.Retrieve(ctx, question, fetch)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}
	if a.reranker != nil {
		chunks, err = a.reranker.Rerank(ctx, question, chunks)
		if err != nil {
			return Answer{}, fmt.Errorf("reranking context: %w", err)
		}
		if len(chunks) > topK {
			chunks = chunks[:topK]
		}
	}

	messages, used := a.composer.Compose(question, chunks)
	text, err := a.chat.Chat(ctx, a.model, messages, nil)
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Answer{}, fmt.Errorf("generating answer: model %s returned an empty reply", a.model)
	}

	if used == nil {
		used = []retrieval.ContextChunk{}
	}
	ans := Answer{
		Question: question,
		Text:     text,
		Sources:  used,
		Model:    a.model,
		Duration: time.Since(start),
	}
	slog.Info("question answered", "model", a.model, "sources", len(used), "duration", ans.Duration)
	return ans, nil
}
