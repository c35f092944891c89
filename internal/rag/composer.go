// Package rag answers questions from the knowledge base: it composes a
// grounded prompt from retrieved chunks and asks the chat model.
package rag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/workbench/internal/engine"
	"github.com/kalambet/workbench/internal/retrieval"
)

const defaultMaxContextTokens = 4000

const baseInstructions = `You are the assistant of an AI document workbench. Answer the user's question using only the knowledge base excerpts below.
Cite the source title or link of every excerpt you rely on. If the excerpts do not contain the answer, say so plainly instead of guessing.`

const emptyKnowledgeInstructions = `You are the assistant of an AI document workbench. The knowledge base returned nothing relevant to the user's question.
Tell the user that the knowledge base has no information on this topic and suggest adding a document, web page or video about it.`

// Composer assembles the chat messages for a question from retrieved context
// chunks, keeping the injected context inside a token budget.
type Composer struct {
	MaxContextTokens int
}

// NewComposer creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func NewComposer(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns a system message carrying the selected context followed by
// the question, and the chunks that made it into the prompt.
func (c *Composer) Compose(question string, chunks []retrieval.ContextChunk) ([]engine.Message, []retrieval.ContextChunk) {
	system, used := c.buildContext(chunks)
	return []engine.Message{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: question},
	}, used
}

// buildContext selects chunks by descending score until the budget is spent.
// A chunk that does not fit is skipped so smaller lower-ranked ones still can.
func (c *Composer) buildContext(chunks []retrieval.ContextChunk) (string, []retrieval.ContextChunk) {
	if len(chunks) == 0 {
		return emptyKnowledgeInstructions, nil
	}

	sorted := make([]retrieval.ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	const header = "\n\n[Knowledge Base]\n"
	remaining := c.MaxContextTokens - EstimateTokens(baseInstructions) - EstimateTokens(header)

	var sb strings.Builder
	var used []retrieval.ContextChunk
	for _, ch := range sorted {
		entry := formatChunk(len(used)+1, ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		used = append(used, ch)
		remaining -= tokens
	}
	if len(used) == 0 {
		return emptyKnowledgeInstructions, nil
	}
	return baseInstructions + header + sb.String(), used
}

func formatChunk(n int, ch retrieval.ContextChunk) string {
	label := ch.Title
	if label == "" {
		label = ch.Origin
	} else if ch.Origin != "" && ch.Origin != ch.Title {
		label += " <" + ch.Origin + ">"
	}
	return fmt.Sprintf("[%d] (%s, score %.2f) %s\n%s\n\n", n, ch.SourceType, ch.Score, label, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
