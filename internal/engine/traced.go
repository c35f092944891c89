package engine

import (
	"context"
	"time"

	"github.com/kalambet/workbench/internal/tracing"
)

// RunRecorder receives one run per traced call.
type RunRecorder interface {
	Record(run tracing.Run)
}

// Traced wraps e so every Chat and Embed call is reported to rec.
func Traced(e Engine, provider string, rec RunRecorder) Engine {
	return &tracedEngine{Engine: e, provider: provider, rec: rec}
}

type tracedEngine struct {
	Engine
	provider string
	rec      RunRecorder
}

func (t *tracedEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	start := time.Now().UTC()
	out, err := t.Engine.Chat(ctx, model, messages, jsonSchema)
	run := tracing.Run{
		Name:      t.provider + ".chat",
		RunType:   "llm",
		Inputs:    map[string]any{"model": model, "messages": messages},
		StartTime: start,
		EndTime:   time.Now().UTC(),
	}
	if err != nil {
		run.Error = err.Error()
	} else {
		run.Outputs = map[string]any{"content": out}
	}
	t.rec.Record(run)
	return out, err
}

func (t *tracedEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	start := time.Now().UTC()
	vec, err := t.Engine.Embed(ctx, model, text)
	run := tracing.Run{
		Name:      t.provider + ".embed",
		RunType:   "embedding",
		Inputs:    map[string]any{"model": model, "chars": len(text)},
		StartTime: start,
		EndTime:   time.Now().UTC(),
	}
	if err != nil {
		run.Error = err.Error()
	} else {
		run.Outputs = map[string]any{"dimensions": len(vec)}
	}
	t.rec.Record(run)
	return vec, err
}
