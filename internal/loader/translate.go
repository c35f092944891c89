package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/workbench/internal/engine"
	"github.com/tidwall/gjson"
)

// Translator renders text in English.
type Translator interface {
	Translate(ctx context.Context, text, srcLang string) (string, error)
}

// Chatter is the subset of engine.Engine the translator needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// LLMTranslator translates with the configured chat model.
type LLMTranslator struct {
	chat  Chatter
	model string
}

// NewLLMTranslator creates a translator using the given chat engine and model.
func NewLLMTranslator(chat Chatter, model string) *LLMTranslator {
	return &LLMTranslator{chat: chat, model: model}
}

const translateSystemPrompt = `You are a translation engine. Translate the user's text from the given source language into English.
Preserve meaning, names and numbers. Do not summarise, comment or add anything.
Respond with JSON: {"translation": "<english text>"}.`

func translationSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"translation": {Type: "string", Description: "The full English translation"},
		},
		Required: []string{"translation"},
	}
}

// Translate returns the English rendering of text. An empty result is an error.
func (t *LLMTranslator) Translate(ctx context.Context, text, srcLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("nothing to translate")
	}
	if srcLang == "" {
		srcLang = "auto-detect"
	}
	messages := []engine.Message{
		{Role: engine.RoleSystem, Content: translateSystemPrompt},
		{Role: engine.RoleUser, Content: "Source language: " + srcLang + "\n\n" + text},
	}

	raw, err := t.chat.Chat(ctx, t.model, messages, translationSchema())
	if err != nil {
		return "", fmt.Errorf("translating from %s: %w", srcLang, err)
	}

	translation := strings.TrimSpace(parseTranslation(raw))
	if translation == "" {
		return "", errors.New("translation failed or returned empty")
	}
	return translation, nil
}

// parseTranslation reads the translation field from a JSON reply, which may
// be wrapped in a code fence. Models that ignore the schema answer in plain
// text, which is returned as is.
func parseTranslation(raw string) string {
	if start := strings.IndexByte(raw, '{'); start >= 0 {
		if obj, ok := jsonObject(raw[start:]); ok && gjson.Valid(obj) {
			if v := gjson.Get(obj, "translation"); v.Exists() {
				return v.String()
			}
		}
	}
	return raw
}
