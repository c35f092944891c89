package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "WORKBENCH_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "WORKBENCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.session_secret", typ: kString, env: "WORKBENCH_SESSION_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.SessionSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.SessionSecret },
	},
	{
		key: "server.api_token", typ: kString, env: "WORKBENCH_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "store.backend", typ: kString, env: "WORKBENCH_STORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Store.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Backend },
	},
	{
		key: "store.mongo_uri", typ: kString, env: "MONGO_URI",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Store.MongoURI = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.MongoURI },
	},
	{
		key: "store.database", typ: kString, env: "WORKBENCH_STORE_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Store.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Database },
	},
	{
		key: "store.collection", typ: kString, env: "WORKBENCH_STORE_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Store.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Collection },
	},
	{
		key: "store.vector_index", typ: kString, env: "WORKBENCH_STORE_VECTOR_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Store.VectorIndex = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.VectorIndex },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WORKBENCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "llm.provider", typ: kString, env: "WORKBENCH_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "WORKBENCH_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.openai_base_url", typ: kString, env: "OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIBaseURL },
	},
	{
		key: "llm.openai_api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIAPIKey },
	},
	{
		key: "llm.anthropic_api_key", typ: kString, env: "ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.AnthropicAPIKey },
	},
	{
		key: "ollama.base_url", typ: kString, env: "WORKBENCH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "embedding.provider", typ: kString, env: "WORKBENCH_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "WORKBENCH_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "WORKBENCH_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.rate_limit", typ: kFloat, env: "WORKBENCH_EMBEDDING_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Embedding.RateLimit },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "WORKBENCH_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "rag.max_context_tokens", typ: kInt, env: "WORKBENCH_RAG_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.RAG.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.RAG.MaxContextTokens },
	},
	{
		key: "rag.rerank", typ: kBool, env: "WORKBENCH_RAG_RERANK",
		apply:   func(cfg *Config, v any) { cfg.RAG.Rerank = v.(bool) },
		extract: func(cfg Config) any { return cfg.RAG.Rerank },
	},
	{
		key: "rag.rerank_timeout", typ: kDuration, env: "WORKBENCH_RAG_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.RAG.RerankTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.RAG.RerankTimeout },
	},
	{
		key: "rag.rerank_threshold", typ: kFloat, env: "WORKBENCH_RAG_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.RAG.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.RAG.RerankThreshold },
	},
	{
		key: "splitter.chunk_size", typ: kInt, env: "WORKBENCH_SPLITTER_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Splitter.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Splitter.ChunkSize },
	},
	{
		key: "splitter.chunk_overlap", typ: kInt, env: "WORKBENCH_SPLITTER_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Splitter.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Splitter.ChunkOverlap },
	},
	{
		key: "kb.temporary_ttl", typ: kDuration, env: "WORKBENCH_KB_TEMPORARY_TTL",
		apply:   func(cfg *Config, v any) { cfg.KB.TemporaryTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.KB.TemporaryTTL },
	},
	{
		key: "kb.sweep_interval", typ: kDuration, env: "WORKBENCH_KB_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.KB.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.KB.SweepInterval },
	},
	{
		key: "tracing.endpoint", typ: kString, env: "LANGCHAIN_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Tracing.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracing.Endpoint },
	},
	{
		key: "tracing.project", typ: kString, env: "LANGCHAIN_PROJECT",
		apply:   func(cfg *Config, v any) { cfg.Tracing.Project = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracing.Project },
	},
	{
		key: "tracing.api_key", typ: kString, env: "LANGCHAIN_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Tracing.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracing.APIKey },
	},
	{
		key: "log.level", typ: kString, env: "WORKBENCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts a raw string into the Go type a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return nil, fmt.Errorf("unknown key type %d", typ)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", s.key, raw, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment variable", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
