package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Ollama    OllamaConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	RAG       RAGConfig
	Splitter  SplitterConfig
	KB        KBConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	SessionSecret string
	APIToken      string
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Backend     string
	MongoURI    string
	Database    string
	Collection  string
	VectorIndex string
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	Provider        string
	Model           string
	// OpenAIBaseURL points the openai provider at a compatible gateway such as OpenRouter.
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

type OllamaConfig struct {
	BaseURL string
}

type EmbeddingConfig struct {
	Provider   string
	Model      string
	Dimensions int
	RateLimit  float64
}

type RetrievalConfig struct {
	TopK int
}

type RAGConfig struct {
	MaxContextTokens int
	// Rerank asks the chat model to re-score retrieved chunks before answering.
	Rerank          bool
	RerankTimeout   time.Duration
	RerankThreshold float64
}

type SplitterConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// KBConfig controls the lifecycle of temporary knowledge.
type KBConfig struct {
	TemporaryTTL  time.Duration
	SweepInterval time.Duration
}

type TracingConfig struct {
	Endpoint string
	Project  string
	APIKey   string
}

// Enabled reports whether LLM calls should be exported to the tracing endpoint.
func (t TracingConfig) Enabled() bool {
	return t.APIKey != ""
}

type LogConfig struct {
	Level string
}

const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"

	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Store: StoreConfig{
			Backend:     BackendMongo,
			Database:    "ai_workbench",
			Collection:  "documents",
			VectorIndex: "default",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			Model:    "gpt-4o-mini",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOpenAI,
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			RateLimit:  10,
		},
		Retrieval: RetrievalConfig{TopK: 5},
		RAG: RAGConfig{
			MaxContextTokens: 4000,
			RerankTimeout:    5 * time.Second,
			RerankThreshold:  0.3,
		},
		Splitter: SplitterConfig{
			ChunkSize:    1000,
			ChunkOverlap: 150,
		},
		KB: KBConfig{
			TemporaryTTL:  time.Hour,
			SweepInterval: time.Minute,
		},
		Tracing: TracingConfig{
			Endpoint: "https://api.smith.langchain.com",
			Project:  "workbench",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/workbench/config.toml, then applies environment
// variable overrides. Secrets are only ever read from the environment.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	cfg := defaults()

	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.SessionSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.Server.SessionSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-key requirements that defaults cannot satisfy.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("missing required config: MongoDB connection string. Set it via environment variable MONGO_URI"))
		}
	case BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendMongo, BackendSQLite, c.Store.Backend))
	}

	for _, p := range []string{c.LLM.Provider, c.Embedding.Provider} {
		switch p {
		case ProviderOpenAI:
			if c.LLM.OpenAIAPIKey == "" {
				errs = append(errs, errors.New("missing required config: OpenAI API key. Set it via environment variable OPENAI_API_KEY"))
			}
		case ProviderAnthropic:
			if c.LLM.AnthropicAPIKey == "" {
				errs = append(errs, errors.New("missing required config: Anthropic API key. Set it via environment variable ANTHROPIC_API_KEY"))
			}
		case ProviderOllama:
		default:
			errs = append(errs, fmt.Errorf("unknown provider %q", p))
		}
	}
	if c.Embedding.Provider == ProviderAnthropic {
		errs = append(errs, errors.New("embedding.provider cannot be anthropic: it has no embeddings API"))
	}

	if c.Embedding.Dimensions != 1536 && c.Embedding.Dimensions != 384 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be 1536 or 384, got %d", c.Embedding.Dimensions))
	}
	if c.KB.TemporaryTTL <= 0 {
		errs = append(errs, fmt.Errorf("kb.temporary_ttl must be positive, got %s", c.KB.TemporaryTTL))
	}
	if c.KB.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("kb.sweep_interval must be positive, got %s", c.KB.SweepInterval))
	}
	if c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		errs = append(errs, fmt.Errorf("splitter.chunk_overlap (%d) must be smaller than splitter.chunk_size (%d)", c.Splitter.ChunkOverlap, c.Splitter.ChunkSize))
	}

	return dedupeJoin(errs)
}

// dedupeJoin joins errors, dropping repeats (the same key can be required by
// both the chat and the embedding provider).
func dedupeJoin(errs []error) error {
	seen := make(map[string]bool)
	var out []error
	for _, e := range errs {
		if seen[e.Error()] {
			continue
		}
		seen[e.Error()] = true
		out = append(out, e)
	}
	return errors.Join(out...)
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "workbench-data"
		}
	}
	return filepath.Join(dir, "workbench")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "workbench", "config.toml")
}
