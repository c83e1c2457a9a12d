// Package config loads askql settings from the JSON config file, a .env
// file and ASKQL_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Embedding EmbeddingConfig
	Store     StoreConfig
	Retrieval RetrievalConfig
	Batch     BatchConfig
	Chat      ChatConfig
	SQL       SQLConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	// EmbedRateLimit caps embedding requests per second; zero means unlimited.
	EmbedRateLimit int
}

type EmbeddingConfig struct {
	Dimension int
}

type StoreConfig struct {
	Backend string
	DataDir string
	PGURL   string
}

type RetrievalConfig struct {
	NResultsSQL           int
	NResultsDDL           int
	NResultsDocumentation int
}

type BatchConfig struct {
	Enabled bool
	Size    int
	Workers int
}

type ChatConfig struct {
	Provider        string
	BaseURL         string
	Model           string
	APIKey          string
	Temperature     float64
	Dialect         string
	Language        string
	MaxPromptTokens int
}

type SQLConfig struct {
	DatabaseURL string
}

type LogConfig struct {
	Level string
}

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPGVector = "pgvector"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "bge-m3:latest",
		},
		Embedding: EmbeddingConfig{Dimension: 1024},
		Store: StoreConfig{
			Backend: BackendSQLite,
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			NResultsSQL:           5,
			NResultsDDL:           5,
			NResultsDocumentation: 5,
		},
		Batch: BatchConfig{Enabled: true, Size: 10, Workers: 4},
		Chat: ChatConfig{
			Provider:        "deepseek",
			Model:           "deepseek-chat",
			Temperature:     0.6,
			Dialect:         "PostgreSQL",
			MaxPromptTokens: 14000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration. A .env file in the working directory is loaded
// into the environment first; variables already set are not overwritten.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendPGVector:
		if c.Store.PGURL == "" {
			return fmt.Errorf("%w: store.pg_url is required for the pgvector backend (set ASKQL_STORE_PG_URL)", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: store.backend must be %q or %q, got %q", ErrInvalid, BackendSQLite, BackendPGVector, c.Store.Backend)
	}
	switch strings.ToLower(c.Chat.Provider) {
	case "deepseek", "qwen", "ollama":
	default:
		return fmt.Errorf("%w: chat.provider must be deepseek, qwen or ollama, got %q", ErrInvalid, c.Chat.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: embedding.dimension must be positive", ErrInvalid)
	}
	return nil
}

// SlogLevel maps log.level to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
