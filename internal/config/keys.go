package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
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
		key: "server.port", typ: kInt, env: "ASKQL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "ASKQL_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ASKQL_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "ASKQL_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.embed_rate_limit", typ: kInt, env: "ASKQL_OLLAMA_EMBED_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedRateLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedRateLimit },
	},
	{
		key: "embedding.dimension", typ: kInt, env: "ASKQL_EMBEDDING_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "store.backend", typ: kString, env: "ASKQL_STORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Store.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Backend },
	},
	{
		key: "store.data_dir", typ: kString, env: "ASKQL_STORE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Store.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.DataDir },
	},
	{
		key: "store.pg_url", typ: kString, env: "ASKQL_STORE_PG_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Store.PGURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.PGURL },
	},
	{
		key: "retrieval.n_results_sql", typ: kInt, env: "ASKQL_RETRIEVAL_N_RESULTS_SQL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.NResultsSQL = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.NResultsSQL },
	},
	{
		key: "retrieval.n_results_ddl", typ: kInt, env: "ASKQL_RETRIEVAL_N_RESULTS_DDL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.NResultsDDL = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.NResultsDDL },
	},
	{
		key: "retrieval.n_results_documentation", typ: kInt, env: "ASKQL_RETRIEVAL_N_RESULTS_DOCUMENTATION",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.NResultsDocumentation = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.NResultsDocumentation },
	},
	{
		key: "batch.enabled", typ: kBool, env: "ASKQL_BATCH_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Batch.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Batch.Enabled },
	},
	{
		key: "batch.size", typ: kInt, env: "ASKQL_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Batch.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Size },
	},
	{
		key: "batch.workers", typ: kInt, env: "ASKQL_BATCH_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Batch.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Workers },
	},
	{
		key: "chat.provider", typ: kString, env: "ASKQL_CHAT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Chat.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Provider },
	},
	{
		key: "chat.base_url", typ: kString, env: "ASKQL_CHAT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Chat.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.BaseURL },
	},
	{
		key: "chat.model", typ: kString, env: "ASKQL_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Chat.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Model },
	},
	{
		key: "chat.api_key", typ: kString, env: "ASKQL_CHAT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Chat.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.APIKey },
	},
	{
		key: "chat.temperature", typ: kFloat, env: "ASKQL_CHAT_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Chat.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Chat.Temperature },
	},
	{
		key: "chat.dialect", typ: kString, env: "ASKQL_CHAT_DIALECT",
		apply:   func(cfg *Config, v any) { cfg.Chat.Dialect = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Dialect },
	},
	{
		key: "chat.language", typ: kString, env: "ASKQL_CHAT_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Chat.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Language },
	},
	{
		key: "chat.max_prompt_tokens", typ: kInt, env: "ASKQL_CHAT_MAX_PROMPT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxPromptTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxPromptTokens },
	},
	{
		key: "sql.database_url", typ: kString, env: "ASKQL_SQL_DATABASE_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.SQL.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.SQL.DatabaseURL },
	},
	{
		key: "log.level", typ: kString, env: "ASKQL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
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
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
