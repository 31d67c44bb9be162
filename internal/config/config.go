package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all bubbleOne configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Privacy   PrivacyConfig   `mapstructure:"privacy"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Bind        string   `mapstructure:"bind"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LLMConfig struct {
	Provider     string `mapstructure:"provider"` // "none", "openai", "anthropic", "ollama"
	Model        string `mapstructure:"model"`
	OpenAIKey    string `mapstructure:"openai_key"`
	OpenAIURL    string `mapstructure:"openai_url"`
	AnthropicKey string `mapstructure:"anthropic_key"`
	OllamaURL    string `mapstructure:"ollama_url"`
	OllamaModel  string `mapstructure:"ollama_model"`
}

type RetrievalConfig struct {
	Backend        string `mapstructure:"backend"`  // "sqlite" or "qdrant"
	Embedder       string `mapstructure:"embedder"` // "hash", "ollama" or "openai"
	EmbeddingModel string `mapstructure:"embedding_model"`
	Dimensions     int    `mapstructure:"dimensions"`
	QdrantHost     string `mapstructure:"qdrant_host"`
	QdrantPort     int    `mapstructure:"qdrant_port"`
	Collection     string `mapstructure:"collection"`
	TopK           int    `mapstructure:"top_k"`
}

// PlannerConfig selects where contacts are processed. An empty URL means
// in-process.
type PlannerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Interval             time.Duration `mapstructure:"interval"`
	AutoTriggerThreshold float64       `mapstructure:"auto_trigger_threshold"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	OverdueIgnore        time.Duration `mapstructure:"overdue_ignore"`
	RecomputeWindow      int           `mapstructure:"recompute_window"`
}

type PrivacyConfig struct {
	StripKeys []string `mapstructure:"strip_keys"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:        "127.0.0.1",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:    "none",
			Model:       "gpt-4o-mini",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
		},
		Retrieval: RetrievalConfig{
			Backend:        "sqlite",
			Embedder:       "hash",
			EmbeddingModel: "nomic-embed-text",
			Dimensions:     384,
			QdrantHost:     "localhost",
			QdrantPort:     6334,
			Collection:     "bubble_summaries",
			TopK:           4,
		},
		Planner: PlannerConfig{
			Timeout: 20 * time.Second,
		},
		Worker: WorkerConfig{
			Enabled:              true,
			Interval:             15 * time.Second,
			AutoTriggerThreshold: 45,
			Cooldown:             12 * time.Hour,
			OverdueIgnore:        24 * time.Hour,
			RecomputeWindow:      60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with v so environment variables bind
// to keys that no config file mentions.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.openai_key", "")
	v.SetDefault("llm.openai_url", "")
	v.SetDefault("llm.anthropic_key", "")
	v.SetDefault("llm.ollama_url", d.LLM.OllamaURL)
	v.SetDefault("llm.ollama_model", d.LLM.OllamaModel)
	v.SetDefault("retrieval.backend", d.Retrieval.Backend)
	v.SetDefault("retrieval.embedder", d.Retrieval.Embedder)
	v.SetDefault("retrieval.embedding_model", d.Retrieval.EmbeddingModel)
	v.SetDefault("retrieval.dimensions", d.Retrieval.Dimensions)
	v.SetDefault("retrieval.qdrant_host", d.Retrieval.QdrantHost)
	v.SetDefault("retrieval.qdrant_port", d.Retrieval.QdrantPort)
	v.SetDefault("retrieval.collection", d.Retrieval.Collection)
	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("planner.url", d.Planner.URL)
	v.SetDefault("planner.timeout", d.Planner.Timeout)
	v.SetDefault("worker.enabled", d.Worker.Enabled)
	v.SetDefault("worker.interval", d.Worker.Interval)
	v.SetDefault("worker.auto_trigger_threshold", d.Worker.AutoTriggerThreshold)
	v.SetDefault("worker.cooldown", d.Worker.Cooldown)
	v.SetDefault("worker.overdue_ignore", d.Worker.OverdueIgnore)
	v.SetDefault("worker.recompute_window", d.Worker.RecomputeWindow)
	v.SetDefault("privacy.strip_keys", []string{})
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.add_source", d.Logging.AddSource)
}

// Load unmarshals v over the defaults and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated and bounded settings.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "", "none", "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	switch c.Retrieval.Backend {
	case "sqlite", "qdrant":
	default:
		return fmt.Errorf("retrieval.backend: unknown backend %q", c.Retrieval.Backend)
	}
	switch c.Retrieval.Embedder {
	case "hash", "ollama", "openai":
	default:
		return fmt.Errorf("retrieval.embedder: unknown embedder %q", c.Retrieval.Embedder)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("worker.interval: must be positive")
	}
	if c.Worker.AutoTriggerThreshold < 0 || c.Worker.AutoTriggerThreshold > 100 {
		return fmt.Errorf("worker.auto_trigger_threshold: %v out of [0,100]", c.Worker.AutoTriggerThreshold)
	}
	if c.Worker.RecomputeWindow <= 0 {
		return fmt.Errorf("worker.recompute_window: must be positive")
	}
	if c.Planner.Timeout <= 0 {
		return fmt.Errorf("planner.timeout: must be positive")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
