package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ListenAddr() != "127.0.0.1:8000" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:8000", cfg.ListenAddr())
	}
	if cfg.Worker.Interval != 15*time.Second || cfg.Worker.AutoTriggerThreshold != 45 {
		t.Errorf("worker defaults = %+v", cfg.Worker)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bubble.yaml")
	data := []byte(`
server:
  port: 9100
llm:
  provider: ollama
worker:
  cooldown: 6h
  auto_trigger_threshold: 40
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.Worker.Cooldown != 6*time.Hour {
		t.Errorf("cooldown = %v, want 6h", cfg.Worker.Cooldown)
	}
	if cfg.Worker.AutoTriggerThreshold != 40 {
		t.Errorf("threshold = %v, want 40", cfg.Worker.AutoTriggerThreshold)
	}
	// Untouched keys keep defaults.
	if cfg.Worker.Interval != 15*time.Second {
		t.Errorf("interval = %v, want 15s", cfg.Worker.Interval)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("llm.provider", "gpt")
	if _, err := Load(v); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"backend", func(c *Config) { c.Retrieval.Backend = "pinecone" }},
		{"embedder", func(c *Config) { c.Retrieval.Embedder = "word2vec" }},
		{"threshold", func(c *Config) { c.Worker.AutoTriggerThreshold = 101 }},
		{"interval", func(c *Config) { c.Worker.Interval = 0 }},
		{"window", func(c *Config) { c.Worker.RecomputeWindow = 0 }},
		{"timeout", func(c *Config) { c.Planner.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
