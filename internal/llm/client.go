package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/clustercoder/bubbleOne/internal/config"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// JSONCompleter is implemented by providers that can hold a reply to a
// single JSON object.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, prompt string) (*Response, error)
}

// CompleteJSON asks c for a JSON object reply, using the provider's JSON
// mode when it has one and a plain completion otherwise.
func CompleteJSON(ctx context.Context, c Client, prompt string) (*Response, error) {
	if j, ok := c.(JSONCompleter); ok {
		return j.CompleteJSON(ctx, prompt)
	}
	return c.Complete(ctx, prompt)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates an LLM client based on the config provider setting.
// Provider "none" (or empty) returns a nil client and no error; callers
// then use their rule-based fallbacks.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIURL, model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
