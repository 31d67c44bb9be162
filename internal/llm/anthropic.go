package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	anthropicAPI     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// Anthropic calls the Messages API.
type Anthropic struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// NewAnthropic creates a Messages API client.
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		apiKey: apiKey,
		model:  model,
		url:    anthropicAPI,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Complete returns the model's plain text reply.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (*Response, error) {
	return a.send(ctx, prompt, "")
}

// CompleteJSON prefills the assistant turn with an opening brace so the
// reply continues a JSON object rather than wrapping one in prose.
func (a *Anthropic) CompleteJSON(ctx context.Context, prompt string) (*Response, error) {
	return a.send(ctx, prompt, "{")
}

func (a *Anthropic) send(ctx context.Context, prompt, prefill string) (*Response, error) {
	messages := []map[string]string{{"role": "user", "content": prompt}}
	if prefill != "" {
		messages = append(messages, map[string]string{"role": "assistant", "content": prefill})
	}
	header := http.Header{}
	header.Set("x-api-key", a.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	reply, err := postJSON(ctx, a.client, "anthropic", a.url, header, map[string]any{
		"model":       a.model,
		"max_tokens":  maxReplyTokens,
		"temperature": temperature,
		"system":      systemPrompt,
		"messages":    messages,
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	text.WriteString(prefill)
	gjson.GetBytes(reply, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	if text.Len() == len(prefill) {
		return nil, fmt.Errorf("anthropic: reply has no text (stop_reason %s)", gjson.GetBytes(reply, "stop_reason").String())
	}

	usage := gjson.GetManyBytes(reply, "usage.input_tokens", "usage.output_tokens")
	return &Response{
		Content:    text.String(),
		Provider:   "anthropic",
		TokensUsed: int(usage[0].Int() + usage[1].Int()),
	}, nil
}
