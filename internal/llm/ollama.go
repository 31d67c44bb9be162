package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Ollama calls a local Ollama instance through its chat endpoint.
type Ollama struct {
	url    string
	model  string
	client *http.Client
}

// NewOllama creates a client for the instance at url.
func NewOllama(url, model string) *Ollama {
	return &Ollama{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Complete returns the model's plain text reply.
func (o *Ollama) Complete(ctx context.Context, prompt string) (*Response, error) {
	return o.chat(ctx, prompt, false)
}

// CompleteJSON runs the prompt with Ollama's JSON output format, which
// constrains decoding to a single JSON value.
func (o *Ollama) CompleteJSON(ctx context.Context, prompt string) (*Response, error) {
	return o.chat(ctx, prompt, true)
}

func (o *Ollama) chat(ctx context.Context, prompt string, asJSON bool) (*Response, error) {
	body := map[string]any{
		"model":  o.model,
		"stream": false,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"options": map[string]any{
			"temperature": temperature,
			"num_predict": maxReplyTokens,
		},
	}
	if asJSON {
		body["format"] = "json"
	}

	reply, err := postJSON(ctx, o.client, "ollama", o.url+"/api/chat", nil, body)
	if err != nil {
		return nil, err
	}

	content := gjson.GetBytes(reply, "message.content")
	if !content.Exists() {
		return nil, fmt.Errorf("ollama: reply has no message content")
	}
	tokens := gjson.GetManyBytes(reply, "prompt_eval_count", "eval_count")
	return &Response{
		Content:    content.String(),
		Provider:   "ollama",
		TokensUsed: int(tokens[0].Int() + tokens[1].Int()),
	}, nil
}
