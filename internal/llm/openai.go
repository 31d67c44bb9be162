package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const systemPrompt = "You are bubbleOne's relationship copilot. You only ever see interaction metadata, never message text."

// OpenAI calls the Chat Completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a client. baseURL may be empty for the public API, or
// point at any compatible endpoint.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Complete sends a prompt to the Chat Completions API.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (*Response, error) {
	return o.complete(ctx, prompt, openai.ChatCompletionNewParamsResponseFormatUnion{})
}

// CompleteJSON runs the prompt in JSON object mode.
func (o *OpenAI) CompleteJSON(ctx context.Context, prompt string) (*Response, error) {
	return o.complete(ctx, prompt, openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	})
}

func (o *OpenAI) complete(ctx context.Context, prompt string, format openai.ChatCompletionNewParamsResponseFormatUnion) (*Response, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Model:               openai.ChatModel(o.model),
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxReplyTokens),
		ResponseFormat:      format,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, statusError("openai", apiErr.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("openai: %w: %w", core.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Provider:   "openai",
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}
