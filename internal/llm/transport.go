package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/tidwall/gjson"
)

const (
	requestTimeout = 60 * time.Second
	maxReplyBytes  = 1 << 20
	maxReplyTokens = 512
	temperature    = 0.2
)

// postJSON sends body to url and returns the raw reply. Unreachable hosts,
// rate limits and 5xx replies wrap core.ErrUpstreamUnavailable; other
// non-2xx replies are configuration problems and do not.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, header http.Header, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", provider, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", provider, core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read reply: %w: %w", provider, core.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, statusError(provider, resp.StatusCode, errorMessage(reply))
	}
	if !gjson.ValidBytes(reply) {
		return nil, fmt.Errorf("%s: reply is not JSON", provider)
	}
	return reply, nil
}

// statusError maps a provider HTTP status onto the error taxonomy.
func statusError(provider string, status int, msg string) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%s: status %d: %s: %w", provider, status, msg, core.ErrUpstreamUnavailable)
	}
	return fmt.Errorf("%s: status %d: %s", provider, status, msg)
}

// errorMessage pulls the human readable part out of an error body. Anthropic
// nests it under error.message, Ollama uses a bare error string.
func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String {
			return r.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
