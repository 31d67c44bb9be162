package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clustercoder/bubbleOne/internal/client"
)

// ProcessContactPath is the endpoint Remote posts to, relative to the base URL.
const ProcessContactPath = "/v1/process-contact"

// Remote calls a planner served over HTTP. baseURL is typically
// http://host:port/api.
type Remote struct {
	client *client.Client
}

// NewRemote creates a remote planner. timeout bounds each call.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	return &Remote{client: client.New(baseURL, timeout)}
}

// ProcessContact implements Planner. Transport errors, timeouts, non-2xx
// responses and undecodable bodies are all reported as unavailable.
func (r *Remote) ProcessContact(ctx context.Context, req Request) Outcome {
	body, err := json.Marshal(req)
	if err != nil {
		return Unavailable(fmt.Sprintf("encode request: %v", err))
	}

	data, err := r.client.Post(ctx, ProcessContactPath, body)
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) {
			return Unavailable(fmt.Sprintf("remote status %d", se.Code))
		}
		return Unavailable(err.Error())
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Unavailable(fmt.Sprintf("decode response: %v", err))
	}
	if res.ContactHash == "" {
		res.ContactHash = req.ContactHash
	}
	if !res.ActionType.Valid() {
		return Unavailable(fmt.Sprintf("remote returned action type %q", res.ActionType))
	}
	return OK(&res)
}
