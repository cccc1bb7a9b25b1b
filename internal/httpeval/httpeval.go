// Package httpeval implements capability.EvalClient against an HTTP
// reviewer endpoint (local or cloud LLM-backed review service),
// posting the diff and prompt and decoding the strict-JSON verdict
// schema back. Follows the same http.NewRequestWithContext REST-call
// idiom as this codebase's other outbound HTTP clients.
package httpeval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/swarmrepair/core/internal/capability"
)

// Client reviews a diff against one reviewer endpoint.
type Client struct {
	client   *http.Client
	endpoint string
}

// New builds a Client against endpoint, with a bounded request
// timeout (defaults to 30s).
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{client: &http.Client{Timeout: timeout}, endpoint: endpoint}
}

// Name identifies this reviewer by its endpoint, for
// ValidatorFeedback.SourceModel and acceptance cloud-quorum counting.
func (c *Client) Name() string {
	return c.endpoint
}

type reviewRequest struct {
	Diff   string `json:"diff"`
	Prompt string `json:"prompt"`
}

// Review POSTs diff+prompt to the endpoint and decodes its verdict.
func (c *Client) Review(ctx context.Context, diff string, prompt string) (*capability.ReviewVerdict, error) {
	body, err := json.Marshal(reviewRequest{Diff: diff, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("httpeval: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpeval: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpeval: %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("httpeval: %s: status %d", c.endpoint, resp.StatusCode)
	}

	var verdict capability.ReviewVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("httpeval: decode verdict: %w", err)
	}
	if verdict.SourceModel == "" {
		verdict.SourceModel = c.endpoint
	}
	return &verdict, nil
}
