// Package webhook delivers human-intervention notifications to a
// configured HTTP sink. Delivery is fire-and-forget: a bounded POST
// with a short timeout, errors logged and never propagated past the
// caller's control flow. The raw http.NewRequestWithContext +
// header-setting shape follows this codebase's REST-call idiom.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

// Sender delivers one intervention notification to url.
type Sender interface {
	Send(ctx context.Context, url string, intervention swarmtypes.PendingIntervention) error
}

// HTTPSender posts a JSON-encoded intervention to a webhook URL.
type HTTPSender struct {
	client  *http.Client
	issueID string
}

// New builds an HTTPSender with a bounded per-request timeout.
func New(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

type payload struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	FeatureID   string `json:"feature_id,omitempty"`
}

// Send POSTs intervention as JSON to url. Non-2xx responses and
// transport errors are both returned as errors for the caller to log;
// they must never block the orchestration loop.
func (s *HTTPSender) Send(ctx context.Context, url string, intervention swarmtypes.PendingIntervention) error {
	body, err := json.Marshal(payload{
		Type:        string(intervention.Type),
		Description: intervention.Description,
		FeatureID:   intervention.FeatureID,
	})
	if err != nil {
		return fmt.Errorf("webhook: encode intervention: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: sink returned status %d", resp.StatusCode)
	}
	return nil
}
