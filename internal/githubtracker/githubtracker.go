// Package githubtracker implements capability.IssueTracker against the
// GitHub REST API, using the same http.NewRequestWithContext +
// Header.Set shape this codebase uses for every outbound REST call.
package githubtracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

// Tracker claims and closes issues on a single GitHub repository,
// using a label to mark the queue an issue is ready to be claimed
// from and a label to mark one in progress.
type Tracker struct {
	client       *http.Client
	baseURL      string // e.g. https://api.github.com/repos/owner/name
	token        string
	readyLabel   string
}

// New builds a Tracker. repoURL is the repo's REST API base
// ("https://api.github.com/repos/owner/name"); readyLabel names the
// label NextReady filters on (defaults to "swarmrepair:ready").
func New(repoURL, token, readyLabel string) *Tracker {
	if readyLabel == "" {
		readyLabel = "swarmrepair:ready"
	}
	return &Tracker{
		client:     &http.Client{Timeout: 15 * time.Second},
		baseURL:    repoURL,
		token:      token,
		readyLabel: readyLabel,
	}
}

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// NextReady returns the oldest open issue carrying the ready label, or
// nil if the queue is empty.
func (t *Tracker) NextReady(ctx context.Context) (*swarmtypes.Issue, error) {
	url := fmt.Sprintf("%s/issues?state=open&labels=%s&sort=created&direction=asc&per_page=1", t.baseURL, t.readyLabel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("githubtracker: build request: %w", err)
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("githubtracker: list issues: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("githubtracker: list issues: status %d", resp.StatusCode)
	}

	var issues []ghIssue
	if err := json.NewDecoder(resp.Body).Decode(&issues); err != nil {
		return nil, fmt.Errorf("githubtracker: decode issues: %w", err)
	}
	if len(issues) == 0 {
		return nil, nil
	}
	return &swarmtypes.Issue{
		ID:          fmt.Sprintf("%d", issues[0].Number),
		Title:       issues[0].Title,
		Description: issues[0].Body,
	}, nil
}

// UpdateStatus adds the "swarmrepair:<status>" label to an issue and
// removes the ready label (a missing ready label is not an error), so
// a claimed issue drops out of NextReady. Failures
// here must propagate — a claim the tracker didn't record is a claim
// another worker can race for.
func (t *Tracker) UpdateStatus(ctx context.Context, issueID, status string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"labels": []string{fmt.Sprintf("swarmrepair:%s", status)},
	})
	url := fmt.Sprintf("%s/issues/%s/labels", t.baseURL, issueID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("githubtracker: build request: %w", err)
	}
	t.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("githubtracker: update status for %q: %w", issueID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("githubtracker: update status for %q: status %d", issueID, resp.StatusCode)
	}
	delURL := fmt.Sprintf("%s/issues/%s/labels/%s", t.baseURL, issueID, t.readyLabel)
	delReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, delURL, nil)
	if err != nil {
		return fmt.Errorf("githubtracker: build request: %w", err)
	}
	t.authorize(delReq)
	delResp, err := t.client.Do(delReq)
	if err != nil {
		return fmt.Errorf("githubtracker: remove ready label from %q: %w", issueID, err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode >= 300 && delResp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("githubtracker: remove ready label from %q: status %d", issueID, delResp.StatusCode)
	}
	return nil
}

// Close comments with note (if non-empty) and closes the issue.
func (t *Tracker) Close(ctx context.Context, issueID string, note string) error {
	if note != "" {
		if err := t.comment(ctx, issueID, note); err != nil {
			return err
		}
	}
	body, _ := json.Marshal(map[string]string{"state": "closed"})
	url := fmt.Sprintf("%s/issues/%s", t.baseURL, issueID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("githubtracker: build request: %w", err)
	}
	t.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("githubtracker: close %q: %w", issueID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("githubtracker: close %q: status %d: %s", issueID, resp.StatusCode, msg)
	}
	return nil
}

func (t *Tracker) comment(ctx context.Context, issueID, note string) error {
	body, _ := json.Marshal(map[string]string{"body": note})
	url := fmt.Sprintf("%s/issues/%s/comments", t.baseURL, issueID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("githubtracker: build request: %w", err)
	}
	t.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("githubtracker: comment on %q: %w", issueID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("githubtracker: comment on %q: status %d", issueID, resp.StatusCode)
	}
	return nil
}

func (t *Tracker) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
}
