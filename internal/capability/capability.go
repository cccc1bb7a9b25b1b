// Package capability defines the boundary interfaces the orchestration
// core consumes but never implements itself: agent transports, the
// issue tracker, the optional knowledge base, the verifier pipeline,
// and local/cloud reviewers. Concrete implementations are swapped at
// construction time; the core never branches on transport type.
package capability

import (
	"context"
	"time"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

// InvokeStatus classifies the outcome of one AgentInvoker call.
type InvokeStatus string

const (
	InvokeOK             InvokeStatus = "ok"
	InvokeTimeout        InvokeStatus = "timeout"
	InvokeTransportError InvokeStatus = "transport_error"
)

// InvokeResponse is the result of one agent invocation.
type InvokeResponse struct {
	Status    InvokeStatus
	Text      string
	Err       error
	TookMs    int64
}

// AgentInvoker dispatches one prompt to a coding agent and waits up to
// deadline. Tool-call side effects (file edits) happen inside the
// workspace the caller points the agent at; the response carries only
// the transcript and status.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID string, prompt string, deadline time.Duration) (InvokeResponse, error)
}

// IssueTracker is the external bug-tracker capability. Status update
// failures during claim MUST propagate to the caller.
type IssueTracker interface {
	NextReady(ctx context.Context) (*swarmtypes.Issue, error)
	UpdateStatus(ctx context.Context, issueID, status string) error
	Close(ctx context.Context, issueID string, note string) error
}

// KnowledgeBase is optional: every implementation's failures must be
// swallowed by the caller into empty results, never propagated.
type KnowledgeBase interface {
	Query(ctx context.Context, role, question string) (string, error)
	AddSourceText(ctx context.Context, role, title, content string) error
}

// GateConfig scopes and configures one verifier pipeline run.
type GateConfig struct {
	Packages []string
	WorkDir  string
}

// Verifier runs the deterministic quality-gate pipeline against a
// workspace and returns a structured report.
type Verifier interface {
	RunPipeline(ctx context.Context, workspaceDir string, cfg GateConfig) (*swarmtypes.VerifierReport, error)
}

// ReviewVerdict is the strict-JSON schema a local or cloud reviewer
// must answer with.
type ReviewVerdict struct {
	Verdict            string   `json:"verdict"` // pass | fail | needs_escalation
	Confidence         float64  `json:"confidence"`
	BlockingIssues     []string `json:"blocking_issues"`
	SuggestedNextAction string  `json:"suggested_next_action"`
	TouchedFiles       []string `json:"touched_files"`
	SourceModel        string   `json:"source_model,omitempty"`
}

// EvalClient reviews a diff against a prompt and returns a strict-JSON
// verdict. Used for both the blocking local validator and the
// advisory cloud validators.
type EvalClient interface {
	Review(ctx context.Context, diff string, prompt string) (*ReviewVerdict, error)
	Name() string
}
