package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmrepair/core/internal/acceptance"
	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/escalation"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

// fakeWorkspace is an in-memory WorkspaceOps: every issue gets a
// single commit counter, no real git state.
type fakeWorkspace struct {
	commit    int
	mergeErr  error
	changed   bool
	diffLines int
	removed   bool
}

func (f *fakeWorkspace) Create(ctx context.Context, issueID string) (string, string, error) {
	return "/work/" + issueID, "c0", nil
}
func (f *fakeWorkspace) MergeAndRemove(ctx context.Context, issueID string) error {
	f.removed = true
	return f.mergeErr
}
func (f *fakeWorkspace) Cleanup(ctx context.Context, issueID string) {}
func (f *fakeWorkspace) Checkpoint(ctx context.Context, issueID string) (string, error) {
	f.commit++
	return "checkpoint", nil
}
func (f *fakeWorkspace) RollbackTo(ctx context.Context, issueID, commit string) error { return nil }
func (f *fakeWorkspace) StageAndCommit(ctx context.Context, issueID, message string) (bool, error) {
	return f.changed, nil
}
func (f *fakeWorkspace) DiffStat(ctx context.Context, issueID, from, to string) (int, error) {
	return f.diffLines, nil
}
func (f *fakeWorkspace) ChangedFiles(ctx context.Context, issueID, from string) ([]string, error) {
	return []string{"main.go"}, nil
}
func (f *fakeWorkspace) Diff(ctx context.Context, issueID, from string) (string, error) {
	return "+added a line\n", nil
}
func (f *fakeWorkspace) Path(issueID string) string { return "/work/" + issueID }

type fakeVerifier struct {
	report *swarmtypes.VerifierReport
}

func (f *fakeVerifier) RunPipeline(ctx context.Context, workspaceDir string, cfg capability.GateConfig) (*swarmtypes.VerifierReport, error) {
	return f.report, nil
}

// directInvoker always reports a successful, instant invocation.
type directInvoker struct{}

func (directInvoker) Invoke(ctx context.Context, agentID, prompt string, deadline time.Duration) (capability.InvokeResponse, error) {
	return capability.InvokeResponse{Status: capability.InvokeOK}, nil
}

type fakeTracker struct {
	closed   bool
	reopen   bool
	statuses []string
}

func (f *fakeTracker) NextReady(ctx context.Context) (*swarmtypes.Issue, error) { return nil, nil }
func (f *fakeTracker) UpdateStatus(ctx context.Context, issueID, status string) error {
	f.statuses = append(f.statuses, status)
	if status == "open" {
		f.reopen = true
	}
	return nil
}
func (f *fakeTracker) Close(ctx context.Context, issueID string, note string) error {
	f.closed = true
	return nil
}

func newLoop(ws WorkspaceOps, verifier capability.Verifier, tracker capability.IssueTracker) *Loop {
	return New(ws, verifier, directInvoker{}, tracker, nil, nil, nil, nil, nil, Config{
		MaxRetries:       5,
		InitialTier:      swarmtypes.TierWorker,
		MinObjectiveLen:  1,
		AcceptancePolicy: acceptance.Policy{},
		EscalationConfig: escalation.Config{
			NoChangeThreshold: 2,
			TierBudgets: map[swarmtypes.Tier]swarmtypes.TierBudget{
				swarmtypes.TierWorker:  {MaxIterations: 5},
				swarmtypes.TierCouncil: {MaxIterations: 3},
				swarmtypes.TierHuman:   {MaxIterations: 1},
			},
		},
	})
}

func TestRunIssueSucceedsOnFirstGreenIteration(t *testing.T) {
	ws := &fakeWorkspace{changed: true, diffLines: 10}
	verifier := &fakeVerifier{report: &swarmtypes.VerifierReport{AllGreen: true}}
	tracker := &fakeTracker{}

	loop := newLoop(ws, verifier, tracker)
	outcome, err := loop.RunIssue(context.Background(), swarmtypes.Issue{ID: "ISSUE-1", Title: "fix the thing", Description: "it's broken"})

	require.NoError(t, err)
	assert.Equal(t, swarmtypes.StatusCompleted, outcome.Status)
	assert.True(t, tracker.closed)
	assert.True(t, ws.removed)
	assert.Contains(t, tracker.statuses, "in_progress")
}

func TestRunIssueRejectsShortObjective(t *testing.T) {
	ws := &fakeWorkspace{changed: true}
	verifier := &fakeVerifier{report: &swarmtypes.VerifierReport{AllGreen: true}}
	tracker := &fakeTracker{}
	loop := newLoop(ws, verifier, tracker)
	loop.cfg.MinObjectiveLen = 80

	_, err := loop.RunIssue(context.Background(), swarmtypes.Issue{ID: "ISSUE-2", Title: "short"})
	assert.Error(t, err)
}

func TestRunIssueGivesUpOnPersistentNoChange(t *testing.T) {
	ws := &fakeWorkspace{changed: false}
	verifier := &fakeVerifier{report: &swarmtypes.VerifierReport{AllGreen: false}}
	tracker := &fakeTracker{}
	loop := newLoop(ws, verifier, tracker)

	outcome, err := loop.RunIssue(context.Background(), swarmtypes.Issue{ID: "ISSUE-3", Title: "stuck from the start"})

	require.NoError(t, err)
	assert.Equal(t, swarmtypes.StatusFailed, outcome.Status)
	assert.False(t, tracker.closed)
}
