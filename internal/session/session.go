// Package session owns the in-memory SessionState for one issue and
// persists it to the workspace and repo root on failure, following the
// same JSON-snapshot-on-terminal-transition idiom this codebase uses
// for its build state machine.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

// ErrMaxIterationsReached is returned by NextIteration once the
// session has consumed its iteration budget.
var ErrMaxIterationsReached = errors.New("session: max iterations reached")

// Tracker owns one issue's SessionState for the duration of a run.
type Tracker struct {
	state      *swarmtypes.SessionState
	maxRetries int
	startedAt  time.Time
}

// Start opens a new session for issueID.
func Start(issueID string, maxRetries int) *Tracker {
	return &Tracker{
		state: &swarmtypes.SessionState{
			ID:      uuid.NewString(),
			IssueID: issueID,
			Status:  swarmtypes.StatusActive,
		},
		maxRetries: maxRetries,
		startedAt:  time.Now(),
	}
}

// State returns the current session state.
func (t *Tracker) State() *swarmtypes.SessionState { return t.state }

// StartedAt returns when the session opened, for elapsed-time
// telemetry.
func (t *Tracker) StartedAt() time.Time { return t.startedAt }

// NextIteration advances the iteration counter, or reports that the
// session has reached its configured maximum.
func (t *Tracker) NextIteration() (int, error) {
	if t.state.Iteration >= t.maxRetries {
		t.state.Status = swarmtypes.StatusMaxIterationsReached
		return 0, ErrMaxIterationsReached
	}
	t.state.Iteration++
	return t.state.Iteration, nil
}

// RecordCheckpoint notes the commit the agent started from, for
// resume-file purposes.
func (t *Tracker) RecordCheckpoint(commit string) {
	if t.state.InitialCommit == "" {
		t.state.InitialCommit = commit
	}
}

// Complete marks the session successful.
func (t *Tracker) Complete() {
	t.state.Status = swarmtypes.StatusCompleted
}

// Fail marks the session failed.
func (t *Tracker) Fail() {
	t.state.Status = swarmtypes.StatusFailed
}

// AddIntervention appends a PendingIntervention record.
func (t *Tracker) AddIntervention(kind swarmtypes.InterventionType, description, featureID string) {
	t.state.Interventions = append(t.state.Interventions, swarmtypes.PendingIntervention{
		Type:        kind,
		Description: description,
		FeatureID:   featureID,
	})
}

// PersistOnFailure writes the session state to both the workspace
// (.swarm-session.json) and a resume file at repo root
// (.swarm-resume.json). Persistence errors are logged by the caller
// and must never block stuck-handling, so this returns the error
// rather than panicking — callers choose whether to log-and-continue.
func (t *Tracker) PersistOnFailure(workspaceDir, repoRoot string, issue swarmtypes.Issue, workspacePath string, tier swarmtypes.Tier, escalationSummary string) error {
	sessionBytes, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(workspaceDir, ".swarm-session.json"), sessionBytes, 0o644); err != nil {
		return err
	}

	resume := swarmtypes.ResumeFile{
		Issue:             issue,
		WorkspacePath:     workspacePath,
		Iteration:         t.state.Iteration,
		EscalationSummary: escalationSummary,
		CurrentTier:       tier,
		TotalIterations:   t.state.Iteration,
		SavedAt:           time.Now(),
	}
	resumeBytes, err := json.MarshalIndent(resume, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(repoRoot, ".swarm-resume.json"), resumeBytes, 0o644)
}

// ClearResumeFile removes the repo-root resume file on successful
// completion.
func ClearResumeFile(repoRoot string) error {
	err := os.Remove(filepath.Join(repoRoot, ".swarm-resume.json"))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadResumeFile reads a resume file if one is present; a missing file
// is not an error, it simply means no prior run is being resumed.
func LoadResumeFile(repoRoot string) (*swarmtypes.ResumeFile, error) {
	data, err := os.ReadFile(filepath.Join(repoRoot, ".swarm-resume.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rf swarmtypes.ResumeFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, err
	}
	return &rf, nil
}
