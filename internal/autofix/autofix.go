// Package autofix runs mechanical formatter/linter fixes in a
// workspace after a non-green verifier report, before escalating to an
// LLM agent. Subprocess invocation follows the exec.CommandContext +
// CombinedOutput idiom used throughout this codebase for shelling out
// to build tools.
package autofix

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

// Fixer is one mechanical, non-LLM repair command (a formatter or a
// lint --fix invocation).
type Fixer struct {
	Name    string
	Command string
	Args    []string
}

func (f Fixer) run(ctx context.Context, workDir string) (ran bool, err error) {
	cmd := exec.CommandContext(ctx, f.Command, f.Args...)
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	_ = cmd.Run() // fixers are best-effort; non-zero exit doesn't abort the layer
	return true, nil
}

// Committer stages and commits any changes the fixers produced.
type Committer interface {
	StageAndCommit(ctx context.Context, issueID, message string) (changed bool, err error)
}

// Verifier re-runs the gate pipeline after fixes are applied.
type Verifier interface {
	RunPipeline(ctx context.Context, workspaceDir string, cfg capability.GateConfig) (*swarmtypes.VerifierReport, error)
}

// Layer composes a set of mechanical fixers with commit + re-verify.
type Layer struct {
	fixers   []Fixer
	commits  Committer
	verifier Verifier
}

// New builds an auto-fix Layer running fixers in order.
func New(commits Committer, verifier Verifier, fixers ...Fixer) *Layer {
	return &Layer{fixers: fixers, commits: commits, verifier: verifier}
}

// Result is the outcome of one auto-fix attempt.
type Result struct {
	Applied    bool
	NewReport  *swarmtypes.VerifierReport
}

// Attempt runs every fixer, and if any produced a change, commits it
// with a canonical message and re-runs the verifier. Returns
// Applied=false (and a nil NewReport) if nothing changed — the
// orchestration loop treats that as "auto-fix did not run".
func (l *Layer) Attempt(ctx context.Context, issueID, workspaceDir string, cfg capability.GateConfig) (Result, error) {
	for _, f := range l.fixers {
		if _, err := f.run(ctx, workspaceDir); err != nil {
			return Result{}, err
		}
	}

	changed, err := l.commits.StageAndCommit(ctx, issueID, "chore: auto-fix (format + lint)")
	if err != nil {
		return Result{}, err
	}
	if !changed {
		return Result{Applied: false}, nil
	}

	report, err := l.verifier.RunPipeline(ctx, workspaceDir, cfg)
	if err != nil {
		return Result{Applied: true}, err
	}
	return Result{Applied: true, NewReport: report}, nil
}

// IsFalsePositive implements the acceptance guard: an iteration where
// auto-fix was the only producer of change, with the agent's own diff
// below the configured minimum, is rejected as a trivial lint fix
// masquerading as progress.
func IsFalsePositive(autoFixApplied bool, minDiffLines, preAutoFixDiffLines int) bool {
	return autoFixApplied && minDiffLines > 0 && preAutoFixDiffLines < minDiffLines
}
