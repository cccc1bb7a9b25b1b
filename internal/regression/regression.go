// Package regression detects and rolls back iterations that made
// things worse: if the post-iteration verifier shows strictly more
// failure signals than before the agent ran, the workspace is hard
// reset to the pre-agent checkpoint and re-verified so the loop
// continues from the true pre-regression state.
package regression

import (
	"context"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/obslog"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

// WorkspaceRoller rolls a workspace back to a prior commit.
type WorkspaceRoller interface {
	RollbackTo(ctx context.Context, issueID, commit string) error
}

// Guard detects and rolls back regressions.
type Guard struct {
	workspace WorkspaceRoller
	verifier  capability.Verifier
}

// New builds a Guard.
func New(workspace WorkspaceRoller, verifier capability.Verifier) *Guard {
	return &Guard{workspace: workspace, verifier: verifier}
}

// Detected reports whether post has strictly more failure signals than
// pre — the sole regression condition.
func Detected(pre, post *swarmtypes.VerifierReport) bool {
	return len(post.FailureSignals) > len(pre.FailureSignals)
}

// Outcome is the result of a regression check, including whether
// rollback was attempted and whether it succeeded.
type Outcome struct {
	Regression       bool
	RollbackAttempted bool
	RollbackSucceeded bool
	// Report is the report the loop should treat as "current": the
	// rolled-back re-verification on success, or post unchanged if no
	// regression occurred or rollback itself failed.
	Report *swarmtypes.VerifierReport
}

// Check compares pre/post reports and, on regression, rolls the
// workspace back to preCommit and re-verifies so Report reflects the
// true pre-regression state. If rollback fails, the regression is
// logged but the iteration proceeds with the worse (post) state.
func (g *Guard) Check(ctx context.Context, issueID, preCommit string, pre, post *swarmtypes.VerifierReport, workspaceDir string, cfg capability.GateConfig) Outcome {
	if !Detected(pre, post) {
		return Outcome{Report: post}
	}

	obslog.S().Warnw("regression: error count increased, rolling back", "issue", issueID, "pre", len(pre.FailureSignals), "post", len(post.FailureSignals))

	if err := g.workspace.RollbackTo(ctx, issueID, preCommit); err != nil {
		obslog.S().Errorw("regression: rollback failed, continuing with worse state", "issue", issueID, "err", err)
		return Outcome{Regression: true, RollbackAttempted: true, RollbackSucceeded: false, Report: post}
	}

	reVerified, err := g.verifier.RunPipeline(ctx, workspaceDir, cfg)
	if err != nil {
		obslog.S().Errorw("regression: re-verify after rollback failed", "issue", issueID, "err", err)
		return Outcome{Regression: true, RollbackAttempted: true, RollbackSucceeded: true, Report: pre}
	}
	return Outcome{Regression: true, RollbackAttempted: true, RollbackSucceeded: true, Report: reVerified}
}
