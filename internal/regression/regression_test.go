package regression

import (
	"context"
	"errors"
	"testing"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

type fakeRoller struct{ err error }

func (f fakeRoller) RollbackTo(ctx context.Context, issueID, commit string) error { return f.err }

type fakeVerifier struct {
	report *swarmtypes.VerifierReport
	err    error
}

func (f fakeVerifier) RunPipeline(ctx context.Context, workspaceDir string, cfg capability.GateConfig) (*swarmtypes.VerifierReport, error) {
	return f.report, f.err
}

func sigs(n int) []swarmtypes.Signal {
	out := make([]swarmtypes.Signal, n)
	return out
}

func TestDetected(t *testing.T) {
	pre := &swarmtypes.VerifierReport{FailureSignals: sigs(3)}
	post := &swarmtypes.VerifierReport{FailureSignals: sigs(5)}
	if !Detected(pre, post) {
		t.Fatal("expected regression detected")
	}
	same := &swarmtypes.VerifierReport{FailureSignals: sigs(3)}
	if Detected(pre, same) {
		t.Fatal("expected no regression when count unchanged")
	}
}

func TestCheckRollsBackAndReVerifies(t *testing.T) {
	pre := &swarmtypes.VerifierReport{FailureSignals: sigs(3)}
	post := &swarmtypes.VerifierReport{FailureSignals: sigs(5)}
	reVerified := &swarmtypes.VerifierReport{FailureSignals: sigs(3)}

	g := New(fakeRoller{}, fakeVerifier{report: reVerified})
	out := g.Check(context.Background(), "X-1", "abc", pre, post, "/tmp", capability.GateConfig{})

	if !out.Regression || !out.RollbackAttempted || !out.RollbackSucceeded {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(out.Report.FailureSignals) != 3 {
		t.Fatalf("expected report to reflect pre-regression state, got %d signals", len(out.Report.FailureSignals))
	}
}

func TestCheckProceedsWithWorseStateIfRollbackFails(t *testing.T) {
	pre := &swarmtypes.VerifierReport{FailureSignals: sigs(3)}
	post := &swarmtypes.VerifierReport{FailureSignals: sigs(5)}

	g := New(fakeRoller{err: errors.New("dirty tree")}, fakeVerifier{})
	out := g.Check(context.Background(), "X-1", "abc", pre, post, "/tmp", capability.GateConfig{})

	if !out.Regression || !out.RollbackAttempted || out.RollbackSucceeded {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Report != post {
		t.Fatal("expected report to remain the worse post-state when rollback fails")
	}
}
