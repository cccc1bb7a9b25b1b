package autofix

import (
	"context"
	"testing"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

type fakeCommitter struct {
	changed bool
	err     error
}

func (f fakeCommitter) StageAndCommit(ctx context.Context, issueID, message string) (bool, error) {
	return f.changed, f.err
}

type fakeVerifier struct {
	report *swarmtypes.VerifierReport
	err    error
}

func (f fakeVerifier) RunPipeline(ctx context.Context, workspaceDir string, cfg capability.GateConfig) (*swarmtypes.VerifierReport, error) {
	return f.report, f.err
}

func TestAttemptNoChangeReturnsNotApplied(t *testing.T) {
	l := New(fakeCommitter{changed: false}, fakeVerifier{})
	result, err := l.Attempt(context.Background(), "X-1", t.TempDir(), capability.GateConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied {
		t.Fatal("expected Applied=false when commit produced no diff")
	}
}

func TestAttemptAppliedReRunsVerifier(t *testing.T) {
	report := &swarmtypes.VerifierReport{AllGreen: true}
	l := New(fakeCommitter{changed: true}, fakeVerifier{report: report})
	result, err := l.Attempt(context.Background(), "X-1", t.TempDir(), capability.GateConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Applied || result.NewReport != report {
		t.Fatalf("expected applied result with report, got %+v", result)
	}
}

func TestIsFalsePositive(t *testing.T) {
	cases := []struct {
		applied    bool
		minDiff    int
		preDiff    int
		wantReject bool
	}{
		{true, 5, 2, true},
		{true, 5, 10, false},
		{true, 0, 2, false},
		{false, 5, 2, false},
	}
	for _, c := range cases {
		got := IsFalsePositive(c.applied, c.minDiff, c.preDiff)
		if got != c.wantReject {
			t.Errorf("IsFalsePositive(%v,%d,%d) = %v, want %v", c.applied, c.minDiff, c.preDiff, got, c.wantReject)
		}
	}
}
