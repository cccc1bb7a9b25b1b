package validatorloop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/swarmrepair/core/internal/capability"
)

type fakeEval struct {
	name    string
	verdict *capability.ReviewVerdict
	err     error
}

func (f fakeEval) Name() string { return f.name }
func (f fakeEval) Review(ctx context.Context, diff, prompt string) (*capability.ReviewVerdict, error) {
	return f.verdict, f.err
}

func TestRunLocalPass(t *testing.T) {
	l := New(fakeEval{name: "m1", verdict: &capability.ReviewVerdict{Verdict: "pass"}}, nil, 3)
	out := l.RunLocal(context.Background(), "diff", "prompt")
	if !out.Passed || out.Relaxed {
		t.Fatalf("expected passed, not relaxed: %+v", out)
	}
}

func TestRunLocalFailOpenOnTransportError(t *testing.T) {
	l := New(fakeEval{name: "m1", err: errors.New("connection refused")}, nil, 3)
	out := l.RunLocal(context.Background(), "diff", "prompt")
	if !out.Passed {
		t.Fatal("expected fail-open pass on transport error")
	}
}

func TestRunLocalFailClosedThenRelaxes(t *testing.T) {
	l := New(fakeEval{name: "m1", err: errors.New("invalid json schema")}, nil, 2)
	out1 := l.RunLocal(context.Background(), "d", "p")
	if out1.Passed {
		t.Fatal("expected fail-closed on first schema failure")
	}
	out2 := l.RunLocal(context.Background(), "d", "p")
	if !out2.Passed || !out2.Relaxed {
		t.Fatalf("expected relaxed pass after max failures, got %+v", out2)
	}
}

func TestRunCloudNeverErrorsAndClassifies(t *testing.T) {
	l := New(nil, []capability.EvalClient{
		fakeEval{name: "cloud-a", verdict: &capability.ReviewVerdict{Verdict: "fail", BlockingIssues: []string{"missing error handling for None"}}},
	}, 3)
	fb := l.RunCloud(context.Background(), "diff", "prompt")
	if len(fb) != 1 {
		t.Fatalf("expected 1 feedback entry, got %d", len(fb))
	}
	if fb[0].IssueType != "MissingSafetyCheck" {
		t.Fatalf("expected MissingSafetyCheck, got %s", fb[0].IssueType)
	}
	if fb[0].SourceModel != "cloud-a" {
		t.Fatalf("expected source model attribution, got %s", fb[0].SourceModel)
	}
}

func TestTruncateDiffCapsAtRuneBoundary(t *testing.T) {
	big := strings.Repeat("a", maxDiffBytes+100)
	out := TruncateDiff(big)
	if len(out) > maxDiffBytes {
		t.Fatalf("expected truncation to <= %d, got %d", maxDiffBytes, len(out))
	}
}
