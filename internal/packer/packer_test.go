package packer

import (
	"strings"
	"testing"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

type fakeFiles struct {
	lines map[string][]string
}

func (f fakeFiles) ReadLines(path string) ([]string, error) {
	return f.lines[path], nil
}

func TestPackInitialHasNoHistory(t *testing.T) {
	p := New(nil)
	issue := swarmtypes.Issue{ID: "X-1", Title: "Fix unused import"}
	wp := p.PackInitial(issue, "swarm/X-1", "abc123", swarmtypes.TierWorker)
	if wp.Iteration != 1 || len(wp.ErrorHistory) != 0 {
		t.Fatalf("unexpected initial packet: %+v", wp)
	}
	if !wp.Sparse() {
		t.Fatal("initial packet with no contexts should be sparse")
	}
}

func TestPackRetryInjectsAndClearsFeedback(t *testing.T) {
	p := New(nil)
	p.StageFeedback([]swarmtypes.ValidatorFeedback{{Description: "missing nil check"}})

	state := swarmtypes.NewEscalationState(swarmtypes.TierWorker)
	state.TotalIterations = 1
	state.IterationHistory = []swarmtypes.IterationRecord{{IterationNumber: 1, ErrorCount: 2}}

	wp := p.PackRetry(swarmtypes.Issue{ID: "X-1", Title: "t"}, "b", "c", state, nil, swarmtypes.TierWorker, "")
	if len(wp.ValidatorFeedback) != 1 {
		t.Fatalf("expected feedback injected, got %v", wp.ValidatorFeedback)
	}

	wp2 := p.PackRetry(swarmtypes.Issue{ID: "X-1", Title: "t"}, "b", "c", state, nil, swarmtypes.TierWorker, "")
	if len(wp2.ValidatorFeedback) != 0 {
		t.Fatalf("expected feedback buffer cleared, got %v", wp2.ValidatorFeedback)
	}
}

func TestBuildFileContextsCentersOnErrorLine(t *testing.T) {
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = "line"
	}
	p := New(fakeFiles{lines: map[string][]string{"a.go": lines}})
	signals := []swarmtypes.Signal{{File: "a.go", Line: 50, Category: swarmtypes.CategorySyntax}}
	ctxs := p.buildFileContexts(signals)
	if len(ctxs) != 1 {
		t.Fatalf("expected 1 context, got %d", len(ctxs))
	}
	if ctxs[0].StartLine != 40 || ctxs[0].EndLine != 60 {
		t.Fatalf("expected [40,60], got [%d,%d]", ctxs[0].StartLine, ctxs[0].EndLine)
	}
}

func TestTopModifiedFilesOrdersByCount(t *testing.T) {
	p := New(nil)
	p.RecordModified("a.go")
	p.RecordModified("a.go")
	p.RecordModified("b.go")
	top := p.topModifiedFiles(5)
	if len(top) != 2 || top[0] != "a.go" {
		t.Fatalf("expected a.go first, got %v", top)
	}
}

func TestCompactPromptForWorkerTier(t *testing.T) {
	p := New(fakeFiles{lines: map[string][]string{"a.go": {strings.Repeat("x", 5000)}}})
	signals := []swarmtypes.Signal{{File: "a.go", Line: 1, Category: swarmtypes.CategorySyntax}}
	state := swarmtypes.NewEscalationState(swarmtypes.TierWorker)
	report := &swarmtypes.VerifierReport{FailureSignals: signals}
	wp := p.PackRetry(swarmtypes.Issue{ID: "X", Title: "t"}, "b", "c", state, report, swarmtypes.TierWorker, "")
	if wp.InlineFile == nil {
		t.Fatal("expected inline file for worker tier")
	}
	if len(wp.InlineFile.Content) > inlineFileMaxBytes {
		t.Fatalf("inline file exceeds cap: %d", len(wp.InlineFile.Content))
	}
}
