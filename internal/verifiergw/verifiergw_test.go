package verifiergw

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

type fakeGate struct {
	name    string
	passed  bool
	stderr  string
	callErr error
}

func (f fakeGate) Name() string { return f.name }
func (f fakeGate) Run(ctx context.Context, workDir string, packages []string) (bool, string, error) {
	return f.passed, f.stderr, f.callErr
}

func TestRunPipelineAllGreen(t *testing.T) {
	gw := New(fakeGate{name: "fmt", passed: true}, fakeGate{name: "test", passed: true})
	report, err := gw.RunPipeline(context.Background(), ".", capability.GateConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.AllGreen {
		t.Fatal("expected all_green")
	}
	if len(report.Gates) != 2 {
		t.Fatalf("expected 2 gate results, got %d", len(report.Gates))
	}
}

func TestRunPipelineCategorizesFailure(t *testing.T) {
	gw := New(fakeGate{name: "build", passed: false, stderr: "undefined: foo.Bar"})
	report, err := gw.RunPipeline(context.Background(), ".", capability.GateConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if report.AllGreen {
		t.Fatal("expected not all_green")
	}
	if len(report.FailureSignals) != 1 {
		t.Fatalf("expected 1 failure signal, got %d", len(report.FailureSignals))
	}
	if report.FailureSignals[0].Category != swarmtypes.CategoryImportResolution {
		t.Fatalf("expected ImportResolution, got %s", report.FailureSignals[0].Category)
	}
}

func TestComputeScopeWalksToNearestManifest(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg", "foo")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg", "go.mod"), []byte("module x"), 0o644); err != nil {
		t.Fatal(err)
	}

	scope := ComputeScope(dir, []string{"pkg/foo/bar.go"}, []string{"go.mod"})
	if len(scope) != 1 || scope[0] != "pkg" {
		t.Fatalf("expected scope [pkg], got %v", scope)
	}
}

func TestComputeScopeEmptyMeansFullWorkspace(t *testing.T) {
	dir := t.TempDir()
	scope := ComputeScope(dir, []string{"a/b.go"}, []string{"go.mod"})
	if len(scope) != 0 {
		t.Fatalf("expected empty scope, got %v", scope)
	}
}
