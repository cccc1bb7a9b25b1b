package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

func TestFinalizeWritesAllThreeArtifactLocations(t *testing.T) {
	ws := t.TempDir()
	repo := t.TempDir()

	c := New(nil, "sess-1", "X-1", 50)
	c.StartIteration(1, swarmtypes.TierWorker)
	c.RecordRoute(swarmtypes.RouteDecision{AgentID: "general"})
	c.RecordVerifier(&swarmtypes.VerifierReport{AllGreen: true})
	c.RecordRetryRationale(swarmtypes.RetryRationale{Action: swarmtypes.ActionResolved, ErrorCountBefore: 1, ErrorCountAfter: 0})
	c.FinishIteration(nil, 0, true, false)

	sm, err := c.Finalize(true, swarmtypes.TierWorker, ws, repo)
	if err != nil {
		t.Fatal(err)
	}
	if sm.TotalIterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", sm.TotalIterations)
	}

	if _, err := os.Stat(filepath.Join(ws, ".swarm-metrics.json")); err != nil {
		t.Fatalf("expected workspace metrics file: %v", err)
	}
	jsonlData, err := os.ReadFile(filepath.Join(repo, ".swarm-telemetry.jsonl"))
	if err != nil {
		t.Fatalf("expected telemetry jsonl file: %v", err)
	}
	var roundTrip swarmtypes.SessionMetrics
	if err := json.Unmarshal(jsonlData[:len(jsonlData)-1], &roundTrip); err != nil {
		t.Fatalf("telemetry line did not parse as JSON: %v", err)
	}
	if roundTrip.SessionID != "sess-1" {
		t.Fatalf("round-trip mismatch: %+v", roundTrip)
	}

	artifactPath := filepath.Join(repo, ".swarm-artifacts", "sess-1", "iteration-001.json")
	if _, err := os.Stat(artifactPath); err != nil {
		t.Fatalf("expected execution artifact file: %v", err)
	}
}

func TestEmptyArtifactIterationNotWritten(t *testing.T) {
	ws, repo := t.TempDir(), t.TempDir()
	c := New(nil, "sess-2", "X-2", 50)
	c.StartIteration(1, swarmtypes.TierWorker)
	c.FinishIteration(nil, 2, false, true)
	if _, err := c.Finalize(false, swarmtypes.TierWorker, ws, repo); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(repo, ".swarm-artifacts", "sess-2", "iteration-001.json")); !os.IsNotExist(err) {
		t.Fatal("expected no artifact file for an iteration with no recorded decision")
	}
}

func TestPruneOldArtifactSessionsKeepsNewest(t *testing.T) {
	root := t.TempDir()
	for i, name := range []string{"old", "mid", "new"} {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		modTime := time.Now().Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(dir, modTime, modTime); err != nil {
			t.Fatal(err)
		}
	}
	pruneOldArtifactSessions(root, 2)

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 remaining session dirs, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Name() == "old" {
			t.Fatal("expected oldest session dir pruned")
		}
	}
}
