// Package telemetry collects per-iteration execution artifacts and
// produces the session-level SessionMetrics rollup, writing them to
// the on-disk layout described by the orchestration loop's external
// interface: a workspace .swarm-metrics.json, a repo-root append-only
// .swarm-telemetry.jsonl, and per-iteration .swarm-artifacts/ files
// subject to a retention limit. Process-wide counters are exported via
// Prometheus, following this codebase's promauto registration idiom.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/swarmrepair/core/internal/obslog"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

// Metrics are the process-wide Prometheus collectors shared across
// every session handled by this orchestrator instance.
type Metrics struct {
	IterationsTotal   *prometheus.CounterVec
	SessionsTotal     *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
	RegressionsTotal  prometheus.Counter
	IterationDuration prometheus.Histogram
}

// NewMetrics registers the telemetry collectors against the default
// Prometheus registry. Safe to call once per process; callers that
// need isolation (tests) should use a private registry instead.
func NewMetrics() *Metrics {
	return &Metrics{
		IterationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmrepair_iterations_total",
			Help: "Total orchestration iterations processed, by outcome.",
		}, []string{"outcome"}),
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmrepair_sessions_total",
			Help: "Total sessions completed, by final status.",
		}, []string{"status"}),
		EscalationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmrepair_escalations_total",
			Help: "Total tier escalations, by reason.",
		}, []string{"reason"}),
		RegressionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swarmrepair_regressions_total",
			Help: "Total regressions detected and rolled back.",
		}),
		IterationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "swarmrepair_iteration_duration_seconds",
			Help: "Wall-clock duration of one orchestration iteration.",
		}),
	}
}

// Collector accumulates one session's telemetry.
type Collector struct {
	metrics   *Metrics
	sessionID string
	issueID   string
	startedAt time.Time

	iterations    []swarmtypes.IterationRecord
	artifacts     map[int]*swarmtypes.ExecutionArtifact
	noChangeCount int
	localRuns     []swarmtypes.ValidationRun
	cloudRuns     []swarmtypes.ValidationRun

	current        *iterationInProgress
	retentionLimit int
}

type iterationInProgress struct {
	n         int
	tier      swarmtypes.Tier
	startedAt time.Time
	artifact  swarmtypes.ExecutionArtifact
}

// New builds a Collector for one session. metrics may be nil to skip
// Prometheus export (e.g. in tests).
func New(metrics *Metrics, sessionID, issueID string, retentionLimit int) *Collector {
	return &Collector{
		metrics:        metrics,
		sessionID:      sessionID,
		issueID:        issueID,
		startedAt:      time.Now(),
		artifacts:      map[int]*swarmtypes.ExecutionArtifact{},
		retentionLimit: retentionLimit,
	}
}

// StartIteration opens a new iteration's artifact record.
func (c *Collector) StartIteration(n int, tier swarmtypes.Tier) {
	c.current = &iterationInProgress{n: n, tier: tier, startedAt: time.Now(), artifact: swarmtypes.ExecutionArtifact{SchemaVersion: 1}}
}

// RecordRoute attaches a RouteDecision to the in-progress iteration.
func (c *Collector) RecordRoute(rd swarmtypes.RouteDecision) {
	if c.current != nil {
		c.current.artifact.RouteDecision = &rd
	}
}

// RecordVerifier attaches a VerifierSnapshot.
func (c *Collector) RecordVerifier(report *swarmtypes.VerifierReport) {
	if c.current == nil || report == nil {
		return
	}
	var names []string
	for _, g := range report.Gates {
		names = append(names, g.Name)
	}
	c.current.artifact.VerifierSnapshot = &swarmtypes.VerifierSnapshot{
		AllGreen:   report.AllGreen,
		GateNames:  names,
		Categories: report.UniqueErrorCategories(),
	}
}

// RecordEvaluator attaches an EvaluatorSnapshot and appends to the
// local or cloud validation-run log.
func (c *Collector) RecordEvaluator(snapshot swarmtypes.EvaluatorSnapshot, isCloud bool, durationMs int64) {
	if c.current != nil {
		c.current.artifact.EvaluatorSnapshot = &snapshot
	}
	run := swarmtypes.ValidationRun{SourceModel: snapshot.SourceModel, Verdict: snapshot.Verdict, Confidence: snapshot.Confidence, DurationMs: durationMs}
	if isCloud {
		c.cloudRuns = append(c.cloudRuns, run)
	} else {
		c.localRuns = append(c.localRuns, run)
	}
}

// RecordRetryRationale attaches the engine's decision for this
// iteration and increments the matching Prometheus counter.
func (c *Collector) RecordRetryRationale(r swarmtypes.RetryRationale) {
	if c.current != nil {
		c.current.artifact.RetryRationale = &r
	}
	if c.metrics == nil {
		return
	}
	c.metrics.IterationsTotal.WithLabelValues(string(r.Action)).Inc()
	if r.Regression {
		c.metrics.RegressionsTotal.Inc()
	}
	if r.Action == swarmtypes.ActionEscalate {
		c.metrics.EscalationsTotal.WithLabelValues(r.Reason).Inc()
	}
}

// FinishIteration closes out the in-progress iteration: records it
// into the iteration history, stores its artifact if non-empty, and
// observes iteration duration.
func (c *Collector) FinishIteration(categories []swarmtypes.Category, errorCount int, progressMade, noChange bool) {
	if c.current == nil {
		return
	}
	c.iterations = append(c.iterations, swarmtypes.IterationRecord{
		IterationNumber: c.current.n,
		ErrorCategories: categories,
		ErrorCount:      errorCount,
		ProgressMade:    progressMade,
	})
	if noChange {
		c.noChangeCount++
	}
	if !c.current.artifact.IsEmpty() {
		c.artifacts[c.current.n] = &c.current.artifact
	}
	if c.metrics != nil {
		c.metrics.IterationDuration.Observe(time.Since(c.current.startedAt).Seconds())
	}
	c.current = nil
}

// Finalize assembles the SessionMetrics rollup and writes it to disk:
// .swarm-metrics.json in the workspace, one appended line to
// .swarm-telemetry.jsonl at repo root, and per-iteration artifact
// files under .swarm-artifacts/<session_id>/, pruning oldest session
// directories beyond retentionLimit.
func (c *Collector) Finalize(success bool, finalTier swarmtypes.Tier, workspaceDir, repoRoot string) (*swarmtypes.SessionMetrics, error) {
	noChangeRate := 0.0
	if len(c.iterations) > 0 {
		noChangeRate = float64(c.noChangeCount) / float64(len(c.iterations))
	}

	sm := &swarmtypes.SessionMetrics{
		SessionID:               c.sessionID,
		IssueID:                 c.issueID,
		Success:                 success,
		TotalIterations:         len(c.iterations),
		FinalTier:               finalTier,
		ElapsedMs:               time.Since(c.startedAt).Milliseconds(),
		TotalNoChangeIterations: c.noChangeCount,
		NoChangeRate:            noChangeRate,
		CloudValidations:        c.cloudRuns,
		LocalValidations:        c.localRuns,
		Iterations:              c.iterations,
		Timestamp:               time.Now(),
	}

	if c.metrics != nil {
		status := "failed"
		if success {
			status = "completed"
		}
		c.metrics.SessionsTotal.WithLabelValues(status).Inc()
	}

	if err := c.writeWorkspaceMetrics(workspaceDir, sm); err != nil {
		obslog.S().Errorw("telemetry: failed to write workspace metrics", "err", err)
	}
	if err := c.appendTelemetryLine(repoRoot, sm); err != nil {
		obslog.S().Errorw("telemetry: failed to append telemetry line", "err", err)
	}
	if err := c.writeArtifacts(repoRoot); err != nil {
		obslog.S().Errorw("telemetry: failed to write execution artifacts", "err", err)
	}
	if c.retentionLimit > 0 {
		pruneOldArtifactSessions(filepath.Join(repoRoot, ".swarm-artifacts"), c.retentionLimit)
	}

	return sm, nil
}

func (c *Collector) writeWorkspaceMetrics(workspaceDir string, sm *swarmtypes.SessionMetrics) error {
	data, err := json.MarshalIndent(sm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workspaceDir, ".swarm-metrics.json"), data, 0o644)
}

func (c *Collector) appendTelemetryLine(repoRoot string, sm *swarmtypes.SessionMetrics) error {
	data, err := json.Marshal(sm)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(repoRoot, ".swarm-telemetry.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func (c *Collector) writeArtifacts(repoRoot string) error {
	if len(c.artifacts) == 0 {
		return nil
	}
	dir := filepath.Join(repoRoot, ".swarm-artifacts", c.sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for n, artifact := range c.artifacts {
		data, err := json.MarshalIndent(artifact, "", "  ")
		if err != nil {
			return err
		}
		name := fmt.Sprintf("iteration-%03d.json", n)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// pruneOldArtifactSessions removes the oldest session directories
// under artifactsRoot beyond limit, ordered by modification time. Best
// effort: errors are logged, never propagated, matching this
// codebase's archival-pruning idiom.
func pruneOldArtifactSessions(artifactsRoot string, limit int) {
	entries, err := os.ReadDir(artifactsRoot)
	if err != nil {
		return
	}
	type dirInfo struct {
		name    string
		modTime time.Time
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{name: e.Name(), modTime: info.ModTime()})
	}
	if len(dirs) <= limit {
		return
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime.Before(dirs[j].modTime) })
	toRemove := dirs[:len(dirs)-limit]
	for _, d := range toRemove {
		if err := os.RemoveAll(filepath.Join(artifactsRoot, d.name)); err != nil {
			obslog.S().Warnw("telemetry: failed to prune old artifact session", "session", d.name, "err", err)
		}
	}
}
