// Package orchestrator is the top-level driver: for one issue, it
// composes the workspace manager, context packer, agent router,
// verifier gateway, auto-fix layer, validator loop, acceptance policy,
// regression guard, escalation engine, session tracker, and telemetry
// collector into the implement -> verify -> review -> escalate cycle.
// The struct composition and per-issue goroutine shape follows this
// codebase's top-level build-orchestrator pattern, generalized from a
// single linear build pipeline to the tier-escalation cascade.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/swarmrepair/core/internal/acceptance"
	"github.com/swarmrepair/core/internal/autofix"
	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/escalation"
	"github.com/swarmrepair/core/internal/obslog"
	"github.com/swarmrepair/core/internal/packer"
	"github.com/swarmrepair/core/internal/regression"
	"github.com/swarmrepair/core/internal/router"
	"github.com/swarmrepair/core/internal/session"
	"github.com/swarmrepair/core/internal/swarmtypes"
	"github.com/swarmrepair/core/internal/telemetry"
	"github.com/swarmrepair/core/internal/validatorloop"
	"github.com/swarmrepair/core/internal/webhook"
	"github.com/swarmrepair/core/internal/workspace"
)

// WebhookSender delivers an intervention notification. It is an alias
// of webhook.Sender (implemented by webhook.HTTPSender), so tests can
// substitute a fake.
type WebhookSender = webhook.Sender

// WorkspaceOps is the subset of workspace.Manager the loop depends on,
// expressed as an interface so tests can substitute a fake.
type WorkspaceOps interface {
	Create(ctx context.Context, issueID string) (path string, baseCommit string, err error)
	MergeAndRemove(ctx context.Context, issueID string) error
	Cleanup(ctx context.Context, issueID string)
	Checkpoint(ctx context.Context, issueID string) (string, error)
	RollbackTo(ctx context.Context, issueID, commit string) error
	StageAndCommit(ctx context.Context, issueID, message string) (changed bool, err error)
	DiffStat(ctx context.Context, issueID, fromCommit, toCommit string) (int, error)
	ChangedFiles(ctx context.Context, issueID, fromCommit string) ([]string, error)
	Diff(ctx context.Context, issueID, fromCommit string) (string, error)
	Path(issueID string) string
}

var _ WorkspaceOps = (*workspace.Manager)(nil)

// Config bounds one orchestration run.
type Config struct {
	MaxRetries             int
	InitialTier            swarmtypes.Tier
	WorkerTimeout          time.Duration
	ManagerTimeout         time.Duration
	AcceptancePolicy       acceptance.Policy
	EscalationConfig       escalation.Config
	MinObjectiveLen        int
	RepoRoot               string
	ArtifactRetention      int
	WebhookURL             string
}

// Loop is the top-level driver for one issue at a time.
type Loop struct {
	workspace     WorkspaceOps
	verifier      capability.Verifier
	invoker       capability.AgentInvoker
	issueTracker  capability.IssueTracker
	kb            capability.KnowledgeBase
	autofix       *autofix.Layer
	validatorLoop *validatorloop.Loop
	metrics       *telemetry.Metrics
	webhook       WebhookSender
	cfg           Config
}

// New builds a Loop from its collaborators. kb and webhook may be nil.
func New(ws WorkspaceOps, verifier capability.Verifier, invoker capability.AgentInvoker, tracker capability.IssueTracker, kb capability.KnowledgeBase, af *autofix.Layer, vl *validatorloop.Loop, metrics *telemetry.Metrics, webhook WebhookSender, cfg Config) *Loop {
	return &Loop{
		workspace: ws, verifier: verifier, invoker: invoker, issueTracker: tracker, kb: kb,
		autofix: af, validatorLoop: vl, metrics: metrics, webhook: webhook, cfg: cfg,
	}
}

// Outcome summarizes how RunIssue concluded.
type Outcome struct {
	Status  swarmtypes.SessionStatus
	Metrics *swarmtypes.SessionMetrics
}

// RunIssue drives one issue through the full implement/verify/review/
// escalate cascade, in the order spec'd by the orchestration loop.
func (l *Loop) RunIssue(ctx context.Context, issue swarmtypes.Issue) (Outcome, error) {
	if len(issue.Title) < l.cfg.MinObjectiveLen {
		return Outcome{}, fmt.Errorf("orchestrator: issue %q objective shorter than minimum %d chars", issue.ID, l.cfg.MinObjectiveLen)
	}

	if err := l.issueTracker.UpdateStatus(ctx, issue.ID, "in_progress"); err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: claim issue %q: %w", issue.ID, err)
	}

	workspaceDir, initialCommit, err := l.workspace.Create(ctx, issue.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: create workspace for %q: %w", issue.ID, err)
	}

	tracker := session.Start(issue.ID, l.cfg.MaxRetries)
	tracker.RecordCheckpoint(initialCommit)
	state := swarmtypes.NewEscalationState(l.cfg.InitialTier)
	engine := escalation.New(l.cfg.EscalationConfig)
	pack := packer.New(nil)
	telemetryCollector := telemetry.New(l.metrics, tracker.State().ID, issue.ID, l.cfg.ArtifactRetention)

	branch := "swarm/" + workspace.Sanitize(issue.ID)
	var lastReport *swarmtypes.VerifierReport
	if baseline, err := l.verifier.RunPipeline(ctx, workspaceDir, capability.GateConfig{WorkDir: workspaceDir}); err == nil {
		lastReport = baseline
	}
	var lastCommit = initialCommit

	outcome, err := l.loop(ctx, issue, workspaceDir, branch, initialCommit, tracker, state, engine, pack, telemetryCollector, &lastReport, &lastCommit)
	if err != nil {
		if outcome.Metrics == nil {
			outcome.Metrics, _ = telemetryCollector.Finalize(false, state.CurrentTier, workspaceDir, l.cfg.RepoRoot)
		}
		return outcome, err
	}
	return outcome, nil
}

func (l *Loop) loop(
	ctx context.Context,
	issue swarmtypes.Issue,
	workspaceDir, branch, initialCommit string,
	tracker *session.Tracker,
	state *swarmtypes.EscalationState,
	engine *escalation.Engine,
	pack *packer.Packer,
	tel *telemetry.Collector,
	lastReport **swarmtypes.VerifierReport,
	lastCommit *string,
) (Outcome, error) {
	regressionGuard := regression.New(workspaceRoller{l.workspace}, l.verifier)

	for {
		n, err := tracker.NextIteration()
		if err != nil {
			return l.finish(ctx, issue, workspaceDir, tracker, state, tel, false)
		}

		tel.StartIteration(n, state.CurrentTier)

		var wp swarmtypes.WorkPacket
		if n == 1 {
			wp = pack.PackInitial(issue, branch, *lastCommit, state.CurrentTier)
		} else {
			wp = pack.PackRetry(issue, branch, *lastCommit, state, *lastReport, state.CurrentTier, lastEscalationReason(state))
		}

		if wp.Sparse() {
			promoted := promoteTier(state.CurrentTier)
			obslog.S().Infow("orchestrator: sparse context, promoting tier before invocation", "issue", issue.ID, "from", state.CurrentTier, "to", promoted)
			wp.TargetTier = promoted
		}

		route, rustScore, generalScore := router.Decide(lastCategories(state))
		agentID := string(route)
		tel.RecordRoute(swarmtypes.RouteDecision{AgentID: agentID, InputCats: lastCategories(state), RustScore: rustScore, GeneralScore: generalScore})

		checkpoint, err := l.workspace.Checkpoint(ctx, issue.ID)
		if err != nil {
			obslog.S().Warnw("orchestrator: failed to record pre-agent checkpoint", "err", err)
			checkpoint = *lastCommit
		}

		deadline := l.cfg.WorkerTimeout
		if wp.TargetTier != swarmtypes.TierWorker {
			deadline = l.cfg.ManagerTimeout
		}

		_, invokeErr := l.invoker.Invoke(ctx, agentID, renderPrompt(wp), deadline)
		if invokeErr != nil {
			obslog.S().Warnw("orchestrator: agent invocation returned error, proceeding to verification anyway", "issue", issue.ID, "err", invokeErr)
		}

		changed, err := l.workspace.StageAndCommit(ctx, issue.ID, fmt.Sprintf("swarmrepair: iteration %d", n))
		if err != nil {
			return Outcome{}, fmt.Errorf("orchestrator: stage/commit iteration %d: %w", n, err)
		}
		if !changed {
			engine.RecordNoChange(state)
			decision := engine.Decide(state)
			if decision.Stuck {
				tracker.AddIntervention(swarmtypes.InterventionBlocked, "consecutive no-change iterations exceeded threshold", "")
				return l.finish(ctx, issue, workspaceDir, tracker, state, tel, false)
			}
			continue
		}

		agentCommit, err := l.workspace.Checkpoint(ctx, issue.ID)
		if err != nil {
			obslog.S().Warnw("orchestrator: failed to record post-agent checkpoint, diff-size guard may include auto-fix noise", "err", err)
			agentCommit = checkpoint
		}

		verifierCfg := capability.GateConfig{WorkDir: workspaceDir}
		report, err := l.verifier.RunPipeline(ctx, workspaceDir, verifierCfg)
		if err != nil {
			return Outcome{}, fmt.Errorf("orchestrator: verifier run for iteration %d: %w", n, err)
		}

		autoFixApplied := false
		if !report.AllGreen && l.autofix != nil {
			result, afErr := l.autofix.Attempt(ctx, issue.ID, workspaceDir, verifierCfg)
			if afErr != nil {
				obslog.S().Warnw("orchestrator: auto-fix attempt failed", "err", afErr)
			} else if result.Applied {
				autoFixApplied = true
				if result.NewReport != nil {
					report = result.NewReport
				}
			}
		}

		preReport := *lastReport
		if preReport == nil {
			preReport = &swarmtypes.VerifierReport{}
		}
		regOutcome := regressionGuard.Check(ctx, issue.ID, checkpoint, preReport, report, workspaceDir, verifierCfg)
		report = regOutcome.Report

		tel.RecordVerifier(report)

		errCountBefore := len(preReport.FailureSignals)
		errCountAfter := len(report.FailureSignals)
		progress := errCountAfter < errCountBefore
		engine.RecordIteration(state, report.UniqueErrorCategories(), errCountAfter)

		*lastReport = report
		*lastCommit = checkpoint

		if report.AllGreen {
			diffLines, _ := l.workspace.DiffStat(ctx, issue.ID, checkpoint, agentCommit)
			accepted, done := l.tryAccept(ctx, issue, workspaceDir, checkpoint, autoFixApplied, diffLines, pack, tracker, state, engine, tel)
			if accepted {
				tel.RecordRetryRationale(swarmtypes.RetryRationale{
					Action: swarmtypes.ActionResolved, ErrorCountBefore: errCountBefore, ErrorCountAfter: errCountAfter,
					Regression: regOutcome.Regression, ConsecutiveNoChange: state.ConsecutiveNoChange,
				})
				tel.FinishIteration(report.UniqueErrorCategories(), errCountAfter, progress, false)
				return l.succeed(ctx, issue, workspaceDir, tracker, state, tel)
			}
			if done {
				tel.FinishIteration(report.UniqueErrorCategories(), errCountAfter, progress, false)
				continue
			}
		}

		decision := engine.Decide(state)
		fromTier := state.CurrentTier
		escalation.Apply(state, decision)

		action := swarmtypes.ActionRetry
		if decision.Stuck {
			action = swarmtypes.ActionGiveUp
		} else if decision.Escalated {
			action = swarmtypes.ActionEscalate
		}
		tel.RecordRetryRationale(swarmtypes.RetryRationale{
			Action: action, FromTier: fromTier, ToTier: decision.TargetTier, Reason: string(decision.Reason),
			ErrorCountBefore: errCountBefore, ErrorCountAfter: errCountAfter, Regression: regOutcome.Regression,
			ConsecutiveNoChange: state.ConsecutiveNoChange,
		})
		tel.FinishIteration(report.UniqueErrorCategories(), errCountAfter, progress, false)

		if decision.Stuck {
			tracker.AddIntervention(swarmtypes.InterventionBlocked, decision.Detail, "")
			return l.finish(ctx, issue, workspaceDir, tracker, state, tel, false)
		}
	}
}

// tryAccept runs the local validator (blocking) and, if it passes,
// the cloud validators (advisory) plus the acceptance policy. Returns
// accepted=true on full acceptance, or done=true if the iteration
// should be recorded and the loop should continue (local validator
// failed or acceptance rejected).
func (l *Loop) tryAccept(ctx context.Context, issue swarmtypes.Issue, workspaceDir, checkpoint string, autoFixApplied bool, diffLines int, pack *packer.Packer, tracker *session.Tracker, state *swarmtypes.EscalationState, engine *escalation.Engine, tel *telemetry.Collector) (accepted bool, done bool) {
	if l.validatorLoop == nil {
		return true, false
	}

	diff, err := l.workspace.Diff(ctx, issue.ID, checkpoint)
	if err != nil {
		obslog.S().Warnw("orchestrator: failed to load diff for review, reviewing with empty diff", "issue", issue.ID, "err", err)
	}

	local := l.validatorLoop.RunLocal(ctx, diff, issue.Description)
	if local.Snapshot != nil {
		tel.RecordEvaluator(*local.Snapshot, false, 0)
	}
	if !local.Passed {
		if local.Verdict != nil && len(local.Verdict.BlockingIssues) > 0 {
			pack.StageFeedback(validatorloop.BuildFeedback(local.Verdict.BlockingIssues, local.Verdict.SourceModel))
		}
		return false, true
	}
	if local.Relaxed {
		tracker.AddIntervention(swarmtypes.InterventionReviewRequired, "local validator gate relaxed after consecutive failures", "")
	}

	cloudTotal := l.validatorLoop.CloudCount()
	if cloudTotal > 0 {
		engine.RecordConsultation(state)
	}
	feedback := l.validatorLoop.RunCloud(ctx, diff, issue.Description)

	failingReviewers := make(map[string]bool, len(feedback))
	for _, fb := range feedback {
		failingReviewers[fb.SourceModel] = true
	}
	cloudPass := cloudTotal - len(failingReviewers)

	result := l.cfg.AcceptancePolicy.Check(acceptance.Input{
		AutoFixApplied:  autoFixApplied,
		AgentDiffLines:  diffLines,
		CloudPassCount:  cloudPass,
		CloudTotalCount: cloudTotal,
	})
	if !result.Accepted {
		obslog.S().Infow("orchestrator: iteration rejected by acceptance policy", "issue", issue.ID, "rejections", result.Rejections)
		if len(feedback) > 0 {
			pack.StageFeedback(feedback)
		}
		return false, true
	}

	if len(feedback) > 0 {
		obslog.S().Infow("orchestrator: staging cloud validator feedback for next iteration", "issue", issue.ID, "count", len(feedback))
		pack.StageFeedback(feedback)
	}
	return true, false
}

func (l *Loop) succeed(ctx context.Context, issue swarmtypes.Issue, workspaceDir string, tracker *session.Tracker, state *swarmtypes.EscalationState, tel *telemetry.Collector) (Outcome, error) {
	tracker.Complete()
	if l.kb != nil {
		_ = l.kb.AddSourceText(ctx, "worker", issue.ID, "resolved: "+issue.Title)
	}

	mergeErr := l.workspace.MergeAndRemove(ctx, issue.ID)
	if mergeErr != nil {
		_ = l.issueTracker.UpdateStatus(ctx, issue.ID, "open")
		sm, _ := tel.Finalize(false, state.CurrentTier, workspaceDir, l.cfg.RepoRoot)
		l.workspace.Cleanup(ctx, issue.ID)
		return Outcome{Status: swarmtypes.StatusFailed, Metrics: sm}, fmt.Errorf("orchestrator: merge failed after success for %q: %w", issue.ID, mergeErr)
	}

	if err := l.issueTracker.Close(ctx, issue.ID, "resolved by swarmrepair"); err != nil {
		obslog.S().Warnw("orchestrator: failed to close issue after merge", "issue", issue.ID, "err", err)
	}
	_ = session.ClearResumeFile(l.cfg.RepoRoot)

	sm, _ := tel.Finalize(true, state.CurrentTier, l.cfg.RepoRoot, l.cfg.RepoRoot)
	return Outcome{Status: swarmtypes.StatusCompleted, Metrics: sm}, nil
}

func (l *Loop) finish(ctx context.Context, issue swarmtypes.Issue, workspaceDir string, tracker *session.Tracker, state *swarmtypes.EscalationState, tel *telemetry.Collector, success bool) (Outcome, error) {
	tracker.Fail()
	summary := fmt.Sprintf("tier=%s iterations=%d", state.CurrentTier, state.TotalIterations)
	if err := tracker.PersistOnFailure(workspaceDir, l.cfg.RepoRoot, issue, workspaceDir, state.CurrentTier, summary); err != nil {
		obslog.S().Errorw("orchestrator: failed to persist session state on stuck", "issue", issue.ID, "err", err)
	}
	if l.webhook != nil && l.cfg.WebhookURL != "" {
		for _, iv := range tracker.State().Interventions {
			if sendErr := l.webhook.Send(ctx, l.cfg.WebhookURL, iv); sendErr != nil {
				obslog.S().Warnw("orchestrator: webhook delivery failed", "err", sendErr)
			}
		}
	}
	sm, _ := tel.Finalize(success, state.CurrentTier, workspaceDir, l.cfg.RepoRoot)
	return Outcome{Status: tracker.State().Status, Metrics: sm}, nil
}

func lastCategories(state *swarmtypes.EscalationState) []swarmtypes.Category {
	if n := len(state.IterationHistory); n > 0 {
		return state.IterationHistory[n-1].ErrorCategories
	}
	return nil
}

func lastEscalationReason(state *swarmtypes.EscalationState) string {
	if n := len(state.EscalationHistory); n > 0 {
		return string(state.EscalationHistory[n-1].Reason)
	}
	return ""
}

func promoteTier(t swarmtypes.Tier) swarmtypes.Tier {
	if t < swarmtypes.TierHuman {
		return t + 1
	}
	return t
}

// renderPrompt serializes a WorkPacket into the text handed to
// AgentInvoker.Invoke. Worker-tier packets render as a short prompt:
// the objective (capped by packer.applyTierShape) plus at most one
// inline file; their other structured fields are not rendered. Council and
// Human tier packets keep their full structured fields — file
// contexts, failure signals, validator feedback, constraints, touched
// files, and error history all need to reach the agent, or a
// promoted tier sees no more context than the worker it replaced.
func renderPrompt(wp swarmtypes.WorkPacket) string {
	if wp.TargetTier == swarmtypes.TierWorker {
		if wp.InlineFile != nil {
			return fmt.Sprintf("%s\n\n[target file: %s]\n%s", wp.Objective, wp.InlineFile.Path, wp.InlineFile.Content)
		}
		return wp.Objective
	}

	var b strings.Builder
	b.WriteString(wp.Objective)

	if wp.EscalationReason != "" {
		fmt.Fprintf(&b, "\n\n[escalation reason: %s]", wp.EscalationReason)
	}
	if wp.PreviousAttempts > 0 {
		fmt.Fprintf(&b, "\n[previous attempts: %d]", wp.PreviousAttempts)
	}

	if len(wp.Constraints) > 0 {
		b.WriteString("\n\n[constraints]")
		for _, c := range wp.Constraints {
			fmt.Fprintf(&b, "\n- %s", c)
		}
	}

	if len(wp.FailureSignals) > 0 {
		b.WriteString("\n\n[failure signals]")
		for _, sig := range wp.FailureSignals {
			fmt.Fprintf(&b, "\n- (%s) %s", sig.Category, sig.Message)
			if sig.File != "" {
				fmt.Fprintf(&b, " [%s:%d]", sig.File, sig.Line)
			}
			if sig.Code != "" {
				fmt.Fprintf(&b, " code=%s", sig.Code)
			}
		}
	}

	if len(wp.ValidatorFeedback) > 0 {
		b.WriteString("\n\n[validator feedback]")
		for _, fb := range wp.ValidatorFeedback {
			fmt.Fprintf(&b, "\n- (%s) %s", fb.IssueType, fb.Description)
			if fb.File != "" {
				fmt.Fprintf(&b, " [%s:%d-%d]", fb.File, fb.LineStart, fb.LineEnd)
			}
			if fb.SuggestedFix != "" {
				fmt.Fprintf(&b, " suggested_fix=%q", fb.SuggestedFix)
			}
			if fb.SourceModel != "" {
				fmt.Fprintf(&b, " source=%s", fb.SourceModel)
			}
		}
	}

	if len(wp.FileContexts) > 0 {
		b.WriteString("\n\n[file contexts]")
		for _, fc := range wp.FileContexts {
			fmt.Fprintf(&b, "\n--- %s (lines %d-%d) ---\n%s", fc.Path, fc.StartLine, fc.EndLine, fc.Content)
		}
	}

	if wp.InlineFile != nil {
		fmt.Fprintf(&b, "\n\n[target file: %s]\n%s", wp.InlineFile.Path, wp.InlineFile.Content)
	}

	if len(wp.FilesTouched) > 0 {
		fmt.Fprintf(&b, "\n\n[files touched so far: %s]", strings.Join(wp.FilesTouched, ", "))
	}

	if len(wp.ErrorHistory) > 0 {
		counts := make([]string, len(wp.ErrorHistory))
		for i, c := range wp.ErrorHistory {
			counts[i] = fmt.Sprintf("%d", c)
		}
		fmt.Fprintf(&b, "\n[error count history: %s]", strings.Join(counts, " -> "))
	}

	return b.String()
}

// workspaceRoller adapts WorkspaceOps to regression.WorkspaceRoller.
type workspaceRoller struct {
	ws WorkspaceOps
}

func (w workspaceRoller) RollbackTo(ctx context.Context, issueID, commit string) error {
	return w.ws.RollbackTo(ctx, issueID, commit)
}
