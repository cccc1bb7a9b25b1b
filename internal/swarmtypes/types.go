// Package swarmtypes holds the data model shared across every
// swarmrepair subsystem: issues, the tier ladder, escalation state,
// work packets, validator feedback, verifier reports, session state,
// and execution artifacts.
package swarmtypes

import "time"

// Issue is supplied by the external tracker and is immutable during a
// session.
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Tier is a level in the escalation ladder. Ordered: Worker < Council
// < Human.
type Tier int

const (
	TierWorker Tier = iota
	TierCouncil
	TierHuman
)

func (t Tier) String() string {
	switch t {
	case TierWorker:
		return "worker"
	case TierCouncil:
		return "council"
	case TierHuman:
		return "human"
	default:
		return "unknown"
	}
}

// ParseTier maps a configuration string to a Tier, defaulting to
// TierWorker for anything unrecognized.
func ParseTier(s string) Tier {
	switch s {
	case "council":
		return TierCouncil
	case "human":
		return TierHuman
	default:
		return TierWorker
	}
}

// TurnPolicy bounds one agent invocation at a given tier.
type TurnPolicy struct {
	Timeout  time.Duration
	MaxTurns int
}

// TierBudget bounds total consumption of a tier across a session.
type TierBudget struct {
	MaxIterations    int
	MaxConsultations int
}

// Category is a normalized, closed-set error classification extracted
// from verifier gate output.
type Category string

const (
	CategoryBorrowChecker    Category = "BorrowChecker"
	CategoryLifetime         Category = "Lifetime"
	CategoryTraitBound       Category = "TraitBound"
	CategoryAsync            Category = "Async"
	CategoryTypeMismatch     Category = "TypeMismatch"
	CategoryImportResolution Category = "ImportResolution"
	CategoryMacro            Category = "Macro"
	CategorySyntax           Category = "Syntax"
	CategoryOther            Category = "Other"
)

// IterationRecord is one entry in EscalationState.IterationHistory.
type IterationRecord struct {
	IterationNumber int        `json:"iteration_number"`
	ErrorCategories []Category `json:"error_categories"`
	ErrorCount      int        `json:"error_count"`
	ProgressMade    bool       `json:"progress_made"`
}

// EscalationReason names why the engine chose a strictly higher tier.
type EscalationReason string

const (
	ReasonNoProgress     EscalationReason = "NoProgress"
	ReasonExplicit       EscalationReason = "Explicit"
	ReasonRepeatedErrors EscalationReason = "RepeatedErrors"
	ReasonSparseContext  EscalationReason = "SparseContext"
)

// EscalationEvent records one tier promotion.
type EscalationEvent struct {
	FromTier  Tier             `json:"from_tier"`
	ToTier    Tier             `json:"to_tier"`
	Reason    EscalationReason `json:"reason"`
	Detail    string           `json:"detail,omitempty"`
	AtIter    int              `json:"at_iteration"`
}

// TierConsumption tracks how much of a tier's budget has been spent.
type TierConsumption struct {
	IterationsUsed   int `json:"iterations_used"`
	ConsultationsUsed int `json:"consultations_used"`
}

// EscalationState is the per-issue, mutable escalation record.
type EscalationState struct {
	CurrentTier            Tier                      `json:"current_tier"`
	InitialTier            Tier                      `json:"initial_tier"`
	TotalIterations         int                       `json:"total_iterations"`
	IterationHistory        []IterationRecord         `json:"iteration_history"`
	EscalationHistory       []EscalationEvent         `json:"escalation_history"`
	ConsecutiveNoChange     int                       `json:"consecutive_no_change"`
	RecentErrorCategories   [][]Category              `json:"recent_error_categories"`
	TierConsumption         map[Tier]*TierConsumption `json:"tier_consumption"`
}

// NewEscalationState builds an EscalationState starting at initial.
func NewEscalationState(initial Tier) *EscalationState {
	return &EscalationState{
		CurrentTier: initial,
		InitialTier: initial,
		TierConsumption: map[Tier]*TierConsumption{
			TierWorker:  {},
			TierCouncil: {},
			TierHuman:   {},
		},
	}
}

// Invariant checks the EscalationState invariants named in spec: total
// iterations equal history length, current tier never below initial,
// and consecutive-no-change at or below the configured circuit-breaker
// threshold. It does not enforce them — callers use it to assert in
// tests.
func (s *EscalationState) Invariant(maxConsecutiveNoChange int) bool {
	return s.TotalIterations == len(s.IterationHistory) &&
		s.CurrentTier >= s.InitialTier &&
		s.ConsecutiveNoChange <= maxConsecutiveNoChange
}

// FileContext is a file excerpt centered on an error location.
type FileContext struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
}

// Signal is a normalized, categorized error extracted from gate
// output.
type Signal struct {
	Category Category `json:"category"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// ValidatorIssueType classifies one blocking issue raised by a
// reviewer.
type ValidatorIssueType string

const (
	IssueLogicError          ValidatorIssueType = "LogicError"
	IssueMissingSafetyCheck  ValidatorIssueType = "MissingSafetyCheck"
	IssueUnhandledEdgeCase   ValidatorIssueType = "UnhandledEdgeCase"
	IssueStyleViolation      ValidatorIssueType = "StyleViolation"
	IssueIncorrectBehavior   ValidatorIssueType = "IncorrectBehavior"
	IssueOther               ValidatorIssueType = "Other"
)

// ValidatorFeedback is produced by validators and consumed by the
// next iteration's packet.
type ValidatorFeedback struct {
	File          string             `json:"file,omitempty"`
	LineStart     int                `json:"line_start,omitempty"`
	LineEnd       int                `json:"line_end,omitempty"`
	IssueType     ValidatorIssueType `json:"issue_type"`
	Description   string             `json:"description"`
	SuggestedFix  string             `json:"suggested_fix,omitempty"`
	SourceModel   string             `json:"source_model,omitempty"`
}

// WorkPacket is the tier-sized context bundle handed to an agent for
// one iteration. Immutable once built.
type WorkPacket struct {
	IssueID           string              `json:"issue_id"`
	Branch            string              `json:"branch"`
	CheckpointCommit  string              `json:"checkpoint_commit"`
	Objective         string              `json:"objective"`
	FilesTouched      []string            `json:"files_touched"`
	KeySymbols        []string            `json:"key_symbols,omitempty"`
	FileContexts      []FileContext       `json:"file_contexts"`
	FailureSignals    []Signal            `json:"failure_signals"`
	Constraints       []string            `json:"constraints,omitempty"`
	Iteration         int                 `json:"iteration"`
	TargetTier        Tier                `json:"target_tier"`
	EscalationReason  string              `json:"escalation_reason,omitempty"`
	ErrorHistory      []int               `json:"error_history,omitempty"`
	PreviousAttempts  int                 `json:"previous_attempts"`
	ValidatorFeedback []ValidatorFeedback `json:"validator_feedback,omitempty"`
	MaxPatchLOC       int                 `json:"max_patch_loc,omitempty"`
	InlineFile        *FileContext        `json:"inline_file,omitempty"`
}

// Sparse reports whether the packet lacks file contexts, touched
// files, and failure signals — the condition that triggers tier
// promotion before the agent is invoked.
func (p *WorkPacket) Sparse() bool {
	return len(p.FileContexts) == 0 && len(p.FilesTouched) == 0 && len(p.FailureSignals) == 0
}

// GateOutcome is the result of a single verifier gate.
type GateOutcome string

const (
	GatePassed  GateOutcome = "Passed"
	GateFailed  GateOutcome = "Failed"
	GateSkipped GateOutcome = "Skipped"
)

// GateResult is the outcome of one gate within the pipeline.
type GateResult struct {
	Name          string        `json:"name"`
	Outcome       GateOutcome   `json:"outcome"`
	DurationMs    int64         `json:"duration_ms"`
	StderrExcerpt string        `json:"stderr_excerpt,omitempty"`
}

// VerifierReport is the structured outcome of one full gate-pipeline
// run.
type VerifierReport struct {
	AllGreen       bool         `json:"all_green"`
	Gates          []GateResult `json:"gates"`
	FailureSignals []Signal     `json:"failure_signals"`
}

// UniqueErrorCategories returns the deduplicated set of categories
// present in FailureSignals, in first-seen order.
func (r *VerifierReport) UniqueErrorCategories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, s := range r.FailureSignals {
		if !seen[s.Category] {
			seen[s.Category] = true
			out = append(out, s.Category)
		}
	}
	return out
}

// SessionStatus is the terminal or in-flight status of a session.
type SessionStatus string

const (
	StatusActive             SessionStatus = "Active"
	StatusCompleted           SessionStatus = "Completed"
	StatusFailed              SessionStatus = "Failed"
	StatusMaxIterationsReached SessionStatus = "MaxIterationsReached"
)

// InterventionType classifies a PendingIntervention.
type InterventionType string

const (
	InterventionReviewRequired InterventionType = "ReviewRequired"
	InterventionBlocked        InterventionType = "Blocked"
)

// PendingIntervention is appended when the escalation engine reports
// stuck, or when a non-blocking review is warranted (e.g. the
// validator-failure gate relaxed).
type PendingIntervention struct {
	Type        InterventionType `json:"type"`
	Description string           `json:"description"`
	FeatureID   string           `json:"feature_id,omitempty"`
	Resolved    bool             `json:"resolved"`
}

// SessionState is persisted for resume on failure.
type SessionState struct {
	ID             string                `json:"id"`
	IssueID        string                `json:"issue_id"`
	Iteration      int                   `json:"iteration"`
	Status         SessionStatus         `json:"status"`
	InitialCommit  string                `json:"initial_commit,omitempty"`
	CurrentFeature string                `json:"current_feature,omitempty"`
	Interventions  []PendingIntervention `json:"interventions"`
}

// ResumeFile is the repo-root .swarm-resume.json schema.
type ResumeFile struct {
	Issue             Issue     `json:"issue"`
	WorkspacePath      string    `json:"workspace_path"`
	Iteration         int       `json:"iteration"`
	EscalationSummary string    `json:"escalation_summary"`
	CurrentTier       Tier      `json:"current_tier"`
	TotalIterations   int       `json:"total_iterations"`
	SavedAt           time.Time `json:"saved_at"`
}

// RetryAction names the engine's decision for one iteration's
// RetryRationale.
type RetryAction string

const (
	ActionRetry    RetryAction = "Retry"
	ActionEscalate RetryAction = "Escalate"
	ActionResolved RetryAction = "Resolved"
	ActionGiveUp   RetryAction = "GiveUp"
)

// RetryRationale is the typed execution-artifact component recording
// why the engine chose its action for one iteration.
type RetryRationale struct {
	Action              RetryAction `json:"action"`
	FromTier            Tier        `json:"from_tier,omitempty"`
	ToTier              Tier        `json:"to_tier,omitempty"`
	Reason              string      `json:"reason,omitempty"`
	ErrorCountBefore    int         `json:"error_count_before"`
	ErrorCountAfter     int         `json:"error_count_after"`
	Regression          bool        `json:"regression"`
	ConsecutiveNoChange int         `json:"consecutive_no_change"`
	BudgetRemaining     int         `json:"budget_remaining"`
}

// RouteDecision is the typed execution-artifact component recording
// the agent router's choice.
type RouteDecision struct {
	AgentID    string     `json:"agent_id"`
	InputCats  []Category `json:"input_categories"`
	RustScore  int        `json:"rust_score"`
	GeneralScore int      `json:"general_score"`
}

// VerifierSnapshot is the typed execution-artifact component capturing
// a verifier run.
type VerifierSnapshot struct {
	AllGreen   bool       `json:"all_green"`
	GateNames  []string   `json:"gate_names"`
	Categories []Category `json:"categories"`
}

// EvaluatorSnapshot is the typed execution-artifact component
// capturing one validator verdict.
type EvaluatorSnapshot struct {
	SourceModel string  `json:"source_model"`
	Verdict     string  `json:"verdict"`
	Confidence  float64 `json:"confidence"`
	Blocking    int     `json:"blocking_issue_count"`
}

// ExecutionArtifact is the per-iteration telemetry record. Every
// optional component is a pointer so an older record missing it decodes
// to nil, never an error — the forward-compatibility law from the
// testable properties.
type ExecutionArtifact struct {
	SchemaVersion    int                `json:"schema_version"`
	RouteDecision    *RouteDecision     `json:"route_decision,omitempty"`
	VerifierSnapshot *VerifierSnapshot  `json:"verifier_snapshot,omitempty"`
	EvaluatorSnapshot *EvaluatorSnapshot `json:"evaluator_snapshot,omitempty"`
	RetryRationale   *RetryRationale    `json:"retry_rationale,omitempty"`
}

// IsEmpty reports whether the artifact carries no recorded decision —
// such iterations are not written to .swarm-artifacts/.
func (a *ExecutionArtifact) IsEmpty() bool {
	return a.RouteDecision == nil && a.VerifierSnapshot == nil &&
		a.EvaluatorSnapshot == nil && a.RetryRationale == nil
}

// FileAction classifies one file-artifact record within an iteration.
type FileAction string

const (
	FileRead     FileAction = "Read"
	FileModified FileAction = "Modified"
	FileCreated  FileAction = "Created"
	FileDeleted  FileAction = "Deleted"
)

// FileArtifact records one file touched during an iteration.
type FileArtifact struct {
	Path      string     `json:"path"`
	Action    FileAction `json:"action"`
	LineStart int        `json:"line_start,omitempty"`
	LineEnd   int        `json:"line_end,omitempty"`
	SizeDelta int        `json:"size_delta,omitempty"`
}

// ValidationRun records one local or cloud validator call for
// SessionMetrics.
type ValidationRun struct {
	SourceModel string  `json:"source_model"`
	Verdict     string  `json:"verdict"`
	Confidence  float64 `json:"confidence"`
	DurationMs  int64   `json:"duration_ms"`
}

// SessionMetrics is the finalize() output: the complete telemetry
// rollup for one session.
type SessionMetrics struct {
	SessionID              string          `json:"session_id"`
	IssueID                string          `json:"issue_id"`
	Success                bool            `json:"success"`
	TotalIterations        int             `json:"total_iterations"`
	FinalTier              Tier            `json:"final_tier"`
	ElapsedMs              int64           `json:"elapsed_ms"`
	TotalNoChangeIterations int            `json:"total_no_change_iterations"`
	NoChangeRate           float64         `json:"no_change_rate"`
	CloudValidations       []ValidationRun `json:"cloud_validations"`
	LocalValidations       []ValidationRun `json:"local_validations"`
	Iterations             []IterationRecord `json:"iterations"`
	Timestamp              time.Time       `json:"timestamp"`
}
