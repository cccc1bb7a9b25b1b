// Package escalation is the per-iteration state machine deciding
// retry/escalate/stuck: it records each iteration into the escalation
// state, then decides whether to stay on the current tier, promote to
// a higher one, or declare the issue stuck. The decision table follows
// the same ordered-transition-rule style this codebase uses for its
// build lifecycle state machine, generalized from a single linear FSM
// to the Worker<Council<Human tier ladder.
package escalation

import (
	"github.com/swarmrepair/core/internal/swarmtypes"
)

// Config bounds the engine's stuck/escalate decisions.
type Config struct {
	NoChangeThreshold int // consecutive_no_change >= this => stuck
	RepeatedErrorWindow int // same top-3 categories repeated this many times, no progress => stuck/escalate
	TierBudgets       map[swarmtypes.Tier]swarmtypes.TierBudget
}

// Engine drives one issue's escalation state.
type Engine struct {
	cfg Config
}

// New builds an Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// RecordIteration appends one iteration's outcome to the state's
// history. progress_made is defined, per this implementation's choice
// of the open question, as a strict reduction in error count against
// the immediately preceding recorded iteration; the first recorded
// iteration has no predecessor and records no progress. No
// complexity-based refinement is attempted, since VerifierReport
// carries no reliable complexity signal. A recorded iteration is one
// that produced a commit, so it resets the consecutive-no-change
// counter.
func (e *Engine) RecordIteration(state *swarmtypes.EscalationState, categories []swarmtypes.Category, errorCount int) {
	progress := false
	if n := len(state.IterationHistory); n > 0 {
		progress = errorCount < state.IterationHistory[n-1].ErrorCount
	}

	state.TotalIterations++
	state.IterationHistory = append(state.IterationHistory, swarmtypes.IterationRecord{
		IterationNumber: state.TotalIterations,
		ErrorCategories: categories,
		ErrorCount:      errorCount,
		ProgressMade:    progress,
	})

	state.RecentErrorCategories = append(state.RecentErrorCategories, categories)
	state.ConsecutiveNoChange = 0

	if tc := state.TierConsumption[state.CurrentTier]; tc != nil {
		tc.IterationsUsed++
	}
}

// RecordConsultation bumps the current tier's consultation counter —
// called once per iteration that actually fans out to the cloud
// reviewers, so a tier's TierBudget.MaxConsultations bounds how many
// advisory review rounds it can burn before the engine forces
// escalation.
func (e *Engine) RecordConsultation(state *swarmtypes.EscalationState) {
	if tc := state.TierConsumption[state.CurrentTier]; tc != nil {
		tc.ConsultationsUsed++
	}
}

// RecordNoChange bumps the consecutive-no-change counter for an
// iteration whose staged commit produced an empty diff. Callers invoke
// this instead of RecordIteration when no commit landed.
func (e *Engine) RecordNoChange(state *swarmtypes.EscalationState) {
	state.ConsecutiveNoChange++
}

// Decision is the engine's verdict for the next iteration.
type Decision struct {
	TargetTier swarmtypes.Tier
	Escalated  bool
	Stuck      bool
	Reason     swarmtypes.EscalationReason
	Detail     string
}

// Decide applies the stuck/escalate/continue rules against the
// current state.
func (e *Engine) Decide(state *swarmtypes.EscalationState) Decision {
	if reason, detail, stuck := e.checkStuck(state); stuck {
		return Decision{TargetTier: state.CurrentTier, Stuck: true, Reason: reason, Detail: detail}
	}

	if reason, ok := e.checkEscalate(state); ok {
		next := nextTier(state.CurrentTier)
		return Decision{TargetTier: next, Escalated: true, Reason: reason}
	}

	return Decision{TargetTier: state.CurrentTier}
}

func (e *Engine) checkStuck(state *swarmtypes.EscalationState) (swarmtypes.EscalationReason, string, bool) {
	if state.ConsecutiveNoChange >= e.cfg.NoChangeThreshold {
		return "", "consecutive_no_change threshold reached", true
	}

	if state.CurrentTier == swarmtypes.TierHuman {
		if budget, ok := e.cfg.TierBudgets[swarmtypes.TierHuman]; ok {
			if tc := state.TierConsumption[swarmtypes.TierHuman]; tc != nil && budget.MaxIterations > 0 && tc.IterationsUsed >= budget.MaxIterations {
				return "", "highest tier budget exhausted", true
			}
		}
	}

	if e.repeatedErrorsNoProgress(state) {
		return "", "same top error categories repeated with no progress", true
	}

	return "", "", false
}

func (e *Engine) checkEscalate(state *swarmtypes.EscalationState) (swarmtypes.EscalationReason, bool) {
	if state.CurrentTier == swarmtypes.TierHuman {
		return "", false // nothing higher to escalate to
	}

	if budget, ok := e.cfg.TierBudgets[state.CurrentTier]; ok {
		tc := state.TierConsumption[state.CurrentTier]
		if tc != nil && budget.MaxIterations > 0 && tc.IterationsUsed >= budget.MaxIterations {
			return swarmtypes.ReasonNoProgress, true
		}
		if tc != nil && budget.MaxConsultations > 0 && tc.ConsultationsUsed >= budget.MaxConsultations {
			return swarmtypes.ReasonNoProgress, true
		}
	}

	if e.cfg.RepeatedErrorWindow > 0 && sameTopCategoriesRepeated(state, e.cfg.RepeatedErrorWindow) {
		return swarmtypes.ReasonRepeatedErrors, true
	}

	if n := len(state.IterationHistory); n >= 2 {
		last := state.IterationHistory[n-1]
		prev := state.IterationHistory[n-2]
		if !last.ProgressMade && !prev.ProgressMade {
			return swarmtypes.ReasonNoProgress, true
		}
	}

	return "", false
}

// repeatedErrorsNoProgress checks whether the same top-3 error
// categories have repeated for the configured window with no
// progress, but the engine is already at the highest tier (otherwise
// checkEscalate's RepeatedErrors path handles promotion instead).
func (e *Engine) repeatedErrorsNoProgress(state *swarmtypes.EscalationState) bool {
	window := e.cfg.RepeatedErrorWindow
	if window <= 0 || state.CurrentTier != swarmtypes.TierHuman {
		return false
	}
	return sameTopCategoriesRepeated(state, window)
}

func sameTopCategoriesRepeated(state *swarmtypes.EscalationState, window int) bool {
	n := len(state.RecentErrorCategories)
	if n < window {
		return false
	}
	recent := state.RecentErrorCategories[n-window:]
	first := top3(recent[0])
	for _, cats := range recent[1:] {
		if !sameSet(first, top3(cats)) {
			return false
		}
	}
	for i := n - window; i < n; i++ {
		if state.IterationHistory[i].ProgressMade {
			return false
		}
	}
	return true
}

func top3(cats []swarmtypes.Category) []swarmtypes.Category {
	if len(cats) > 3 {
		return cats[:3]
	}
	return cats
}

func sameSet(a, b []swarmtypes.Category) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[swarmtypes.Category]bool, len(a))
	for _, c := range a {
		seen[c] = true
	}
	for _, c := range b {
		if !seen[c] {
			return false
		}
	}
	return true
}

func nextTier(t swarmtypes.Tier) swarmtypes.Tier {
	if t < swarmtypes.TierHuman {
		return t + 1
	}
	return t
}

// Apply assigns the decision's target tier to state, appending an
// EscalationEvent if the decision escalated.
func Apply(state *swarmtypes.EscalationState, d Decision) {
	if d.Escalated {
		state.EscalationHistory = append(state.EscalationHistory, swarmtypes.EscalationEvent{
			FromTier: state.CurrentTier,
			ToTier:   d.TargetTier,
			Reason:   d.Reason,
			Detail:   d.Detail,
			AtIter:   state.TotalIterations,
		})
	}
	state.CurrentTier = d.TargetTier
}
