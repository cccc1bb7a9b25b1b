package escalation

import (
	"testing"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

func newEngine() *Engine {
	return New(Config{
		NoChangeThreshold:   3,
		RepeatedErrorWindow: 3,
		TierBudgets: map[swarmtypes.Tier]swarmtypes.TierBudget{
			swarmtypes.TierWorker:  {MaxIterations: 0},
			swarmtypes.TierCouncil: {MaxIterations: 0},
			swarmtypes.TierHuman:   {MaxIterations: 2},
		},
	})
}

func TestRecordIterationTracksProgress(t *testing.T) {
	e := newEngine()
	state := swarmtypes.NewEscalationState(swarmtypes.TierWorker)

	e.RecordIteration(state, nil, 3)
	if state.IterationHistory[0].ProgressMade {
		t.Fatal("first iteration has nothing to compare against, expected no progress")
	}

	e.RecordIteration(state, nil, 1)
	if !state.IterationHistory[1].ProgressMade {
		t.Fatal("expected progress when error count dropped")
	}
	if state.TotalIterations != len(state.IterationHistory) {
		t.Fatal("invariant violated: total_iterations != len(iteration_history)")
	}
}

func TestEscalatesOnRepeatedErrorsNoProgress(t *testing.T) {
	e := newEngine()
	state := swarmtypes.NewEscalationState(swarmtypes.TierWorker)
	cats := []swarmtypes.Category{swarmtypes.CategoryBorrowChecker, swarmtypes.CategoryLifetime}

	for i := 0; i < 3; i++ {
		e.RecordIteration(state, cats, 5)
	}

	d := e.Decide(state)
	if !d.Escalated || d.TargetTier != swarmtypes.TierCouncil {
		t.Fatalf("expected escalation to Council, got %+v", d)
	}
	if d.Reason != swarmtypes.ReasonRepeatedErrors {
		t.Fatalf("expected ReasonRepeatedErrors, got %s", d.Reason)
	}

	Apply(state, d)
	if state.CurrentTier != swarmtypes.TierCouncil {
		t.Fatal("expected current_tier updated to Council")
	}
	if len(state.EscalationHistory) != 1 {
		t.Fatalf("expected 1 escalation event, got %d", len(state.EscalationHistory))
	}
}

func TestStuckAfterNoChangeThreshold(t *testing.T) {
	e := newEngine()
	state := swarmtypes.NewEscalationState(swarmtypes.TierWorker)
	for i := 0; i < 3; i++ {
		e.RecordNoChange(state)
	}
	d := e.Decide(state)
	if !d.Stuck {
		t.Fatalf("expected stuck, got %+v", d)
	}
}

func TestTierNeverDecreases(t *testing.T) {
	e := newEngine()
	state := swarmtypes.NewEscalationState(swarmtypes.TierCouncil)
	e.RecordIteration(state, nil, 5)
	e.RecordIteration(state, nil, 5)
	d := e.Decide(state)
	Apply(state, d)
	if state.CurrentTier < swarmtypes.TierCouncil {
		t.Fatal("tier regressed below initial")
	}
}

func TestStuckAtHighestTierBudgetExhausted(t *testing.T) {
	e := newEngine()
	state := swarmtypes.NewEscalationState(swarmtypes.TierHuman)
	state.CurrentTier = swarmtypes.TierHuman
	state.TierConsumption[swarmtypes.TierHuman].IterationsUsed = 2
	d := e.Decide(state)
	if !d.Stuck {
		t.Fatalf("expected stuck when highest tier budget exhausted, got %+v", d)
	}
}
