// Package router selects which coder route (rust-specialized vs
// general) an iteration's agent invocation should take, from the
// previous iteration's error categories. Scoring follows the same
// weighted-keyword-table idiom used elsewhere in this codebase for
// classifying free-form signal into a small closed set.
package router

import "github.com/swarmrepair/core/internal/swarmtypes"

// Route is the coder route chosen for one iteration.
type Route string

const (
	RouteRust    Route = "rust"
	RouteGeneral Route = "general"
)

type weights struct {
	rust    int
	general int
}

var categoryWeights = map[swarmtypes.Category]weights{
	swarmtypes.CategoryBorrowChecker:    {rust: 3, general: 0},
	swarmtypes.CategoryLifetime:         {rust: 3, general: 0},
	swarmtypes.CategoryTraitBound:       {rust: 2, general: 0},
	swarmtypes.CategoryAsync:            {rust: 2, general: 0},
	swarmtypes.CategoryTypeMismatch:     {rust: 1, general: 0},
	swarmtypes.CategoryImportResolution: {rust: 0, general: 3},
	swarmtypes.CategoryMacro:            {rust: 0, general: 2},
	swarmtypes.CategorySyntax:           {rust: 0, general: 1},
	swarmtypes.CategoryOther:            {rust: 0, general: 1},
}

// Decide scores categories and returns the winning route plus the raw
// scores, so callers can record a RouteDecision artifact without
// recomputing.
func Decide(categories []swarmtypes.Category) (route Route, rustScore int, generalScore int) {
	if len(categories) == 0 {
		return RouteGeneral, 0, 0
	}
	for _, c := range categories {
		w := categoryWeights[c]
		rustScore += w.rust
		generalScore += w.general
	}
	if rustScore > generalScore {
		return RouteRust, rustScore, generalScore
	}
	return RouteGeneral, rustScore, generalScore
}
