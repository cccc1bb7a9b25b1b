package router

import (
	"testing"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

func TestDecideEmptyIsGeneral(t *testing.T) {
	route, rust, general := Decide(nil)
	if route != RouteGeneral || rust != 0 || general != 0 {
		t.Fatalf("empty input: got %v %d %d", route, rust, general)
	}
}

func TestDecideRustWins(t *testing.T) {
	route, rust, general := Decide([]swarmtypes.Category{swarmtypes.CategoryBorrowChecker, swarmtypes.CategoryLifetime})
	if route != RouteRust {
		t.Fatalf("expected RouteRust, got %v (rust=%d general=%d)", route, rust, general)
	}
}

func TestDecideTieGoesToGeneral(t *testing.T) {
	// TypeMismatch (+1 rust) vs Syntax (+1 general) ties at 1-1.
	route, _, _ := Decide([]swarmtypes.Category{swarmtypes.CategoryTypeMismatch, swarmtypes.CategorySyntax})
	if route != RouteGeneral {
		t.Fatalf("expected tie to favor RouteGeneral, got %v", route)
	}
}

func TestDecideInvariantMatchesScores(t *testing.T) {
	cats := []swarmtypes.Category{swarmtypes.CategoryImportResolution, swarmtypes.CategoryMacro}
	route, rust, general := Decide(cats)
	wantRust := route == RouteRust
	gotRust := rust > general
	if wantRust != gotRust {
		t.Fatalf("route/score mismatch: route=%v rust=%d general=%d", route, rust, general)
	}
}
