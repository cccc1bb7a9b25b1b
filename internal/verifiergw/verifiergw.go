// Package verifiergw is the reference Verifier capability
// implementation: it runs an ordered set of Gates against a workspace
// and normalizes their stderr into categorized failure signals.
// RunPipeline hands cfg.Packages to the gates as given (empty means the
// whole workspace); ComputeScope derives a package list from changed
// files, and RunPipeline does not call it.
package verifiergw

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

// Gate is a single check within the verifier pipeline (format, lint,
// type check, test...). Implementations shell out to the appropriate
// tool and report pass/fail plus a raw stderr excerpt for
// categorization.
type Gate interface {
	Name() string
	Run(ctx context.Context, workDir string, packages []string) (passed bool, stderr string, err error)
}

// Gateway runs an ordered gate pipeline and assembles a VerifierReport.
type Gateway struct {
	gates []Gate
}

// New builds a Gateway running gates in the given order.
func New(gates ...Gate) *Gateway {
	return &Gateway{gates: gates}
}

var _ capability.Verifier = (*Gateway)(nil)

// RunPipeline executes every gate against workDir (or the configured
// package scope), stopping to record — but not halting on — gate
// failures, and returns the aggregated report.
func (g *Gateway) RunPipeline(ctx context.Context, workspaceDir string, cfg capability.GateConfig) (*swarmtypes.VerifierReport, error) {
	packages := cfg.Packages
	report := &swarmtypes.VerifierReport{AllGreen: true}

	for _, gate := range g.gates {
		start := time.Now()
		passed, stderr, err := gate.Run(ctx, workspaceDir, packages)
		duration := time.Since(start)

		outcome := swarmtypes.GatePassed
		if err != nil || !passed {
			outcome = swarmtypes.GateFailed
			report.AllGreen = false
		}
		result := swarmtypes.GateResult{
			Name:          gate.Name(),
			Outcome:       outcome,
			DurationMs:    duration.Milliseconds(),
			StderrExcerpt: truncate(stderr, 2000),
		}
		report.Gates = append(report.Gates, result)

		if outcome == swarmtypes.GateFailed {
			report.FailureSignals = append(report.FailureSignals, categorize(gate.Name(), stderr)...)
		}
	}
	return report, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ComputeScope walks each of changedFiles (paths relative to
// workspaceDir) to its nearest package manifest directory and returns
// the distinct directories found. An empty result means "full workspace".
func ComputeScope(workspaceDir string, changedFiles []string, manifestNames []string) []string {
	seen := map[string]bool{}
	var packages []string
	for _, f := range changedFiles {
		dir := filepath.Dir(f)
		for dir != "." && dir != "/" && dir != "" {
			found := false
			for _, manifest := range manifestNames {
				candidate := filepath.Join(workspaceDir, dir, manifest)
				if _, err := os.Stat(candidate); err == nil {
					found = true
					break
				}
			}
			if found {
				if !seen[dir] {
					seen[dir] = true
					packages = append(packages, dir)
				}
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return packages
}

// --- category extraction ---

// categoryKeywords maps the closed category set to keyword markers
// commonly seen in compiler/linter stderr, mirroring the teacher's
// keyword-scoring idiom used for capability detection.
var categoryKeywords = map[swarmtypes.Category][]string{
	swarmtypes.CategoryBorrowChecker:    {"borrow", "cannot borrow", "E0502", "E0499"},
	swarmtypes.CategoryLifetime:         {"lifetime", "does not live long enough", "E0621"},
	swarmtypes.CategoryTraitBound:       {"trait bound", "is not satisfied", "E0277"},
	swarmtypes.CategoryAsync:            {"async", "future", "await"},
	swarmtypes.CategoryTypeMismatch:     {"type mismatch", "expected type", "cannot use", "mismatched types"},
	swarmtypes.CategoryImportResolution: {"undefined:", "cannot find package", "no such file or directory", "unresolved import", "module not found"},
	swarmtypes.CategoryMacro:            {"macro", "proc-macro"},
	swarmtypes.CategorySyntax:           {"syntax error", "unexpected token", "expected ';'", "parse error"},
}

// categorize extracts per-line failure signals from stderr, falling
// back to CategoryOther for unrecognized lines.
func categorize(gateName, stderr string) []swarmtypes.Signal {
	var signals []swarmtypes.Signal
	lower := strings.ToLower(stderr)
	for _, line := range strings.Split(stderr, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cat := swarmtypes.CategoryOther
		lowerLine := strings.ToLower(line)
		for c, keywords := range categoryKeywords {
			for _, kw := range keywords {
				if strings.Contains(lowerLine, strings.ToLower(kw)) {
					cat = c
					break
				}
			}
			if cat != swarmtypes.CategoryOther {
				break
			}
		}
		signals = append(signals, swarmtypes.Signal{
			Category: cat,
			Message:  strings.TrimSpace(line),
		})
	}
	if len(signals) == 0 && strings.TrimSpace(stderr) != "" {
		cat := swarmtypes.CategoryOther
		for c, keywords := range categoryKeywords {
			for _, kw := range keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					cat = c
				}
			}
		}
		signals = append(signals, swarmtypes.Signal{Category: cat, Message: strings.TrimSpace(stderr)})
	}
	return signals
}

// --- a small set of concrete Gates, grounded on the same
// exec.CommandContext + CombinedOutput idiom used throughout this
// codebase for subprocess-backed checks. ---

// CommandGate runs an arbitrary command and treats a non-zero exit as
// failure, with its combined output as the stderr excerpt.
type CommandGate struct {
	GateName string
	Command  string
	Args     []string
}

func (c CommandGate) Name() string { return c.GateName }

func (c CommandGate) Run(ctx context.Context, workDir string, packages []string) (bool, string, error) {
	args := c.Args
	if len(packages) > 0 {
		args = append(append([]string{}, c.Args...), packages...)
	}
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, out.String(), nil
		}
		return false, out.String(), fmt.Errorf("verifiergw: spawn %s: %w", c.Command, err)
	}
	return true, out.String(), nil
}
