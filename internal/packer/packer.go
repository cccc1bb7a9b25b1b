// Package packer assembles tier-sized work packets from an issue,
// touched files, verifier failure signals, and staged validator
// feedback from the previous iteration.
package packer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

const (
	maxRetryFileContexts = 5
	contextLinesAround   = 10
	compactPromptMaxLen  = 1500
	inlineFileMaxBytes   = 4000
)

// FileReader reads file content from a workspace, for centering
// contexts on error lines.
type FileReader interface {
	ReadLines(path string) ([]string, error)
}

// Packer builds WorkPackets. It owns the caller-staged validator
// feedback buffer: once injected into a packet, the buffer is cleared,
// matching the "feedback cleared exactly once, at packet-build time"
// requirement.
type Packer struct {
	files          FileReader
	stagedFeedback []swarmtypes.ValidatorFeedback
	modifyCounts   map[string]int
}

// New builds a Packer reading file contexts through files.
func New(files FileReader) *Packer {
	return &Packer{files: files, modifyCounts: map[string]int{}}
}

// StageFeedback appends validator feedback to be injected into the
// next packet built.
func (p *Packer) StageFeedback(fb []swarmtypes.ValidatorFeedback) {
	p.stagedFeedback = append(p.stagedFeedback, fb...)
}

// RecordModified increments the most-frequently-modified tracker for
// path, consulted when building retry packets.
func (p *Packer) RecordModified(path string) {
	p.modifyCounts[path]++
}

// PackInitial builds the first iteration's packet: no error history,
// no file contexts yet.
func (p *Packer) PackInitial(issue swarmtypes.Issue, branch, checkpoint string, tier swarmtypes.Tier) swarmtypes.WorkPacket {
	wp := swarmtypes.WorkPacket{
		IssueID:          issue.ID,
		Branch:           branch,
		CheckpointCommit: checkpoint,
		Objective:        buildObjective(issue),
		Iteration:        1,
		TargetTier:       tier,
	}
	p.applyTierShape(&wp)
	return wp
}

// PackRetry builds a subsequent iteration's packet from escalation
// state and the previous verifier report, injecting any staged
// validator feedback and clearing the buffer.
func (p *Packer) PackRetry(issue swarmtypes.Issue, branch, checkpoint string, state *swarmtypes.EscalationState, lastReport *swarmtypes.VerifierReport, tier swarmtypes.Tier, escalationReason string) swarmtypes.WorkPacket {
	wp := swarmtypes.WorkPacket{
		IssueID:          issue.ID,
		Branch:           branch,
		CheckpointCommit: checkpoint,
		Objective:        buildObjective(issue),
		Iteration:        state.TotalIterations + 1,
		TargetTier:       tier,
		EscalationReason: escalationReason,
		PreviousAttempts: state.TotalIterations,
	}

	if lastReport != nil {
		wp.FailureSignals = lastReport.FailureSignals
		wp.FileContexts = p.buildFileContexts(lastReport.FailureSignals)
	}

	wp.FilesTouched = p.topModifiedFiles(5)

	for _, rec := range state.IterationHistory {
		wp.ErrorHistory = append(wp.ErrorHistory, rec.ErrorCount)
	}

	if len(p.stagedFeedback) > 0 {
		wp.ValidatorFeedback = p.stagedFeedback
		p.stagedFeedback = nil
	}

	p.applyTierShape(&wp)
	return wp
}

func buildObjective(issue swarmtypes.Issue) string {
	return fmt.Sprintf("%s\n\n%s", issue.Title, issue.Description)
}

// buildFileContexts centers up to maxRetryFileContexts excerpts on
// the signals' file:line locations, +/-10 lines.
func (p *Packer) buildFileContexts(signals []swarmtypes.Signal) []swarmtypes.FileContext {
	var out []swarmtypes.FileContext
	seen := map[string]bool{}
	for _, sig := range signals {
		if sig.File == "" || seen[fmt.Sprintf("%s:%d", sig.File, sig.Line)] {
			continue
		}
		if len(out) >= maxRetryFileContexts {
			break
		}
		seen[fmt.Sprintf("%s:%d", sig.File, sig.Line)] = true

		if p.files == nil {
			continue
		}
		lines, err := p.files.ReadLines(sig.File)
		if err != nil {
			continue
		}
		start := sig.Line - contextLinesAround
		if start < 1 {
			start = 1
		}
		end := sig.Line + contextLinesAround
		if end > len(lines) {
			end = len(lines)
		}
		if start > end || start < 1 {
			continue
		}
		out = append(out, swarmtypes.FileContext{
			Path:      sig.File,
			StartLine: start,
			EndLine:   end,
			Content:   strings.Join(lines[start-1:end], "\n"),
		})
	}
	return out
}

func (p *Packer) topModifiedFiles(n int) []string {
	type kv struct {
		path  string
		count int
	}
	var all []kv
	for path, count := range p.modifyCounts {
		all = append(all, kv{path, count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].path < all[j].path
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.path
	}
	return out
}

// applyTierShape enforces the compact-vs-verbose prompt rule: Worker
// tier gets a short prompt with one inlined target file; higher tiers
// keep the full structured packet.
func (p *Packer) applyTierShape(wp *swarmtypes.WorkPacket) {
	if wp.TargetTier != swarmtypes.TierWorker {
		return
	}
	if len(wp.Objective) > compactPromptMaxLen {
		wp.Objective = wp.Objective[:compactPromptMaxLen]
	}
	if len(wp.FileContexts) > 0 && wp.InlineFile == nil {
		target := wp.FileContexts[0]
		if len(target.Content) > inlineFileMaxBytes {
			target.Content = target.Content[:inlineFileMaxBytes]
		}
		wp.InlineFile = &target
	}
}
