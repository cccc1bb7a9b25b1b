// Package validatorloop runs the local (blocking) reviewer gate and
// the optional cloud (advisory) reviewer fan-out, converting their
// verdicts into the ValidatorFeedback the next iteration's packet
// consumes. The local/retry-feedback shape follows the same
// RetryContext/CorrectionHints idiom this codebase uses elsewhere to
// thread prior-attempt context into a retried step.
package validatorloop

import (
	"context"
	"strings"
	"sync"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/obslog"
	"github.com/swarmrepair/core/internal/swarmtypes"
)

const maxDiffBytes = 32 * 1024

// TruncateDiff caps diff at maxDiffBytes on a valid rune boundary.
func TruncateDiff(diff string) string {
	if len(diff) <= maxDiffBytes {
		return diff
	}
	cut := maxDiffBytes
	for cut > 0 && !isRuneStart(diff[cut]) {
		cut--
	}
	return diff[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Loop runs local + cloud validators for one iteration.
type Loop struct {
	local               capability.EvalClient
	cloud               []capability.EvalClient
	maxValidatorFailures int
	consecutiveFailures int
}

// New builds a Loop. local may be nil to disable the blocking gate
// entirely (SWARM_LOCAL_VALIDATOR_ENABLED=false).
func New(local capability.EvalClient, cloud []capability.EvalClient, maxValidatorFailures int) *Loop {
	return &Loop{local: local, cloud: cloud, maxValidatorFailures: maxValidatorFailures}
}

// CloudCount reports how many cloud reviewers are configured, for the
// acceptance policy's quorum check.
func (l *Loop) CloudCount() int {
	return len(l.cloud)
}

// LocalOutcome is the blocking gate's result for one iteration.
type LocalOutcome struct {
	Verdict  *capability.ReviewVerdict
	Passed   bool
	Relaxed  bool // gate was relaxed after max_validator_failures consecutive fails
	Snapshot *swarmtypes.EvaluatorSnapshot
}

// RunLocal evaluates the blocking local reviewer. Fail-closed on an
// invalid schema (handled by the EvalClient returning an error we
// treat as reject), fail-open on infrastructure errors (ctx deadline,
// transport) — those pass with Relaxed=false but a logged note, since
// the review genuinely could not run rather than having run and
// failed.
func (l *Loop) RunLocal(ctx context.Context, diff, prompt string) LocalOutcome {
	if l.local == nil {
		return LocalOutcome{Passed: true}
	}

	verdict, err := l.local.Review(ctx, TruncateDiff(diff), prompt)
	if err != nil {
		if ctx.Err() != nil || isTransportError(err) {
			obslog.S().Warnw("validatorloop: local reviewer infra error, failing open", "err", err)
			l.consecutiveFailures = 0
			return LocalOutcome{Passed: true}
		}
		// Schema/contract violation: fail-closed, but count toward the
		// deadlock-prevention relaxation.
		l.consecutiveFailures++
		if l.consecutiveFailures >= l.maxValidatorFailures {
			obslog.S().Warnw("validatorloop: max consecutive validator failures reached, relaxing gate", "count", l.consecutiveFailures)
			l.consecutiveFailures = 0
			return LocalOutcome{Passed: true, Relaxed: true}
		}
		return LocalOutcome{Passed: false}
	}

	l.consecutiveFailures = 0
	snapshot := &swarmtypes.EvaluatorSnapshot{
		SourceModel: l.local.Name(),
		Verdict:     verdict.Verdict,
		Confidence:  verdict.Confidence,
		Blocking:    len(verdict.BlockingIssues),
	}
	passed := verdict.Verdict == "pass"
	return LocalOutcome{Verdict: verdict, Passed: passed, Snapshot: snapshot}
}

func isTransportError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "connection refused", "reset by peer", "broken pipe", "502", "503", "429"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RunCloud fans out to every configured cloud reviewer concurrently
// and joins all results before returning — cloud validation never
// gates acceptance, only feeds ValidatorFeedback for the next
// iteration.
func (l *Loop) RunCloud(ctx context.Context, diff, prompt string) []swarmtypes.ValidatorFeedback {
	if len(l.cloud) == 0 {
		return nil
	}
	truncated := TruncateDiff(diff)

	var mu sync.Mutex
	var feedback []swarmtypes.ValidatorFeedback
	var wg sync.WaitGroup

	for _, client := range l.cloud {
		wg.Add(1)
		go func(c capability.EvalClient) {
			defer wg.Done()
			verdict, err := c.Review(ctx, truncated, prompt)
			if err != nil {
				obslog.S().Warnw("validatorloop: cloud reviewer failed, ignoring", "model", c.Name(), "err", err)
				return
			}
			if verdict.Verdict != "fail" {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, issue := range verdict.BlockingIssues {
				feedback = append(feedback, swarmtypes.ValidatorFeedback{
					IssueType:   classify(issue),
					Description: issue,
					SourceModel: c.Name(),
				})
			}
		}(client)
	}
	wg.Wait()
	return feedback
}

// classifyKeywords maps ValidatorIssueType to marker phrases likely to
// appear in a reviewer's free-text blocking-issue description.
var classifyKeywords = map[swarmtypes.ValidatorIssueType][]string{
	swarmtypes.IssueMissingSafetyCheck: {"nil check", "null check", "error handling", "bounds check", "none"},
	swarmtypes.IssueUnhandledEdgeCase:  {"edge case", "empty input", "zero", "overflow"},
	swarmtypes.IssueLogicError:         {"incorrect logic", "wrong result", "off by one", "logic error"},
	swarmtypes.IssueStyleViolation:     {"style", "naming", "formatting", "convention"},
	swarmtypes.IssueIncorrectBehavior:  {"does not match", "unexpected behavior", "wrong output"},
}

// BuildFeedback converts a reviewer's free-text blocking issues into
// structured ValidatorFeedback, classifying each description the same
// way RunCloud does. Used to stage the local (blocking) reviewer's
// fail-closed verdict for the next retry packet.
func BuildFeedback(issues []string, sourceModel string) []swarmtypes.ValidatorFeedback {
	feedback := make([]swarmtypes.ValidatorFeedback, 0, len(issues))
	for _, issue := range issues {
		feedback = append(feedback, swarmtypes.ValidatorFeedback{
			IssueType:   classify(issue),
			Description: issue,
			SourceModel: sourceModel,
		})
	}
	return feedback
}

func classify(description string) swarmtypes.ValidatorIssueType {
	lower := strings.ToLower(description)
	for t, keywords := range classifyKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return t
			}
		}
	}
	return swarmtypes.IssueOther
}
