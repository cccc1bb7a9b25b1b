// Package acceptance applies the post-gate policy layer: given that
// deterministic gates and the local validator have already passed, it
// decides whether an iteration's diff is actually worth keeping.
package acceptance

// RejectionReason names why an iteration failed acceptance.
type RejectionReason string

const (
	RejectDiffTooSmall   RejectionReason = "diff_below_min_lines"
	RejectCloudQuorum    RejectionReason = "cloud_quorum_violated"
)

// Policy configures the acceptance checks.
type Policy struct {
	MinDiffLines        int
	CloudQuorumRequired int // 0 = purely advisory, never rejects on quorum
}

// Input carries everything the policy needs to judge one iteration.
type Input struct {
	AutoFixApplied   bool
	AgentDiffLines   int
	CloudPassCount   int
	CloudTotalCount  int
}

// Result is the acceptance verdict.
type Result struct {
	Accepted   bool
	Rejections []RejectionReason
}

// Check applies the acceptance policy to one iteration.
func (p Policy) Check(in Input) Result {
	var rejections []RejectionReason

	if in.AutoFixApplied && p.MinDiffLines > 0 && in.AgentDiffLines < p.MinDiffLines {
		rejections = append(rejections, RejectDiffTooSmall)
	}

	if p.CloudQuorumRequired > 0 && in.CloudTotalCount > 0 && in.CloudPassCount < p.CloudQuorumRequired {
		rejections = append(rejections, RejectCloudQuorum)
	}

	return Result{Accepted: len(rejections) == 0, Rejections: rejections}
}
