package acceptance

import "testing"

func TestCheckAcceptsCleanIteration(t *testing.T) {
	p := Policy{MinDiffLines: 5}
	res := p.Check(Input{AutoFixApplied: false, AgentDiffLines: 1})
	if !res.Accepted {
		t.Fatalf("expected accept, got rejections %v", res.Rejections)
	}
}

func TestCheckRejectsAutoFixFalsePositive(t *testing.T) {
	p := Policy{MinDiffLines: 5}
	res := p.Check(Input{AutoFixApplied: true, AgentDiffLines: 2})
	if res.Accepted {
		t.Fatal("expected rejection for auto-fix-only small diff")
	}
	if res.Rejections[0] != RejectDiffTooSmall {
		t.Fatalf("expected RejectDiffTooSmall, got %v", res.Rejections)
	}
}

func TestCheckDisabledMinDiffNeverRejects(t *testing.T) {
	p := Policy{MinDiffLines: 0}
	res := p.Check(Input{AutoFixApplied: true, AgentDiffLines: 0})
	if !res.Accepted {
		t.Fatal("expected accept when min_diff_lines policy disabled")
	}
}

func TestCheckCloudQuorumAdvisoryByDefault(t *testing.T) {
	p := Policy{CloudQuorumRequired: 0}
	res := p.Check(Input{CloudPassCount: 0, CloudTotalCount: 3})
	if !res.Accepted {
		t.Fatal("expected accept when cloud quorum not enforced")
	}
}

func TestCheckCloudQuorumEnforcedWhenConfigured(t *testing.T) {
	p := Policy{CloudQuorumRequired: 2}
	res := p.Check(Input{CloudPassCount: 1, CloudTotalCount: 3})
	if res.Accepted {
		t.Fatal("expected rejection when cloud quorum not met")
	}
}
