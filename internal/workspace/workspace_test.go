package workspace

import "testing"

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"JIRA-1234":      "JIRA-1234",
		"../../etc/passwd": "____etc_passwd",
		".hidden":        "hidden",
		"":               "_",
		"!!!":            "___",
		"a b/c":          "a_b_c",
	}
	for in, want := range cases {
		got := Sanitize(in)
		if got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
		for _, r := range got {
			ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
			if !ok {
				t.Errorf("Sanitize(%q) produced disallowed rune %q", in, r)
			}
		}
		if len(got) > 0 && got[0] == '.' {
			t.Errorf("Sanitize(%q) = %q has leading dot", in, got)
		}
	}
}

func TestRetryDelaysLadder(t *testing.T) {
	if len(RetryDelays) != 3 {
		t.Fatalf("expected 3 retry delays, got %d", len(RetryDelays))
	}
	for n := 0; n < 10; n++ {
		idx := n
		if idx >= len(RetryDelays) {
			idx = len(RetryDelays) - 1
		}
		_ = RetryDelays[idx] // nth retry delay is RETRY_DELAYS[min(n, len-1)]
	}
}

func TestParseShortstatLines(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{" 2 files changed, 10 insertions(+), 3 deletions(-)", 13},
		{" 1 file changed, 1 insertion(+)", 1},
		{"", 0},
	}
	for _, c := range cases {
		if got := parseShortstatLines(c.in); got != c.want {
			t.Errorf("parseShortstatLines(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
