// Package workspace manages isolated per-issue VCS workspaces: git
// worktrees branched off mainline, merged back on success, and torn
// down on failure or completion. All git invocations shell out to the
// system git binary with the workspace (or mainline repo) as working
// directory — the orchestration core never links a git library
// directly, matching how the rest of this repo treats external tools
// as subprocesses rather than in-process dependencies.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/swarmrepair/core/internal/obslog"
)

// RetryDelays is the fixed backoff ladder for transient workspace
// operations (lock-file contention, transient creation errors). The
// nth retry uses RetryDelays[min(n, len-1)].
var RetryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// excludedArtifacts are orchestrator-generated files added to the
// workspace-local exclude list at creation so they never appear in
// `git add .` operations.
var excludedArtifacts = []string{
	".swarm-progress.txt",
	".swarm-session.json",
}

// Manager creates, merges, and destroys per-issue workspaces rooted at
// one mainline git repository.
type Manager struct {
	mainlineDir string
	branchPrefix string
	worktreeRoot string
}

// New builds a Manager over mainlineDir (the checked-out mainline
// repository), placing per-issue worktrees under worktreeRoot with
// branches named "<branchPrefix>/<sanitized-issue-id>".
func New(mainlineDir, worktreeRoot, branchPrefix string) *Manager {
	if branchPrefix == "" {
		branchPrefix = "swarm"
	}
	return &Manager{mainlineDir: mainlineDir, branchPrefix: branchPrefix, worktreeRoot: worktreeRoot}
}

// Sanitize reduces an issue ID to [A-Za-z0-9_-], maps every other
// character to '_', strips leading dots, and falls back to "_" if the
// result would be empty. This mapping alone neutralizes path-traversal
// attempts (e.g. "../.."): there is no "." or "/" left to traverse
// with, so no further path validation is required.
func Sanitize(issueID string) string {
	var b strings.Builder
	for _, r := range strings.TrimLeft(issueID, ".") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "_"
	}
	return out
}

func (m *Manager) branchName(issueID string) string {
	return m.branchPrefix + "/" + Sanitize(issueID)
}

func (m *Manager) worktreePath(issueID string) string {
	return filepath.Join(m.worktreeRoot, Sanitize(issueID))
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func isTransient(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{"unable to create", "lock file", "index.lock", "resource temporarily unavailable"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// withRetry runs op up to len(RetryDelays)+1 times, sleeping the
// ladder's delay between transient failures. Non-transient errors
// return immediately without retrying.
func (m *Manager) withRetry(ctx context.Context, op func() (string, error)) (string, error) {
	var lastOut string
	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := op()
		if err == nil {
			return out, nil
		}
		lastOut, lastErr = out, err
		if !isTransient(out) || attempt >= len(RetryDelays) {
			return lastOut, lastErr
		}
		delay := RetryDelays[attempt]
		obslog.S().Warnw("workspace: transient error, retrying", "attempt", attempt, "delay", delay, "output", out)
		select {
		case <-ctx.Done():
			return lastOut, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Create materializes an isolated worktree on a new branch off
// mainline for issueID, returning its filesystem path and the commit
// it branched from.
func (m *Manager) Create(ctx context.Context, issueID string) (path string, baseCommit string, err error) {
	branch := m.branchName(issueID)
	path = m.worktreePath(issueID)

	if out, err := m.git(ctx, m.mainlineDir, "rev-parse", "HEAD"); err == nil {
		baseCommit = strings.TrimSpace(out)
	}

	out, err := m.withRetry(ctx, func() (string, error) {
		return m.git(ctx, m.mainlineDir, "worktree", "add", "-b", branch, path, "HEAD")
	})
	if err != nil && strings.Contains(strings.ToLower(out), "already exists") {
		// Single delete-and-retry on "branch already exists".
		if _, delErr := m.git(ctx, m.mainlineDir, "branch", "-D", branch); delErr == nil {
			out, err = m.git(ctx, m.mainlineDir, "worktree", "add", "-b", branch, path, "HEAD")
		}
	}
	if err != nil {
		return "", "", fmt.Errorf("workspace: create worktree for %q: %w (%s)", issueID, err, out)
	}

	if err := m.applyExcludes(path); err != nil {
		obslog.S().Warnw("workspace: failed to apply exclude list", "err", err)
	}
	return path, baseCommit, nil
}

func (m *Manager) applyExcludes(worktreePath string) error {
	excludeFile := filepath.Join(worktreePath, ".git", "info", "exclude")
	f, err := os.OpenFile(excludeFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// Worktrees keep a file, not a directory, at .git — resolve it.
		gitFile := filepath.Join(worktreePath, ".git")
		data, readErr := os.ReadFile(gitFile)
		if readErr != nil {
			return err
		}
		line := strings.TrimPrefix(strings.TrimSpace(string(data)), "gitdir: ")
		excludeFile = filepath.Join(line, "info", "exclude")
		f, err = os.OpenFile(excludeFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
	}
	defer f.Close()
	for _, name := range excludedArtifacts {
		if _, err := fmt.Fprintln(f, name); err != nil {
			return err
		}
	}
	return nil
}

// Dirty reports whether the workspace has uncommitted changes.
func (m *Manager) Dirty(ctx context.Context, issueID string) (bool, error) {
	out, err := m.git(ctx, m.worktreePath(issueID), "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("workspace: status for %q: %w", issueID, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// MergeAndRemove fast-fails if the workspace has uncommitted changes,
// performs a no-fast-forward merge into mainline, then deletes the
// worktree and branch.
func (m *Manager) MergeAndRemove(ctx context.Context, issueID string) error {
	dirty, err := m.Dirty(ctx, issueID)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("workspace: merge aborted, %q has uncommitted changes", issueID)
	}

	branch := m.branchName(issueID)
	path := m.worktreePath(issueID)

	if out, err := m.git(ctx, m.mainlineDir, "merge", "--no-ff", branch); err != nil {
		return fmt.Errorf("workspace: merge conflict for %q: %w (%s)", issueID, err, out)
	}

	if out, err := m.git(ctx, m.mainlineDir, "worktree", "remove", "--force", path); err != nil {
		obslog.S().Warnw("workspace: worktree remove failed after merge", "issue", issueID, "output", out)
	}
	if out, err := m.git(ctx, m.mainlineDir, "branch", "-D", branch); err != nil {
		obslog.S().Warnw("workspace: branch delete failed after merge", "issue", issueID, "output", out)
	}
	return nil
}

// Cleanup is best-effort recovery: abort any in-progress merge,
// force-remove the worktree, delete the branch. Errors are logged, not
// returned — this is called from failure paths that must not fail
// themselves.
func (m *Manager) Cleanup(ctx context.Context, issueID string) {
	branch := m.branchName(issueID)
	path := m.worktreePath(issueID)

	_, _ = m.git(ctx, m.mainlineDir, "merge", "--abort")
	if out, err := m.git(ctx, m.mainlineDir, "worktree", "remove", "--force", path); err != nil {
		obslog.S().Debugw("workspace: cleanup worktree remove", "issue", issueID, "output", out)
	}
	if out, err := m.git(ctx, m.mainlineDir, "branch", "-D", branch); err != nil {
		obslog.S().Debugw("workspace: cleanup branch delete", "issue", issueID, "output", out)
	}
}

// CleanupStale scans `git worktree list` for worktrees under this
// manager's root whose directory no longer exists on disk, and
// removes their registration plus the orphaned branch. Run at startup.
func (m *Manager) CleanupStale(ctx context.Context) error {
	out, err := m.git(ctx, m.mainlineDir, "worktree", "list", "--porcelain")
	if err != nil {
		return fmt.Errorf("workspace: list worktrees: %w", err)
	}

	var currentPath string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			currentPath = strings.TrimPrefix(line, "worktree ")
		case line == "" && currentPath != "":
			m.pruneIfOrphaned(ctx, currentPath)
			currentPath = ""
		}
	}
	if currentPath != "" {
		m.pruneIfOrphaned(ctx, currentPath)
	}
	_, _ = m.git(ctx, m.mainlineDir, "worktree", "prune")
	return nil
}

func (m *Manager) pruneIfOrphaned(ctx context.Context, path string) {
	if !strings.HasPrefix(path, m.worktreeRoot) {
		return
	}
	if _, err := os.Stat(path); err == nil {
		return // still present, not orphaned
	}
	obslog.S().Infow("workspace: pruning stale worktree registration", "path", path)
	_, _ = m.git(ctx, m.mainlineDir, "worktree", "remove", "--force", path)
	_, _ = m.git(ctx, m.mainlineDir, "branch", "-D", m.branchPrefix+"/"+filepath.Base(path))
}

// Checkpoint records the current HEAD commit of the workspace, for use
// by the regression guard's rollback.
func (m *Manager) Checkpoint(ctx context.Context, issueID string) (string, error) {
	out, err := m.git(ctx, m.worktreePath(issueID), "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("workspace: checkpoint for %q: %w", issueID, err)
	}
	return strings.TrimSpace(out), nil
}

// RollbackTo hard-resets the workspace to commit.
func (m *Manager) RollbackTo(ctx context.Context, issueID, commit string) error {
	if out, err := m.git(ctx, m.worktreePath(issueID), "reset", "--hard", commit); err != nil {
		return fmt.Errorf("workspace: rollback %q to %s: %w (%s)", issueID, commit, err, out)
	}
	return nil
}

// StageAndCommit stages everything (respecting the exclude list
// applied at creation) and commits with message. Returns true if the
// commit produced a non-empty diff.
func (m *Manager) StageAndCommit(ctx context.Context, issueID, message string) (changed bool, err error) {
	dir := m.worktreePath(issueID)
	if _, err := m.git(ctx, dir, "add", "."); err != nil {
		return false, fmt.Errorf("workspace: stage for %q: %w", issueID, err)
	}
	status, err := m.git(ctx, dir, "status", "--porcelain", "--cached")
	if err != nil {
		return false, fmt.Errorf("workspace: staged-status for %q: %w", issueID, err)
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if out, err := m.git(ctx, dir, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("workspace: commit for %q: %w (%s)", issueID, err, out)
	}
	return true, nil
}

// DiffStat returns the number of changed lines between two commits in
// the workspace, used by the auto-fix false-positive guard and the
// acceptance policy's minimum-diff-size check.
func (m *Manager) DiffStat(ctx context.Context, issueID, fromCommit, toCommit string) (int, error) {
	out, err := m.git(ctx, m.worktreePath(issueID), "diff", "--shortstat", fromCommit, toCommit)
	if err != nil {
		return 0, fmt.Errorf("workspace: diffstat for %q: %w", issueID, err)
	}
	return parseShortstatLines(out), nil
}

func parseShortstatLines(shortstat string) int {
	total := 0
	for _, field := range strings.Split(shortstat, ",") {
		field = strings.TrimSpace(field)
		if strings.Contains(field, "insertion") || strings.Contains(field, "deletion") {
			var n int
			if _, err := fmt.Sscanf(field, "%d", &n); err == nil {
				total += n
			}
		}
	}
	return total
}

// ChangedFiles lists files touched since fromCommit (committed) plus
// any currently dirty working-tree files, for verifier package
// scoping.
func (m *Manager) ChangedFiles(ctx context.Context, issueID, fromCommit string) ([]string, error) {
	dir := m.worktreePath(issueID)
	seen := map[string]bool{}
	var out []string

	if committed, err := m.git(ctx, dir, "diff", "--name-only", fromCommit, "HEAD"); err == nil {
		for _, f := range strings.Split(strings.TrimSpace(committed), "\n") {
			if f != "" && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	if working, err := m.git(ctx, dir, "status", "--porcelain"); err == nil {
		for _, line := range strings.Split(working, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			fields := strings.Fields(line)
			f := fields[len(fields)-1]
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// Path returns the filesystem path of issueID's worktree.
func (m *Manager) Path(issueID string) string {
	return m.worktreePath(issueID)
}

// Diff returns the unified diff text between fromCommit and the
// current worktree HEAD, for handing to a reviewer.
func (m *Manager) Diff(ctx context.Context, issueID, fromCommit string) (string, error) {
	out, err := m.git(ctx, m.worktreePath(issueID), "diff", fromCommit, "HEAD")
	if err != nil {
		return "", fmt.Errorf("workspace: diff for %q: %w", issueID, err)
	}
	return out, nil
}
