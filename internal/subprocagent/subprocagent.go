// Package subprocagent implements capability.AgentInvoker by shelling
// out to a locally installed coding-agent CLI, one invocation per
// call. The exec.CommandContext + CombinedOutput shape follows the
// subprocess idiom this codebase uses for mechanical tool calls.
package subprocagent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/swarmrepair/core/internal/capability"
)

// Invoker runs one configured CLI command per agent ID, feeding the
// prompt on stdin and reading the transcript from stdout.
type Invoker struct {
	// Commands maps an agent ID ("worker", "council-claude", ...) to
	// the CLI command and base arguments that implement it.
	Commands map[string][]string
	WorkDir  string
}

// New builds an Invoker from an agentID -> command table.
func New(workDir string, commands map[string][]string) *Invoker {
	return &Invoker{Commands: commands, WorkDir: workDir}
}

// Invoke runs the command registered for agentID with prompt on
// stdin, bounded by deadline. A context deadline exceeded is reported
// as InvokeTimeout; any other non-zero exit or spawn failure is
// InvokeTransportError so the retry/circuit-breaker layer above can
// classify it against the transient-error set.
func (in *Invoker) Invoke(ctx context.Context, agentID, prompt string, deadline time.Duration) (capability.InvokeResponse, error) {
	argv, ok := in.Commands[agentID]
	if !ok || len(argv) == 0 {
		return capability.InvokeResponse{Status: capability.InvokeTransportError}, fmt.Errorf("subprocagent: no command configured for agent %q", agentID)
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = in.WorkDir
	cmd.Stdin = strings.NewReader(prompt)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	took := time.Since(start).Milliseconds()

	if runCtx.Err() != nil {
		return capability.InvokeResponse{Status: capability.InvokeTimeout, Text: out.String(), Err: runCtx.Err(), TookMs: took}, runCtx.Err()
	}
	if err != nil {
		wrapped := fmt.Errorf("subprocagent: agent %q: %w", agentID, err)
		return capability.InvokeResponse{Status: capability.InvokeTransportError, Text: out.String(), Err: wrapped, TookMs: took}, wrapped
	}
	return capability.InvokeResponse{Status: capability.InvokeOK, Text: out.String(), TookMs: took}, nil
}
