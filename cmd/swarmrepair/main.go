// Command swarmrepair runs the per-issue orchestration loop: it polls
// the configured issue tracker for ready work and drives each claimed
// issue through the implement -> verify -> review -> escalate cascade
// until it resolves, gets stuck, or the process is asked to shut down.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/swarmrepair/core/internal/acceptance"
	"github.com/swarmrepair/core/internal/autofix"
	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/capability/kbredis"
	"github.com/swarmrepair/core/internal/config"
	"github.com/swarmrepair/core/internal/escalation"
	"github.com/swarmrepair/core/internal/githubtracker"
	"github.com/swarmrepair/core/internal/httpeval"
	"github.com/swarmrepair/core/internal/invoker"
	"github.com/swarmrepair/core/internal/obslog"
	"github.com/swarmrepair/core/internal/orchestrator"
	"github.com/swarmrepair/core/internal/subprocagent"
	"github.com/swarmrepair/core/internal/swarmtypes"
	"github.com/swarmrepair/core/internal/telemetry"
	"github.com/swarmrepair/core/internal/validatorloop"
	"github.com/swarmrepair/core/internal/verifiergw"
	"github.com/swarmrepair/core/internal/webhook"
	"github.com/swarmrepair/core/internal/workspace"
)

func main() {
	obslog.Init()
	defer obslog.Sync()
	log := obslog.S()

	log.Info("starting swarmrepair orchestrator")
	cfg := config.Load()

	repoRoot := envStr("SWARM_REPO_ROOT", ".")
	worktreeRoot := envStr("SWARM_WORKTREE_ROOT", filepath.Join(repoRoot, ".swarm-worktrees"))
	ws := workspace.New(repoRoot, worktreeRoot, "swarm")
	if err := ws.CleanupStale(context.Background()); err != nil {
		log.Warnw("failed to clean up stale worktrees", "err", err)
	}

	gateway := verifiergw.New(buildGates(cfg.VerifierPackages)...)

	af := autofix.New(ws, gateway,
		autofix.Fixer{Name: "gofmt", Command: "gofmt", Args: []string{"-w", "."}},
		autofix.Fixer{Name: "goimports", Command: "goimports", Args: []string{"-w", "."}},
	)

	local, cloud := buildEvalClients(cfg)
	vl := validatorloop.New(local, cloud, cfg.MaxValidatorFailures)

	var kb capability.KnowledgeBase
	if cfg.KBRedisURL != "" {
		kbImpl, err := kbredis.New(cfg.KBRedisURL)
		if err != nil {
			log.Warnw("knowledge base disabled: failed to connect to redis", "err", err)
		} else {
			kb = kbImpl
		}
	}

	baseInvoker := subprocagent.New(worktreeRoot, agentCommands())
	wrappedInvoker := invoker.New(baseInvoker, invoker.Config{MaxRetries: cfg.MaxRetries})

	tracker := githubtracker.New(
		envStr("SWARM_GITHUB_REPO_URL", ""),
		envStr("SWARM_GITHUB_TOKEN", ""),
		envStr("SWARM_GITHUB_READY_LABEL", ""),
	)

	metrics := telemetry.NewMetrics()

	var sender orchestrator.WebhookSender
	if cfg.WebhookURL != "" {
		sender = webhook.New(10 * time.Second)
	}

	loop := orchestrator.New(ws, gateway, wrappedInvoker, tracker, kb, af, vl, metrics, sender, orchestrator.Config{
		MaxRetries:             cfg.MaxRetries,
		InitialTier:            parseTier(cfg.InitialTier),
		WorkerTimeout:          cfg.WorkerTimeout,
		ManagerTimeout:         cfg.ManagerTimeout,
		MinObjectiveLen:        cfg.MinObjectiveLen,
		RepoRoot:               repoRoot,
		ArtifactRetention:      cfg.ArtifactRetentionSessions,
		WebhookURL:             cfg.WebhookURL,
		AcceptancePolicy: acceptance.Policy{
			MinDiffLines:        cfg.AcceptanceMinDiffLines,
			CloudQuorumRequired: cfg.CloudQuorumRequired,
		},
		EscalationConfig: escalation.Config{
			NoChangeThreshold:   cfg.MaxConsecutiveNoChange,
			RepeatedErrorWindow: 3,
			TierBudgets: map[swarmtypes.Tier]swarmtypes.TierBudget{
				swarmtypes.TierWorker:  {MaxIterations: cfg.MaxRetries},
				swarmtypes.TierCouncil: {MaxIterations: cfg.CouncilMaxIterations, MaxConsultations: cfg.CouncilMaxConsultations},
				swarmtypes.TierHuman:   {MaxIterations: 1},
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Infow("received signal, finishing in-flight issue before shutdown", "signal", sig.String())
		cancel()
	}()

	pollInterval := time.Duration(envIntLocal("SWARM_POLL_INTERVAL_SECS", 15)) * time.Second
	log.Infow("orchestrator ready, polling for work", "poll_interval", pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown complete")
			return
		default:
		}

		issue, err := tracker.NextReady(ctx)
		if err != nil {
			log.Warnw("failed to poll issue tracker", "err", err)
			sleepOrDone(ctx, pollInterval)
			continue
		}
		if issue == nil {
			sleepOrDone(ctx, pollInterval)
			continue
		}

		log.Infow("claimed issue", "issue_id", issue.ID, "title", issue.Title)
		outcome, err := loop.RunIssue(context.WithoutCancel(ctx), *issue)
		if err != nil {
			log.Errorw("orchestration run failed", "issue_id", issue.ID, "err", err)
			continue
		}
		log.Infow("orchestration run finished", "issue_id", issue.ID, "status", outcome.Status)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func buildGates(packages []string) []verifiergw.Gate {
	_ = packages // not used: the orchestrator's GateConfig sets only WorkDir, so every gate run covers the whole workspace
	return []verifiergw.Gate{
		verifiergw.CommandGate{GateName: "format", Command: "gofmt", Args: []string{"-l", "."}},
		verifiergw.CommandGate{GateName: "vet", Command: "go", Args: []string{"vet"}},
		verifiergw.CommandGate{GateName: "test", Command: "go", Args: []string{"test"}},
	}
}

// buildEvalClients wires the local blocking reviewer and zero or more
// advisory cloud reviewers from SWARM_CLOUD_ENDPOINT. A single comma-
// separated env var lists every cloud endpoint; the local reviewer
// hits the first (or only) configured endpoint and is the only one
// whose verdict can block an iteration.
func buildEvalClients(cfg *config.Config) (capability.EvalClient, []capability.EvalClient) {
	if !cfg.LocalValidatorEnabled && cfg.CloudEndpoint == "" {
		return nil, nil
	}
	endpoints := strings.Split(cfg.CloudEndpoint, ",")
	var cloud []capability.EvalClient
	var local capability.EvalClient
	for i, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		if i == 0 && cfg.LocalValidatorEnabled {
			local = httpeval.New(ep, cfg.LocalValidationTimeout)
			continue
		}
		cloud = append(cloud, httpeval.New(ep, cfg.ValidationTimeout))
	}
	return local, cloud
}

// agentCommands maps a router.Route (the coder specialization an
// iteration was scored into, not its tier) to the CLI invocation that
// implements it.
func agentCommands() map[string][]string {
	return map[string][]string{
		"rust":    {"swarmrepair-agent", "--route=rust"},
		"general": {"swarmrepair-agent", "--route=general"},
	}
}

func parseTier(s string) swarmtypes.Tier {
	switch strings.ToLower(s) {
	case "council":
		return swarmtypes.TierCouncil
	case "human":
		return swarmtypes.TierHuman
	default:
		return swarmtypes.TierWorker
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntLocal(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}
