// Package config loads swarmrepair's runtime configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/swarmrepair/core/internal/obslog"
)

// Config mirrors the configuration options table: every field here is
// recognized by the orchestration loop or one of its subsystems.
type Config struct {
	MaxRetries             int
	MaxConsecutiveNoChange int
	MinObjectiveLen        int
	VerifierPackages       []string

	InitialTier               string
	CouncilMaxIterations      int
	CouncilMaxConsultations   int
	LocalValidatorEnabled     bool
	MaxValidatorFailures      int
	CloudEndpoint             string
	AcceptanceMinDiffLines    int
	CloudQuorumRequired       int
	WebhookURL                string
	WorkerTimeout             time.Duration
	ManagerTimeout            time.Duration
	ValidationTimeout         time.Duration
	LocalValidationTimeout    time.Duration
	ArtifactRetentionSessions int

	KBRedisURL string
}

// Load reads a .env file if present (falling back to the parent
// directory, matching how a repo checked out one level below its
// working directory still finds it) then builds a Config from the
// environment, applying defaults for anything unset.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			obslog.L().Debug("no .env file found, using process environment")
		}
	}

	cfg := &Config{
		MaxRetries:                envInt("SWARM_MAX_RETRIES", 10),
		MaxConsecutiveNoChange:    envInt("SWARM_MAX_CONSECUTIVE_NO_CHANGE", 3),
		MinObjectiveLen:           envInt("SWARM_MIN_OBJECTIVE_LEN", 8),
		VerifierPackages:          envList("SWARM_VERIFIER_PACKAGES"),
		InitialTier:               envStr("SWARM_INITIAL_TIER", "worker"),
		CouncilMaxIterations:      envInt("SWARM_COUNCIL_MAX_ITERATIONS", 5),
		CouncilMaxConsultations:   envInt("SWARM_COUNCIL_MAX_CONSULTATIONS", 3),
		LocalValidatorEnabled:     envBool("SWARM_LOCAL_VALIDATOR_ENABLED", true),
		MaxValidatorFailures:      envInt("SWARM_MAX_VALIDATOR_FAILURES", 3),
		CloudEndpoint:             envStr("SWARM_CLOUD_ENDPOINT", ""),
		AcceptanceMinDiffLines:    envInt("SWARM_ACCEPTANCE_MIN_DIFF_LINES", 0),
		CloudQuorumRequired:       envInt("SWARM_CLOUD_QUORUM_REQUIRED", 0),
		WebhookURL:                envStr("SWARM_WEBHOOK_URL", ""),
		WorkerTimeout:             envSeconds("SWARM_WORKER_TIMEOUT_SECS", 120),
		ManagerTimeout:            envSeconds("SWARM_MANAGER_TIMEOUT_SECS", 300),
		ValidationTimeout:         envSeconds("SWARM_VALIDATION_TIMEOUT_SECS", 60),
		LocalValidationTimeout:    envSeconds("SWARM_LOCAL_VALIDATION_TIMEOUT_SECS", 30),
		ArtifactRetentionSessions: envInt("SWARM_ARTIFACT_RETENTION_SESSIONS", 50),
		KBRedisURL:                envStr("SWARM_KB_REDIS_URL", ""),
	}
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		obslog.S().Warnf("config: invalid int for %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envSeconds(key string, defSecs int) time.Duration {
	return time.Duration(envInt(key, defSecs)) * time.Second
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
