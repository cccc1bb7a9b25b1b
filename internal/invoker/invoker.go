// Package invoker wraps a capability.AgentInvoker with the transport
// retry and circuit-breaking policy the orchestration loop expects
// from every external agent call. It never changes what gets sent to
// the agent, only how failures on the way there are handled.
package invoker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/swarmrepair/core/internal/capability"
	"github.com/swarmrepair/core/internal/obslog"
)

// transientMarkers is the transient-error set worth retrying: proxy and
// gateway failures, rate limiting, and the usual dropped-connection
// symptoms. Anything else (auth, schema mismatch) is assumed durable
// and bypasses retry entirely.
var transientMarkers = []string{
	"502", "503", "429",
	"connection refused",
	"reset by peer",
	"timeout",
	"broken pipe",
	"empty response",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Config controls the retry ladder and the circuit breaker guarding
// the wrapped invoker.
type Config struct {
	MaxRetries int // retry attempts on top of the first try

	// BreakerFailureThreshold trips the breaker after this many
	// consecutive failures across all agents; BreakerTimeout is how
	// long it stays open before allowing a probe request through.
	BreakerFailureThreshold uint32
	BreakerTimeout          time.Duration
}

// Invoker decorates a capability.AgentInvoker with exponential-backoff
// retry on transient transport errors and a circuit breaker that trips
// after repeated consecutive failures, matching the jordigilh-kubernaut
// gobreaker.Settings{ReadyToTrip: ...} shape.
type Invoker struct {
	next    capability.AgentInvoker
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

// New builds an Invoker. A zero Config falls back to 3 retries and a
// breaker that trips after 5 consecutive failures for 30s.
func New(next capability.AgentInvoker, cfg Config) *Invoker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-invoker",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obslog.S().Warnw("invoker: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Invoker{next: next, cfg: cfg, breaker: breaker}
}

// Invoke retries transient transport failures with backoff 2s, 4s,
// 8s, ... capped at MaxRetries attempts, short-circuiting immediately
// on non-transient errors. The breaker wraps every attempt so a run of
// failures across issues/agents stops dispatching calls for Timeout
// before probing again.
func (iv *Invoker) Invoke(ctx context.Context, agentID, prompt string, deadline time.Duration) (capability.InvokeResponse, error) {
	var lastResp capability.InvokeResponse
	var lastErr error

	for attempt := 0; attempt <= iv.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			obslog.S().Infow("invoker: retrying after transient transport error", "agent", agentID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return lastResp, ctx.Err()
			}
		}

		result, breakerErr := iv.breaker.Execute(func() (interface{}, error) {
			resp, err := iv.next.Invoke(ctx, agentID, prompt, deadline)
			if err != nil {
				return resp, err
			}
			if resp.Status == capability.InvokeTransportError {
				return resp, resp.Err
			}
			return resp, nil
		})

		if resp, ok := result.(capability.InvokeResponse); ok {
			lastResp = resp
		}
		lastErr = breakerErr

		if breakerErr == nil {
			return lastResp, nil
		}
		if errors.Is(breakerErr, gobreaker.ErrOpenState) || errors.Is(breakerErr, gobreaker.ErrTooManyRequests) {
			return lastResp, breakerErr
		}
		if !isTransient(breakerErr) {
			return lastResp, breakerErr
		}
	}

	return lastResp, lastErr
}
