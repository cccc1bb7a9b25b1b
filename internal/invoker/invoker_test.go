package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmrepair/core/internal/capability"
)

type stubInvoker struct {
	calls   int
	results []capability.InvokeResponse
	errs    []error
}

func (s *stubInvoker) Invoke(ctx context.Context, agentID, prompt string, deadline time.Duration) (capability.InvokeResponse, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], s.errs[i]
}

func TestInvokeRetriesTransientErrorThenSucceeds(t *testing.T) {
	stub := &stubInvoker{
		results: []capability.InvokeResponse{
			{Status: capability.InvokeTransportError, Err: errors.New("503 service unavailable")},
			{Status: capability.InvokeOK, Text: "done"},
		},
		errs: []error{errors.New("503 service unavailable"), nil},
	}
	iv := New(stub, Config{MaxRetries: 2, BreakerFailureThreshold: 10})

	resp, err := iv.Invoke(context.Background(), "agent-1", "fix it", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 2, stub.calls)
}

func TestInvokeBypassesRetryOnNonTransientError(t *testing.T) {
	stub := &stubInvoker{
		results: []capability.InvokeResponse{{Status: capability.InvokeOK}},
		errs:    []error{errors.New("401 unauthorized")},
	}
	iv := New(stub, Config{MaxRetries: 3, BreakerFailureThreshold: 10})

	_, err := iv.Invoke(context.Background(), "agent-1", "fix it", time.Second)
	assert.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestInvokeTripsBreakerAfterConsecutiveFailures(t *testing.T) {
	stub := &stubInvoker{
		results: []capability.InvokeResponse{{Status: capability.InvokeTransportError}},
		errs:    []error{errors.New("connection refused")},
	}
	iv := New(stub, Config{MaxRetries: 0, BreakerFailureThreshold: 2, BreakerTimeout: time.Minute})

	_, err := iv.Invoke(context.Background(), "agent-1", "fix it", time.Second)
	assert.Error(t, err)
	_, err = iv.Invoke(context.Background(), "agent-1", "fix it", time.Second)
	assert.Error(t, err)

	callsBeforeOpen := stub.calls
	_, err = iv.Invoke(context.Background(), "agent-1", "fix it", time.Second)
	require.Error(t, err)
	assert.Equal(t, callsBeforeOpen, stub.calls, "breaker should short-circuit without calling the wrapped invoker")
}
