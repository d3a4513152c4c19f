package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentflow/types"
)

func TestClassify_AuthStatusIsNonRetryableAuth(t *testing.T) {
	require.Equal(t, NonRetryableAuth, Classify(types.Result{Metadata: types.ResultMetadata{HTTPStatus: 401}}, nil))
	require.Equal(t, NonRetryableAuth, Classify(types.Result{Error: "403 Forbidden"}, nil))
	require.Equal(t, NonRetryableAuth, Classify(types.Result{Metadata: types.ResultMetadata{AuthError: true}}, nil))
}

func TestClassify_RateLimitIsRetryableRateLimit(t *testing.T) {
	require.Equal(t, RetryableRateLimit, Classify(types.Result{Metadata: types.ResultMetadata{HTTPStatus: 429}}, nil))
	require.Equal(t, RetryableRateLimit, Classify(types.Result{Error: "too many requests"}, nil))
}

func TestClassify_ServerErrorIsRetryableTransient(t *testing.T) {
	require.Equal(t, RetryableTransient, Classify(types.Result{Metadata: types.ResultMetadata{HTTPStatus: 503}}, nil))
	require.Equal(t, RetryableTransient, Classify(types.Result{}, errors.New("connection reset by peer")))
}

func TestClassify_OtherClientErrorIsNonRetryableClient(t *testing.T) {
	require.Equal(t, NonRetryableClient, Classify(types.Result{Metadata: types.ResultMetadata{HTTPStatus: 400}}, nil))
}

func TestClassify_UnknownErrorIsNonRetryablePermanent(t *testing.T) {
	require.Equal(t, NonRetryablePermanent, Classify(types.Result{Error: "something weird happened"}, nil))
}

func TestExecutor_SucceedsWithoutRetryOnFirstSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transient.BaseDelay = time.Millisecond
	e := New(cfg, nil, nil)

	calls := 0
	result, info, err := e.Run(context.Background(), "kimi", func(ctx context.Context, provider string) (types.Result, error) {
		calls++
		return types.Result{Success: true, Response: "ok"}, nil
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, info.Attempts)
}

func TestExecutor_RetriesTransientUpToMaxThenFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transient = Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	cfg.FallbackEnabled = false
	e := New(cfg, nil, nil)

	calls := 0
	_, info, err := e.Run(context.Background(), "kimi", func(ctx context.Context, provider string) (types.Result, error) {
		calls++
		return types.Result{Success: false, Error: "503 service unavailable"}, nil
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, info.Attempts)
}

func TestExecutor_NonRetryableAuthStopsImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackEnabled = false
	e := New(cfg, nil, nil)

	calls := 0
	_, info, err := e.Run(context.Background(), "kimi", func(ctx context.Context, provider string) (types.Result, error) {
		calls++
		return types.Result{Success: false, Error: "401 unauthorized"}, nil
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, info.Attempts)
}

type fakeHealth struct{ unavailable map[string]bool }

func (f fakeHealth) IsAvailable(p string) bool { return !f.unavailable[p] }

type fakeAuth struct{ needsReauth map[string]bool }

func (f fakeAuth) NeedsReauth(p string) bool        { return f.needsReauth[p] }
func (f fakeAuth) RecordFailure(p, msg string)      {}
func (f fakeAuth) RecordSuccess(p string)           {}

func TestExecutor_FallsBackToNextHealthyProviderOnAuthFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackEnabled = true
	health := fakeHealth{unavailable: map[string]bool{}}
	auth := fakeAuth{needsReauth: map[string]bool{}}
	e := New(cfg, health, auth)
	e.SetFallbackChain("primary", []string{"backup"})

	_, info, err := e.Run(context.Background(), "primary", func(ctx context.Context, provider string) (types.Result, error) {
		if provider == "primary" {
			return types.Result{Success: false, Error: "401 unauthorized"}, nil
		}
		return types.Result{Success: true, Response: "from backup"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"primary", "backup"}, info.Providers)
}

func TestExecutor_SkipsUnhealthyFallbackCandidate(t *testing.T) {
	cfg := DefaultConfig()
	health := fakeHealth{unavailable: map[string]bool{"backup": true}}
	auth := fakeAuth{}
	e := New(cfg, health, auth)
	e.SetFallbackChain("primary", []string{"backup", "tertiary"})

	_, info, err := e.Run(context.Background(), "primary", func(ctx context.Context, provider string) (types.Result, error) {
		if provider == "primary" {
			return types.Result{Success: false, Error: "401 unauthorized"}, nil
		}
		return types.Result{Success: true, Response: "from tertiary"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"primary", "tertiary"}, info.Providers, "backup must be skipped as unhealthy")
}

func TestExecutor_SkipsFallbackCandidateNeedingReauth(t *testing.T) {
	cfg := DefaultConfig()
	health := fakeHealth{}
	auth := fakeAuth{needsReauth: map[string]bool{"backup": true}}
	e := New(cfg, health, auth)
	e.SetFallbackChain("primary", []string{"backup", "tertiary"})

	_, info, err := e.Run(context.Background(), "primary", func(ctx context.Context, provider string) (types.Result, error) {
		if provider != "tertiary" {
			return types.Result{Success: false, Error: "401 unauthorized"}, nil
		}
		return types.Result{Success: true}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"primary", "tertiary"}, info.Providers)
}
