package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentflow/internal/cachemgr"
	"github.com/BaSui01/agentflow/internal/queue"
	"github.com/BaSui01/agentflow/internal/reliability"
	"github.com/BaSui01/agentflow/internal/retry"
	"github.com/BaSui01/agentflow/internal/router"
	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/types"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	pool, err := store.NewPool(db, store.PoolConfig{MaxIdleConns: 1, MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	return store.New(pool, store.PricingTable{}, zap.NewNop(), 1)
}

// fakeBackend is a scripted types.Backend used to exercise the engine
// without a real LLM client.
type fakeBackend struct {
	name    string
	latency time.Duration
	reply   func(req *types.Request) (types.Result, error)
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Execute(ctx context.Context, req *types.Request) (types.Result, error) {
	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return types.Result{}, ctx.Err()
		}
	}
	return b.reply(req)
}

func (b *fakeBackend) CheckHealth(ctx context.Context) (types.ProviderStatus, error) {
	return types.ProviderStatus{Provider: b.name, Healthy: true}, nil
}

func (b *fakeBackend) Shutdown(ctx context.Context) error { return nil }

func okBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, reply: func(req *types.Request) (types.Result, error) {
		return types.Result{Success: true, Response: name + "-reply: " + req.Message, TokensUsed: 10}, nil
	}}
}

func failBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, reply: func(req *types.Request) (types.Result, error) {
		return types.Result{Success: false, Error: "boom"}, errors.New("boom")
	}}
}

func newTestEngine(t *testing.T, workers int) (*Engine, *queue.Queue, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	q := queue.New(100, 10)
	rt := router.New("default-provider", router.NoopPerformanceSource{})
	rel := reliability.New()
	retryExec := retry.New(retry.DefaultConfig(), nil, nil)
	cache := cachemgr.New(cachemgr.Config{TTL: time.Minute, SweepInterval: time.Hour, MaxEntries: 100}, s, zap.NewNop())

	e := New(DefaultConfig(), q, s, nil, nil, rel, rt, cache, retryExec, nil, zap.NewNop())
	if workers > 0 {
		e.cfg.Workers = workers
	}
	return e, q, s
}

func submitAndWait(t *testing.T, e *Engine, q *queue.Queue, s *store.Store, req *types.Request) *types.Response {
	t.Helper()
	require.NoError(t, s.CreateRequest(context.Background(), req))
	require.True(t, q.Enqueue(req))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := s.GetResponseByRequestID(context.Background(), req.ID)
		if err == nil && resp != nil {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for response to request %s", req.ID)
	return nil
}

func TestEngine_SingleProviderDirectCallSucceeds(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(okBackend("alpha"))

	req := &types.Request{ID: "req-1", Provider: "alpha", Message: "hello", Metadata: map[string]any{"retry_disabled": true}}
	resp := submitAndWait(t, e, q, s, req)

	require.Equal(t, types.StatusCompleted, resp.Status)
	require.Equal(t, "alpha", resp.Provider)
	require.Contains(t, resp.Text, "alpha-reply")
}

func TestEngine_SingleProviderFailurePersistsFailedResponse(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(failBackend("alpha"))

	req := &types.Request{ID: "req-2", Provider: "alpha", Message: "hello", Metadata: map[string]any{"retry_disabled": true}}
	resp := submitAndWait(t, e, q, s, req)

	require.Equal(t, types.StatusFailed, resp.Status)
	require.NotEmpty(t, resp.Error)
}

func TestEngine_RetryEnabledFallsBackToSecondProvider(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(failBackend("alpha"))
	e.RegisterBackend(okBackend("bravo"))
	e.retryExec = retry.New(retry.Config{
		Transient: retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		RateLimit: retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		FallbackEnabled: true,
	}, nil, nil)
	e.retryExec.SetFallbackChain("alpha", []string{"bravo"})

	req := &types.Request{ID: "req-3", Provider: "alpha", Message: "hello"}
	resp := submitAndWait(t, e, q, s, req)

	require.Equal(t, types.StatusCompleted, resp.Status)
	require.Equal(t, "bravo", resp.Provider)
}

func TestEngine_ParallelDispatchAttributesActualWinner(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(&fakeBackend{name: "slow", latency: 50 * time.Millisecond, reply: func(req *types.Request) (types.Result, error) {
		return types.Result{Success: true, Response: "slow-reply"}, nil
	}})
	e.RegisterBackend(&fakeBackend{name: "fast", reply: func(req *types.Request) (types.Result, error) {
		return types.Result{Success: true, Response: "fast-reply"}, nil
	}})

	req := &types.Request{
		ID: "req-4", Provider: "@both", Message: "hello",
		Aggregation: types.AggregationFirstSuccess,
		Metadata:    map[string]any{"retry_disabled": true},
	}
	e.router.SetGroup("both", []string{"slow", "fast"})

	resp := submitAndWait(t, e, q, s, req)

	require.Equal(t, types.StatusCompleted, resp.Status)
	require.Equal(t, "fast", resp.Provider)
	require.Contains(t, resp.Text, "fast-reply")
}

func TestEngine_CacheBypassSkipsCachePopulation(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(okBackend("alpha"))

	req := &types.Request{ID: "req-5", Provider: "alpha", Message: "skip-cache", CacheBypass: true, Metadata: map[string]any{"retry_disabled": true}}
	submitAndWait(t, e, q, s, req)

	hit, ok, err := e.cache.Get(context.Background(), "alpha", "skip-cache")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, hit)
}

func TestEngine_MemoryHooksAreInvoked(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(okBackend("alpha"))

	var preCalled, postCalled bool
	e.SetMemoryHooks(preHookFunc(func(ctx context.Context, req *types.Request, userID string) (*types.EnrichedRequest, error) {
		preCalled = true
		return &types.EnrichedRequest{Message: req.Message}, nil
	}), postHookFunc(func(ctx context.Context, req *types.Request, resp *types.Response) error {
		postCalled = true
		return nil
	}))

	req := &types.Request{ID: "req-6", Provider: "alpha", Message: "hi", Metadata: map[string]any{"retry_disabled": true}}
	submitAndWait(t, e, q, s, req)

	require.True(t, preCalled)
	require.True(t, postCalled)
}

func TestEngine_BroadcastPanicDoesNotAffectStatus(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(okBackend("alpha"))
	e.OnBroadcast(func(eventType string, data any) { panic("boom") })

	req := &types.Request{ID: "req-7", Provider: "alpha", Message: "hi", Metadata: map[string]any{"retry_disabled": true}}
	resp := submitAndWait(t, e, q, s, req)

	require.Equal(t, types.StatusCompleted, resp.Status)
}

func TestEngine_MarkCompletedAlwaysCalled(t *testing.T) {
	e, q, s := newTestEngine(t, 1)
	e.RegisterBackend(failBackend("alpha"))

	req := &types.Request{ID: "req-8", Provider: "alpha", Message: "hi", Metadata: map[string]any{"retry_disabled": true}}
	submitAndWait(t, e, q, s, req)

	require.Equal(t, 0, q.ProcessingCount())
}

// preHookFunc/postHookFunc adapt plain funcs to the MemoryPreHook/PostHook
// interfaces for tests.
type preHookFunc func(ctx context.Context, req *types.Request, userID string) (*types.EnrichedRequest, error)

func (f preHookFunc) PreRequest(ctx context.Context, req *types.Request, userID string) (*types.EnrichedRequest, error) {
	return f(ctx, req, userID)
}

type postHookFunc func(ctx context.Context, req *types.Request, resp *types.Response) error

func (f postHookFunc) PostResponse(ctx context.Context, req *types.Request, resp *types.Response) error {
	return f(ctx, req, resp)
}
