// Package engine implements LifecycleEngine (spec.md §4.12): the glue that
// drains RequestQueue, resolves a provider via Router (or expands a group
// token into a ParallelExecutor fan-out), dispatches through
// RetryExecutor when no fan-out is requested, and persists the outcome via
// the store while broadcasting every status transition. The background
// worker-pool shape is grounded on the teacher's
// BroadcastCoordinator goroutine-per-unit-of-work pattern
// (agent/collaboration/multi_agent.go), generalized from a single
// broadcast call to a continuously draining dequeue loop.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/backpressure"
	"github.com/BaSui01/agentflow/internal/cachemgr"
	"github.com/BaSui01/agentflow/internal/health"
	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/parallel"
	"github.com/BaSui01/agentflow/internal/queue"
	"github.com/BaSui01/agentflow/internal/reliability"
	"github.com/BaSui01/agentflow/internal/retry"
	"github.com/BaSui01/agentflow/internal/router"
	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/internal/streammgr"
	"github.com/BaSui01/agentflow/types"
)

// BroadcastFunc fans a lifecycle event out to WebSocket subscribers. Errors
// from the broadcast transport must never alter a request's persisted
// status (spec.md §4.12 step 6), so this signature has no error return.
type BroadcastFunc func(eventType string, data any)

// Config bounds worker concurrency and default behavior.
type Config struct {
	Workers            int
	DefaultAggregation types.AggregationStrategy
}

// DefaultConfig returns sane defaults for a single-node deployment.
func DefaultConfig() Config {
	return Config{Workers: 4, DefaultAggregation: types.AggregationFirstSuccess}
}

// Engine owns every other component and drives requests from dequeue to
// terminal status.
type Engine struct {
	cfg Config

	queue        *queue.Queue
	store        *store.Store
	health       *health.Checker
	backpressure *backpressure.Controller
	reliability  *reliability.Tracker
	router       *router.Router
	cache        *cachemgr.Manager
	retryExec    *retry.Executor
	streams      *streammgr.Manager
	metrics      *metrics.Collector
	logger       *zap.Logger

	mu       sync.RWMutex
	backends map[string]types.Backend

	preHook   types.MemoryPreHook
	postHook  types.MemoryPostHook
	broadcast BroadcastFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New assembles an Engine from its already-constructed components. Any of
// health/backpressure/reliability/cache/streams may be nil to disable that
// concern; queue, store, router, and retryExec are required.
func New(
	cfg Config,
	q *queue.Queue,
	s *store.Store,
	h *health.Checker,
	bp *backpressure.Controller,
	rel *reliability.Tracker,
	rt *router.Router,
	cache *cachemgr.Manager,
	retryExec *retry.Executor,
	streams *streammgr.Manager,
	logger *zap.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultAggregation == "" {
		cfg.DefaultAggregation = types.AggregationFirstSuccess
	}
	return &Engine{
		cfg: cfg, queue: q, store: s, health: h, backpressure: bp, reliability: rel,
		router: rt, cache: cache, retryExec: retryExec, streams: streams, logger: logger,
		backends: make(map[string]types.Backend), stopCh: make(chan struct{}),
	}
}

// RegisterBackend adds a provider adapter, also registering it with the
// health checker's probe rotation.
func (e *Engine) RegisterBackend(b types.Backend) {
	e.mu.Lock()
	e.backends[b.Name()] = b
	e.mu.Unlock()
	if e.health != nil {
		e.health.RegisterBackend(b)
	}
}

// SetMemoryHooks wires the optional pre/post enrichment hooks.
func (e *Engine) SetMemoryHooks(pre types.MemoryPreHook, post types.MemoryPostHook) {
	e.preHook, e.postHook = pre, post
}

// SetMetrics wires the optional Prometheus collector, including into
// RetryExecutor (per-attempt retry/fallback events, correctly attributed to
// the provider being classified) and CacheManager (hit/miss counts).
func (e *Engine) SetMetrics(m *metrics.Collector) {
	e.metrics = m
	if e.retryExec != nil {
		e.retryExec.SetMetrics(m)
	}
	if e.cache != nil {
		e.cache.SetMetrics(m)
	}
}

// OnBroadcast registers the WebSocket fan-out callback.
func (e *Engine) OnBroadcast(fn BroadcastFunc) {
	e.broadcast = fn
}

func (e *Engine) emit(eventType string, data any) {
	if e.broadcast == nil {
		return
	}
	defer func() { _ = recover() }() // a panicking transport must never affect request status
	e.broadcast(eventType, data)
}

func (e *Engine) backend(name string) (types.Backend, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.backends[name]
	return b, ok
}

// Start launches the worker pool, each draining the queue independently
// per spec.md §4.12's loop.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
}

// Stop signals every worker to exit once its current request completes and
// waits for them to drain.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.queue.Close()
	e.wg.Wait()
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		default:
		}

		req, ok := e.queue.Dequeue()
		if !ok {
			return
		}
		if e.metrics != nil && !req.CreatedAt.IsZero() {
			e.metrics.RecordQueueWait(time.Since(req.CreatedAt))
		}
		e.process(ctx, req)
	}
}

// process implements spec.md §4.12's six numbered steps for one request.
func (e *Engine) process(ctx context.Context, req *types.Request) {
	req.PreserveOriginalMessage()

	// step 2: optional memory pre-hook enrichment
	if e.preHook != nil {
		if enriched, err := e.preHook.PreRequest(ctx, req, tenantOf(req)); err == nil && enriched != nil {
			req.Message = enriched.Message
			if req.Metadata == nil {
				req.Metadata = make(map[string]any)
			}
			req.Metadata["_memory_injected"] = enriched.MemoryInjected
			req.Metadata["_memory_count"] = enriched.MemoryCount
		} else if err != nil && e.logger != nil {
			e.logger.Warn("memory pre-hook failed", zap.Error(err))
		}
	}

	_ = e.store.UpdateStatus(ctx, req.ID, types.StatusProcessing)
	e.emit(types.EventRequestProcessing, req)

	providers := e.resolveProviders(req)

	call := func(ctx context.Context, provider string) (types.Result, error) {
		return e.callBackend(ctx, provider, req)
	}

	var result types.Result
	var retryInfo *types.RetryInfo
	var execErr error
	winningProvider := providers[0]

	switch {
	case len(providers) > 1:
		agg := req.Aggregation
		if agg == "" {
			agg = e.cfg.DefaultAggregation
		}
		out := parallel.Execute(ctx, providers, agg, call)
		if out.Winner != nil {
			result = out.Winner.Result
			winningProvider = out.Winner.Provider
		} else {
			execErr = fmt.Errorf("all providers failed")
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]any)
		}
		req.Metadata["all_responses"] = out.AllResponses
	case e.retryEnabled(req):
		res, info, err := e.retryExec.Run(ctx, providers[0], call)
		result, retryInfo, execErr = res, &info, err
		if len(info.Providers) > 0 {
			winningProvider = info.Providers[len(info.Providers)-1]
		}
	default:
		result, execErr = call(ctx, providers[0])
	}

	if e.backpressure != nil {
		e.backpressure.RecordOutcome(execErr == nil && result.Success)
	}

	if execErr == nil && result.Success {
		e.onSuccess(ctx, req, winningProvider, result, retryInfo)
	} else {
		e.onFailure(ctx, req, result, execErr, retryInfo)
	}

	e.queue.MarkCompleted(req.ID)
}

func (e *Engine) retryEnabled(req *types.Request) bool {
	if req.Metadata == nil {
		return true
	}
	if v, ok := req.Metadata["retry_disabled"].(bool); ok && v {
		return false
	}
	return true
}

// resolveProviders expands req.Provider into one or more concrete backend
// names: a literal name stays singular, "@token" expands to a group (and
// implies a parallel fan-out), and empty falls through to Router.Route.
func (e *Engine) resolveProviders(req *types.Request) []string {
	switch {
	case strings.HasPrefix(req.Provider, "@"):
		group := e.router.ResolveGroup(req.Provider)
		if len(group) > 0 {
			return group
		}
		return []string{e.routeDefault(req.Message)}
	case req.Provider != "":
		return []string{req.Provider}
	default:
		return []string{e.routeDefault(req.Message)}
	}
}

func (e *Engine) routeDefault(message string) string {
	decision := e.router.Route(message)
	return decision.Provider
}

func (e *Engine) callBackend(ctx context.Context, provider string, req *types.Request) (types.Result, error) {
	b, ok := e.backend(provider)
	if !ok {
		return types.Result{}, fmt.Errorf("unknown provider %q", provider)
	}
	return b.Execute(ctx, req)
}

// Execute runs req against one resolved backend synchronously, outside the
// queue/worker path, retrying per the wired RetryExecutor when a single
// provider is named. Callers that need aggregation/fallback across the
// full queue lifecycle should Enqueue instead; this is for call sites that
// already have their own scheduling, such as the discussion orchestrator.
func (e *Engine) Execute(ctx context.Context, req *types.Request) (types.Result, error) {
	providers := e.resolveProviders(req)
	call := func(ctx context.Context, provider string) (types.Result, error) {
		return e.callBackend(ctx, provider, req)
	}
	if e.retryExec != nil && e.retryEnabled(req) {
		result, _, err := e.retryExec.Run(ctx, providers[0], call)
		return result, err
	}
	return call(ctx, providers[0])
}

func (e *Engine) onSuccess(ctx context.Context, req *types.Request, provider string, result types.Result, retryInfo *types.RetryInfo) {
	now := time.Now()
	prompt, completion := types.SplitCostTokens(result.TokensUsed)
	if result.Metadata.InputTokens > 0 || result.Metadata.OutputTokens > 0 {
		prompt, completion = result.Metadata.InputTokens, result.Metadata.OutputTokens
	}

	resp := &types.Response{
		RequestID: req.ID, Status: types.StatusCompleted, Text: result.Response,
		Provider: provider, Thinking: result.Thinking, RawOutput: result.RawOutput,
		Tokens:    types.TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
		Metadata:  req.Metadata, CreatedAt: now,
	}
	if retryInfo != nil {
		if resp.Metadata == nil {
			resp.Metadata = make(map[string]any)
		}
		resp.Metadata["retry_info"] = retryInfo
	}

	if err := e.store.UpdateStatus(ctx, req.ID, types.StatusCompleted); err != nil && e.logger != nil {
		e.logger.Warn("failed to update request status", zap.Error(err))
	}
	if err := e.store.SaveResponse(ctx, resp); err != nil && e.logger != nil {
		e.logger.Warn("failed to save response", zap.Error(err))
	}

	if e.cache != nil && !req.CacheBypass {
		if err := e.cache.Put(ctx, provider, req.OriginalMessage(), result.Response, resp.Tokens); err != nil && e.logger != nil {
			e.logger.Warn("failed to populate cache", zap.Error(err))
		}
	}

	_ = e.store.RecordMetric(ctx, provider, "request_completed", resultLatency(retryInfo), true, "")
	if resp.Tokens.TotalTokens > 0 {
		_ = e.store.RecordTokenCost(ctx, provider, resp.Tokens.PromptTokens, resp.Tokens.CompletionTokens, req.ID, "")
	}
	if e.reliability != nil {
		e.reliability.RecordSuccess(provider)
	}
	if e.metrics != nil {
		e.metrics.RecordRequest(string(types.StatusCompleted), provider, time.Since(req.CreatedAt))
	}

	if e.postHook != nil {
		if err := e.postHook.PostResponse(ctx, req, resp); err != nil && e.logger != nil {
			e.logger.Warn("memory post-hook failed", zap.Error(err))
		}
	}

	e.emit(types.EventRequestCompleted, resp)
}

func (e *Engine) onFailure(ctx context.Context, req *types.Request, result types.Result, execErr error, retryInfo *types.RetryInfo) {
	errMsg := result.Error
	if errMsg == "" && execErr != nil {
		errMsg = execErr.Error()
	}

	resp := &types.Response{
		RequestID: req.ID, Status: types.StatusFailed, Error: errMsg, CreatedAt: time.Now(),
	}
	if retryInfo != nil {
		resp.Metadata = map[string]any{"retry_info": retryInfo}
	}

	if err := e.store.UpdateStatus(ctx, req.ID, types.StatusFailed); err != nil && e.logger != nil {
		e.logger.Warn("failed to update request status", zap.Error(err))
	}
	if err := e.store.SaveResponse(ctx, resp); err != nil && e.logger != nil {
		e.logger.Warn("failed to save failure response", zap.Error(err))
	}

	_ = e.store.RecordMetric(ctx, req.Provider, "request_failed", 0, false, errMsg)
	if e.metrics != nil {
		e.metrics.RecordRequest(string(types.StatusFailed), req.Provider, time.Since(req.CreatedAt))
	}

	e.emit(types.EventRequestFailed, resp)
}

func resultLatency(retryInfo *types.RetryInfo) int64 {
	if retryInfo == nil || len(retryInfo.ElapsedMsPerAttempt) == 0 {
		return 0
	}
	var total int64
	for _, ms := range retryInfo.ElapsedMsPerAttempt {
		total += ms
	}
	return total
}

func tenantOf(req *types.Request) string {
	if req.Metadata == nil {
		return ""
	}
	if v, ok := req.Metadata["tenant_id"].(string); ok {
		return v
	}
	return ""
}
