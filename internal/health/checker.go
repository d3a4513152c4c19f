// Package health implements HealthChecker (spec.md §4.3): a periodic probe
// loop per backend with hysteresis-gated status transitions, grounded on
// the teacher's circuit-breaker state machine (llm/circuitbreaker/breaker.go)
// collapsed from Closed/Open/HalfOpen onto Healthy/Degraded/Unavailable.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/types"
)

// DefaultCheckInterval matches spec.md §4.3's default check_interval_s.
const DefaultCheckInterval = 30 * time.Second

// DefaultCheckTimeout bounds a single probe.
const DefaultCheckTimeout = 5 * time.Second

const maxLatencySamples = 20

// StatusChangeFunc is invoked whenever a provider's status actually changes,
// used by the engine to broadcast provider_status and by Router to refresh
// availability.
type StatusChangeFunc func(provider string, old, new types.ProviderHealthState)

// Config tunes the checker's timing and hysteresis thresholds.
type Config struct {
	CheckInterval       time.Duration
	CheckTimeout        time.Duration
	FailuresToUnhealthy int // consecutive failures -> Unavailable + auto-disable
	SuccessesToHealthy  int // consecutive successes -> Healthy
}

// DefaultConfig returns spec.md §3's hysteresis defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:       DefaultCheckInterval,
		CheckTimeout:        DefaultCheckTimeout,
		FailuresToUnhealthy: 3,
		SuccessesToHealthy:  2,
	}
}

// Checker owns the live ProviderHealth record of every registered backend.
type Checker struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	backends map[string]types.Backend
	health   map[string]*types.ProviderHealth
	disabled map[string]bool // force_disable sticky flag, independent of hysteresis

	onChange []StatusChangeFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Checker. Call RegisterBackend for each provider, then Start.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.FailuresToUnhealthy <= 0 {
		cfg.FailuresToUnhealthy = 3
	}
	if cfg.SuccessesToHealthy <= 0 {
		cfg.SuccessesToHealthy = 2
	}
	return &Checker{
		cfg:      cfg,
		logger:   logger,
		backends: make(map[string]types.Backend),
		health:   make(map[string]*types.ProviderHealth),
		disabled: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// RegisterBackend adds a backend to the probe rotation with an initial
// Unknown status.
func (c *Checker) RegisterBackend(b types.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := b.Name()
	c.backends[name] = b
	if _, ok := c.health[name]; !ok {
		c.health[name] = &types.ProviderHealth{Provider: name, Status: types.HealthUnknown}
	}
}

// OnStatusChange registers a callback fired after every status transition.
func (c *Checker) OnStatusChange(fn StatusChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Start launches the periodic probe loop in the background.
func (c *Checker) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (c *Checker) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Checker) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkAll(ctx)
		}
	}
}

func (c *Checker) checkAll(ctx context.Context) {
	c.mu.RLock()
	names := make([]string, 0, len(c.backends))
	for name := range c.backends {
		names = append(names, name)
	}
	c.mu.RUnlock()

	for _, name := range names {
		_ = c.CheckNow(ctx, name)
	}
}

// CheckNow probes a single provider immediately (spec.md §4.3's check_now).
// An empty provider checks every registered backend.
func (c *Checker) CheckNow(ctx context.Context, provider string) error {
	if provider == "" {
		c.checkAll(ctx)
		return nil
	}

	c.mu.RLock()
	backend, ok := c.backends[provider]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	_, err := backend.Execute(probeCtx, &types.Request{
		Message:  "ping",
		TimeoutS: c.cfg.CheckTimeout.Seconds(),
		Metadata: map[string]any{"health_check": true},
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		c.recordFailure(provider, latency, err.Error())
	} else {
		c.recordSuccess(provider, latency)
	}
	return nil
}

func (c *Checker) recordSuccess(provider string, latencyMs int64) {
	c.mu.Lock()
	h := c.ensureLocked(provider)
	old := h.Status
	h.ConsecutiveSuccess++
	h.ConsecutiveFailure = 0
	h.LastProbeAt = time.Now()
	h.LastError = ""
	h.LatencySamplesMs = appendCapped(h.LatencySamplesMs, latencyMs, maxLatencySamples)

	if c.disabled[provider] {
		h.Status = types.HealthUnavailable
		h.AutoDisabled = false
	} else if h.ConsecutiveSuccess >= c.cfg.SuccessesToHealthy {
		h.Status = types.HealthHealthy
		h.AutoDisabled = false
	} else if h.Status == types.HealthUnavailable {
		h.Status = types.HealthyDegraded
	}
	c.mu.Unlock()

	c.notify(provider, old, h.Status)
}

func (c *Checker) recordFailure(provider string, latencyMs int64, errMsg string) {
	c.mu.Lock()
	h := c.ensureLocked(provider)
	old := h.Status
	h.ConsecutiveFailure++
	h.ConsecutiveSuccess = 0
	h.LastProbeAt = time.Now()
	h.LastError = errMsg
	h.LatencySamplesMs = appendCapped(h.LatencySamplesMs, latencyMs, maxLatencySamples)

	switch {
	case h.ConsecutiveFailure >= c.cfg.FailuresToUnhealthy:
		h.Status = types.HealthUnavailable
		h.AutoDisabled = true
	case h.Status == types.HealthHealthy || h.Status == types.HealthUnknown:
		h.Status = types.HealthyDegraded
	}
	c.mu.Unlock()

	c.notify(provider, old, h.Status)
}

func (c *Checker) ensureLocked(provider string) *types.ProviderHealth {
	h, ok := c.health[provider]
	if !ok {
		h = &types.ProviderHealth{Provider: provider, Status: types.HealthUnknown}
		c.health[provider] = h
	}
	return h
}

func (c *Checker) notify(provider string, old, new types.ProviderHealthState) {
	if old == new {
		return
	}
	c.mu.RLock()
	callbacks := append([]StatusChangeFunc(nil), c.onChange...)
	c.mu.RUnlock()

	if c.logger != nil {
		c.logger.Info("provider health transition",
			zap.String("provider", provider), zap.String("from", string(old)), zap.String("to", string(new)))
	}
	for _, fn := range callbacks {
		fn(provider, old, new)
	}
}

// ForceDisable marks a provider Unavailable regardless of probe outcomes
// until ForceEnable is called.
func (c *Checker) ForceDisable(provider string) {
	c.mu.Lock()
	c.disabled[provider] = true
	h := c.ensureLocked(provider)
	old := h.Status
	h.Status = types.HealthUnavailable
	h.AutoDisabled = true
	c.mu.Unlock()
	c.notify(provider, old, types.HealthUnavailable)
}

// ForceEnable clears a sticky force_disable; status resumes tracking probes.
func (c *Checker) ForceEnable(provider string) {
	c.mu.Lock()
	delete(c.disabled, provider)
	h := c.ensureLocked(provider)
	old := h.Status
	h.Status = types.HealthUnknown
	h.ConsecutiveFailure = 0
	h.ConsecutiveSuccess = 0
	h.AutoDisabled = false
	c.mu.Unlock()
	c.notify(provider, old, types.HealthUnknown)
}

// Snapshot returns a copy of one provider's health record.
func (c *Checker) Snapshot(provider string) (types.ProviderHealth, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.health[provider]
	if !ok {
		return types.ProviderHealth{}, false
	}
	return *h, true
}

// Snapshots returns a copy of every tracked provider's health record.
func (c *Checker) Snapshots() []types.ProviderHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ProviderHealth, 0, len(c.health))
	for _, h := range c.health {
		out = append(out, *h)
	}
	return out
}

// IsAvailable reports whether a provider may currently receive traffic.
func (c *Checker) IsAvailable(provider string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.health[provider]
	if !ok {
		return true // unknown providers are assumed available until probed
	}
	return h.Status != types.HealthUnavailable
}

func appendCapped(samples []int64, v int64, max int) []int64 {
	samples = append(samples, v)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}
