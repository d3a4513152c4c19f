// Package cachemgr implements CacheManager (spec.md §4.7): fingerprinted
// response caching with TTL expiry and a max-entries eviction sweep, built
// on top of internal/store.Store's cache persistence and an optional
// internal/cache (Redis) Front for hot-path reads. Fingerprinting is
// grounded on the teacher's hierarchical cache key strategy
// (llm/cache/hierarchical_key.go and llm/cache/key_strategy.go), adapted
// from a multi-field chat-completion key to a single stable hash of the
// exact user message.
package cachemgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/types"
)

// DefaultTTL is applied when a caller doesn't specify one.
const DefaultTTL = 10 * time.Minute

// DefaultSweepInterval is how often the expired-entry sweep runs.
const DefaultSweepInterval = time.Minute

// DefaultMaxEntries bounds total cache rows before LRU-by-last-hit eviction
// kicks in.
const DefaultMaxEntries = 10_000

// Config tunes TTL, sweep cadence, and the entry cap.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxEntries    int64
}

// DefaultConfig returns spec.md §4.7's defaults.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, SweepInterval: DefaultSweepInterval, MaxEntries: DefaultMaxEntries}
}

// MetricsSink receives cache hit/miss events as Get resolves them.
type MetricsSink interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// Front is an optional fast front-cache consulted before the durable store.
// A Front miss or error always falls through to the store; the store stays
// the single source of truth for Stats/TopEntries/Clear/Sweep, so Front is
// populate-on-read/write only and never itself swept or cleared.
// *cache.Manager (internal/cache, backed by Redis) satisfies this.
type Front interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Manager fronts the store's cache rows with fingerprinting, an optional
// Redis-backed Front, and a background sweep loop.
type Manager struct {
	cfg     Config
	store   *store.Store
	logger  *zap.Logger
	metrics MetricsSink
	front   Front

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Manager bound to a Store.
func New(cfg Config, s *store.Store, logger *zap.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Manager{cfg: cfg, store: s, logger: logger, stopCh: make(chan struct{})}
}

// SetMetrics wires an optional metrics sink; Get then reports hit/miss
// counts as it resolves.
func (m *Manager) SetMetrics(sink MetricsSink) {
	m.metrics = sink
}

// SetFront wires an optional Redis-backed fast path in front of the store.
func (m *Manager) SetFront(f Front) {
	m.front = f
}

func frontKey(provider, fingerprint string) string {
	return "cachemgr:" + provider + ":" + fingerprint
}

// Fingerprint returns a stable hash of the exact user message. No
// normalization is applied beyond what routing already performed; callers
// that want cache bypass should simply not call Get/Put.
func Fingerprint(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached response for (provider, message), checking Front
// first when wired, falling through to the store on a Front miss/error, and
// bumping its hit stats when found and unexpired.
func (m *Manager) Get(ctx context.Context, provider, message string) (*types.CacheEntry, bool, error) {
	fp := Fingerprint(message)

	if m.front != nil {
		var entry types.CacheEntry
		if err := m.front.GetJSON(ctx, frontKey(provider, fp), &entry); err == nil {
			if m.metrics != nil {
				m.metrics.RecordCacheHit()
			}
			return &entry, true, nil
		}
	}

	entry, ok, err := m.store.CacheGet(ctx, provider, fp)
	if err == nil && m.metrics != nil {
		if ok {
			m.metrics.RecordCacheHit()
		} else {
			m.metrics.RecordCacheMiss()
		}
	}
	if err == nil && ok && m.front != nil {
		if ferr := m.front.SetJSON(ctx, frontKey(provider, fp), entry, m.cfg.TTL); ferr != nil && m.logger != nil {
			m.logger.Warn("cache front populate failed", zap.Error(ferr))
		}
	}
	return entry, ok, err
}

// Put inserts or replaces the cached response for (provider, message) with
// a fresh TTL.
func (m *Manager) Put(ctx context.Context, provider, message, response string, tokens types.TokenUsage) error {
	return m.putWithTTL(ctx, provider, message, response, tokens, m.cfg.TTL)
}

// PutWithTTL is Put with an explicit TTL override.
func (m *Manager) PutWithTTL(ctx context.Context, provider, message, response string, tokens types.TokenUsage, ttl time.Duration) error {
	return m.putWithTTL(ctx, provider, message, response, tokens, ttl)
}

func (m *Manager) putWithTTL(ctx context.Context, provider, message, response string, tokens types.TokenUsage, ttl time.Duration) error {
	fp := Fingerprint(message)
	if err := m.store.CachePut(ctx, provider, fp, response, tokens, ttl); err != nil {
		return err
	}
	if m.front != nil {
		entry := types.CacheEntry{
			Provider:    provider,
			Fingerprint: fp,
			Response:    response,
			Tokens:      tokens,
			CreatedAt:   time.Now(),
			ExpiresAt:   time.Now().Add(ttl),
		}
		if ferr := m.front.SetJSON(ctx, frontKey(provider, fp), entry, ttl); ferr != nil && m.logger != nil {
			m.logger.Warn("cache front populate failed", zap.Error(ferr))
		}
	}
	return nil
}

// Clear removes every cached entry, optionally scoped to one provider.
func (m *Manager) Clear(ctx context.Context, provider string) (int64, error) {
	return m.store.CacheClear(ctx, provider)
}

// Stats returns the global entry-count snapshot.
func (m *Manager) Stats(ctx context.Context) (types.CacheStats, error) {
	return m.store.CacheStats(ctx)
}

// TopEntries returns the n most-hit entries, for /api/cache/stats/detailed.
func (m *Manager) TopEntries(ctx context.Context, n int) ([]*types.CacheEntry, error) {
	return m.store.CacheTopEntries(ctx, n)
}

// Sweep runs one pass of expired-entry cleanup followed by max-entries
// eviction. Exported so callers and tests can drive it synchronously.
func (m *Manager) Sweep(ctx context.Context) {
	expired, err := m.store.CacheCleanupExpired(ctx)
	if err != nil && m.logger != nil {
		m.logger.Warn("cache expired sweep failed", zap.Error(err))
	}
	evicted, err := m.store.CacheEnforceMaxEntries(ctx, m.cfg.MaxEntries)
	if err != nil && m.logger != nil {
		m.logger.Warn("cache max-entries enforcement failed", zap.Error(err))
	}
	if (expired > 0 || evicted > 0) && m.logger != nil {
		m.logger.Debug("cache sweep", zap.Int64("expired", expired), zap.Int64("evicted", evicted))
	}
}

// Start launches the periodic sweep loop in the background.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}
