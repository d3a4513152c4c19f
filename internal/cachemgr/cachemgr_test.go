package cachemgr

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

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

	return store.New(pool, store.PricingTable{}, zap.NewNop(), 10)
}

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	require.Equal(t, Fingerprint("hello"), Fingerprint("hello"))
	require.NotEqual(t, Fingerprint("hello"), Fingerprint("world"))
}

func TestManager_PutThenGetHitsCache(t *testing.T) {
	ctx := context.Background()
	m := New(DefaultConfig(), setupTestStore(t), zap.NewNop())

	require.NoError(t, m.Put(ctx, "kimi", "hello", "hi there", types.TokenUsage{TotalTokens: 5}))

	entry, found, err := m.Get(ctx, "kimi", "hello")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hi there", entry.Response)
	require.Equal(t, int64(1), entry.HitCount)
}

func TestManager_GetMissWhenNeverPut(t *testing.T) {
	ctx := context.Background()
	m := New(DefaultConfig(), setupTestStore(t), zap.NewNop())

	_, found, err := m.Get(ctx, "kimi", "never seen")
	require.NoError(t, err)
	require.False(t, found)
}

func TestManager_ExpiredEntrySweepRemovesIt(t *testing.T) {
	ctx := context.Background()
	m := New(DefaultConfig(), setupTestStore(t), zap.NewNop())

	require.NoError(t, m.PutWithTTL(ctx, "kimi", "bye", "later", types.TokenUsage{}, -time.Second))
	m.Sweep(ctx)

	_, found, err := m.Get(ctx, "kimi", "bye")
	require.NoError(t, err)
	require.False(t, found)
}

func TestManager_MaxEntriesEvictsLeastRecentlyHit(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	m := New(cfg, setupTestStore(t), zap.NewNop())

	require.NoError(t, m.Put(ctx, "kimi", "one", "r1", types.TokenUsage{}))
	require.NoError(t, m.Put(ctx, "kimi", "two", "r2", types.TokenUsage{}))
	require.NoError(t, m.Put(ctx, "kimi", "three", "r3", types.TokenUsage{}))

	m.Sweep(ctx)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Entries)

	_, found, err := m.Get(ctx, "kimi", "one")
	require.NoError(t, err)
	require.False(t, found, "oldest untouched entry should be evicted first")
}

func TestManager_ClearRemovesAllEntries(t *testing.T) {
	ctx := context.Background()
	m := New(DefaultConfig(), setupTestStore(t), zap.NewNop())

	require.NoError(t, m.Put(ctx, "kimi", "hello", "hi", types.TokenUsage{}))
	n, err := m.Clear(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, found, err := m.Get(ctx, "kimi", "hello")
	require.NoError(t, err)
	require.False(t, found)
}
