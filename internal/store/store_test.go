package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentflow/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(AllModels()...))

	pool, err := NewPool(db, PoolConfig{MaxIdleConns: 1, MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	return New(pool, PricingTable{}, zap.NewNop(), 10)
}

func TestStore_RequestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	now := time.Now()
	req := &types.Request{
		ID: "req-1", Message: "hello", Priority: types.DefaultPriority,
		Status: types.StatusQueued, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusQueued, got.Status)
	require.Nil(t, got.StartedAt)

	require.NoError(t, s.UpdateStatus(ctx, "req-1", types.StatusProcessing))
	got, err = s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateStatus(ctx, "req-1", types.StatusCompleted))
	got, err = s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestStore_CacheHitBumpsCounter(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.CachePut(ctx, "kimi", "fp1", "hello there", types.TokenUsage{TotalTokens: 10}, time.Hour))

	entry, hit, err := s.CacheGet(ctx, "kimi", "fp1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "hello there", entry.Response)
	require.EqualValues(t, 1, entry.HitCount)

	entry, hit, err = s.CacheGet(ctx, "kimi", "fp1")
	require.NoError(t, err)
	require.True(t, hit)
	require.EqualValues(t, 2, entry.HitCount)

	_, hit, err = s.CacheGet(ctx, "kimi", "missing")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestStore_CacheExpiry(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.CachePut(ctx, "kimi", "fp1", "stale", types.TokenUsage{}, -time.Second))

	_, hit, err := s.CacheGet(ctx, "kimi", "fp1")
	require.NoError(t, err)
	require.False(t, hit, "expired entry must not be returned as a hit")
}

func TestStore_CacheEnforceMaxEntries(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for i := 0; i < 5; i++ {
		fp := string(rune('a' + i))
		require.NoError(t, s.CachePut(ctx, "kimi", fp, "resp", types.TokenUsage{}, time.Hour))
	}

	deleted, err := s.CacheEnforceMaxEntries(ctx, 3)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	stats, err := s.CacheStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Entries)
}

func TestStore_StreamEntryBatching(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	s.batchSize = 3

	req := &types.Request{ID: "req-s", Message: "m", Status: types.StatusProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateRequest(ctx, req))

	require.NoError(t, s.AppendStreamEntry(ctx, types.StreamEntry{RequestID: "req-s", Seq: 1, Type: types.StreamStart, Timestamp: time.Now()}))
	require.NoError(t, s.AppendStreamEntry(ctx, types.StreamEntry{RequestID: "req-s", Seq: 2, Type: types.StreamChunk, Timestamp: time.Now()}))

	entries, err := s.StreamEntriesForRequest(ctx, "req-s")
	require.NoError(t, err)
	require.Empty(t, entries, "entries below batch size must still be buffered, not flushed")

	require.NoError(t, s.AppendStreamEntry(ctx, types.StreamEntry{RequestID: "req-s", Seq: 3, Type: types.StreamComplete, Timestamp: time.Now(), Success: true}))

	entries, err = s.StreamEntriesForRequest(ctx, "req-s")
	require.NoError(t, err)
	require.Len(t, entries, 3, "reaching batch size must flush")
}

func TestStore_SearchThinking(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	s.batchSize = 1

	req := &types.Request{ID: "req-t", Message: "m", Status: types.StatusProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateRequest(ctx, req))

	require.NoError(t, s.AppendStreamEntry(ctx, types.StreamEntry{
		RequestID: "req-t", Seq: 1, Type: types.StreamThinking,
		Content: "Considering the Postgres vs SQLite tradeoff", Timestamp: time.Now(),
	}))

	found, err := s.SearchThinking(ctx, "postgres")
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestStore_CostSummary(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	s.pricing = PricingTable{"kimi": {InputPerMillion: 1, OutputPerMillion: 2}}

	require.NoError(t, s.RecordTokenCost(ctx, "kimi", 1_000_000, 1_000_000, "req-1", "kimi-v1"))

	summary, err := s.CostSummaryWindow(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.RequestCount)
	require.InDelta(t, 3.0, summary.TotalCost, 0.0001)
}
