package streammgr

import (
	"context"
	"testing"

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

	return store.New(pool, store.PricingTable{}, zap.NewNop(), 1) // batchSize=1 flushes immediately
}

func TestManager_AppendAssignsIncrementingSeq(t *testing.T) {
	ctx := context.Background()
	m := New(setupTestStore(t))

	require.NoError(t, m.Append(ctx, "req-1", types.StreamStart, ""))
	require.NoError(t, m.Append(ctx, "req-1", types.StreamChunk, "hello"))
	require.NoError(t, m.Complete(ctx, "req-1", true, 100))

	entries, err := m.Tail(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(0), entries[0].Seq)
	require.Equal(t, int64(1), entries[1].Seq)
	require.Equal(t, int64(2), entries[2].Seq)
	require.Equal(t, types.StreamComplete, entries[2].Type)
}

func TestManager_SubscribeReceivesLiveFrames(t *testing.T) {
	ctx := context.Background()
	m := New(setupTestStore(t))

	ch, cancel := m.Subscribe("req-2")
	defer cancel()

	require.NoError(t, m.Append(ctx, "req-2", types.StreamChunk, "part one"))
	frame := <-ch
	require.Equal(t, "part one", frame.Content)
	require.False(t, frame.IsFinal)

	require.NoError(t, m.Complete(ctx, "req-2", true, 50))
	final := <-ch
	require.True(t, final.IsFinal)

	_, stillOpen := <-ch
	require.False(t, stillOpen, "channel should close after Complete")
}

func TestManager_CancelRemovesSubscriberWithoutPanic(t *testing.T) {
	m := New(setupTestStore(t))
	_, cancel := m.Subscribe("req-3")
	cancel()
	require.NoError(t, m.Append(context.Background(), "req-3", types.StreamChunk, "x"))
}

func TestManager_SlowSubscriberDropsFramesInsteadOfBlocking(t *testing.T) {
	ctx := context.Background()
	m := New(setupTestStore(t))
	ch, cancel := m.Subscribe("req-4")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, m.Append(ctx, "req-4", types.StreamChunk, "x"))
	}
	require.Len(t, ch, subscriberBuffer)
}
