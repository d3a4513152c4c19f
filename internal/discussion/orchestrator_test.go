package discussion

import (
	"context"
	"errors"
	"sync"
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

	return store.New(pool, store.PricingTable{}, zap.NewNop(), 1)
}

func TestOrchestrator_CompletesThreeRoundsAndSummarizes(t *testing.T) {
	s := setupTestStore(t)
	call := func(ctx context.Context, provider, prompt string) (string, error) {
		return provider + "-says-ok", nil
	}
	o := New(s, call, zap.NewNop())

	var events []string
	var mu sync.Mutex
	o.OnStatusChange(func(sess *types.DiscussionSession, event string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})

	sess, err := o.Start(context.Background(), "is go better than rust", []string{"a", "b"}, types.DiscussionConfig{MinProviders: 1})
	require.NoError(t, err)
	require.Equal(t, types.DiscussionCompleted, sess.Status)
	require.NotEmpty(t, sess.Summary)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, events, types.EventDiscussionCompleted)
	require.Contains(t, events, types.EventDiscussionSummaryCompleted)
}

func TestOrchestrator_Round1BelowMinProvidersFails(t *testing.T) {
	s := setupTestStore(t)
	call := func(ctx context.Context, provider, prompt string) (string, error) {
		return "", errors.New("always fails")
	}
	o := New(s, call, zap.NewNop())

	sess, err := o.Start(context.Background(), "topic", []string{"a", "b"}, types.DiscussionConfig{MinProviders: 1})
	require.NoError(t, err)
	require.Equal(t, types.DiscussionFailed, sess.Status)
}

func TestOrchestrator_PartialFailureInRound1StillProceeds(t *testing.T) {
	s := setupTestStore(t)
	call := func(ctx context.Context, provider, prompt string) (string, error) {
		if provider == "flaky" {
			return "", errors.New("down")
		}
		return provider + "-ok", nil
	}
	o := New(s, call, zap.NewNop())

	sess, err := o.Start(context.Background(), "topic", []string{"flaky", "stable"}, types.DiscussionConfig{MinProviders: 1})
	require.NoError(t, err)
	require.Equal(t, types.DiscussionCompleted, sess.Status)
}

func TestOrchestrator_ContinueLinksParentSession(t *testing.T) {
	s := setupTestStore(t)
	call := func(ctx context.Context, provider, prompt string) (string, error) {
		return provider + "-ok", nil
	}
	o := New(s, call, zap.NewNop())

	parent, err := o.Start(context.Background(), "first topic", []string{"a"}, types.DiscussionConfig{MinProviders: 1})
	require.NoError(t, err)

	child, err := o.Continue(context.Background(), parent.ID, "follow up topic", "", nil)
	require.NoError(t, err)
	require.Equal(t, parent.ID, child.ParentSessionID)
	require.Equal(t, types.DiscussionCompleted, child.Status)
	require.Equal(t, []string{"a"}, child.Providers)
}
