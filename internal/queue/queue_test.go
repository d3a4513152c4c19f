package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentflow/types"
)

func req(id string, priority int) *types.Request {
	return &types.Request{ID: id, Priority: priority, CreatedAt: time.Now()}
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := New(10, 4)

	require.True(t, q.Enqueue(req("low", 10)))
	require.True(t, q.Enqueue(req("high", 90)))
	require.True(t, q.Enqueue(req("mid", 50)))

	got, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "high", got.ID)

	got, ok = q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "mid", got.ID)

	got, ok = q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "low", got.ID)
}

func TestQueue_FIFOWithinSamePriority(t *testing.T) {
	q := New(10, 4)
	require.True(t, q.Enqueue(req("first", 50)))
	require.True(t, q.Enqueue(req("second", 50)))

	got, _ := q.Dequeue()
	require.Equal(t, "first", got.ID)
	got, _ = q.Dequeue()
	require.Equal(t, "second", got.ID)
}

func TestQueue_MaxDepthRejection(t *testing.T) {
	q := New(1, 4)
	require.True(t, q.Enqueue(req("a", 50)))
	require.False(t, q.Enqueue(req("b", 50)), "enqueue beyond max_queue_depth must fail")
}

func TestQueue_CancelRemovesFromQueue(t *testing.T) {
	q := New(10, 4)
	require.True(t, q.Enqueue(req("a", 50)))
	require.True(t, q.Cancel("a"))
	require.False(t, q.Cancel("a"), "cancelling twice must report not-found")
	require.Equal(t, 0, q.Depth())
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(10, 4)
	done := make(chan *types.Request, 1)
	go func() {
		r, ok := q.Dequeue()
		if ok {
			done <- r
		}
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("dequeue returned before anything was enqueued")
	default:
	}

	require.True(t, q.Enqueue(req("a", 50)))
	select {
	case r := <-done:
		require.Equal(t, "a", r.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
}

func TestQueue_CloseUnblocksDequeue(t *testing.T) {
	q := New(10, 4)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock dequeue")
	}
}

func TestQueue_StatsByProvider(t *testing.T) {
	q := New(10, 4)
	a := req("a", 50)
	a.Provider = "kimi"
	b := req("b", 50)
	b.Provider = "kimi"
	c := req("c", 50)
	require.True(t, q.Enqueue(a))
	require.True(t, q.Enqueue(b))
	require.True(t, q.Enqueue(c))

	stats := q.Stats()
	require.Equal(t, 3, stats.QueueDepth)
	require.Equal(t, 2, stats.ByProvider["kimi"])
	require.Equal(t, 1, stats.ByProvider["auto"])
}

func TestQueue_MarkCompletedClearsProcessing(t *testing.T) {
	q := New(10, 4)
	require.True(t, q.Enqueue(req("a", 50)))
	_, _ = q.Dequeue()
	require.Equal(t, 1, q.ProcessingCount())
	q.MarkCompleted("a")
	require.Equal(t, 0, q.ProcessingCount())
}
