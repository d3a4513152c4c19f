package reliability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracker_EMAConvergesTowardOutcome(t *testing.T) {
	tr := New()
	for i := 0; i < 50; i++ {
		tr.RecordFailure("kimi", "connection reset")
	}
	require.InDelta(t, 0.0, tr.Score("kimi").Score, 0.01)

	for i := 0; i < 50; i++ {
		tr.RecordSuccess("kimi")
	}
	require.InDelta(t, 1.0, tr.Score("kimi").Score, 0.01)
}

func TestTracker_NewProviderStartsAtFullScore(t *testing.T) {
	tr := New()
	require.Equal(t, 1.0, tr.Score("unseen").Score)
}

func TestTracker_AuthFailureDetection(t *testing.T) {
	tr := New()
	tr.RecordFailure("kimi", "HTTP 401 Unauthorized")
	tr.RecordFailure("kimi", "invalid API key provided")
	require.False(t, tr.NeedsReauth("kimi"), "two failures must not yet latch needs_reauth")

	tr.RecordFailure("kimi", "403 forbidden")
	require.True(t, tr.NeedsReauth("kimi"))
	require.Equal(t, 3, tr.Score("kimi").AuthFailureCount)
}

func TestTracker_NonAuthFailureDoesNotCount(t *testing.T) {
	tr := New()
	tr.RecordFailure("kimi", "connection timed out")
	tr.RecordFailure("kimi", "connection timed out")
	tr.RecordFailure("kimi", "connection timed out")
	require.False(t, tr.NeedsReauth("kimi"))
	require.Equal(t, 0, tr.Score("kimi").AuthFailureCount)
}

func TestTracker_ResetAuthClearsStickyFlag(t *testing.T) {
	tr := New()
	for i := 0; i < 3; i++ {
		tr.RecordFailure("kimi", "401 unauthorized")
	}
	require.True(t, tr.NeedsReauth("kimi"))

	tr.ResetAuth("kimi")
	require.False(t, tr.NeedsReauth("kimi"))
	require.Equal(t, 0, tr.Score("kimi").AuthFailureCount)
}
