package parallel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentflow/types"
)

func TestExecute_FirstSuccessReturnsFirstWinnerWithoutWaiting(t *testing.T) {
	call := func(ctx context.Context, provider string) (types.Result, error) {
		if provider == "slow" {
			time.Sleep(50 * time.Millisecond)
			return types.Result{Success: true, Response: "slow-done"}, nil
		}
		return types.Result{Success: true, Response: "fast-done"}, nil
	}

	start := time.Now()
	agg := Execute(context.Background(), []string{"slow", "fast"}, types.AggregationFirstSuccess, call)
	elapsed := time.Since(start)

	require.NotNil(t, agg.Winner)
	require.Equal(t, "fast", agg.Winner.Provider)
	require.Less(t, elapsed, 40*time.Millisecond)
}

func TestExecute_FirstSuccessSkipsFailures(t *testing.T) {
	call := func(ctx context.Context, provider string) (types.Result, error) {
		if provider == "broken" {
			return types.Result{}, errors.New("boom")
		}
		return types.Result{Success: true, Response: "ok"}, nil
	}
	agg := Execute(context.Background(), []string{"broken", "good"}, types.AggregationFirstSuccess, call)
	require.NotNil(t, agg.Winner)
	require.Equal(t, "good", agg.Winner.Provider)
	require.Len(t, agg.AllResponses, 2)
}

func TestExecute_FastestPicksLowestLatencySuccess(t *testing.T) {
	call := func(ctx context.Context, provider string) (types.Result, error) {
		if provider == "slow" {
			time.Sleep(20 * time.Millisecond)
		}
		return types.Result{Success: true, Response: provider}, nil
	}
	agg := Execute(context.Background(), []string{"slow", "fast"}, types.AggregationFastest, call)
	require.Equal(t, "fast", agg.Winner.Provider)
	require.Len(t, agg.AllResponses, 2)
}

func TestExecute_AllPicksFirstSuccessfulButKeepsEveryOutcome(t *testing.T) {
	call := func(ctx context.Context, provider string) (types.Result, error) {
		if provider == "a" {
			return types.Result{}, errors.New("fail")
		}
		return types.Result{Success: true, Response: provider}, nil
	}
	agg := Execute(context.Background(), []string{"a", "b"}, types.AggregationAll, call)
	require.NotNil(t, agg.Winner)
	require.Len(t, agg.AllResponses, 2)
}

func TestExecute_ConsensusPicksMajorityResponse(t *testing.T) {
	call := func(ctx context.Context, provider string) (types.Result, error) {
		if provider == "outlier" {
			return types.Result{Success: true, Response: "different answer"}, nil
		}
		return types.Result{Success: true, Response: "agreed answer"}, nil
	}
	agg := Execute(context.Background(), []string{"a", "b", "outlier"}, types.AggregationConsensus, call)
	require.Equal(t, "agreed answer", agg.Winner.Result.Response)
	require.Len(t, agg.AllResponses, 3)
}

func TestExecute_AllFailuresYieldsNilWinner(t *testing.T) {
	call := func(ctx context.Context, provider string) (types.Result, error) {
		return types.Result{}, errors.New("down")
	}
	agg := Execute(context.Background(), []string{"a", "b"}, types.AggregationFirstSuccess, call)
	require.Nil(t, agg.Winner)
	require.Len(t, agg.AllResponses, 2)
}
