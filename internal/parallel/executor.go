// Package parallel implements ParallelExecutor (spec.md §4.9): fan-out of
// one request across several backends with a caller-chosen aggregation
// strategy, grounded on the teacher's BroadcastCoordinator fan-out pattern
// (agent/collaboration/multi_agent.go), adapted from merging agent.Output
// text into one paragraph to the gateway's FirstSuccess/Fastest/All/
// Consensus strategies over types.Result.
package parallel

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/types"
)

// CallFunc performs one backend call for a given provider.
type CallFunc func(ctx context.Context, provider string) (types.Result, error)

// Outcome is one provider's contribution to a fan-out, always recorded in
// full regardless of which strategy ultimately wins (spec.md §4.9:
// all_responses is always persisted).
type Outcome struct {
	Provider  string       `json:"provider"`
	Result    types.Result `json:"result"`
	Err       string       `json:"error,omitempty"`
	LatencyMs int64        `json:"latency_ms"`
}

// AggregateResult is what Execute returns: the winning outcome plus the
// full set of per-provider outcomes for persistence.
type AggregateResult struct {
	Winner       *Outcome  `json:"winner,omitempty"`
	AllResponses []Outcome `json:"all_responses"`
	Strategy     types.AggregationStrategy `json:"strategy"`
}

// Execute fans a request out to every provider concurrently and reduces the
// outcomes according to strategy.
func Execute(ctx context.Context, providers []string, strategy types.AggregationStrategy, call CallFunc) AggregateResult {
	switch strategy {
	case types.AggregationFirstSuccess:
		return executeFirstSuccess(ctx, providers, call)
	case types.AggregationFastest:
		return executeCollectAll(ctx, providers, call, types.AggregationFastest, pickFastest)
	case types.AggregationConsensus:
		return executeCollectAll(ctx, providers, call, types.AggregationConsensus, pickConsensus)
	default:
		return executeCollectAll(ctx, providers, call, types.AggregationAll, pickFirstSuccessful)
	}
}

// executeFirstSuccess races every provider and returns as soon as one
// succeeds, without waiting on the stragglers; all outcomes that did
// complete before the winner (or before ctx cancellation) are still
// recorded, and providers still in flight when the winner arrives are
// recorded with a cancellation error.
func executeFirstSuccess(ctx context.Context, providers []string, call CallFunc) AggregateResult {
	type indexed struct {
		idx int
		out Outcome
	}

	resultsCh := make(chan indexed, len(providers))
	var wg sync.WaitGroup

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, p := range providers {
		wg.Add(1)
		go func(i int, provider string) {
			defer wg.Done()
			start := time.Now()
			res, err := call(fanCtx, provider)
			out := Outcome{Provider: provider, Result: res, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				out.Err = err.Error()
			}
			select {
			case resultsCh <- indexed{idx: i, out: out}:
			case <-fanCtx.Done():
			}
		}(i, p)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var all []Outcome
	var winner *Outcome
	reported := make(map[int]bool, len(providers))
	for r := range resultsCh {
		reported[r.idx] = true
		all = append(all, r.out)
		if r.out.Err == "" && r.out.Result.Success {
			w := r.out
			winner = &w
			cancel()
			break
		}
	}
	if winner != nil {
		for i, p := range providers {
			if !reported[i] {
				all = append(all, Outcome{Provider: p, Err: context.Canceled.Error()})
			}
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Provider < all[j].Provider })
	return AggregateResult{Winner: winner, AllResponses: all, Strategy: types.AggregationFirstSuccess}
}

type pickFunc func([]Outcome) *Outcome

// executeCollectAll waits for every provider to finish (or ctx to expire)
// and then applies pick to choose the winner, always keeping every outcome.
func executeCollectAll(ctx context.Context, providers []string, call CallFunc, strategy types.AggregationStrategy, pick pickFunc) AggregateResult {
	outcomes := make([]Outcome, len(providers))
	var wg sync.WaitGroup

	for i, p := range providers {
		wg.Add(1)
		go func(i int, provider string) {
			defer wg.Done()
			start := time.Now()
			res, err := call(ctx, provider)
			out := Outcome{Provider: provider, Result: res, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				out.Err = err.Error()
			}
			outcomes[i] = out
		}(i, p)
	}
	wg.Wait()

	return AggregateResult{Winner: pick(outcomes), AllResponses: outcomes, Strategy: strategy}
}

func pickFastest(outcomes []Outcome) *Outcome {
	var best *Outcome
	for i := range outcomes {
		o := outcomes[i]
		if o.Err != "" || !o.Result.Success {
			continue
		}
		if best == nil || o.LatencyMs < best.LatencyMs {
			best = &outcomes[i]
		}
	}
	return best
}

func pickFirstSuccessful(outcomes []Outcome) *Outcome {
	for i := range outcomes {
		if outcomes[i].Err == "" && outcomes[i].Result.Success {
			return &outcomes[i]
		}
	}
	return nil
}

// pickConsensus returns the successful outcome whose response text is the
// most common among successful outcomes (normalized by trimming whitespace
// and case), breaking ties toward the lowest latency.
func pickConsensus(outcomes []Outcome) *Outcome {
	groups := make(map[string][]*Outcome)
	for i := range outcomes {
		o := outcomes[i]
		if o.Err != "" || !o.Result.Success {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(o.Result.Response))
		groups[key] = append(groups[key], &outcomes[i])
	}

	var bestGroup []*Outcome
	for _, g := range groups {
		if len(g) > len(bestGroup) {
			bestGroup = g
		}
	}
	if len(bestGroup) == 0 {
		return nil
	}

	best := bestGroup[0]
	for _, o := range bestGroup[1:] {
		if o.LatencyMs < best.LatencyMs {
			best = o
		}
	}
	return best
}
