// Package reliability implements ReliabilityTracker (spec.md §4.5): an
// exponential moving average of per-provider reliability plus sticky
// auth-failure detection, grounded on the teacher's circuit breaker
// (llm/circuitbreaker/breaker.go)'s isClientError substring-matching
// technique, adapted to match authentication strings instead of the
// teacher's client-error taxonomy.
package reliability

import (
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/types"
)

// DefaultAlpha is the EMA smoothing factor from spec.md §4.5.
const DefaultAlpha = 0.1

// DefaultAuthFailuresToReauth is how many consecutive auth failures before
// needs_reauth latches.
const DefaultAuthFailuresToReauth = 3

// authSubstrings are matched case-insensitively against the failure string.
var authSubstrings = []string{"401", "403", "invalid api key", "unauthorized", "authentication"}

// Tracker owns the live ReliabilityScore of every provider it has seen.
type Tracker struct {
	mu                   sync.RWMutex
	alpha                float64
	authFailuresToReauth int
	scores               map[string]*types.ReliabilityScore
}

// New creates a Tracker with spec.md defaults.
func New() *Tracker {
	return &Tracker{
		alpha:                DefaultAlpha,
		authFailuresToReauth: DefaultAuthFailuresToReauth,
		scores:               make(map[string]*types.ReliabilityScore),
	}
}

func (t *Tracker) ensureLocked(provider string) *types.ReliabilityScore {
	s, ok := t.scores[provider]
	if !ok {
		s = &types.ReliabilityScore{Provider: provider, Score: 1.0}
		t.scores[provider] = s
	}
	return s
}

// RecordSuccess updates the EMA toward 1.0.
func (t *Tracker) RecordSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureLocked(provider)
	s.Score = ema(s.Score, 1.0, t.alpha)
}

// RecordFailure updates the EMA toward 0.0 and, when errMsg looks like an
// authentication failure, bumps the sticky needs_reauth tracking.
func (t *Tracker) RecordFailure(provider, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureLocked(provider)
	s.Score = ema(s.Score, 0.0, t.alpha)

	if isAuthFailure(errMsg) {
		s.AuthFailureCount++
		s.LastAuthFailure = time.Now()
		if s.AuthFailureCount >= t.authFailuresToReauth {
			s.NeedsReauth = true
		}
	}
}

// ResetAuth clears the sticky needs_reauth flag and failure counter for a
// provider, e.g. after an operator rotates its credentials.
func (t *Tracker) ResetAuth(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensureLocked(provider)
	s.NeedsReauth = false
	s.AuthFailureCount = 0
}

// Score returns the current reliability record for a provider.
func (t *Tracker) Score(provider string) types.ReliabilityScore {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.scores[provider]
	if !ok {
		return types.ReliabilityScore{Provider: provider, Score: 1.0}
	}
	return *s
}

// NeedsReauth reports whether a provider's sticky auth flag is set.
func (t *Tracker) NeedsReauth(provider string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.scores[provider]
	return ok && s.NeedsReauth
}

// All returns a snapshot of every tracked provider's score.
func (t *Tracker) All() []types.ReliabilityScore {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.ReliabilityScore, 0, len(t.scores))
	for _, s := range t.scores {
		out = append(out, *s)
	}
	return out
}

func ema(prev, outcome, alpha float64) float64 {
	return prev*(1-alpha) + outcome*alpha
}

func isAuthFailure(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, sub := range authSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
