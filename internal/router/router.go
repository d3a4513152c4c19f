// Package router implements Router (spec.md §4.6): a priority-sorted
// keyword rule set blended with a live performance score, grounded on the
// teacher's longest-prefix model-ID router (llm/router/prefix_router.go),
// generalized here from a single-match prefix lookup to a scored,
// multi-candidate keyword match combined with health and reliability
// signals.
package router

import (
	"sort"
	"strings"
	"sync"
)

// Rule is one routing rule: a set of keyword substrings that, when found in
// an inbound message, point to a target provider.
type Rule struct {
	Keywords    []string
	Provider    string
	Model       string
	Priority    int // 0-100, higher wins ties
	Description string
}

// Decision is the outcome of routing one message.
type Decision struct {
	Provider         string   `json:"provider"`
	Model            string   `json:"model,omitempty"`
	Confidence       float64  `json:"confidence"`
	MatchedKeywords  []string `json:"matched_keywords,omitempty"`
	RuleDescription  string   `json:"rule_description,omitempty"`
	PerformanceScore float64  `json:"performance_score"`
}

// PerformanceSource supplies the live latency/success-rate/cost signal a
// Decision blends with keyword confidence, and whether a provider is
// currently healthy enough to receive new traffic.
type PerformanceSource interface {
	PerformanceScore(provider string) float64 // 0.0-1.0, already latency/success/cost weighted
	IsHealthy(provider string) bool
}

// PerformanceWeight is how much the final score leans on live performance
// versus keyword confidence, per spec.md §4.6 step 3.
const PerformanceWeight = 0.4

// Router owns the rule set and resolves group tokens.
type Router struct {
	mu              sync.RWMutex
	rules           []Rule
	groups          map[string][]string // "@name" -> provider list, without the "@"
	defaultProvider string
	perf            PerformanceSource
}

// New creates a Router. perf may be nil, in which case performance score
// defaults to 1.0 for every provider (treated as healthy, fully performant).
func New(defaultProvider string, perf PerformanceSource) *Router {
	return &Router{
		groups:          make(map[string][]string),
		defaultProvider: defaultProvider,
		perf:            perf,
	}
}

// SetRules replaces the rule set, sorted by descending priority so ties in
// the final score break toward the operator's declared priority order.
func (r *Router) SetRules(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = sorted
}

// SetGroup registers a "@name" token resolving to the given providers.
func (r *Router) SetGroup(name string, providers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[name] = providers
}

// ResolveGroup expands a "@name" token into its member providers. "@all"
// resolves to every provider named by any rule, deduplicated.
func (r *Router) ResolveGroup(token string) []string {
	name := strings.TrimPrefix(token, "@")

	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "all" {
		seen := make(map[string]bool)
		var all []string
		for _, rule := range r.rules {
			if !seen[rule.Provider] {
				seen[rule.Provider] = true
				all = append(all, rule.Provider)
			}
		}
		return all
	}
	return r.groups[name]
}

func (r *Router) performanceScore(provider string) float64 {
	if r.perf == nil {
		return 1.0
	}
	score := r.perf.PerformanceScore(provider)
	if r.perf.IsHealthy(provider) {
		return score
	}
	return score * 0.5
}

func (r *Router) isHealthy(provider string) bool {
	if r.perf == nil {
		return true
	}
	return r.perf.IsHealthy(provider)
}

// Route implements spec.md §4.6's five-step decision procedure.
func (r *Router) Route(message string) Decision {
	lower := strings.ToLower(message)

	r.mu.RLock()
	rules := append([]Rule(nil), r.rules...)
	r.mu.RUnlock()

	var best *Decision
	var bestPriority int
	var bestHealthy bool

	for _, rule := range rules {
		if len(rule.Keywords) == 0 {
			continue
		}
		var matched []string
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}

		keywordConf := float64(len(matched)) / float64(len(rule.Keywords)) * (float64(rule.Priority) / 100.0)
		if keywordConf > 1.0 {
			keywordConf = 1.0
		}

		perf := r.performanceScore(rule.Provider)
		final := keywordConf*(1-PerformanceWeight) + perf*PerformanceWeight
		healthy := r.isHealthy(rule.Provider)

		candidate := Decision{
			Provider:         rule.Provider,
			Model:            rule.Model,
			Confidence:       final,
			MatchedKeywords:  matched,
			RuleDescription:  rule.Description,
			PerformanceScore: perf,
		}

		// Prefer a healthy candidate over an unhealthy one regardless of
		// score (spec.md §4.6 step 5); among same-health candidates take
		// the highest (priority, final) pair.
		switch {
		case best == nil:
			take(&best, candidate, rule.Priority, healthy, &bestPriority, &bestHealthy)
		case healthy && !bestHealthy:
			take(&best, candidate, rule.Priority, healthy, &bestPriority, &bestHealthy)
		case healthy == bestHealthy && (rule.Priority > bestPriority ||
			(rule.Priority == bestPriority && final > best.Confidence)):
			take(&best, candidate, rule.Priority, healthy, &bestPriority, &bestHealthy)
		}
	}

	if best == nil || !bestHealthy {
		// no match, or every match was unhealthy; fall back to default per step 5
		return Decision{
			Provider:         r.defaultProvider,
			Confidence:       0.5,
			PerformanceScore: r.performanceScore(r.defaultProvider),
		}
	}
	return *best
}

func take(best **Decision, candidate Decision, priority int, healthy bool, bestPriority *int, bestHealthy *bool) {
	c := candidate
	*best = &c
	*bestPriority = priority
	*bestHealthy = healthy
}

// NoopPerformanceSource reports full health and a perfect performance score
// for every provider; useful before live metrics have accumulated.
type NoopPerformanceSource struct{}

func (NoopPerformanceSource) PerformanceScore(string) float64 { return 1.0 }
func (NoopPerformanceSource) IsHealthy(string) bool           { return true }

// WeightedPerformance blends latency, success rate, and cost into a single
// 0.0-1.0 score per spec.md §4.6 step 2's stated weights.
func WeightedPerformance(latencyScore, successRate, costScore float64) float64 {
	const (
		latencyWeight = 0.3
		successWeight = 0.5
		costWeight    = 0.2
	)
	return latencyScore*latencyWeight + successRate*successWeight + costScore*costWeight
}
