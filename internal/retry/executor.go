// Package retry implements RetryExecutor (spec.md §4.8): five-way backend
// failure classification, exponential backoff with jitter per class, and
// fallback-chain walking. Backoff math is grounded on the teacher's
// llm/retry.backoffRetryer.calculateDelay (exponential * multiplier with
// +-25% jitter); classification is grounded on the teacher's circuit
// breaker isClientError technique (llm/circuitbreaker/breaker.go).
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/types"
)

// Classification is the five-way bucket a backend failure falls into.
type Classification string

const (
	RetryableTransient     Classification = "retryable_transient"
	RetryableRateLimit     Classification = "retryable_rate_limit"
	NonRetryableAuth       Classification = "non_retryable_auth"
	NonRetryableClient     Classification = "non_retryable_client"
	NonRetryablePermanent  Classification = "non_retryable_permanent"
)

// ErrorCode maps a Classification onto the shared gateway error taxonomy.
func (c Classification) ErrorCode() types.ErrorCode {
	switch c {
	case RetryableTransient:
		return types.ErrRetryableTransient
	case RetryableRateLimit:
		return types.ErrRetryableRateLimit
	case NonRetryableAuth:
		return types.ErrNonRetryableAuth
	case NonRetryableClient:
		return types.ErrNonRetryableClient
	default:
		return types.ErrNonRetryablePermanent
	}
}

// Retryable reports whether this classification is eligible for any retry
// at all, per spec.md §4.8's policy table.
func (c Classification) Retryable() bool {
	return c == RetryableTransient || c == RetryableRateLimit
}

var rateLimitWords = []string{"rate limit", "too many requests", "429"}
var authWords = []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication"}

// Classify buckets a backend failure using the result metadata first (when
// a backend reliably reports HTTPStatus/AuthError/Retryable) and falling
// back to substring matching on the error text.
func Classify(res types.Result, err error) Classification {
	msg := strings.ToLower(res.Error)
	if err != nil {
		msg += " " + strings.ToLower(err.Error())
	}

	status := res.Metadata.HTTPStatus
	if status == 0 {
		if s, ok := extractHTTPStatus(msg); ok {
			status = s
		}
	}

	if res.Metadata.AuthError || status == 401 || status == 403 || containsAny(msg, authWords) {
		return NonRetryableAuth
	}
	if status == 429 || containsAny(msg, rateLimitWords) {
		return RetryableRateLimit
	}
	if status >= 500 && status < 600 {
		return RetryableTransient
	}
	if isNetworkError(msg) {
		return RetryableTransient
	}
	if status >= 400 && status < 500 {
		return NonRetryableClient
	}
	if res.Metadata.Retryable {
		return RetryableTransient
	}
	return NonRetryablePermanent
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func isNetworkError(msg string) bool {
	for _, n := range []string{"timeout", "timed out", "connection reset", "connection refused", "eof", "context deadline exceeded"} {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

func extractHTTPStatus(msg string) (int, bool) {
	for _, code := range []string{"500", "502", "503", "504", "429", "401", "403", "400", "404"} {
		if strings.Contains(msg, code) {
			n, err := strconv.Atoi(code)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Policy holds backoff parameters for one classification.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Config is the full RetryExecutor policy set plus fallback toggle.
type Config struct {
	Transient  Policy
	RateLimit  Policy
	FallbackEnabled bool
}

// DefaultConfig returns spec.md §4.8's suggested defaults: rate-limit
// failures get a longer base delay than plain transient failures.
func DefaultConfig() Config {
	return Config{
		Transient:       Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		RateLimit:       Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		FallbackEnabled: true,
	}
}

func (c Config) policyFor(cl Classification) Policy {
	if cl == RetryableRateLimit {
		return c.RateLimit
	}
	return c.Transient
}

// calculateDelay mirrors the teacher's exponential backoff with +-25%
// jitter, floored at base delay and capped at max delay.
func calculateDelay(p Policy, attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2.0, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := delay * 0.25
	delay += (rand.Float64()*2 - 1) * jitter
	if delay < float64(p.BaseDelay) {
		delay = float64(p.BaseDelay)
	}
	return time.Duration(delay)
}

// HealthSource reports provider availability for fallback-chain walking.
type HealthSource interface {
	IsAvailable(provider string) bool
}

// AuthSource reports a provider's sticky needs_reauth flag.
type AuthSource interface {
	NeedsReauth(provider string) bool
	RecordFailure(provider, errMsg string)
	RecordSuccess(provider string)
}

// MetricsSink receives per-attempt retry/fallback events as they happen,
// so provider and classification stay correctly paired (types.RetryInfo's
// parallel slices do not align 1:1 when a candidate succeeds without ever
// being classified).
type MetricsSink interface {
	RecordRetry(provider, classification string)
	RecordFallback(from, to string)
}

// Executor runs the retry/fallback state machine of spec.md §4.8 over a
// caller-supplied attempt function.
type Executor struct {
	cfg      Config
	health   HealthSource
	auth     AuthSource
	metrics  MetricsSink
	fallback map[string][]string // provider -> ordered fallback chain
}

// New creates an Executor. health/auth may be nil to disable their checks
// (fallback candidates are then always considered eligible).
func New(cfg Config, health HealthSource, auth AuthSource) *Executor {
	return &Executor{cfg: cfg, health: health, auth: auth, fallback: make(map[string][]string)}
}

// SetMetrics wires an optional metrics sink.
func (e *Executor) SetMetrics(m MetricsSink) {
	e.metrics = m
}

// SetFallbackChain registers the ordered list of providers to try after
// `provider` is exhausted or fails non-retryably.
func (e *Executor) SetFallbackChain(provider string, chain []string) {
	e.fallback[provider] = chain
}

// AttemptFunc performs one backend call for a given provider.
type AttemptFunc func(ctx context.Context, provider string) (types.Result, error)

// Run executes attemptFn against provider, retrying per classification and
// walking the fallback chain on exhaustion, returning the terminal result
// and a populated types.RetryInfo summary.
func (e *Executor) Run(ctx context.Context, provider string, attemptFn AttemptFunc) (types.Result, types.RetryInfo, error) {
	info := types.RetryInfo{}
	candidates := append([]string{provider}, e.fallbackChainFor(provider)...)

	var lastResult types.Result
	var lastErr error
	var previousCandidate string

	for _, candidate := range candidates {
		if candidate != provider && e.health != nil && !e.health.IsAvailable(candidate) {
			continue
		}
		if candidate != provider && e.auth != nil && e.auth.NeedsReauth(candidate) {
			continue
		}

		if previousCandidate != "" && e.metrics != nil {
			e.metrics.RecordFallback(previousCandidate, candidate)
		}
		previousCandidate = candidate

		result, err, cl, attempts, elapsed := e.runProviderWithRetry(ctx, candidate, attemptFn)
		info.Attempts += attempts
		info.Providers = append(info.Providers, candidate)
		info.ElapsedMsPerAttempt = append(info.ElapsedMsPerAttempt, elapsed...)
		if cl != "" {
			info.Classifications = append(info.Classifications, string(cl))
			if e.metrics != nil {
				e.metrics.RecordRetry(candidate, string(cl))
			}
		}

		lastResult, lastErr = result, err
		if err == nil && result.Success {
			if e.auth != nil {
				e.auth.RecordSuccess(candidate)
			}
			return result, info, nil
		}

		if e.auth != nil {
			e.auth.RecordFailure(candidate, result.Error)
		}

		if !e.cfg.FallbackEnabled {
			break
		}
		// non-retryable or retries exhausted on this candidate; try next in chain
	}

	if lastErr == nil {
		msg := lastResult.Error
		if msg == "" {
			msg = "all attempts failed"
		}
		lastErr = errors.New(msg)
	}
	return lastResult, info, lastErr
}

func (e *Executor) runProviderWithRetry(ctx context.Context, provider string, attemptFn AttemptFunc) (types.Result, error, Classification, int, []int64) {
	var result types.Result
	var err error
	var cl Classification
	attempts := 0
	var elapsed []int64

	for n := 1; ; n++ {
		attempts++
		start := time.Now()
		result, err = attemptFn(ctx, provider)
		elapsed = append(elapsed, time.Since(start).Milliseconds())

		if err == nil && result.Success {
			return result, nil, "", attempts, elapsed
		}

		cl = Classify(result, err)
		if !cl.Retryable() {
			return result, err, cl, attempts, elapsed
		}

		policy := e.cfg.policyFor(cl)
		if n >= policy.MaxRetries {
			return result, err, cl, attempts, elapsed
		}

		delay := calculateDelay(policy, n)
		select {
		case <-ctx.Done():
			return result, ctx.Err(), cl, attempts, elapsed
		case <-time.After(delay):
		}
	}
}

func (e *Executor) fallbackChainFor(provider string) []string {
	return e.fallback[provider]
}
