// Package api provides the JSON envelope and request/response shapes of the
// gateway's HTTP surface (spec.md §4.13): the envelope shared by every
// endpoint and the request/response bodies of individual endpoints.
package api

import "time"

// Response is the canonical JSON envelope returned by every endpoint.
// @Description Standard API response envelope
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the structured error body of a failed response.
// @Description Structured error detail
type ErrorInfo struct {
	Code       string `json:"code" example:"INVALID_REQUEST"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// AskRequest is the body of POST /api/ask and /api/ask/stream.
// @Description Inference request
type AskRequest struct {
	Message             string `json:"message" binding:"required"`
	Provider            string `json:"provider,omitempty"`
	Priority            int    `json:"priority,omitempty"`
	TimeoutS            float64 `json:"timeout_s,omitempty"`
	CacheBypass         bool   `json:"cache_bypass,omitempty"`
	AggregationStrategy string `json:"aggregation_strategy,omitempty"`
	Agent               string `json:"agent,omitempty"`
}

// AskResponse is the envelope returned by POST /api/ask when the caller
// does not wait for completion, or the terminal shape once it does.
// @Description Inference response
type AskResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Cached    bool   `json:"cached"`
	Parallel  bool   `json:"parallel"`
	Agent     string `json:"agent,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	Provider  string `json:"provider,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// DiscussionStartRequest is the body of POST /api/discussion/start.
// @Description Discussion session creation request
type DiscussionStartRequest struct {
	Topic            string   `json:"topic" binding:"required"`
	Providers        []string `json:"providers,omitempty"`
	RoundTimeoutS    float64  `json:"round_timeout_s,omitempty"`
	ProviderTimeoutS float64  `json:"provider_timeout_s,omitempty"`
	SummaryProvider  string   `json:"summary_provider,omitempty"`
	MinProviders     int      `json:"min_providers,omitempty"`
}

// DiscussionContinueRequest is the body of POST /api/discussion/{id}/continue.
// @Description Discussion continuation request
type DiscussionContinueRequest struct {
	Topic         string   `json:"topic" binding:"required"`
	ExtraContext  string   `json:"extra_context,omitempty"`
	Providers     []string `json:"providers,omitempty"`
}

// APIKeyCreateRequest is the body shape for creating an API key; no route
// or handler in this repository accepts it.
// @Description API key creation request
type APIKeyCreateRequest struct {
	Name         string `json:"name" binding:"required"`
	Priority     int    `json:"priority,omitempty"`
	Weight       int    `json:"weight,omitempty"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"`
	RateLimitRPD int    `json:"rate_limit_rpd,omitempty"`
}

// APIKeyCreateResponse returns the plaintext key exactly once.
// @Description API key creation response (plaintext key shown once)
type APIKeyCreateResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
