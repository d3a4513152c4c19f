package types

import "context"

// Result is what a Backend reports back for one execution.
type Result struct {
	Success     bool           `json:"success"`
	Response    string         `json:"response,omitempty"`
	Error       string         `json:"error,omitempty"`
	TokensUsed  int            `json:"tokens_used,omitempty"`
	Thinking    string         `json:"thinking,omitempty"`
	RawOutput   string         `json:"raw_output,omitempty"`
	Metadata    ResultMetadata `json:"metadata,omitempty"`
}

// ResultMetadata carries the fields RetryExecutor and StateStore read out
// of an otherwise opaque Result.
type ResultMetadata struct {
	InputTokens  int  `json:"input_tokens,omitempty"`
	OutputTokens int  `json:"output_tokens,omitempty"`
	AuthError    bool `json:"auth_error,omitempty"`
	Retryable    bool `json:"retryable,omitempty"`
	HTTPStatus   int  `json:"http_status,omitempty"`
}

// HealthStatus is the outcome of a single health probe.
type HealthStatus string

const (
	HealthOK      HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown    HealthStatus = "down"
)

// ProviderStatus is what check_health() returns.
type ProviderStatus struct {
	Provider  string       `json:"provider"`
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latency_ms,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Backend is the contract every provider adapter must honor. The engine
// never mutates a Request passed to execute, and never holds a lock while
// a call to execute is in flight.
type Backend interface {
	Name() string
	Execute(ctx context.Context, req *Request) (Result, error)
	CheckHealth(ctx context.Context) (ProviderStatus, error)
	Shutdown(ctx context.Context) error
}

// MemoryPreHook enriches a request before it is dispatched to a backend.
// A nil return means "use the request unmodified".
type MemoryPreHook interface {
	PreRequest(ctx context.Context, req *Request, userID string) (*EnrichedRequest, error)
}

// EnrichedRequest is what a memory pre-hook may hand back.
type EnrichedRequest struct {
	Message         string         `json:"message"`
	MemoryInjected  bool           `json:"_memory_injected,omitempty"`
	MemoryCount     int            `json:"_memory_count,omitempty"`
	Recommendation  *Recommendation `json:"_recommendation,omitempty"`
}

// Recommendation is an optional provider switch suggested by the memory hook.
type Recommendation struct {
	Provider     string `json:"provider"`
	Reason       string `json:"reason"`
	AutoSwitched bool   `json:"auto_switched"`
}

// MemoryPostHook records a completed exchange. Errors are logged and
// swallowed by the caller; they must never affect the request outcome.
type MemoryPostHook interface {
	PostResponse(ctx context.Context, req *Request, resp *Response) error
}
