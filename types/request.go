package types

import "time"

// RequestStatus is the lifecycle state of a Request. It advances
// monotonically; only the terminal members are final.
type RequestStatus string

const (
	StatusQueued     RequestStatus = "queued"
	StatusProcessing RequestStatus = "processing"
	StatusRetrying   RequestStatus = "retrying"
	StatusFallback   RequestStatus = "fallback"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
	StatusTimeout    RequestStatus = "timeout"
)

// IsTerminal reports whether a status is final and immutable.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// validRequestTransitions enumerates the edges of the status state machine
// referenced by spec property P2. Any transition not listed here is invalid.
var validRequestTransitions = map[RequestStatus][]RequestStatus{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusRetrying, StatusFallback, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusRetrying:   {StatusProcessing, StatusFallback, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusFallback:   {StatusProcessing, StatusRetrying, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
}

// CanTransition reports whether moving from status `from` to `to` is a
// legal edge in the request state machine.
func CanTransition(from, to RequestStatus) bool {
	if from == to {
		return false
	}
	for _, candidate := range validRequestTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AggregationStrategy selects how ParallelExecutor reduces concurrent
// per-provider results into one caller-visible response.
type AggregationStrategy string

const (
	AggregationFirstSuccess AggregationStrategy = "first_success"
	AggregationFastest      AggregationStrategy = "fastest"
	AggregationAll          AggregationStrategy = "all"
	AggregationConsensus    AggregationStrategy = "consensus"
)

// Request is one inference request submitted to the gateway.
type Request struct {
	ID           string         `json:"id"`
	Provider     string         `json:"provider,omitempty"` // name, "@group", or "" for auto-route
	Message      string         `json:"message"`
	Priority     int            `json:"priority"` // 0-100, default 50
	TimeoutS     float64        `json:"timeout_s"`
	Status       RequestStatus  `json:"status"`
	BackendType  string         `json:"backend_type,omitempty"`
	CacheBypass  bool           `json:"cache_bypass,omitempty"`
	Aggregation  AggregationStrategy `json:"aggregation_strategy,omitempty"`
	Parallel     bool           `json:"parallel,omitempty"`
	Agent        string         `json:"agent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// OriginalMessage returns the message the caller submitted, even after a
// memory pre-hook has mutated Message in place.
func (r *Request) OriginalMessage() string {
	if r.Metadata == nil {
		return r.Message
	}
	if v, ok := r.Metadata["original_message"].(string); ok {
		return v
	}
	return r.Message
}

// PreserveOriginalMessage stamps the pre-hook-untouched message into
// metadata exactly once, per LifecycleEngine.process step 1.
func (r *Request) PreserveOriginalMessage() {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	if _, ok := r.Metadata["original_message"]; !ok {
		r.Metadata["original_message"] = r.Message
	}
}

// DefaultPriority is applied when a caller omits Priority.
const DefaultPriority = 50

// RetryInfo is the structured record of a RetryExecutor run, attached to
// Response.Metadata.
type RetryInfo struct {
	Attempts        int      `json:"attempts"`
	Classifications []string `json:"classifications"`
	Providers       []string `json:"providers"`
	ElapsedMsPerAttempt []int64 `json:"elapsed_ms_per_attempt,omitempty"`
}

// Response is the one-to-one terminal record of a Request.
type Response struct {
	RequestID  string         `json:"request_id"`
	Status     RequestStatus  `json:"status"`
	Text       string         `json:"text,omitempty"`
	Error      string         `json:"error,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	LatencyMs  int64          `json:"latency_ms"`
	Tokens     TokenUsage     `json:"tokens,omitempty"`
	Thinking   string         `json:"thinking,omitempty"`
	RawOutput  string         `json:"raw_output,omitempty"`
	Cached     bool           `json:"cached"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
