package types

import "time"

// StreamEntryType discriminates the append-only stream log rows.
type StreamEntryType string

const (
	StreamStart    StreamEntryType = "start"
	StreamStatus   StreamEntryType = "status"
	StreamThinking StreamEntryType = "thinking"
	StreamChunk    StreamEntryType = "chunk"
	StreamOutput   StreamEntryType = "output"
	StreamError    StreamEntryType = "error"
	StreamComplete StreamEntryType = "complete"
)

// StreamEntry is one row of a request's append-only stream log.
type StreamEntry struct {
	RequestID string          `json:"request_id"`
	Seq       int64           `json:"seq"`
	Type      StreamEntryType `json:"type"`
	Content   string          `json:"content,omitempty"`
	Timestamp time.Time       `json:"timestamp"`

	// Only set on a "complete" entry.
	Success    bool  `json:"success,omitempty"`
	ElapsedMs  int64 `json:"elapsed_ms,omitempty"`
}

// SSEFrame is one chunk of an /api/ask/stream response.
type SSEFrame struct {
	RequestID string `json:"request_id"`
	Index     int64  `json:"index"`
	Type      StreamEntryType `json:"type"`
	Content   string `json:"content,omitempty"`
	IsFinal   bool   `json:"is_final"`
}

// WSEvent is the envelope for every /api/ws frame.
type WSEvent struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// WebSocket event type names (spec.md §4.13).
const (
	EventRequestSubmitted  = "request_submitted"
	EventRequestProcessing = "request_processing"
	EventRequestCompleted  = "request_completed"
	EventRequestFailed     = "request_failed"
	EventRequestCancelled  = "request_cancelled"
	EventRequestRetrying   = "request_retrying"
	EventRequestFallback   = "request_fallback"
	EventProviderStatus    = "provider_status"
	EventStreamChunk       = "stream_chunk"
	EventDiscussionStarted          = "discussion_started"
	EventDiscussionRoundStarted     = "discussion_round_started"
	EventDiscussionProviderStarted  = "discussion_provider_started"
	EventDiscussionProviderDone     = "discussion_provider_completed"
	EventDiscussionRoundCompleted   = "discussion_round_completed"
	EventDiscussionSummarizing      = "discussion_summarizing"
	EventDiscussionSummaryCompleted = "discussion_summary_completed"
	EventDiscussionCompleted        = "discussion_completed"
	EventDiscussionFailed           = "discussion_failed"
)
