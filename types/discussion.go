package types

import "time"

// DiscussionStatus is the session-level state machine of spec.md §3.
type DiscussionStatus string

const (
	DiscussionPending      DiscussionStatus = "pending"
	DiscussionRound1       DiscussionStatus = "round1"
	DiscussionRound2       DiscussionStatus = "round2"
	DiscussionRound3       DiscussionStatus = "round3"
	DiscussionSummarizing  DiscussionStatus = "summarizing"
	DiscussionCompleted    DiscussionStatus = "completed"
	DiscussionFailed       DiscussionStatus = "failed"
	DiscussionCancelled    DiscussionStatus = "cancelled"
)

// DiscussionSession is one multi-round cross-provider dialog.
type DiscussionSession struct {
	ID              string           `json:"id"`
	Topic           string           `json:"topic"`
	Providers       []string         `json:"providers"`
	CurrentRound    int              `json:"current_round"` // 0..3
	Status          DiscussionStatus `json:"status"`
	ParentSessionID string           `json:"parent_session_id,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Config          DiscussionConfig `json:"config"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// DiscussionConfig parameterizes one session's timing and summary provider.
type DiscussionConfig struct {
	RoundTimeoutS    float64 `json:"round_timeout_s"`
	ProviderTimeoutS float64 `json:"provider_timeout_s"`
	SummaryProvider  string  `json:"summary_provider,omitempty"`
	MinProviders     int     `json:"min_providers"`
	MaxRounds        int     `json:"max_rounds"`
}

// DiscussionMessageRole classifies a per-(session,round,provider) message.
type DiscussionMessageRole string

const (
	RoleProposal DiscussionMessageRole = "proposal"
	RoleReview   DiscussionMessageRole = "review"
	RoleRevision DiscussionMessageRole = "revision"
	RoleSummary  DiscussionMessageRole = "summary"
)

// DiscussionMessageStatus is the per-message execution outcome.
type DiscussionMessageStatus string

const (
	MessagePending   DiscussionMessageStatus = "pending"
	MessageCompleted DiscussionMessageStatus = "completed"
	MessageFailed    DiscussionMessageStatus = "failed"
	MessageTimeout   DiscussionMessageStatus = "timeout"
)

// DiscussionMessage is one provider's contribution to one round.
type DiscussionMessage struct {
	ID          string                  `json:"id"`
	SessionID   string                  `json:"session_id"`
	Round       int                     `json:"round"` // 0 for the summary
	Provider    string                  `json:"provider"`
	Role        DiscussionMessageRole   `json:"role"`
	Content     string                  `json:"content,omitempty"`
	Status      DiscussionMessageStatus `json:"status"`
	LatencyMs   int64                   `json:"latency_ms,omitempty"`
	References  []string                `json:"references,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// DiscussionTemplate is a reusable session starting point (SUPPLEMENTED
// FEATURES, discussion templates CRUD).
type DiscussionTemplate struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	TopicTemplate    string           `json:"topic_template"`
	DefaultProviders []string         `json:"default_providers"`
	DefaultConfig    DiscussionConfig `json:"default_config"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// InjectionRecord audits what a memory pre-hook injected into one request.
type InjectionRecord struct {
	RequestID         string   `json:"request_id"`
	MemoryIDs         []string `json:"memory_ids,omitempty"`
	RelevanceScores   []float64 `json:"relevance_scores,omitempty"`
	OriginalMessage   string   `json:"original_message"`
	EnhancedMessage   string   `json:"enhanced_message"`
}
