package store

import "time"

// These gorm models mirror the persistence layout of spec.md §6 one table
// per row type; JSON-valued columns (metadata, providers, config) are
// stored as TEXT/JSON and marshaled at the boundary in store.go.

type requestRow struct {
	ID                  string `gorm:"primaryKey"`
	Provider            string
	Message             string
	Priority            int
	TimeoutS            float64
	Status              string `gorm:"index:idx_requests_status_created"`
	BackendType         string
	CacheBypass         bool
	AggregationStrategy string
	Parallel            bool
	Agent               string
	Metadata            string
	CreatedAt           time.Time `gorm:"index:idx_requests_status_created"`
	UpdatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

func (requestRow) TableName() string { return "requests" }

type responseRow struct {
	RequestID         string `gorm:"primaryKey;column:request_id"`
	Status            string
	Text              string
	Error             string
	Provider          string
	LatencyMs         int64
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	Cost              float64
	Thinking          string
	RawOutput         string
	Cached            bool
	Metadata          string
	CreatedAt         time.Time
}

func (responseRow) TableName() string { return "responses" }

type metricRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Provider  string
	EventType string
	LatencyMs int64
	Success   bool
	Error     string
	CreatedAt time.Time
}

func (metricRow) TableName() string { return "metrics" }

type tokenCostRow struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Provider     string
	InputTokens  int
	OutputTokens int
	RequestID    string
	Model        string
	Cost         float64
	CreatedAt    time.Time
}

func (tokenCostRow) TableName() string { return "token_costs" }

type cacheEntryRow struct {
	Provider         string `gorm:"primaryKey"`
	Fingerprint      string `gorm:"primaryKey"`
	Response         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	CreatedAt        time.Time
	ExpiresAt        time.Time
	HitCount         int64
	LastHitAt        *time.Time
}

func (cacheEntryRow) TableName() string { return "cache_entries" }

type providerStatusRow struct {
	Provider           string `gorm:"primaryKey"`
	Status             string
	ConsecutiveSuccess int
	ConsecutiveFailure int
	AutoDisabled       bool
	LatencySamplesMs   string
	LastProbeAt        *time.Time
	LastError          string
}

func (providerStatusRow) TableName() string { return "provider_status" }

type discussionSessionRow struct {
	ID              string `gorm:"primaryKey"`
	Topic           string
	Providers       string
	CurrentRound    int
	Status          string
	ParentSessionID string
	Summary         string
	Config          string
	Metadata        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (discussionSessionRow) TableName() string { return "discussion_sessions" }

type discussionMessageRow struct {
	ID         string `gorm:"primaryKey"`
	SessionID  string `gorm:"index:idx_discussion_messages_session_round"`
	Round      int    `gorm:"index:idx_discussion_messages_session_round"`
	Provider   string
	Role       string
	Content    string
	Status     string
	LatencyMs  int64
	References string
	CreatedAt  time.Time
}

func (discussionMessageRow) TableName() string { return "discussion_messages" }

type discussionTemplateRow struct {
	ID                string `gorm:"primaryKey"`
	Name              string
	TopicTemplate     string
	DefaultProviders  string
	DefaultConfig     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (discussionTemplateRow) TableName() string { return "discussion_templates" }

type apiKeyRow struct {
	ID           string `gorm:"primaryKey"`
	KeyHash      string `gorm:"uniqueIndex"`
	Name         string
	Priority     int
	Weight       int
	Enabled      bool
	RateLimitRPM int
	RateLimitRPD int
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

func (apiKeyRow) TableName() string { return "api_keys" }

type streamEntryRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RequestID string `gorm:"column:request_id;index:idx_stream_entries_request_ts"`
	Seq       int64
	Type      string
	Content   string
	Timestamp time.Time `gorm:"index:idx_stream_entries_request_ts"`
	Success   bool
	ElapsedMs int64
}

func (streamEntryRow) TableName() string { return "stream_entries" }

// AllModels lists every row type for AutoMigrate-style tooling and tests.
func AllModels() []any {
	return []any{
		&requestRow{}, &responseRow{}, &metricRow{}, &tokenCostRow{},
		&cacheEntryRow{}, &providerStatusRow{}, &discussionSessionRow{},
		&discussionMessageRow{}, &discussionTemplateRow{}, &apiKeyRow{},
		&streamEntryRow{},
	}
}
