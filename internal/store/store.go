package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentflow/types"
)

// PricingTable maps a provider to its USD-per-million-token input/output
// rates, loaded once from configuration at startup.
type PricingTable map[string]struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// CostOf computes the USD cost of a token usage for a provider; unknown
// providers cost zero.
func (t PricingTable) CostOf(provider string, prompt, completion int) float64 {
	rate, ok := t[provider]
	if !ok {
		return 0
	}
	return float64(prompt)/1e6*rate.InputPerMillion + float64(completion)/1e6*rate.OutputPerMillion
}

// Store is the gateway's StateStore (spec.md §4.1): the single owner of
// every persisted row. Callers interact through this operation set only.
type Store struct {
	pool    *Pool
	pricing PricingTable
	logger  *zap.Logger

	streamBuf   []types.StreamEntry
	streamBufMu chanMutex
	batchSize   int
}

// chanMutex is a tiny non-reentrant mutex implemented over a channel so
// flushing can be triggered both synchronously and from a timer without
// risking a deadlock on re-entry from within a flush.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}
func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// New creates a Store. batchSize controls how many stream entries are
// buffered before an automatic flush (spec.md §4.10 default is 10).
func New(pool *Pool, pricing PricingTable, logger *zap.Logger, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Store{
		pool:        pool,
		pricing:     pricing,
		logger:      logger.With(zap.String("component", "store")),
		streamBufMu: newChanMutex(),
		batchSize:   batchSize,
	}
}

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func fromJSON[T any](s string, out *T) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

// ---- Request CRUD ----

// Ping checks the underlying connection pool, for use by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRequest persists a new request row.
func (s *Store) CreateRequest(ctx context.Context, req *types.Request) error {
	row := &requestRow{
		ID: req.ID, Provider: req.Provider, Message: req.Message,
		Priority: req.Priority, TimeoutS: req.TimeoutS, Status: string(req.Status),
		BackendType: req.BackendType, CacheBypass: req.CacheBypass,
		AggregationStrategy: string(req.Aggregation), Parallel: req.Parallel,
		Agent: req.Agent, Metadata: toJSON(req.Metadata),
		CreatedAt: req.CreatedAt, UpdatedAt: req.UpdatedAt,
		StartedAt: req.StartedAt, CompletedAt: req.CompletedAt,
	}
	return s.pool.DB().WithContext(ctx).Create(row).Error
}

// GetRequest fetches one request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*types.Request, error) {
	var row requestRow
	if err := s.pool.DB().WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return rowToRequest(row), nil
}

// UpdateStatus advances a request's status, stamping started_at/completed_at
// exactly once each per spec.md §3's invariants.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.RequestStatus) error {
	now := time.Now()
	updates := map[string]any{"status": string(status), "updated_at": now}

	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var row requestRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		if row.StartedAt == nil && status == types.StatusProcessing {
			updates["started_at"] = now
		}
		if types.RequestStatus(status).IsTerminal() && row.CompletedAt == nil {
			updates["completed_at"] = now
		}
		return tx.Model(&requestRow{}).Where("id = ?", id).Updates(updates).Error
	})
}

// ListFilter narrows ListRequests.
type ListFilter struct {
	Status   string
	Provider string
	Order    string
	Limit    int
	Offset   int
}

// ListRequests returns requests matching filter, ordered and paginated.
func (s *Store) ListRequests(ctx context.Context, f ListFilter) ([]*types.Request, error) {
	q := s.pool.DB().WithContext(ctx).Model(&requestRow{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	order := f.Order
	if order == "" {
		order = "created_at desc"
	}
	q = q.Order(order)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var rows []requestRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.Request, len(rows))
	for i, r := range rows {
		out[i] = rowToRequest(r)
	}
	return out, nil
}

// CleanupOlderThan deletes terminal requests (and cascading rows) older
// than the given age, per request_ttl_hours.
func (s *Store) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	terminal := []string{
		string(types.StatusCompleted), string(types.StatusFailed),
		string(types.StatusCancelled), string(types.StatusTimeout),
	}
	res := s.pool.DB().WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff, terminal).
		Delete(&requestRow{})
	return res.RowsAffected, res.Error
}

func rowToRequest(r requestRow) *types.Request {
	req := &types.Request{
		ID: r.ID, Provider: r.Provider, Message: r.Message, Priority: r.Priority,
		TimeoutS: r.TimeoutS, Status: types.RequestStatus(r.Status),
		BackendType: r.BackendType, CacheBypass: r.CacheBypass,
		Aggregation: types.AggregationStrategy(r.AggregationStrategy), Parallel: r.Parallel,
		Agent: r.Agent, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		StartedAt: r.StartedAt, CompletedAt: r.CompletedAt,
	}
	fromJSON(r.Metadata, &req.Metadata)
	return req
}

// ---- Response ----

// SaveResponse writes the terminal response row. Never updated afterward.
func (s *Store) SaveResponse(ctx context.Context, resp *types.Response) error {
	row := &responseRow{
		RequestID: resp.RequestID, Status: string(resp.Status), Text: resp.Text,
		Error: resp.Error, Provider: resp.Provider, LatencyMs: resp.LatencyMs,
		PromptTokens: resp.Tokens.PromptTokens, CompletionTokens: resp.Tokens.CompletionTokens,
		TotalTokens: resp.Tokens.TotalTokens, Cost: resp.Tokens.Cost,
		Thinking: resp.Thinking, RawOutput: resp.RawOutput, Cached: resp.Cached,
		Metadata: toJSON(resp.Metadata), CreatedAt: resp.CreatedAt,
	}
	return s.pool.DB().WithContext(ctx).Create(row).Error
}

// GetResponseByRequestID fetches the terminal response for a request.
func (s *Store) GetResponseByRequestID(ctx context.Context, requestID string) (*types.Response, error) {
	var row responseRow
	if err := s.pool.DB().WithContext(ctx).First(&row, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	resp := &types.Response{
		RequestID: row.RequestID, Status: types.RequestStatus(row.Status), Text: row.Text,
		Error: row.Error, Provider: row.Provider, LatencyMs: row.LatencyMs,
		Tokens: types.TokenUsage{
			PromptTokens: row.PromptTokens, CompletionTokens: row.CompletionTokens,
			TotalTokens: row.TotalTokens, Cost: row.Cost,
		},
		Thinking: row.Thinking, RawOutput: row.RawOutput, Cached: row.Cached,
		CreatedAt: row.CreatedAt,
	}
	fromJSON(row.Metadata, &resp.Metadata)
	return resp, nil
}

// ---- Metrics ----

// RecordMetric appends one metrics event row.
func (s *Store) RecordMetric(ctx context.Context, provider, eventType string, latencyMs int64, success bool, errMsg string) error {
	return s.pool.DB().WithContext(ctx).Create(&metricRow{
		Provider: provider, EventType: eventType, LatencyMs: latencyMs,
		Success: success, Error: errMsg, CreatedAt: time.Now(),
	}).Error
}

// ---- Cost ----

// RecordTokenCost derives cost from the pricing table and appends a row.
func (s *Store) RecordTokenCost(ctx context.Context, provider string, inputTokens, outputTokens int, requestID, model string) error {
	cost := s.pricing.CostOf(provider, inputTokens, outputTokens)
	return s.pool.DB().WithContext(ctx).Create(&tokenCostRow{
		Provider: provider, InputTokens: inputTokens, OutputTokens: outputTokens,
		RequestID: requestID, Model: model, Cost: cost, CreatedAt: time.Now(),
	}).Error
}

// CostSummary is the aggregate cost/tokens over a rolling window.
type CostSummary struct {
	TotalCost         float64 `json:"total_cost"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	RequestCount      int64   `json:"request_count"`
}

// CostSummaryWindow aggregates cost over the last `days` days.
func (s *Store) CostSummaryWindow(ctx context.Context, days int) (CostSummary, error) {
	var out CostSummary
	err := s.pool.DB().WithContext(ctx).Model(&tokenCostRow{}).
		Where("created_at >= ?", time.Now().AddDate(0, 0, -days)).
		Select("COALESCE(SUM(cost),0) as total_cost, COALESCE(SUM(input_tokens),0) as total_input_tokens, COALESCE(SUM(output_tokens),0) as total_output_tokens, COUNT(*) as request_count").
		Scan(&out).Error
	return out, err
}

// ProviderCostSummary is one row of the by-provider cost breakdown.
type ProviderCostSummary struct {
	Provider string  `json:"provider"`
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
}

// CostByProvider breaks down cost over the window by provider.
func (s *Store) CostByProvider(ctx context.Context, days int) ([]ProviderCostSummary, error) {
	var out []ProviderCostSummary
	err := s.pool.DB().WithContext(ctx).Model(&tokenCostRow{}).
		Where("created_at >= ?", time.Now().AddDate(0, 0, -days)).
		Select("provider, COALESCE(SUM(cost),0) as cost, COALESCE(SUM(input_tokens+output_tokens),0) as tokens").
		Group("provider").Scan(&out).Error
	return out, err
}

// DailyCostSummary is one row of the by-day cost breakdown.
type DailyCostSummary struct {
	Day  string  `json:"day"`
	Cost float64 `json:"cost"`
}

// CostByDay breaks down cost over the window by calendar day.
func (s *Store) CostByDay(ctx context.Context, days int) ([]DailyCostSummary, error) {
	var out []DailyCostSummary
	err := s.pool.DB().WithContext(ctx).Model(&tokenCostRow{}).
		Where("created_at >= ?", time.Now().AddDate(0, 0, -days)).
		Select("DATE(created_at) as day, COALESCE(SUM(cost),0) as cost").
		Group("day").Order("day").Scan(&out).Error
	return out, err
}

// ---- Provider status ----

// UpdateProviderStatus upserts the provider_status snapshot row.
func (s *Store) UpdateProviderStatus(ctx context.Context, h types.ProviderHealth) error {
	row := &providerStatusRow{
		Provider: h.Provider, Status: string(h.Status),
		ConsecutiveSuccess: h.ConsecutiveSuccess, ConsecutiveFailure: h.ConsecutiveFailure,
		AutoDisabled: h.AutoDisabled, LatencySamplesMs: toJSON(h.LatencySamplesMs),
		LastError: h.LastError,
	}
	if !h.LastProbeAt.IsZero() {
		row.LastProbeAt = &h.LastProbeAt
	}
	return s.pool.DB().WithContext(ctx).Save(row).Error
}

// GetProviderStatus returns the persisted snapshot for a provider.
func (s *Store) GetProviderStatus(ctx context.Context, provider string) (*types.ProviderHealth, error) {
	var row providerStatusRow
	if err := s.pool.DB().WithContext(ctx).First(&row, "provider = ?", provider).Error; err != nil {
		return nil, err
	}
	h := &types.ProviderHealth{
		Provider: row.Provider, Status: types.ProviderHealthState(row.Status),
		ConsecutiveSuccess: row.ConsecutiveSuccess, ConsecutiveFailure: row.ConsecutiveFailure,
		AutoDisabled: row.AutoDisabled, LastError: row.LastError,
	}
	if row.LastProbeAt != nil {
		h.LastProbeAt = *row.LastProbeAt
	}
	fromJSON(row.LatencySamplesMs, &h.LatencySamplesMs)
	return h, nil
}

// ---- Discussions ----

// CreateSession persists a new discussion session.
func (s *Store) CreateSession(ctx context.Context, sess *types.DiscussionSession) error {
	row := &discussionSessionRow{
		ID: sess.ID, Topic: sess.Topic, Providers: toJSON(sess.Providers),
		CurrentRound: sess.CurrentRound, Status: string(sess.Status),
		ParentSessionID: sess.ParentSessionID, Summary: sess.Summary,
		Config: toJSON(sess.Config), Metadata: toJSON(sess.Metadata),
		CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt,
	}
	return s.pool.DB().WithContext(ctx).Create(row).Error
}

// UpdateSession mutates status/round/summary/metadata on an existing session.
func (s *Store) UpdateSession(ctx context.Context, id string, status types.DiscussionStatus, round int, summary string, metadata map[string]any) error {
	updates := map[string]any{
		"status": string(status), "current_round": round, "updated_at": time.Now(),
	}
	if summary != "" {
		updates["summary"] = summary
	}
	if metadata != nil {
		updates["metadata"] = toJSON(metadata)
	}
	return s.pool.DB().WithContext(ctx).Model(&discussionSessionRow{}).Where("id = ?", id).Updates(updates).Error
}

// GetSession fetches one discussion session.
func (s *Store) GetSession(ctx context.Context, id string) (*types.DiscussionSession, error) {
	var row discussionSessionRow
	if err := s.pool.DB().WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return rowToSession(row), nil
}

// ListSessions returns sessions ordered newest-first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]*types.DiscussionSession, error) {
	q := s.pool.DB().WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []discussionSessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.DiscussionSession, len(rows))
	for i, r := range rows {
		out[i] = rowToSession(r)
	}
	return out, nil
}

func rowToSession(r discussionSessionRow) *types.DiscussionSession {
	sess := &types.DiscussionSession{
		ID: r.ID, Topic: r.Topic, CurrentRound: r.CurrentRound,
		Status: types.DiscussionStatus(r.Status), ParentSessionID: r.ParentSessionID,
		Summary: r.Summary, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	fromJSON(r.Providers, &sess.Providers)
	fromJSON(r.Config, &sess.Config)
	fromJSON(r.Metadata, &sess.Metadata)
	return sess
}

// CreateMessage persists a discussion message row (may be a pending
// placeholder created before the provider call, per original round
// semantics).
func (s *Store) CreateMessage(ctx context.Context, msg *types.DiscussionMessage) error {
	row := &discussionMessageRow{
		ID: msg.ID, SessionID: msg.SessionID, Round: msg.Round, Provider: msg.Provider,
		Role: string(msg.Role), Content: msg.Content, Status: string(msg.Status),
		LatencyMs: msg.LatencyMs, References: toJSON(msg.References), CreatedAt: msg.CreatedAt,
	}
	return s.pool.DB().WithContext(ctx).Create(row).Error
}

// UpdateMessage mutates content/status/latency on an existing message.
func (s *Store) UpdateMessage(ctx context.Context, id string, status types.DiscussionMessageStatus, content string, latencyMs int64) error {
	return s.pool.DB().WithContext(ctx).Model(&discussionMessageRow{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "content": content, "latency_ms": latencyMs}).Error
}

// MessageFilter narrows GetMessages.
type MessageFilter struct {
	SessionID string
	Round     *int
	Provider  string
	Role      string
}

// GetMessages lists messages for a session, optionally filtered.
func (s *Store) GetMessages(ctx context.Context, f MessageFilter) ([]*types.DiscussionMessage, error) {
	q := s.pool.DB().WithContext(ctx).Where("session_id = ?", f.SessionID)
	if f.Round != nil {
		q = q.Where("round = ?", *f.Round)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	var rows []discussionMessageRow
	if err := q.Order("round asc, created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.DiscussionMessage, len(rows))
	for i, r := range rows {
		m := &types.DiscussionMessage{
			ID: r.ID, SessionID: r.SessionID, Round: r.Round, Provider: r.Provider,
			Role: types.DiscussionMessageRole(r.Role), Content: r.Content,
			Status: types.DiscussionMessageStatus(r.Status), LatencyMs: r.LatencyMs,
			CreatedAt: r.CreatedAt,
		}
		fromJSON(r.References, &m.References)
		out[i] = m
	}
	return out, nil
}

// ---- Cache ----

// CacheGet looks up (provider, fingerprint); if present and unexpired it
// atomically bumps the hit counter (property P4) and returns the entry.
func (s *Store) CacheGet(ctx context.Context, provider, fingerprint string) (*types.CacheEntry, bool, error) {
	var row cacheEntryRow
	err := s.pool.DB().WithContext(ctx).First(&row, "provider = ? AND fingerprint = ?", provider, fingerprint).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	now := time.Now()
	if now.After(row.ExpiresAt) {
		return nil, false, nil
	}

	err = s.pool.DB().WithContext(ctx).Model(&cacheEntryRow{}).
		Where("provider = ? AND fingerprint = ?", provider, fingerprint).
		Updates(map[string]any{"hit_count": gorm.Expr("hit_count + 1"), "last_hit_at": now}).Error
	if err != nil {
		return nil, false, err
	}

	entry := &types.CacheEntry{
		Provider: row.Provider, Fingerprint: row.Fingerprint, Response: row.Response,
		Tokens: types.TokenUsage{
			PromptTokens: row.PromptTokens, CompletionTokens: row.CompletionTokens,
			TotalTokens: row.TotalTokens, Cost: row.Cost,
		},
		CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt, HitCount: row.HitCount + 1, LastHitAt: now,
	}
	return entry, true, nil
}

// CachePut inserts or replaces an entry with a fresh TTL.
func (s *Store) CachePut(ctx context.Context, provider, fingerprint, response string, tokens types.TokenUsage, ttl time.Duration) error {
	now := time.Now()
	row := &cacheEntryRow{
		Provider: provider, Fingerprint: fingerprint, Response: response,
		PromptTokens: tokens.PromptTokens, CompletionTokens: tokens.CompletionTokens,
		TotalTokens: tokens.TotalTokens, Cost: tokens.Cost,
		CreatedAt: now, ExpiresAt: now.Add(ttl), HitCount: 0,
	}
	return s.pool.DB().WithContext(ctx).Save(row).Error
}

// CacheCleanupExpired deletes entries past their expiry.
func (s *Store) CacheCleanupExpired(ctx context.Context) (int64, error) {
	res := s.pool.DB().WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&cacheEntryRow{})
	return res.RowsAffected, res.Error
}

// CacheEnforceMaxEntries evicts least-recently-hit rows beyond the cap.
func (s *Store) CacheEnforceMaxEntries(ctx context.Context, maxEntries int64) (int64, error) {
	var count int64
	if err := s.pool.DB().WithContext(ctx).Model(&cacheEntryRow{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count <= maxEntries {
		return 0, nil
	}
	excess := count - maxEntries

	var victims []cacheEntryRow
	if err := s.pool.DB().WithContext(ctx).
		Order("COALESCE(last_hit_at, created_at) asc").
		Limit(int(excess)).Find(&victims).Error; err != nil {
		return 0, err
	}
	var deleted int64
	for _, v := range victims {
		res := s.pool.DB().WithContext(ctx).
			Where("provider = ? AND fingerprint = ?", v.Provider, v.Fingerprint).
			Delete(&cacheEntryRow{})
		if res.Error != nil {
			return deleted, res.Error
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// CacheClear removes all entries, optionally scoped to one provider.
func (s *Store) CacheClear(ctx context.Context, provider string) (int64, error) {
	q := s.pool.DB().WithContext(ctx)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	res := q.Delete(&cacheEntryRow{})
	return res.RowsAffected, res.Error
}

// CacheStats returns the global hit/miss/entry snapshot. Hits/misses are
// tracked by MetricsCollector; this reports entry count only.
func (s *Store) CacheStats(ctx context.Context) (types.CacheStats, error) {
	var count int64
	err := s.pool.DB().WithContext(ctx).Model(&cacheEntryRow{}).Count(&count).Error
	return types.CacheStats{Entries: count}, err
}

// CacheTopEntries returns the n most-hit entries.
func (s *Store) CacheTopEntries(ctx context.Context, n int) ([]*types.CacheEntry, error) {
	var rows []cacheEntryRow
	if err := s.pool.DB().WithContext(ctx).Order("hit_count desc").Limit(n).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.CacheEntry, len(rows))
	for i, r := range rows {
		e := &types.CacheEntry{
			Provider: r.Provider, Fingerprint: r.Fingerprint, Response: r.Response,
			CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt, HitCount: r.HitCount,
		}
		if r.LastHitAt != nil {
			e.LastHitAt = *r.LastHitAt
		}
		out[i] = e
	}
	return out, nil
}

// ---- Stream entries ----

// AppendStreamEntry buffers an entry, flushing the batch once it reaches
// batchSize (spec.md §4.10, default 10).
func (s *Store) AppendStreamEntry(ctx context.Context, e types.StreamEntry) error {
	s.streamBufMu.Lock()
	s.streamBuf = append(s.streamBuf, e)
	shouldFlush := len(s.streamBuf) >= s.batchSize
	s.streamBufMu.Unlock()

	if shouldFlush {
		return s.FlushStreamEntries(ctx)
	}
	return nil
}

// FlushStreamEntries writes any buffered entries. Must be called on
// component shutdown.
func (s *Store) FlushStreamEntries(ctx context.Context) error {
	s.streamBufMu.Lock()
	pending := s.streamBuf
	s.streamBuf = nil
	s.streamBufMu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	rows := make([]streamEntryRow, len(pending))
	for i, e := range pending {
		rows[i] = streamEntryRow{
			RequestID: e.RequestID, Seq: e.Seq, Type: string(e.Type), Content: e.Content,
			Timestamp: e.Timestamp, Success: e.Success, ElapsedMs: e.ElapsedMs,
		}
	}
	return s.pool.DB().WithContext(ctx).Create(&rows).Error
}

// StreamEntriesForRequest returns the full ordered log for a request.
func (s *Store) StreamEntriesForRequest(ctx context.Context, requestID string) ([]*types.StreamEntry, error) {
	var rows []streamEntryRow
	if err := s.pool.DB().WithContext(ctx).
		Where("request_id = ?", requestID).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToStreamEntries(rows), nil
}

// SearchThinking performs the FTS-over-thinking-entries substring search
// (Open Question decision: LIKE, case-folded, no trigram index).
func (s *Store) SearchThinking(ctx context.Context, query string) ([]*types.StreamEntry, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	var rows []streamEntryRow
	err := s.pool.DB().WithContext(ctx).
		Where("type = ? AND LOWER(content) LIKE ?", string(types.StreamThinking), pattern).
		Order("timestamp desc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToStreamEntries(rows), nil
}

func rowsToStreamEntries(rows []streamEntryRow) []*types.StreamEntry {
	out := make([]*types.StreamEntry, len(rows))
	for i, r := range rows {
		out[i] = &types.StreamEntry{
			RequestID: r.RequestID, Seq: r.Seq, Type: types.StreamEntryType(r.Type),
			Content: r.Content, Timestamp: r.Timestamp, Success: r.Success, ElapsedMs: r.ElapsedMs,
		}
	}
	return out
}

// Close flushes any buffered stream entries and closes the pool.
func (s *Store) Close(ctx context.Context) error {
	if err := s.FlushStreamEntries(ctx); err != nil {
		s.logger.Warn("flush stream entries on close failed", zap.Error(err))
	}
	return s.pool.Close()
}
