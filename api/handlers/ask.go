package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/internal/cachemgr"
	"github.com/BaSui01/agentflow/internal/queue"
	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/types"
)

// AskHandler implements POST /api/ask and GET /api/reply/{id}
// (spec.md §4.13); POST /api/ask/stream is StreamHandler's. It is the one
// call site that checks
// CacheManager before a request ever reaches RequestQueue — the dispatch
// path (LifecycleEngine) only ever writes the cache back on success.
type AskHandler struct {
	queue  *queue.Queue
	store  *store.Store
	cache  *cachemgr.Manager
	logger *zap.Logger

	// SyncPollInterval/SyncTimeout bound how long HandleAsk waits for a
	// synchronous reply before returning the queued envelope instead.
	SyncPollInterval time.Duration
	SyncTimeout      time.Duration
}

// NewAskHandler wires a handler against the already-running queue/store/
// cache triple; LifecycleEngine workers drain the queue independently.
func NewAskHandler(q *queue.Queue, s *store.Store, c *cachemgr.Manager, logger *zap.Logger) *AskHandler {
	return &AskHandler{
		queue:            q,
		store:            s,
		cache:            c,
		logger:           logger,
		SyncPollInterval: 25 * time.Millisecond,
		SyncTimeout:      30 * time.Second,
	}
}

// HandleAsk implements POST /api/ask: resolve provider spec, check the
// cache for a single, non-bypassed provider, enqueue on a miss, and wait
// briefly for a synchronous reply before falling back to the queued
// envelope the caller can poll via GET /api/reply/{id}.
func (h *AskHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var body api.AskRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "message must not be empty", h.logger)
		return
	}

	isSingleProvider := body.Provider != "" && !strings.HasPrefix(body.Provider, "@")
	if isSingleProvider && !body.CacheBypass && h.cache != nil {
		if entry, ok, err := h.cache.Get(r.Context(), body.Provider, body.Message); err == nil && ok {
			WriteSuccess(w, api.AskResponse{
				RequestID: uuid.NewString(),
				Status:    string(types.StatusCompleted),
				Cached:    true,
				Text:      entry.Response,
				Provider:  body.Provider,
			})
			return
		} else if err != nil && h.logger != nil {
			h.logger.Warn("cache lookup failed", zap.Error(err))
		}
	}

	req := &types.Request{
		ID:          uuid.NewString(),
		Provider:    body.Provider,
		Message:     body.Message,
		Priority:    body.Priority,
		TimeoutS:    body.TimeoutS,
		Status:      types.StatusQueued,
		CacheBypass: body.CacheBypass,
		Aggregation: types.AggregationStrategy(body.AggregationStrategy),
		Agent:       body.Agent,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if req.Priority == 0 {
		req.Priority = types.DefaultPriority
	}

	if err := h.store.CreateRequest(r.Context(), req); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to persist request", h.logger)
		return
	}
	if !h.queue.Enqueue(req) {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrQueueFull, "request queue is full", h.logger)
		return
	}

	resp := h.awaitOrQueued(r.Context(), req)
	WriteSuccess(w, resp)
}

// awaitOrQueued polls the store for a terminal response until SyncTimeout,
// returning the queued envelope unchanged if the request is still in
// flight when the wait budget runs out.
func (h *AskHandler) awaitOrQueued(ctx context.Context, req *types.Request) api.AskResponse {
	deadline := time.Now().Add(h.SyncTimeout)
	for time.Now().Before(deadline) {
		resp, err := h.store.GetResponseByRequestID(ctx, req.ID)
		if err == nil && resp != nil {
			return toAskResponse(req, resp)
		}
		select {
		case <-ctx.Done():
			return api.AskResponse{RequestID: req.ID, Status: string(types.StatusQueued), Provider: req.Provider}
		case <-time.After(h.SyncPollInterval):
		}
	}
	return api.AskResponse{RequestID: req.ID, Status: string(types.StatusQueued), Provider: req.Provider}
}

func toAskResponse(req *types.Request, resp *types.Response) api.AskResponse {
	out := api.AskResponse{
		RequestID: resp.RequestID,
		Status:    string(resp.Status),
		Cached:    resp.Cached,
		Parallel:  len(req.Provider) > 0 && req.Provider[0] == '@',
		Agent:     req.Agent,
		Text:      resp.Text,
		Error:     resp.Error,
		Provider:  resp.Provider,
		LatencyMs: resp.LatencyMs,
	}
	return out
}

// HandleReply implements GET /api/reply/{id}: the terminal record of a
// previously-submitted request, looked up by ID.
func (h *AskHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	id := pathTail(r.URL.Path, "/api/reply/")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing request id", h.logger)
		return
	}

	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "request not found", h.logger)
		return
	}

	resp, err := h.store.GetResponseByRequestID(r.Context(), id)
	if err != nil {
		WriteSuccess(w, api.AskResponse{RequestID: id, Status: string(req.Status), Provider: req.Provider})
		return
	}
	WriteSuccess(w, toAskResponse(req, resp))
}

// pathTail returns the path segment after prefix, stripped of any trailing
// slash, or "" if r.URL.Path doesn't start with prefix.
func pathTail(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}
