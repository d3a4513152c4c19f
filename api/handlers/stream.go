package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/internal/queue"
	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/internal/streammgr"
	"github.com/BaSui01/agentflow/types"
)

// StreamHandler implements POST /api/ask/stream (SSE) and
// GET /api/stream/{id}[/tail] (spec.md §4.13/§4.10), fronting
// internal/streammgr.Manager's per-request broadcast channel.
type StreamHandler struct {
	queue   *queue.Queue
	store   *store.Store
	streams *streammgr.Manager
	logger  *zap.Logger
}

// NewStreamHandler wires a handler against the running queue/store/
// streammgr triple.
func NewStreamHandler(q *queue.Queue, s *store.Store, sm *streammgr.Manager, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{queue: q, store: s, streams: sm, logger: logger}
}

// HandleAskStream enqueues the request exactly like HandleAsk (no cache
// check — a streamed answer is always generated fresh) and relays every
// SSEFrame LifecycleEngine/streammgr emits for it until IsFinal.
func (h *StreamHandler) HandleAskStream(w http.ResponseWriter, r *http.Request) {
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

	req := &types.Request{
		ID:          uuid.NewString(),
		Provider:    body.Provider,
		Message:     body.Message,
		Priority:    body.Priority,
		TimeoutS:    body.TimeoutS,
		CacheBypass: true, // streamed responses are always generated fresh
		Status:      types.StatusQueued,
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming unsupported", h.logger)
		return
	}

	frames, unsubscribe := h.streams.Subscribe(req.ID)
	defer unsubscribe()

	if !h.queue.Enqueue(req) {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrQueueFull, "request queue is full", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: start\ndata: {\"request_id\":%q}\n\n", req.ID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-frames:
			if !open {
				return
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, payload)
			flusher.Flush()
			if frame.IsFinal {
				return
			}
		}
	}
}

// HandleStreamTail implements GET /api/stream/{id}/tail: the persisted
// stream log replayed in full, for a client that connected after the
// request already completed.
func (h *StreamHandler) HandleStreamTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	id := pathTail(r.URL.Path, "/api/stream/")
	id = strings.TrimSuffix(id, "/tail")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing request id", h.logger)
		return
	}

	entries, err := h.streams.Tail(r.Context(), id)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to load stream", h.logger)
		return
	}
	WriteSuccess(w, entries)
}

// HandleSearchThinking implements GET /api/streams?q=... searching the
// thinking-trace content of every persisted stream entry.
func (h *StreamHandler) HandleSearchThinking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing q parameter", h.logger)
		return
	}
	entries, err := h.streams.SearchThinking(r.Context(), q)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "search failed", h.logger)
		return
	}
	WriteSuccess(w, entries)
}
