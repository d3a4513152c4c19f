package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/internal/discussion"
	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/types"
)

// DiscussionHandler implements the discussion endpoints of spec.md §4.13:
// POST /api/discussion/start, GET /api/discussion/{id},
// POST /api/discussion/{id}/continue, GET /api/discussions.
type DiscussionHandler struct {
	orchestrator *discussion.Orchestrator
	store        *store.Store
	logger       *zap.Logger
}

// NewDiscussionHandler wires a handler against the running Orchestrator.
func NewDiscussionHandler(o *discussion.Orchestrator, s *store.Store, logger *zap.Logger) *DiscussionHandler {
	return &DiscussionHandler{orchestrator: o, store: s, logger: logger}
}

// sessionView is a session plus its full message transcript, the shape
// callers want for both the start response and the GET lookup.
type sessionView struct {
	*types.DiscussionSession
	Messages []*types.DiscussionMessage `json:"messages,omitempty"`
}

// HandleStart implements POST /api/discussion/start: runs a full
// three-round discussion to completion and returns the resulting session
// with its transcript.
func (h *DiscussionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var body api.DiscussionStartRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(body.Topic) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "topic must not be empty", h.logger)
		return
	}
	if len(body.Providers) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "at least one provider is required", h.logger)
		return
	}

	cfg := types.DiscussionConfig{
		RoundTimeoutS:    body.RoundTimeoutS,
		ProviderTimeoutS: body.ProviderTimeoutS,
		SummaryProvider:  body.SummaryProvider,
		MinProviders:     body.MinProviders,
	}

	sess, err := h.orchestrator.Start(r.Context(), body.Topic, body.Providers, cfg)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to run discussion", h.logger)
		return
	}
	h.writeSessionView(w, r, sess)
}

// HandleContinue implements POST /api/discussion/{id}/continue.
func (h *DiscussionHandler) HandleContinue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	parentID := pathTail(r.URL.Path, "/api/discussion/")
	parentID = trimSuffixPath(parentID, "/continue")
	if parentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing discussion id", h.logger)
		return
	}

	var body api.DiscussionContinueRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(body.Topic) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "topic must not be empty", h.logger)
		return
	}

	sess, err := h.orchestrator.Continue(r.Context(), parentID, body.Topic, body.ExtraContext, body.Providers)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to continue discussion", h.logger)
		return
	}
	h.writeSessionView(w, r, sess)
}

// HandleGet implements GET /api/discussion/{id}.
func (h *DiscussionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	id := pathTail(r.URL.Path, "/api/discussion/")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing discussion id", h.logger)
		return
	}
	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "discussion not found", h.logger)
		return
	}
	h.writeSessionView(w, r, sess)
}

// HandleList implements GET /api/discussions?limit=&offset=.
func (h *DiscussionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	offset := atoiDefault(r.URL.Query().Get("offset"), 0)

	sessions, err := h.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to list discussions", h.logger)
		return
	}
	WriteSuccess(w, sessions)
}

func (h *DiscussionHandler) writeSessionView(w http.ResponseWriter, r *http.Request, sess *types.DiscussionSession) {
	msgs, err := h.store.GetMessages(r.Context(), store.MessageFilter{SessionID: sess.ID})
	if err != nil && h.logger != nil {
		h.logger.Warn("failed to load discussion transcript", zap.String("session_id", sess.ID), zap.Error(err))
	}
	WriteSuccess(w, sessionView{DiscussionSession: sess, Messages: msgs})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
