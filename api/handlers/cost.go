package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/types"
)

// CostHandler implements GET /api/cost/summary, /api/cost/by-provider, and
// /api/cost/by-day (spec.md §4.13's cost reporting endpoints), all backed
// by the token-cost rows internal/store.Store.RecordTokenCost writes.
type CostHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewCostHandler wires a handler against the running Store.
func NewCostHandler(s *store.Store, logger *zap.Logger) *CostHandler {
	return &CostHandler{store: s, logger: logger}
}

// HandleSummary implements GET /api/cost/summary?days=N (default 7).
func (h *CostHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	days := atoiDefault(r.URL.Query().Get("days"), 7)
	summary, err := h.store.CostSummaryWindow(r.Context(), days)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to load cost summary", h.logger)
		return
	}
	WriteSuccess(w, summary)
}

// HandleByProvider implements GET /api/cost/by-provider?days=N.
func (h *CostHandler) HandleByProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	days := atoiDefault(r.URL.Query().Get("days"), 7)
	rows, err := h.store.CostByProvider(r.Context(), days)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to load cost breakdown", h.logger)
		return
	}
	WriteSuccess(w, rows)
}

// HandleByDay implements GET /api/cost/by-day?days=N.
func (h *CostHandler) HandleByDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	days := atoiDefault(r.URL.Query().Get("days"), 7)
	rows, err := h.store.CostByDay(r.Context(), days)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to load daily cost", h.logger)
		return
	}
	WriteSuccess(w, rows)
}
