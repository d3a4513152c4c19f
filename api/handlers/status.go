package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/backpressure"
	"github.com/BaSui01/agentflow/internal/cachemgr"
	"github.com/BaSui01/agentflow/internal/health"
	"github.com/BaSui01/agentflow/internal/queue"
	"github.com/BaSui01/agentflow/internal/reliability"
	"github.com/BaSui01/agentflow/types"
)

// StatusHandler implements the read-only fleet-introspection endpoints of
// spec.md §4.13: GET /api/status, /api/providers, /api/queue.
type StatusHandler struct {
	queue        *queue.Queue
	health       *health.Checker
	reliability  *reliability.Tracker
	backpressure *backpressure.Controller
	logger       *zap.Logger
}

// NewStatusHandler wires a handler against the running gateway
// subsystems. backpressure may be nil when disabled.
func NewStatusHandler(q *queue.Queue, h *health.Checker, rel *reliability.Tracker, bp *backpressure.Controller, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{queue: q, health: h, reliability: rel, backpressure: bp, logger: logger}
}

// statusSnapshot is the body of GET /api/status.
type statusSnapshot struct {
	Queue        queue.Stats               `json:"queue"`
	Providers    []types.ProviderHealth    `json:"providers"`
	Backpressure *types.BackpressureState  `json:"backpressure,omitempty"`
}

// HandleStatus implements GET /api/status: a single combined snapshot of
// queue depth, per-provider health, and backpressure state.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	snap := statusSnapshot{
		Queue:     h.queue.Stats(),
		Providers: h.health.Snapshots(),
	}
	if h.backpressure != nil {
		state := h.backpressure.State()
		snap.Backpressure = &state
	}
	WriteSuccess(w, snap)
}

// providerView merges a provider's health and reliability snapshots.
type providerView struct {
	types.ProviderHealth
	Reliability *types.ReliabilityScore `json:"reliability,omitempty"`
}

// HandleProviders implements GET /api/providers: per-provider health merged
// with its rolling reliability score.
func (h *StatusHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	healths := h.health.Snapshots()
	scores := make(map[string]types.ReliabilityScore)
	if h.reliability != nil {
		for _, s := range h.reliability.All() {
			scores[s.Provider] = s
		}
	}

	views := make([]providerView, 0, len(healths))
	for _, ph := range healths {
		view := providerView{ProviderHealth: ph}
		if s, ok := scores[ph.Provider]; ok {
			sCopy := s
			view.Reliability = &sCopy
		}
		views = append(views, view)
	}
	WriteSuccess(w, views)
}

// HandleProviderEnable implements POST /api/admin/providers/{name}/enable.
func (h *StatusHandler) HandleProviderEnable(w http.ResponseWriter, r *http.Request) {
	h.setProviderEnabled(w, r, "/api/admin/providers/", "/enable", true)
}

// HandleProviderDisable implements POST /api/admin/providers/{name}/disable.
func (h *StatusHandler) HandleProviderDisable(w http.ResponseWriter, r *http.Request) {
	h.setProviderEnabled(w, r, "/api/admin/providers/", "/disable", false)
}

func (h *StatusHandler) setProviderEnabled(w http.ResponseWriter, r *http.Request, prefix, suffix string, enable bool) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	name := pathTail(r.URL.Path, prefix)
	name = trimSuffixPath(name, suffix)
	if name == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing provider name", h.logger)
		return
	}
	if enable {
		h.health.ForceEnable(name)
	} else {
		h.health.ForceDisable(name)
	}
	WriteSuccess(w, map[string]any{"provider": name, "enabled": enable})
}

func trimSuffixPath(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

// HandleQueue implements GET /api/queue: the raw RequestQueue snapshot.
func (h *StatusHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	WriteSuccess(w, h.queue.Stats())
}

// CacheHandler implements the CacheManager read/admin endpoints of
// spec.md §4.13: GET /api/cache/stats[/detailed], DELETE /api/cache,
// POST /api/cache/cleanup.
type CacheHandler struct {
	cache  *cachemgr.Manager
	logger *zap.Logger
}

// NewCacheHandler wires a handler against the running CacheManager.
func NewCacheHandler(c *cachemgr.Manager, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{cache: c, logger: logger}
}

// HandleStats implements GET /api/cache/stats.
func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to load cache stats", h.logger)
		return
	}
	WriteSuccess(w, stats)
}

// HandleDetailed implements GET /api/cache/stats/detailed: the top-N
// most-hit entries alongside the aggregate snapshot.
func (h *CacheHandler) HandleDetailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to load cache stats", h.logger)
		return
	}
	top, err := h.cache.TopEntries(r.Context(), n)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to load top entries", h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"stats": stats, "top_entries": top})
}

// HandleClear implements DELETE /api/cache[?provider=x].
func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	provider := r.URL.Query().Get("provider")
	n, err := h.cache.Clear(r.Context(), provider)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to clear cache", h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"cleared": n})
}

// HandleCleanup implements POST /api/cache/cleanup: runs one sweep pass
// synchronously instead of waiting for the background ticker.
func (h *CacheHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	h.cache.Sweep(r.Context())
	WriteSuccess(w, map[string]any{"swept": true})
}
