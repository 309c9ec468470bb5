package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"queryagent/internal/engine"
)

// Admin exposes cache maintenance.
type Admin interface {
	Stats() engine.Stats
	ClearAll(ctx context.Context) (int, error)
	EvictStale(ctx context.Context, maxAge time.Duration) (int, error)
	Trim(ctx context.Context, keep int) (int, error)
}

type AdminHandler struct {
	Admin Admin
}

func NewAdminHandler(a Admin) *AdminHandler {
	return &AdminHandler{Admin: a}
}

type maintenanceResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

// CacheStats handles GET /cache-stats.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Admin.Stats())
}

// ClearCache handles DELETE /clear-cache.
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.Admin.ClearAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{Message: "Cache cleared successfully", Removed: n})
}

// CleanupCache handles POST /cleanup-cache?max_entries=N (default 50).
func (h *AdminHandler) CleanupCache(w http.ResponseWriter, r *http.Request) {
	keep := 50
	if v := r.URL.Query().Get("max_entries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "invalid_parameter", "max_entries must be a non-negative integer")
			return
		}
		keep = n
	}

	n, err := h.Admin.Trim(r.Context(), keep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{
		Message: fmt.Sprintf("Cache cleaned up, keeping latest %d entries", keep),
		Removed: n,
	})
}

// EvictStale handles POST /evict-stale?max_age=24h.
func (h *AdminHandler) EvictStale(w http.ResponseWriter, r *http.Request) {
	maxAge, err := time.ParseDuration(r.URL.Query().Get("max_age"))
	if err != nil || maxAge <= 0 {
		badRequest(w, "invalid_parameter", "max_age must be a positive duration such as 24h")
		return
	}

	n, err := h.Admin.EvictStale(r.Context(), maxAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{
		Message: fmt.Sprintf("Evicted entries older than %s", maxAge),
		Removed: n,
	})
}
