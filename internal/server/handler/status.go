package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// StatusHandler serves the backend status (mode, uptime, last resolver cycle)
// for the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time

	mu        sync.RWMutex
	lastStats domain.ResolverStats
	lastRunAt time.Time
}

// NewStatusHandler creates a StatusHandler with the given mode.
func NewStatusHandler(mode string, startedAt time.Time) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{mode: mode, startedAt: startedAt}
}

// RecordCycle stores the stats of the latest resolver poll cycle. Safe for
// concurrent use.
func (h *StatusHandler) RecordCycle(stats domain.ResolverStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastStats = stats
	h.lastRunAt = time.Now().UTC()
}

// GetStatus responds with the current backend mode, uptime, and the latest
// resolver cycle stats.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	stats := h.lastStats
	lastRun := h.lastRunAt
	h.mu.RUnlock()

	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"resolver": map[string]any{
			"checked":   stats.Checked,
			"processed": stats.Processed,
			"errors":    stats.Errors,
		},
	}
	if !lastRun.IsZero() {
		resp["last_cycle_at"] = lastRun.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}
