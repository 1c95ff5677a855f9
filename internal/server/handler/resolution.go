package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// ResolutionService defines the lifecycle operations the resolution handler
// requires from the service layer.
type ResolutionService interface {
	DisputeMarket(ctx context.Context, marketID int64) error
	CancelMarket(ctx context.Context, marketID int64) error
	ResolveDisputed(ctx context.Context, marketID int64, outcome domain.Outcome) error
	GetAuditTrail(ctx context.Context, requestID string) (domain.ConsensusResult, error)
}

// ResolutionHandler serves the admin lifecycle endpoints and the consensus
// audit trail.
type ResolutionHandler struct {
	resolution ResolutionService
	logger     *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler with the given service and
// logger.
func NewResolutionHandler(resolution ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolution: resolution,
		logger:     logger,
	}
}

// DisputeMarket moves a resolving market into the disputed state.
// POST /api/markets/{id}/dispute
func (h *ResolutionHandler) DisputeMarket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	if err := h.resolution.DisputeMarket(r.Context(), id); err != nil {
		h.writeLifecycleError(w, r, "dispute", id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "state": "disputed"})
}

// CancelMarket voids a market.
// POST /api/markets/{id}/cancel
func (h *ResolutionHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	if err := h.resolution.CancelMarket(r.Context(), id); err != nil {
		h.writeLifecycleError(w, r, "cancel", id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "state": "cancelled"})
}

// resolveRequest is the body for the manual disputed-resolution endpoint.
type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveDisputed applies a verdict to a disputed market.
// POST /api/markets/{id}/resolve
func (h *ResolutionHandler) ResolveDisputed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var body resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome := domain.Outcome(body.Outcome)
	switch outcome {
	case domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeInvalid:
	default:
		writeError(w, http.StatusBadRequest, "outcome must be yes, no, or invalid")
		return
	}

	if err := h.resolution.ResolveDisputed(r.Context(), id, outcome); err != nil {
		h.writeLifecycleError(w, r, "resolve", id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"state":     "resolved",
		"outcome":   string(outcome),
	})
}

// GetAuditTrail returns the consensus audit trail for a resolution request.
// GET /api/requests/{id}/audit
func (h *ResolutionHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing request id")
		return
	}

	result, err := h.resolution.GetAuditTrail(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit trail not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get audit trail failed",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get audit trail")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeLifecycleError maps state machine failures to HTTP responses.
func (h *ResolutionHandler) writeLifecycleError(w http.ResponseWriter, r *http.Request, op string, id int64, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "market not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid state transition")
	case errors.Is(err, domain.ErrDisputeWindowOver):
		writeError(w, http.StatusConflict, "dispute window has elapsed")
	default:
		h.logger.ErrorContext(r.Context(), "handler: market "+op+" failed",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" market")
	}
}
