package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// GovernanceService defines the proposal and expertise operations the
// governance handler requires from the service layer.
type GovernanceService interface {
	CreateProposal(ctx context.Context, p domain.Proposal) (int64, error)
	GetProposal(ctx context.Context, id int64) (domain.Proposal, error)
	ListProposals(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error)
	CastVote(ctx context.Context, proposalID int64, voter string, support domain.VoteSupport, expertiseDomain string) error
	FinalizeAndExecute(ctx context.Context, proposalID int64) (domain.ProposalStatus, error)
	CancelProposal(ctx context.Context, proposalID int64) error
	RegisterExpertise(ctx context.Context, owner, expertiseDomain, evidence string) error
	AttestExpertise(ctx context.Context, attester, expert, expertiseDomain string) error
}

// GovernanceHandler serves proposal, voting, and expertise endpoints.
type GovernanceHandler struct {
	governance GovernanceService
	logger     *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler with the given service and
// logger.
func NewGovernanceHandler(governance GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{
		governance: governance,
		logger:     logger,
	}
}

// createProposalRequest is the body for the proposal creation endpoint.
type createProposalRequest struct {
	Type        string `json:"type"`
	Proposer    string `json:"proposer"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MarketID    int64  `json:"market_id"`
	Outcome     string `json:"outcome"`
	Bond        int64  `json:"bond"`
}

// CreateProposal opens a new proposal for voting.
// POST /api/proposals
func (h *GovernanceHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var body createProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.governance.CreateProposal(r.Context(), domain.Proposal{
		Type:        domain.ProposalType(body.Type),
		Proposer:    body.Proposer,
		Title:       body.Title,
		Description: body.Description,
		MarketID:    body.MarketID,
		Outcome:     domain.Outcome(body.Outcome),
		Bond:        body.Bond,
		Status:      domain.ProposalActive,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBond) {
			writeError(w, http.StatusUnprocessableEntity, "bond below minimum")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create proposal failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"proposal_id": id})
}

// ListProposals returns proposals, optionally filtered by ?status=.
// GET /api/proposals?status=active
func (h *GovernanceHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.ProposalStatus(r.URL.Query().Get("status"))

	proposals, err := h.governance.ListProposals(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list proposals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list proposals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

// GetProposal returns a single proposal by ID.
// GET /api/proposals/{id}
func (h *GovernanceHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	p, err := h.governance.GetProposal(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get proposal failed",
			slog.Int64("proposal_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get proposal")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// castVoteRequest is the body for the vote endpoint.
type castVoteRequest struct {
	Voter   string `json:"voter"`
	Support string `json:"support"`
	Domain  string `json:"domain"`
}

// CastVote records a vote on a proposal.
// POST /api/proposals/{id}/votes
func (h *GovernanceHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var body castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	support := domain.VoteSupport(body.Support)
	switch support {
	case domain.VoteFor, domain.VoteAgainst, domain.VoteAbstain:
	default:
		writeError(w, http.StatusBadRequest, "support must be for, against, or abstain")
		return
	}

	err = h.governance.CastVote(r.Context(), id, body.Voter, support, body.Domain)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "proposal not found")
		case errors.Is(err, domain.ErrAlreadyVoted):
			writeError(w, http.StatusConflict, "address has already voted")
		case errors.Is(err, domain.ErrVotingEnded):
			writeError(w, http.StatusConflict, "voting period has ended")
		case errors.Is(err, domain.ErrProposalNotActive):
			writeError(w, http.StatusConflict, "proposal is not active")
		case errors.Is(err, domain.ErrNoVotingPower):
			writeError(w, http.StatusUnprocessableEntity, "no eligible voting power")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cast vote failed",
				slog.Int64("proposal_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cast vote")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"proposal_id": id, "voter": body.Voter})
}

// FinalizeProposal tallies a proposal and executes it when it succeeded.
// POST /api/proposals/{id}/finalize
func (h *GovernanceHandler) FinalizeProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	status, err := h.governance.FinalizeAndExecute(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "proposal not found")
		case errors.Is(err, domain.ErrProposalNotActive):
			writeError(w, http.StatusConflict, "proposal is not active")
		default:
			h.logger.ErrorContext(r.Context(), "handler: finalize proposal failed",
				slog.Int64("proposal_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"proposal_id": id, "status": string(status)})
}

// CancelProposal cancels a proposal.
// POST /api/proposals/{id}/cancel
func (h *GovernanceHandler) CancelProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	if err := h.governance.CancelProposal(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "proposal not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "proposal already terminal")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel proposal failed",
				slog.Int64("proposal_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel proposal")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"proposal_id": id, "status": "cancelled"})
}

// expertiseRequest is the body for expertise registration and attestation.
type expertiseRequest struct {
	Owner    string `json:"owner"`
	Attester string `json:"attester"`
	Expert   string `json:"expert"`
	Domain   string `json:"domain"`
	Evidence string `json:"evidence"`
}

// RegisterExpertise self-registers expertise in a domain.
// POST /api/expertise
func (h *GovernanceHandler) RegisterExpertise(w http.ResponseWriter, r *http.Request) {
	var body expertiseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.governance.RegisterExpertise(r.Context(), body.Owner, body.Domain, body.Evidence); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "expertise already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"owner": body.Owner, "domain": body.Domain})
}

// AttestExpertise records a peer attestation.
// POST /api/expertise/attest
func (h *GovernanceHandler) AttestExpertise(w http.ResponseWriter, r *http.Request) {
	var body expertiseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.governance.AttestExpertise(r.Context(), body.Attester, body.Expert, body.Domain)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "expertise entry not found")
		case errors.Is(err, domain.ErrSelfAttestation):
			writeError(w, http.StatusUnprocessableEntity, "cannot attest own expertise")
		case errors.Is(err, domain.ErrDuplicateAttestation):
			writeError(w, http.StatusConflict, "already attested")
		case errors.Is(err, domain.ErrAttesterNotQualified):
			writeError(w, http.StatusForbidden, "attester is not a verified expert")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"expert": body.Expert, "domain": body.Domain})
}
