package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbiter/internal/domain"
	"github.com/alanyoungcy/arbiter/internal/governance"
)

// GovernanceService composes the governance module with the ledger so that
// executed market-resolution verdicts are written on-chain directly, without
// going through the relay path used by automated resolution.
type GovernanceService struct {
	gov       *governance.Module
	proposals domain.ProposalStore
	ledger    domain.Ledger
	audit     domain.AuditStore
	notifier  Notifier
	logger    *slog.Logger
}

// NewGovernanceService creates a GovernanceService. ledger, audit, and
// notifier may be nil; the corresponding side effects are skipped.
func NewGovernanceService(
	gov *governance.Module,
	proposals domain.ProposalStore,
	ledger domain.Ledger,
	audit domain.AuditStore,
	notifier Notifier,
	logger *slog.Logger,
) *GovernanceService {
	return &GovernanceService{
		gov:       gov,
		proposals: proposals,
		ledger:    ledger,
		audit:     audit,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "governance_service")),
	}
}

// CreateProposal opens a new proposal for voting.
func (s *GovernanceService) CreateProposal(ctx context.Context, p domain.Proposal) (int64, error) {
	id, err := s.gov.CreateProposal(ctx, p)
	if err != nil {
		return 0, err
	}

	if s.audit != nil {
		if logErr := s.audit.Log(ctx, "governance.proposal_created", map[string]any{
			"proposal_id": id,
			"type":        string(p.Type),
			"proposer":    p.Proposer,
			"market_id":   p.MarketID,
		}); logErr != nil {
			s.logger.WarnContext(ctx, "proposal audit log failed",
				slog.Int64("proposal_id", id),
				slog.String("error", logErr.Error()),
			)
		}
	}
	return id, nil
}

// CastVote records a quadratic, expertise-weighted vote.
func (s *GovernanceService) CastVote(ctx context.Context, proposalID int64, voter string, support domain.VoteSupport, expertiseDomain string) error {
	return s.gov.CastVote(ctx, proposalID, voter, support, expertiseDomain)
}

// GetProposal returns a proposal by ID.
func (s *GovernanceService) GetProposal(ctx context.Context, id int64) (domain.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: get proposal %d: %w", id, err)
	}
	return p, nil
}

// ListProposals returns proposals filtered by status.
func (s *GovernanceService) ListProposals(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error) {
	return s.proposals.List(ctx, status, opts)
}

// FinalizeAndExecute tallies a proposal whose voting period has ended and, if
// it succeeded, executes it. For market-resolution proposals the verdict is
// also submitted to the ledger directly; a ledger failure after local
// execution is reported but does not roll back, because the ledger enforces
// first-writer-wins and a later retry is safe.
func (s *GovernanceService) FinalizeAndExecute(ctx context.Context, proposalID int64) (domain.ProposalStatus, error) {
	status, err := s.gov.Finalize(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if status != domain.ProposalSucceeded {
		return status, nil
	}

	if err := s.gov.Execute(ctx, proposalID); err != nil {
		return status, err
	}

	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return status, fmt.Errorf("governance_service: reload proposal %d: %w", proposalID, err)
	}

	if p.Type == domain.ProposalMarketResolution && s.ledger != nil {
		// Governance verdicts carry full confidence.
		receipt, err := s.ledger.SubmitResolution(ctx, p.MarketID, p.Outcome, 100)
		if err != nil {
			s.logger.ErrorContext(ctx, "ledger submission failed",
				slog.Int64("proposal_id", proposalID),
				slog.Int64("market_id", p.MarketID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.InfoContext(ctx, "verdict submitted to ledger",
				slog.Int64("market_id", p.MarketID),
				slog.String("tx_hash", receipt.TxHash),
				slog.Bool("confirmed", receipt.Confirmed),
			)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, "proposal_executed",
			"Proposal executed",
			fmt.Sprintf("Proposal %d (%s) executed.", proposalID, p.Type),
		); err != nil {
			s.logger.WarnContext(ctx, "execution notification failed",
				slog.Int64("proposal_id", proposalID),
				slog.String("error", err.Error()),
			)
		}
	}

	return domain.ProposalExecuted, nil
}

// CancelProposal cancels a proposal from any non-terminal state.
func (s *GovernanceService) CancelProposal(ctx context.Context, proposalID int64) error {
	return s.gov.CancelProposal(ctx, proposalID)
}

// RegisterExpertise self-registers expertise in a domain.
func (s *GovernanceService) RegisterExpertise(ctx context.Context, owner, expertiseDomain, evidence string) error {
	return s.gov.RegisterExpertise(ctx, owner, expertiseDomain, evidence)
}

// AttestExpertise records a peer attestation.
func (s *GovernanceService) AttestExpertise(ctx context.Context, attester, expert, expertiseDomain string) error {
	return s.gov.AttestExpertise(ctx, attester, expert, expertiseDomain)
}
