package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
	"github.com/alanyoungcy/arbiter/internal/resolution"
)

// Attester produces EIP-712 signatures over resolved outcomes. Satisfied by
// the crypto signer.
type Attester interface {
	SignResolution(requestID string, marketID int64, outcomeCode, confidence uint8) (string, error)
}

// Notifier delivers operator alerts for a named event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// attestTimeout bounds the background attestation write that runs outside the
// transitioning goroutine's context.
const attestTimeout = 10 * time.Second

// ResolutionService exposes the admin-facing lifecycle operations and attaches
// signed attestations to resolved outcomes. It observes the state machine so
// every resolved transition, regardless of which path triggered it, gets an
// attestation row in the audit log.
type ResolutionService struct {
	machine  *resolution.Machine
	trails   domain.ConsensusAuditStore
	audit    domain.AuditStore
	signer   Attester
	notifier Notifier
	logger   *slog.Logger
}

// NewResolutionService creates a ResolutionService and registers it as a
// transition observer on the machine. signer and notifier may be nil.
func NewResolutionService(
	machine *resolution.Machine,
	trails domain.ConsensusAuditStore,
	audit domain.AuditStore,
	signer Attester,
	notifier Notifier,
	logger *slog.Logger,
) *ResolutionService {
	s := &ResolutionService{
		machine:  machine,
		trails:   trails,
		audit:    audit,
		signer:   signer,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "resolution_service")),
	}
	machine.AddObserver(s.onTransition)
	return s
}

// DisputeMarket moves a resolving market into the disputed state and alerts
// operators.
func (s *ResolutionService) DisputeMarket(ctx context.Context, marketID int64) error {
	if err := s.machine.Dispute(ctx, marketID); err != nil {
		return fmt.Errorf("resolution_service: dispute market %d: %w", marketID, err)
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, "dispute_opened",
			"Market disputed",
			fmt.Sprintf("Market %d entered dispute; governance adjudication required.", marketID),
		); err != nil {
			s.logger.WarnContext(ctx, "dispute notification failed",
				slog.Int64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// CancelMarket voids a market from any non-terminal state.
func (s *ResolutionService) CancelMarket(ctx context.Context, marketID int64) error {
	if err := s.machine.Cancel(ctx, marketID); err != nil {
		return fmt.Errorf("resolution_service: cancel market %d: %w", marketID, err)
	}
	return nil
}

// ResolveDisputed applies a governance verdict to a disputed market.
func (s *ResolutionService) ResolveDisputed(ctx context.Context, marketID int64, outcome domain.Outcome) error {
	if err := s.machine.ResolveDisputed(ctx, marketID, outcome); err != nil {
		return fmt.Errorf("resolution_service: resolve disputed market %d: %w", marketID, err)
	}
	return nil
}

// GetAuditTrail returns the recorded consensus result for a request.
func (s *ResolutionService) GetAuditTrail(ctx context.Context, requestID string) (domain.ConsensusResult, error) {
	result, err := s.trails.GetByRequest(ctx, requestID)
	if err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("resolution_service: audit trail %s: %w", requestID, err)
	}
	return result, nil
}

// onTransition runs synchronously on every verified state change. Resolved
// transitions get an attestation; everything else is ignored. The work runs
// with its own deadline because the originating context is not available
// here.
func (s *ResolutionService) onTransition(t resolution.Transition) {
	if t.To != domain.MarketStateResolved || s.signer == nil || t.RequestID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), attestTimeout)
	defer cancel()

	sig, err := s.signer.SignResolution(t.RequestID, t.MarketID, outcomeCode(t.Outcome), uint8(t.Confidence))
	if err != nil {
		s.logger.Error("attestation signing failed",
			slog.Int64("market_id", t.MarketID),
			slog.String("request_id", t.RequestID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.audit.Log(ctx, "resolution.attested", map[string]any{
		"market_id":  t.MarketID,
		"request_id": t.RequestID,
		"outcome":    string(t.Outcome),
		"confidence": t.Confidence,
		"signature":  sig,
	}); err != nil {
		s.logger.Error("attestation audit log failed",
			slog.Int64("market_id", t.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// outcomeCode maps an outcome to its on-ledger uint8 encoding.
func outcomeCode(o domain.Outcome) uint8 {
	switch o {
	case domain.OutcomeYes:
		return 1
	case domain.OutcomeNo:
		return 2
	case domain.OutcomeInvalid:
		return 3
	default:
		return 0
	}
}
