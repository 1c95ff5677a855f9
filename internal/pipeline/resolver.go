// Package pipeline contains the automation jobs that drive market resolution:
// the resolver batch job and the orchestrator that schedules it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// ConsensusEngine is the slice of the consensus engine the resolver needs.
type ConsensusEngine interface {
	ResolveMarket(ctx context.Context, marketID int64, question, marketContext string) (domain.ConsensusResult, error)
}

// Fulfiller is the slice of the resolution state machine the resolver needs.
type Fulfiller interface {
	Fulfill(ctx context.Context, requestID string, outcome domain.Outcome, confidence int) error
}

// CallDataBuilder encodes a resolution into ledger calldata for relayed
// submission.
type CallDataBuilder interface {
	ResolutionCallData(requestID string, marketID int64, outcome domain.Outcome, confidence int) ([]byte, error)
}

// Notifier is the slice of the notification system the resolver needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ResolverConfig holds tuning for the resolver job.
type ResolverConfig struct {
	// Lookback bounds how far back unfulfilled requests are scanned.
	Lookback time.Duration
	// TargetChain is the chain ID resolutions are relayed to.
	TargetChain int64
	// TargetAddress is the resolution contract address on the target chain.
	TargetAddress string
	// DedupTTL is how long processed request IDs stay marked in the dedup
	// cache.
	DedupTTL time.Duration
	// MaxBatch caps the number of requests handled per invocation.
	MaxBatch int
}

// Resolver is the stateless batch job that discovers due resolution requests,
// runs consensus, and submits fulfillment through the gasless relay network.
// Each invocation is independent; overlapping invocations are tolerated via
// the dedup cache and, ultimately, idempotent fulfillment.
type Resolver struct {
	requests domain.ResolutionStore
	markets  domain.MarketStore
	ledger   domain.Ledger
	relayNet domain.RelayNetwork
	engine   ConsensusEngine
	machine  Fulfiller
	calldata CallDataBuilder
	audit    domain.ConsensusAuditStore
	dedup    domain.DedupCache
	notifier Notifier
	cfg      ResolverConfig
	logger   *slog.Logger
}

// NewResolver creates a Resolver. The notifier, audit store, and dedup cache
// are optional; a nil value disables that concern.
func NewResolver(
	requests domain.ResolutionStore,
	markets domain.MarketStore,
	ledger domain.Ledger,
	relayNet domain.RelayNetwork,
	engine ConsensusEngine,
	machine Fulfiller,
	calldata CallDataBuilder,
	audit domain.ConsensusAuditStore,
	dedup domain.DedupCache,
	notifier Notifier,
	cfg ResolverConfig,
	logger *slog.Logger,
) *Resolver {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 72 * time.Hour
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 50
	}
	return &Resolver{
		requests: requests,
		markets:  markets,
		ledger:   ledger,
		relayNet: relayNet,
		engine:   engine,
		machine:  machine,
		calldata: calldata,
		audit:    audit,
		dedup:    dedup,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "resolver")),
	}
}

// PollAndResolve runs one resolution cycle. It never aborts the batch because
// one request failed; failures are counted into the returned stats and the
// affected request is left unfulfilled for the next cycle or for governance.
func (r *Resolver) PollAndResolve(ctx context.Context) (domain.ResolverStats, error) {
	var stats domain.ResolverStats

	since := time.Now().UTC().Add(-r.cfg.Lookback)
	reqs, err := r.requests.ListUnfulfilled(ctx, since, domain.ListOpts{Limit: r.cfg.MaxBatch})
	if err != nil {
		return stats, fmt.Errorf("resolver: list unfulfilled: %w", err)
	}

	for _, req := range reqs {
		if ctx.Err() != nil {
			return stats, fmt.Errorf("resolver: %w", ctx.Err())
		}
		stats.Checked++
		if r.processOne(ctx, req) {
			stats.Processed++
		} else {
			stats.Errors++
		}
	}

	r.logger.InfoContext(ctx, "resolution cycle finished",
		slog.Int("checked", stats.Checked),
		slog.Int("processed", stats.Processed),
		slog.Int("errors", stats.Errors),
	)
	return stats, nil
}

// processOne handles a single request end to end. It returns true when the
// request was fulfilled (or was already fulfilled elsewhere) and false when
// it remains open due to an error.
func (r *Resolver) processOne(ctx context.Context, req domain.ResolutionRequest) bool {
	log := r.logger.With(
		slog.String("request_id", req.ID),
		slog.Int64("market_id", req.MarketID),
	)

	// Skip requests another recent invocation already handled.
	if r.dedup != nil {
		done, err := r.dedup.IsProcessed(ctx, req.ID)
		if err == nil && done {
			log.DebugContext(ctx, "request recently processed, skipping")
			return true
		}
	}

	// Disputed markets are locked until governance concludes.
	market, err := r.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		log.ErrorContext(ctx, "market load failed", slog.String("error", err.Error()))
		return false
	}
	if market.State == domain.MarketStateDisputed {
		log.InfoContext(ctx, "market disputed, leaving for governance")
		return true
	}

	// Defense in depth: a prior fulfillment may exist on the ledger even
	// though our store has not caught up.
	fulfilled, err := r.ledger.IsFulfilled(ctx, req.ID)
	if err != nil {
		log.WarnContext(ctx, "ledger fulfillment check failed",
			slog.String("error", err.Error()),
		)
		// Proceed; the state machine's idempotence is the real guard.
	} else if fulfilled {
		log.InfoContext(ctx, "already fulfilled on ledger, syncing local state")
		onLedger, err := r.ledger.ReadMarket(ctx, req.MarketID)
		if err == nil && onLedger.Outcome != domain.OutcomePending {
			if err := r.machine.Fulfill(ctx, req.ID, onLedger.Outcome, onLedger.Confidence); err != nil {
				log.ErrorContext(ctx, "local sync failed", slog.String("error", err.Error()))
				return false
			}
		}
		r.markProcessed(ctx, req.ID)
		return true
	}

	// Run multi-model consensus.
	result, err := r.engine.ResolveMarket(ctx, req.MarketID, req.Question, market.Category)
	if err != nil {
		if errors.Is(err, domain.ErrAllProvidersUnavailable) {
			log.WarnContext(ctx, "all AI providers unavailable, deferring to next cycle")
		} else {
			log.ErrorContext(ctx, "consensus failed", slog.String("error", err.Error()))
		}
		return false
	}

	if r.audit != nil {
		if err := r.audit.Record(ctx, req.ID, result); err != nil {
			log.WarnContext(ctx, "audit trail write failed", slog.String("error", err.Error()))
		}
	}

	// Relay the fulfillment transaction.
	callData, err := r.calldata.ResolutionCallData(req.ID, req.MarketID, result.Outcome, result.Confidence)
	if err != nil {
		log.ErrorContext(ctx, "calldata build failed", slog.String("error", err.Error()))
		return false
	}
	task, err := r.relayNet.Relay(ctx, r.cfg.TargetChain, r.cfg.TargetAddress, callData)
	if err != nil {
		r.handleRelayFailure(ctx, log, req, err)
		return false
	}

	// Record the fulfillment locally. Idempotent against concurrent cycles.
	if err := r.machine.Fulfill(ctx, req.ID, result.Outcome, result.Confidence); err != nil {
		log.ErrorContext(ctx, "fulfill failed after relay accept",
			slog.String("task_id", task.TaskID),
			slog.String("error", err.Error()),
		)
		return false
	}

	r.markProcessed(ctx, req.ID)
	log.InfoContext(ctx, "market resolved",
		slog.String("outcome", string(result.Outcome)),
		slog.Int("confidence", result.Confidence),
		slog.String("task_id", task.TaskID),
	)
	return true
}

// handleRelayFailure classifies a relay error and logs actionable remediation
// text. The request stays unfulfilled for manual or governance resolution;
// chain-unsupported is an expected condition, not a bug.
func (r *Resolver) handleRelayFailure(ctx context.Context, log *slog.Logger, req domain.ResolutionRequest, err error) {
	var relayErr *domain.RelayError
	kind := domain.RelayErrTransport
	if errors.As(err, &relayErr) {
		kind = relayErr.Kind
	}

	switch kind {
	case domain.RelayErrChainUnsupported:
		log.WarnContext(ctx, "relay does not support target chain; market needs manual resolution",
			slog.Int64("target_chain", r.cfg.TargetChain),
			slog.String("remediation", "resolve via the admin dashboard or raise a market_resolution governance proposal"),
		)
		r.notify(ctx, "manual_required", "Manual resolution required",
			fmt.Sprintf("Market %d: relay network does not support chain %d. Resolve manually or via governance.", req.MarketID, r.cfg.TargetChain))
	case domain.RelayErrAuthFailed:
		log.ErrorContext(ctx, "relay rejected credentials",
			slog.String("remediation", "rotate the relay API key and verify the sponsor balance"),
		)
		r.notify(ctx, "resolution_failed", "Relay authorization failed",
			fmt.Sprintf("Market %d: relay auth failed; check API key and sponsor funds.", req.MarketID))
	default:
		log.ErrorContext(ctx, "relay submission failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// markProcessed records the request in the dedup cache; best effort.
func (r *Resolver) markProcessed(ctx context.Context, requestID string) {
	if r.dedup == nil {
		return
	}
	if _, err := r.dedup.MarkProcessed(ctx, requestID, r.cfg.DedupTTL); err != nil {
		r.logger.WarnContext(ctx, "dedup mark failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

// notify sends an escalation notification; best effort.
func (r *Resolver) notify(ctx context.Context, event, title, message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}
