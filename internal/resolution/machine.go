// Package resolution implements the per-market lifecycle state machine. All
// writes to market state flow through Machine so the transition table is
// enforced in one place, every verified transition is broadcast to observers,
// and fulfillment stays idempotent under at-least-once delivery.
package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// StateChannel is the signal bus channel carrying transition events.
const StateChannel = "ch:market:state"

// Transition describes one verified state change, delivered to observers and
// published on the signal bus.
type Transition struct {
	MarketID   int64              `json:"market_id"`
	From       domain.MarketState `json:"from"`
	To         domain.MarketState `json:"to"`
	Outcome    domain.Outcome     `json:"outcome"`
	Confidence int                `json:"confidence"`
	RequestID  string             `json:"request_id,omitempty"`
	At         time.Time          `json:"at"`
}

// Observer receives every verified transition. Callbacks run synchronously on
// the transitioning goroutine and must be fast.
type Observer func(Transition)

// allowed is the transition table. Disputed markets can only be resolved
// through the governance path, which is expressed by ResolveDisputed being
// the sole method that performs disputed -> resolved.
var allowed = map[domain.MarketState][]domain.MarketState{
	domain.MarketStateActive:    {domain.MarketStateResolving, domain.MarketStateCancelled},
	domain.MarketStateResolving: {domain.MarketStateResolved, domain.MarketStateDisputed, domain.MarketStateCancelled},
	domain.MarketStateDisputed:  {domain.MarketStateResolved, domain.MarketStateCancelled},
	domain.MarketStateResolved:  {domain.MarketStateCancelled},
	domain.MarketStateCancelled: {},
}

// Machine owns market lifecycle transitions.
type Machine struct {
	markets     domain.MarketStore
	requests    domain.ResolutionStore
	bus         domain.SignalBus
	audit       domain.AuditStore
	disputeWait time.Duration
	logger      *slog.Logger

	mu        sync.RWMutex
	observers []Observer

	now func() time.Time
}

// Config holds state machine parameters.
type Config struct {
	// DisputeWindow is how long after entering resolving a governance
	// challenge is accepted. Zero disables the window check.
	DisputeWindow time.Duration
}

// NewMachine creates a Machine over the given stores and signal bus.
func NewMachine(
	markets domain.MarketStore,
	requests domain.ResolutionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		markets:     markets,
		requests:    requests,
		bus:         bus,
		audit:       audit,
		disputeWait: cfg.DisputeWindow,
		logger:      logger.With(slog.String("component", "resolution")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AddObserver registers a callback for verified transitions.
func (m *Machine) AddObserver(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// BeginResolution moves a due market from active to resolving and creates its
// resolution request. It is rejected before the market's resolution time.
func (m *Machine) BeginResolution(ctx context.Context, marketID int64) (domain.ResolutionRequest, error) {
	market, err := m.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.ResolutionRequest{}, fmt.Errorf("resolution: load market %d: %w", marketID, err)
	}
	if !m.now().After(market.ResolutionTime) {
		return domain.ResolutionRequest{}, fmt.Errorf("resolution: market %d not yet due: %w", marketID, domain.ErrInvalidTransition)
	}
	if err := checkTransition(market.State, domain.MarketStateResolving); err != nil {
		return domain.ResolutionRequest{}, fmt.Errorf("resolution: begin market %d: %w", marketID, err)
	}

	req := domain.ResolutionRequest{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Question:  market.Question,
		CreatedAt: m.now(),
	}
	if err := m.requests.Create(ctx, req); err != nil {
		return domain.ResolutionRequest{}, fmt.Errorf("resolution: create request: %w", err)
	}
	if err := m.transition(ctx, market, domain.MarketStateResolving, domain.OutcomePending, 0, req.ID); err != nil {
		return domain.ResolutionRequest{}, err
	}
	return req, nil
}

// AdoptRequest imports a resolution request raised externally on the ledger,
// keeping the ledger-assigned request ID so fulfillment checks line up. A
// request that already exists locally is a no-op, as is a market already in
// resolving.
func (m *Machine) AdoptRequest(ctx context.Context, req domain.ResolutionRequest) error {
	if _, err := m.requests.GetByID(ctx, req.ID); err == nil {
		return nil // already imported
	}

	market, err := m.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return fmt.Errorf("resolution: load market %d: %w", req.MarketID, err)
	}
	if market.State == domain.MarketStateResolving {
		return nil
	}
	if err := checkTransition(market.State, domain.MarketStateResolving); err != nil {
		return fmt.Errorf("resolution: adopt request for market %d: %w", req.MarketID, err)
	}

	if req.Question == "" {
		req.Question = market.Question
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = m.now()
	}
	if err := m.requests.Create(ctx, req); err != nil {
		return fmt.Errorf("resolution: create request: %w", err)
	}
	return m.transition(ctx, market, domain.MarketStateResolving, domain.OutcomePending, 0, req.ID)
}

// Fulfill delivers a final outcome for the given request. It is idempotent:
// re-delivering an already-fulfilled request is a silent no-op so the relay
// layer's at-least-once semantics never surface as errors. The store-level
// conditional flip of the fulfilled flag is the only mutual-exclusion point.
func (m *Machine) Fulfill(ctx context.Context, requestID string, outcome domain.Outcome, confidence int) error {
	if outcome == domain.OutcomePending {
		return fmt.Errorf("resolution: fulfill with pending outcome: %w", domain.ErrInvalidTransition)
	}

	req, err := m.requests.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("resolution: load request %s: %w", requestID, err)
	}
	if req.Fulfilled {
		// Duplicate delivery. Absorb it.
		m.logger.DebugContext(ctx, "duplicate fulfillment ignored",
			slog.String("request_id", requestID),
			slog.Int64("market_id", req.MarketID),
		)
		return nil
	}

	market, err := m.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return fmt.Errorf("resolution: load market %d: %w", req.MarketID, err)
	}
	// Disputed markets are locked against automated fulfillment until the
	// governance path concludes; the fulfilled flag stays untouched.
	if market.State == domain.MarketStateDisputed {
		return fmt.Errorf("resolution: market %d: %w", req.MarketID, domain.ErrMarketDisputed)
	}
	if err := checkTransition(market.State, domain.MarketStateResolved); err != nil {
		return fmt.Errorf("resolution: fulfill market %d: %w", req.MarketID, err)
	}

	flipped, err := m.requests.MarkFulfilled(ctx, requestID)
	if err != nil {
		return fmt.Errorf("resolution: mark fulfilled %s: %w", requestID, err)
	}
	if !flipped {
		// Lost a race with a concurrent delivery; that delivery wins.
		return nil
	}
	return m.transition(ctx, market, domain.MarketStateResolved, outcome, confidence, requestID)
}

// Dispute moves a resolving market to disputed. The challenge must arrive
// inside the dispute window measured from the resolution request's creation.
func (m *Machine) Dispute(ctx context.Context, marketID int64) error {
	market, err := m.markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("resolution: load market %d: %w", marketID, err)
	}
	if err := checkTransition(market.State, domain.MarketStateDisputed); err != nil {
		return fmt.Errorf("resolution: dispute market %d: %w", marketID, err)
	}
	if market.State != domain.MarketStateResolving {
		return fmt.Errorf("resolution: dispute market %d from %s: %w", marketID, market.State, domain.ErrInvalidTransition)
	}

	if m.disputeWait > 0 {
		req, err := m.requests.GetByMarket(ctx, marketID)
		if err == nil && m.now().After(req.CreatedAt.Add(m.disputeWait)) {
			return fmt.Errorf("resolution: market %d: %w", marketID, domain.ErrDisputeWindowOver)
		}
	}
	return m.transition(ctx, market, domain.MarketStateDisputed, domain.OutcomePending, 0, "")
}

// ResolveDisputed applies a governance verdict to a disputed market. It is
// the only path out of the disputed state other than cancellation and must be
// called exclusively from proposal execution.
func (m *Machine) ResolveDisputed(ctx context.Context, marketID int64, outcome domain.Outcome) error {
	if outcome == domain.OutcomePending {
		return fmt.Errorf("resolution: governance verdict pending: %w", domain.ErrInvalidTransition)
	}
	market, err := m.markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("resolution: load market %d: %w", marketID, err)
	}
	if market.State != domain.MarketStateDisputed {
		return fmt.Errorf("resolution: market %d is %s, not disputed: %w", marketID, market.State, domain.ErrInvalidTransition)
	}

	// Governance verdicts settle the underlying request as well, so later
	// automated retries become no-ops.
	requestID := ""
	if req, err := m.requests.GetByMarket(ctx, marketID); err == nil {
		if _, err := m.requests.MarkFulfilled(ctx, req.ID); err != nil {
			return fmt.Errorf("resolution: settle request %s: %w", req.ID, err)
		}
		requestID = req.ID
	}
	// Governance verdicts carry full confidence; the vote already happened.
	return m.transition(ctx, market, domain.MarketStateResolved, outcome, 100, requestID)
}

// Cancel moves a market to the terminal cancelled state from any non-terminal
// state. Administrative/emergency path.
func (m *Machine) Cancel(ctx context.Context, marketID int64) error {
	market, err := m.markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("resolution: load market %d: %w", marketID, err)
	}
	if market.State == domain.MarketStateCancelled {
		return nil // already terminal
	}
	return m.transition(ctx, market, domain.MarketStateCancelled, market.Outcome, market.Confidence, "")
}

// transition persists the state change, audits it, and notifies observers.
func (m *Machine) transition(
	ctx context.Context,
	market domain.Market,
	to domain.MarketState,
	outcome domain.Outcome,
	confidence int,
	requestID string,
) error {
	if err := m.markets.SetState(ctx, market.ID, to, outcome, confidence); err != nil {
		return fmt.Errorf("resolution: set state %d -> %s: %w", market.ID, to, err)
	}

	tr := Transition{
		MarketID:   market.ID,
		From:       market.State,
		To:         to,
		Outcome:    outcome,
		Confidence: confidence,
		RequestID:  requestID,
		At:         m.now(),
	}

	m.logger.InfoContext(ctx, "market transitioned",
		slog.Int64("market_id", market.ID),
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)),
		slog.String("outcome", string(outcome)),
	)

	if m.audit != nil {
		if err := m.audit.Log(ctx, "market_transition", map[string]any{
			"market_id": market.ID,
			"from":      string(tr.From),
			"to":        string(tr.To),
			"outcome":   string(outcome),
		}); err != nil {
			m.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if m.bus != nil {
		payload, err := json.Marshal(tr)
		if err == nil {
			if err := m.bus.Publish(ctx, StateChannel, payload); err != nil {
				m.logger.WarnContext(ctx, "transition publish failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(tr)
	}
	return nil
}

// checkTransition validates a move against the transition table.
func checkTransition(from, to domain.MarketState) error {
	for _, next := range allowed[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
}
