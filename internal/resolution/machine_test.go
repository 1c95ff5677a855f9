package resolution

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// memMarketStore is an in-memory domain.MarketStore for tests.
type memMarketStore struct {
	markets map[int64]domain.Market
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: make(map[int64]domain.Market)}
}

func (s *memMarketStore) Upsert(ctx context.Context, m domain.Market) error {
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) ListDue(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.ExpiredUnresolved(now) && m.State != domain.MarketStateDisputed {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.State == state {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) SetState(ctx context.Context, id int64, state domain.MarketState, outcome domain.Outcome, confidence int) error {
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.State = state
	m.Outcome = outcome
	m.Confidence = confidence
	s.markets[id] = m
	return nil
}

func (s *memMarketStore) Count(ctx context.Context) (int64, error) {
	return int64(len(s.markets)), nil
}

// memResolutionStore is an in-memory domain.ResolutionStore for tests.
type memResolutionStore struct {
	requests map[string]domain.ResolutionRequest
}

func newMemResolutionStore() *memResolutionStore {
	return &memResolutionStore{requests: make(map[string]domain.ResolutionRequest)}
}

func (s *memResolutionStore) Create(ctx context.Context, req domain.ResolutionRequest) error {
	if _, ok := s.requests[req.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.requests[req.ID] = req
	return nil
}

func (s *memResolutionStore) GetByID(ctx context.Context, id string) (domain.ResolutionRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return domain.ResolutionRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (s *memResolutionStore) GetByMarket(ctx context.Context, marketID int64) (domain.ResolutionRequest, error) {
	for _, req := range s.requests {
		if req.MarketID == marketID {
			return req, nil
		}
	}
	return domain.ResolutionRequest{}, domain.ErrNotFound
}

func (s *memResolutionStore) ListUnfulfilled(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.ResolutionRequest, error) {
	var out []domain.ResolutionRequest
	for _, req := range s.requests {
		if !req.Fulfilled && !req.CreatedAt.Before(since) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *memResolutionStore) MarkFulfilled(ctx context.Context, id string) (bool, error) {
	req, ok := s.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.Fulfilled {
		return false, nil
	}
	now := time.Now().UTC()
	req.Fulfilled = true
	req.FulfilledAt = &now
	s.requests[id] = req
	return true, nil
}

func newTestMachine(t *testing.T) (*Machine, *memMarketStore, *memResolutionStore) {
	t.Helper()
	markets := newMemMarketStore()
	requests := newMemResolutionStore()
	m := NewMachine(markets, requests, nil, nil, Config{DisputeWindow: 24 * time.Hour},
		slog.New(slog.DiscardHandler))
	return m, markets, requests
}

func dueMarket(id int64) domain.Market {
	return domain.Market{
		ID:             id,
		Question:       "Will it happen?",
		State:          domain.MarketStateActive,
		Outcome:        domain.OutcomePending,
		ResolutionTime: time.Now().UTC().Add(-time.Hour),
	}
}

func TestBeginResolution(t *testing.T) {
	m, markets, _ := newTestMachine(t)
	ctx := context.Background()
	markets.Upsert(ctx, dueMarket(1))

	req, err := m.BeginResolution(ctx, 1)
	if err != nil {
		t.Fatalf("BeginResolution() error = %v", err)
	}
	if req.ID == "" || req.MarketID != 1 || req.Fulfilled {
		t.Errorf("unexpected request %+v", req)
	}

	got, _ := markets.GetByID(ctx, 1)
	if got.State != domain.MarketStateResolving {
		t.Errorf("market state = %s, want resolving", got.State)
	}

	// A second begin on a resolving market is rejected.
	if _, err := m.BeginResolution(ctx, 1); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second BeginResolution() error = %v, want ErrInvalidTransition", err)
	}
}

func TestBeginResolutionBeforeDeadline(t *testing.T) {
	m, markets, _ := newTestMachine(t)
	ctx := context.Background()
	mk := dueMarket(1)
	mk.ResolutionTime = time.Now().UTC().Add(time.Hour)
	markets.Upsert(ctx, mk)

	if _, err := m.BeginResolution(ctx, 1); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("BeginResolution() before deadline error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdoptRequest(t *testing.T) {
	m, markets, requests := newTestMachine(t)
	ctx := context.Background()
	markets.Upsert(ctx, dueMarket(1))

	req := domain.ResolutionRequest{ID: "ledger-req-1", MarketID: 1}
	if err := m.AdoptRequest(ctx, req); err != nil {
		t.Fatalf("AdoptRequest() error = %v", err)
	}

	got, _ := markets.GetByID(ctx, 1)
	if got.State != domain.MarketStateResolving {
		t.Errorf("market state = %s, want resolving", got.State)
	}
	stored, err := requests.GetByID(ctx, "ledger-req-1")
	if err != nil {
		t.Fatalf("request not stored: %v", err)
	}
	if stored.Question != "Will it happen?" {
		t.Errorf("question not filled from market: %q", stored.Question)
	}

	// Re-adoption of the same ledger event is a no-op.
	if err := m.AdoptRequest(ctx, req); err != nil {
		t.Errorf("second AdoptRequest() error = %v, want nil", err)
	}

	// A fresh request against an already-resolving market is absorbed too.
	if err := m.AdoptRequest(ctx, domain.ResolutionRequest{ID: "ledger-req-2", MarketID: 1}); err != nil {
		t.Errorf("AdoptRequest() on resolving market error = %v, want nil", err)
	}
	if _, err := requests.GetByID(ctx, "ledger-req-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("duplicate request was created for resolving market")
	}
}

func TestAdoptRequestTerminalMarket(t *testing.T) {
	m, markets, _ := newTestMachine(t)
	ctx := context.Background()
	mk := dueMarket(1)
	mk.State = domain.MarketStateCancelled
	markets.Upsert(ctx, mk)

	err := m.AdoptRequest(ctx, domain.ResolutionRequest{ID: "ledger-req-1", MarketID: 1})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("AdoptRequest() on cancelled market error = %v, want ErrInvalidTransition", err)
	}
}

func TestFulfillIdempotent(t *testing.T) {
	m, markets, requests := newTestMachine(t)
	ctx := context.Background()
	markets.Upsert(ctx, dueMarket(1))
	req, err := m.BeginResolution(ctx, 1)
	if err != nil {
		t.Fatalf("BeginResolution() error = %v", err)
	}

	if err := m.Fulfill(ctx, req.ID, domain.OutcomeYes, 80); err != nil {
		t.Fatalf("first Fulfill() error = %v", err)
	}
	first, _ := markets.GetByID(ctx, 1)

	// Re-delivery with the same request ID is a silent no-op.
	if err := m.Fulfill(ctx, req.ID, domain.OutcomeYes, 80); err != nil {
		t.Fatalf("second Fulfill() error = %v, want nil (no-op)", err)
	}
	second, _ := markets.GetByID(ctx, 1)

	if first != second {
		t.Errorf("market changed on duplicate fulfillment: %+v vs %+v", first, second)
	}
	if second.State != domain.MarketStateResolved || second.Outcome != domain.OutcomeYes || second.Confidence != 80 {
		t.Errorf("unexpected terminal market %+v", second)
	}

	stored, _ := requests.GetByID(ctx, req.ID)
	if !stored.Fulfilled {
		t.Error("request not marked fulfilled")
	}
}

func TestFulfillPendingOutcomeRejected(t *testing.T) {
	m, markets, _ := newTestMachine(t)
	ctx := context.Background()
	markets.Upsert(ctx, dueMarket(1))
	req, _ := m.BeginResolution(ctx, 1)

	if err := m.Fulfill(ctx, req.ID, domain.OutcomePending, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Fulfill(pending) error = %v, want ErrInvalidTransition", err)
	}
}

func TestDisputeBlocksAutomatedFulfillment(t *testing.T) {
	m, markets, requests := newTestMachine(t)
	ctx := context.Background()
	markets.Upsert(ctx, dueMarket(1))
	req, _ := m.BeginResolution(ctx, 1)

	if err := m.Dispute(ctx, 1); err != nil {
		t.Fatalf("Dispute() error = %v", err)
	}

	if err := m.Fulfill(ctx, req.ID, domain.OutcomeYes, 90); !errors.Is(err, domain.ErrMarketDisputed) {
		t.Fatalf("Fulfill() on disputed market error = %v, want ErrMarketDisputed", err)
	}
	// The blocked fulfillment must not consume the request.
	stored, _ := requests.GetByID(ctx, req.ID)
	if stored.Fulfilled {
		t.Error("blocked fulfillment consumed the request")
	}

	// Governance is the only path out.
	if err := m.ResolveDisputed(ctx, 1, domain.OutcomeNo); err != nil {
		t.Fatalf("ResolveDisputed() error = %v", err)
	}
	got, _ := markets.GetByID(ctx, 1)
	if got.State != domain.MarketStateResolved || got.Outcome != domain.OutcomeNo {
		t.Errorf("market after governance = %+v", got)
	}

	// The governance verdict settles the request, so retries are no-ops.
	if err := m.Fulfill(ctx, req.ID, domain.OutcomeYes, 90); err != nil {
		t.Errorf("Fulfill() after governance error = %v, want nil no-op", err)
	}
	got2, _ := markets.GetByID(ctx, 1)
	if got2.Outcome != domain.OutcomeNo {
		t.Errorf("retry overwrote governance verdict: %+v", got2)
	}
}

func TestDisputeWindowElapsed(t *testing.T) {
	m, markets, _ := newTestMachine(t)
	ctx := context.Background()
	markets.Upsert(ctx, dueMarket(1))
	if _, err := m.BeginResolution(ctx, 1); err != nil {
		t.Fatalf("BeginResolution() error = %v", err)
	}

	// Jump the machine clock past the window.
	m.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }

	if err := m.Dispute(ctx, 1); !errors.Is(err, domain.ErrDisputeWindowOver) {
		t.Errorf("Dispute() after window error = %v, want ErrDisputeWindowOver", err)
	}
}

func TestCancelFromAnyState(t *testing.T) {
	m, markets, _ := newTestMachine(t)
	ctx := context.Background()

	for _, state := range []domain.MarketState{
		domain.MarketStateActive,
		domain.MarketStateResolving,
		domain.MarketStateDisputed,
		domain.MarketStateResolved,
	} {
		mk := dueMarket(10)
		mk.State = state
		markets.Upsert(ctx, mk)
		if err := m.Cancel(ctx, 10); err != nil {
			t.Errorf("Cancel() from %s error = %v", state, err)
		}
	}

	// Cancelling a cancelled market is a no-op.
	if err := m.Cancel(ctx, 10); err != nil {
		t.Errorf("Cancel() on cancelled market error = %v", err)
	}
}

func TestObserversNotified(t *testing.T) {
	m, markets, _ := newTestMachine(t)
	ctx := context.Background()
	markets.Upsert(ctx, dueMarket(1))

	var seen []Transition
	m.AddObserver(func(tr Transition) { seen = append(seen, tr) })

	req, _ := m.BeginResolution(ctx, 1)
	if err := m.Fulfill(ctx, req.ID, domain.OutcomeYes, 77); err != nil {
		t.Fatalf("Fulfill() error = %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("observer saw %d transitions, want 2", len(seen))
	}
	if seen[0].To != domain.MarketStateResolving || seen[1].To != domain.MarketStateResolved {
		t.Errorf("transition order wrong: %+v", seen)
	}
	if seen[1].Outcome != domain.OutcomeYes || seen[1].Confidence != 77 {
		t.Errorf("resolved transition payload wrong: %+v", seen[1])
	}
}

func TestExpiredUnresolvedDerivation(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		market domain.Market
		want   bool
	}{
		{"active past deadline", domain.Market{State: domain.MarketStateActive, Outcome: domain.OutcomePending, ResolutionTime: past}, true},
		{"resolving past deadline", domain.Market{State: domain.MarketStateResolving, Outcome: domain.OutcomePending, ResolutionTime: past}, true},
		{"disputed past deadline", domain.Market{State: domain.MarketStateDisputed, Outcome: domain.OutcomePending, ResolutionTime: past}, true},
		{"resolved with outcome", domain.Market{State: domain.MarketStateResolved, Outcome: domain.OutcomeYes, ResolutionTime: past}, false},
		{"resolved but outcome still pending", domain.Market{State: domain.MarketStateResolved, Outcome: domain.OutcomePending, ResolutionTime: past}, true},
		{"cancelled", domain.Market{State: domain.MarketStateCancelled, Outcome: domain.OutcomePending, ResolutionTime: past}, false},
		{"active before deadline", domain.Market{State: domain.MarketStateActive, Outcome: domain.OutcomePending, ResolutionTime: future}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.market.ExpiredUnresolved(now); got != tt.want {
				t.Errorf("ExpiredUnresolved() = %v, want %v", got, tt.want)
			}
		})
	}
}
