package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
	"github.com/alanyoungcy/arbiter/internal/governance"
	"github.com/alanyoungcy/arbiter/internal/resolution"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type memMarketStore struct {
	mu      sync.Mutex
	markets map[int64]domain.Market
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: map[int64]domain.Market{}}
}

func (s *memMarketStore) Upsert(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) ListDue(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Market
	for _, m := range s.markets {
		if !m.ResolutionTime.After(now) &&
			(m.State == domain.MarketStateActive || m.State == domain.MarketStateResolving) {
			due = append(due, m)
		}
	}
	return due, nil
}

func (s *memMarketStore) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.State == state {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) SetState(ctx context.Context, id int64, state domain.MarketState, outcome domain.Outcome, confidence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type memResolutionStore struct {
	mu   sync.Mutex
	reqs map[string]domain.ResolutionRequest
}

func newMemResolutionStore() *memResolutionStore {
	return &memResolutionStore{reqs: map[string]domain.ResolutionRequest{}}
}

func (s *memResolutionStore) Create(ctx context.Context, req domain.ResolutionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[req.ID] = req
	return nil
}

func (s *memResolutionStore) GetByID(ctx context.Context, id string) (domain.ResolutionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return domain.ResolutionRequest{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memResolutionStore) GetByMarket(ctx context.Context, marketID int64) (domain.ResolutionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reqs {
		if r.MarketID == marketID {
			return r, nil
		}
	}
	return domain.ResolutionRequest{}, domain.ErrNotFound
}

func (s *memResolutionStore) ListUnfulfilled(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.ResolutionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResolutionRequest
	for _, r := range s.reqs {
		if !r.Fulfilled && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memResolutionStore) MarkFulfilled(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if r.Fulfilled {
		return false, nil
	}
	now := time.Now().UTC()
	r.Fulfilled = true
	r.FulfilledAt = &now
	s.reqs[id] = r
	return true, nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (s *memAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

func (s *memAuditStore) byEvent(event string) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeAttester struct {
	calls int
}

func (a *fakeAttester) SignResolution(requestID string, marketID int64, outcomeCode, confidence uint8) (string, error) {
	a.calls++
	return fmt.Sprintf("0xsig-%s-%d-%d-%d", requestID, marketID, outcomeCode, confidence), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type memTrailStore struct {
	trails map[string]domain.ConsensusResult
}

func (s *memTrailStore) Record(ctx context.Context, requestID string, r domain.ConsensusResult) error {
	s.trails[requestID] = r
	return nil
}

func (s *memTrailStore) GetByRequest(ctx context.Context, requestID string) (domain.ConsensusResult, error) {
	r, ok := s.trails[requestID]
	if !ok {
		return domain.ConsensusResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memTrailStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	return nil, nil
}

func (s *memTrailStore) DeleteByRequest(ctx context.Context, requestIDs []string) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ---------------------------------------------------------------------------
// ResolutionService
// ---------------------------------------------------------------------------

func newResolutionFixture(t *testing.T) (*ResolutionService, *resolution.Machine, *memMarketStore, *memAuditStore, *recordingNotifier) {
	t.Helper()
	markets := newMemMarketStore()
	requests := newMemResolutionStore()
	audit := &memAuditStore{}
	notifier := &recordingNotifier{}

	machine := resolution.NewMachine(markets, requests, nil, audit,
		resolution.Config{DisputeWindow: 24 * time.Hour}, discardLogger())

	svc := NewResolutionService(machine, &memTrailStore{trails: map[string]domain.ConsensusResult{}},
		audit, &fakeAttester{}, notifier, discardLogger())
	return svc, machine, markets, audit, notifier
}

func seedDueMarket(t *testing.T, markets *memMarketStore, id int64) {
	t.Helper()
	err := markets.Upsert(context.Background(), domain.Market{
		ID:             id,
		Question:       "Did the event happen?",
		State:          domain.MarketStateActive,
		Outcome:        domain.OutcomePending,
		ResolutionTime: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed market: %v", err)
	}
}

func TestResolvedTransitionIsAttested(t *testing.T) {
	svc, machine, markets, audit, _ := newResolutionFixture(t)
	_ = svc
	ctx := context.Background()
	seedDueMarket(t, markets, 7)

	req, err := machine.BeginResolution(ctx, 7)
	if err != nil {
		t.Fatalf("BeginResolution: %v", err)
	}
	if err := machine.Fulfill(ctx, req.ID, domain.OutcomeYes, 88); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}

	attested := audit.byEvent("resolution.attested")
	if len(attested) != 1 {
		t.Fatalf("got %d attestation entries, want 1", len(attested))
	}
	detail := attested[0].Detail
	if detail["request_id"] != req.ID || detail["outcome"] != "yes" {
		t.Errorf("attestation detail = %v", detail)
	}
	if sig, _ := detail["signature"].(string); sig == "" {
		t.Error("attestation has no signature")
	}
}

func TestDisputeMarketNotifies(t *testing.T) {
	svc, machine, markets, _, notifier := newResolutionFixture(t)
	ctx := context.Background()
	seedDueMarket(t, markets, 9)

	if _, err := machine.BeginResolution(ctx, 9); err != nil {
		t.Fatalf("BeginResolution: %v", err)
	}
	if err := svc.DisputeMarket(ctx, 9); err != nil {
		t.Fatalf("DisputeMarket: %v", err)
	}

	if len(notifier.events) != 1 || notifier.events[0] != "dispute_opened" {
		t.Errorf("notifier events = %v, want [dispute_opened]", notifier.events)
	}

	m, _ := markets.GetByID(ctx, 9)
	if m.State != domain.MarketStateDisputed {
		t.Errorf("market state = %s, want disputed", m.State)
	}
}

// ---------------------------------------------------------------------------
// GovernanceService
// ---------------------------------------------------------------------------

type memProposalStore struct {
	mu     sync.Mutex
	nextID int64
	props  map[int64]domain.Proposal
	voted  map[string]bool
}

func newMemProposalStore() *memProposalStore {
	return &memProposalStore{nextID: 1, props: map[int64]domain.Proposal{}, voted: map[string]bool{}}
}

func (s *memProposalStore) Create(ctx context.Context, p domain.Proposal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.props[p.ID] = p
	return p.ID, nil
}

func (s *memProposalStore) GetByID(ctx context.Context, id int64) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memProposalStore) List(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Proposal
	for _, p := range s.props {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memProposalStore) UpdateStatus(ctx context.Context, id int64, status domain.ProposalStatus, executed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.Executed = executed
	s.props[id] = p
	return nil
}

func (s *memProposalStore) AddVote(ctx context.Context, v domain.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d/%s", v.ProposalID, v.Voter)
	if s.voted[key] {
		return domain.ErrAlreadyVoted
	}
	s.voted[key] = true
	p := s.props[v.ProposalID]
	switch v.Support {
	case domain.VoteFor:
		p.ForVotes += v.Power
	case domain.VoteAgainst:
		p.AgainstVotes += v.Power
	case domain.VoteAbstain:
		p.AbstainVotes += v.Power
	}
	s.props[v.ProposalID] = p
	return nil
}

func (s *memProposalStore) HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voted[fmt.Sprintf("%d/%s", proposalID, voter)], nil
}

type memExpertiseStore struct{}

func (memExpertiseStore) Register(ctx context.Context, e domain.Expertise) error { return nil }
func (memExpertiseStore) Get(ctx context.Context, owner, d string) (domain.Expertise, error) {
	return domain.Expertise{}, domain.ErrNotFound
}
func (memExpertiseStore) Update(ctx context.Context, e domain.Expertise) error { return nil }
func (memExpertiseStore) ListByDomain(ctx context.Context, d string, opts domain.ListOpts) ([]domain.Expertise, error) {
	return nil, nil
}

type memStakeStore map[string]int64

func (s memStakeStore) Balance(ctx context.Context, addr string) (int64, error) {
	return s[addr], nil
}

type fakeLedger struct {
	mu          sync.Mutex
	submissions []int64
}

func (l *fakeLedger) ReadMarket(ctx context.Context, marketID int64) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (l *fakeLedger) SubmitResolution(ctx context.Context, marketID int64, outcome domain.Outcome, confidence int) (domain.TxReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submissions = append(l.submissions, marketID)
	return domain.TxReceipt{TxHash: "0xabc", Confirmed: true}, nil
}

func (l *fakeLedger) QueryResolutionEvents(ctx context.Context, since time.Time) ([]domain.ResolutionRequest, error) {
	return nil, nil
}

func (l *fakeLedger) IsFulfilled(ctx context.Context, requestID string) (bool, error) {
	return false, nil
}

func TestFinalizeAndExecuteSubmitsToLedger(t *testing.T) {
	ctx := context.Background()
	markets := newMemMarketStore()
	requests := newMemResolutionStore()
	audit := &memAuditStore{}
	machine := resolution.NewMachine(markets, requests, nil, audit,
		resolution.Config{DisputeWindow: 24 * time.Hour}, discardLogger())

	seedDueMarket(t, markets, 3)
	req, err := machine.BeginResolution(ctx, 3)
	if err != nil {
		t.Fatalf("BeginResolution: %v", err)
	}
	_ = req
	if err := machine.Dispute(ctx, 3); err != nil {
		t.Fatalf("Dispute: %v", err)
	}

	proposals := newMemProposalStore()
	gov := governance.New(proposals, memExpertiseStore{}, memStakeStore{}, machine,
		governance.Config{MinBond: 10, Quorum: 50, VotingPeriod: time.Hour, ExpertiseBoost: 2},
		discardLogger())

	ledger := &fakeLedger{}
	notifier := &recordingNotifier{}
	svc := NewGovernanceService(gov, proposals, ledger, audit, notifier, discardLogger())

	// Succeeded-ready proposal: voting closed, winning, over quorum.
	id, err := proposals.Create(ctx, domain.Proposal{
		Type:         domain.ProposalMarketResolution,
		Proposer:     "0xproposer",
		Title:        "Resolve market 3",
		MarketID:     3,
		Outcome:      domain.OutcomeNo,
		ForVotes:     80,
		AgainstVotes: 10,
		Status:       domain.ProposalActive,
		Bond:         10,
		VotingEndsAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	status, err := svc.FinalizeAndExecute(ctx, id)
	if err != nil {
		t.Fatalf("FinalizeAndExecute: %v", err)
	}
	if status != domain.ProposalExecuted {
		t.Errorf("status = %s, want executed", status)
	}

	m, _ := markets.GetByID(ctx, 3)
	if m.State != domain.MarketStateResolved || m.Outcome != domain.OutcomeNo {
		t.Errorf("market = %s/%s, want resolved/no", m.State, m.Outcome)
	}

	if len(ledger.submissions) != 1 || ledger.submissions[0] != 3 {
		t.Errorf("ledger submissions = %v, want [3]", ledger.submissions)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "proposal_executed" {
		t.Errorf("notifier events = %v, want [proposal_executed]", notifier.events)
	}
}

func TestFinalizeDefeatedSkipsExecution(t *testing.T) {
	ctx := context.Background()
	proposals := newMemProposalStore()
	machine := resolution.NewMachine(newMemMarketStore(), newMemResolutionStore(), nil, &memAuditStore{},
		resolution.Config{}, discardLogger())
	gov := governance.New(proposals, memExpertiseStore{}, memStakeStore{}, machine,
		governance.Config{MinBond: 10, Quorum: 50, VotingPeriod: time.Hour, ExpertiseBoost: 2},
		discardLogger())

	ledger := &fakeLedger{}
	svc := NewGovernanceService(gov, proposals, ledger, nil, nil, discardLogger())

	id, _ := proposals.Create(ctx, domain.Proposal{
		Type:         domain.ProposalParameterChange,
		Proposer:     "0xproposer",
		Title:        "Lower quorum",
		ForVotes:     10,
		AgainstVotes: 80,
		Status:       domain.ProposalActive,
		Bond:         10,
		VotingEndsAt: time.Now().Add(-time.Minute),
	})

	status, err := svc.FinalizeAndExecute(ctx, id)
	if err != nil {
		t.Fatalf("FinalizeAndExecute: %v", err)
	}
	if status != domain.ProposalDefeated {
		t.Errorf("status = %s, want defeated", status)
	}
	if len(ledger.submissions) != 0 {
		t.Errorf("ledger submissions = %v, want none", ledger.submissions)
	}
}

// ---------------------------------------------------------------------------
// MarketService
// ---------------------------------------------------------------------------

func TestGetMarketFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	markets := newMemMarketStore()
	seedDueMarket(t, markets, 11)

	svc := NewMarketService(markets, nil, discardLogger())

	m, err := svc.GetMarket(ctx, 11)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.ID != 11 {
		t.Errorf("market id = %d, want 11", m.ID)
	}

	if _, err := svc.GetMarket(ctx, 404); err == nil {
		t.Error("missing market returned no error")
	}
}
