package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// memProposalStore is an in-memory domain.ProposalStore for tests.
type memProposalStore struct {
	nextID    int64
	proposals map[int64]domain.Proposal
	votes     map[string]domain.Vote // "proposalID/voter"
}

func newMemProposalStore() *memProposalStore {
	return &memProposalStore{
		nextID:    1,
		proposals: make(map[int64]domain.Proposal),
		votes:     make(map[string]domain.Vote),
	}
}

func (s *memProposalStore) Create(ctx context.Context, p domain.Proposal) (int64, error) {
	p.ID = s.nextID
	s.nextID++
	s.proposals[p.ID] = p
	return p.ID, nil
}

func (s *memProposalStore) GetByID(ctx context.Context, id int64) (domain.Proposal, error) {
	p, ok := s.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memProposalStore) List(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error) {
	var out []domain.Proposal
	for _, p := range s.proposals {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memProposalStore) UpdateStatus(ctx context.Context, id int64, status domain.ProposalStatus, executed bool) error {
	p, ok := s.proposals[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.Executed = executed
	s.proposals[id] = p
	return nil
}

func (s *memProposalStore) AddVote(ctx context.Context, v domain.Vote) error {
	key := fmt.Sprintf("%d/%s", v.ProposalID, v.Voter)
	if _, ok := s.votes[key]; ok {
		return domain.ErrAlreadyExists
	}
	s.votes[key] = v
	p := s.proposals[v.ProposalID]
	switch v.Support {
	case domain.VoteFor:
		p.ForVotes += v.Power
	case domain.VoteAgainst:
		p.AgainstVotes += v.Power
	case domain.VoteAbstain:
		p.AbstainVotes += v.Power
	}
	s.proposals[v.ProposalID] = p
	return nil
}

func (s *memProposalStore) HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error) {
	_, ok := s.votes[fmt.Sprintf("%d/%s", proposalID, voter)]
	return ok, nil
}

// memExpertiseStore is an in-memory domain.ExpertiseStore for tests.
type memExpertiseStore struct {
	entries map[string]domain.Expertise // "owner/domain"
}

func newMemExpertiseStore() *memExpertiseStore {
	return &memExpertiseStore{entries: make(map[string]domain.Expertise)}
}

func ekey(owner, d string) string { return owner + "/" + d }

func (s *memExpertiseStore) Register(ctx context.Context, e domain.Expertise) error {
	k := ekey(e.Owner, e.Domain)
	if _, ok := s.entries[k]; ok {
		return domain.ErrAlreadyExists
	}
	s.entries[k] = e
	return nil
}

func (s *memExpertiseStore) Get(ctx context.Context, owner, d string) (domain.Expertise, error) {
	e, ok := s.entries[ekey(owner, d)]
	if !ok {
		return domain.Expertise{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *memExpertiseStore) Update(ctx context.Context, e domain.Expertise) error {
	s.entries[ekey(e.Owner, e.Domain)] = e
	return nil
}

func (s *memExpertiseStore) ListByDomain(ctx context.Context, d string, opts domain.ListOpts) ([]domain.Expertise, error) {
	var out []domain.Expertise
	for _, e := range s.entries {
		if e.Domain == d {
			out = append(out, e)
		}
	}
	return out, nil
}

// memStakeStore maps addresses to fixed balances.
type memStakeStore map[string]int64

func (s memStakeStore) Balance(ctx context.Context, addr string) (int64, error) {
	return s[addr], nil
}

// fakeResolver records governance verdicts.
type fakeResolver struct {
	marketID int64
	outcome  domain.Outcome
	calls    int
}

func (r *fakeResolver) ResolveDisputed(ctx context.Context, marketID int64, outcome domain.Outcome) error {
	r.calls++
	r.marketID = marketID
	r.outcome = outcome
	return nil
}

func newTestModule(t *testing.T, stakes memStakeStore) (*Module, *memProposalStore, *memExpertiseStore, *fakeResolver) {
	t.Helper()
	proposals := newMemProposalStore()
	expertise := newMemExpertiseStore()
	resolver := &fakeResolver{}
	m := New(proposals, expertise, stakes, resolver, Config{
		MinBond:      100,
		Quorum:       150,
		VotingPeriod: 72 * time.Hour,
	}, slog.New(slog.DiscardHandler))
	return m, proposals, expertise, resolver
}

func activeProposal() domain.Proposal {
	return domain.Proposal{
		Type:        domain.ProposalParameterChange,
		Proposer:    "0xaaa",
		Title:       "raise dispute window",
		Description: "24h -> 48h",
		Bond:        100,
	}
}

func TestCreateProposalBond(t *testing.T) {
	m, _, _, _ := newTestModule(t, memStakeStore{})
	ctx := context.Background()

	p := activeProposal()
	p.Bond = 50
	if _, err := m.CreateProposal(ctx, p); !errors.Is(err, domain.ErrInsufficientBond) {
		t.Errorf("CreateProposal() low bond error = %v, want ErrInsufficientBond", err)
	}

	p.Bond = 100
	id, err := m.CreateProposal(ctx, p)
	if err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}
	if id == 0 {
		t.Error("CreateProposal() returned zero id")
	}
}

func TestCastVoteValidation(t *testing.T) {
	stakes := memStakeStore{"0xvoter": 10000, "0xpoor": 0}
	m, proposals, _, _ := newTestModule(t, stakes)
	ctx := context.Background()
	id, _ := m.CreateProposal(ctx, activeProposal())

	// sqrt(10000) = 100 power, no boost.
	if err := m.CastVote(ctx, id, "0xvoter", domain.VoteFor, ""); err != nil {
		t.Fatalf("CastVote() error = %v", err)
	}
	p, _ := proposals.GetByID(ctx, id)
	if p.ForVotes != 100 {
		t.Errorf("ForVotes = %d, want 100 (quadratic)", p.ForVotes)
	}

	// Duplicate vote.
	if err := m.CastVote(ctx, id, "0xvoter", domain.VoteAgainst, ""); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Errorf("duplicate CastVote() error = %v, want ErrAlreadyVoted", err)
	}

	// Zero stake.
	if err := m.CastVote(ctx, id, "0xpoor", domain.VoteFor, ""); !errors.Is(err, domain.ErrNoVotingPower) {
		t.Errorf("zero-stake CastVote() error = %v, want ErrNoVotingPower", err)
	}

	// Non-active proposal.
	proposals.UpdateStatus(ctx, id, domain.ProposalCancelled, false)
	if err := m.CastVote(ctx, id, "0xother", domain.VoteFor, ""); !errors.Is(err, domain.ErrProposalNotActive) {
		t.Errorf("cancelled CastVote() error = %v, want ErrProposalNotActive", err)
	}
}

func TestExpertiseBoostedVote(t *testing.T) {
	stakes := memStakeStore{"0xexpert": 10000}
	m, proposals, expertise, _ := newTestModule(t, stakes)
	ctx := context.Background()
	id, _ := m.CreateProposal(ctx, activeProposal())

	expertise.Register(ctx, domain.Expertise{
		Owner: "0xexpert", Domain: "crypto", Score: 80, Verified: true,
	})

	if err := m.CastVote(ctx, id, "0xexpert", domain.VoteFor, "crypto"); err != nil {
		t.Fatalf("CastVote() error = %v", err)
	}
	p, _ := proposals.GetByID(ctx, id)
	if p.ForVotes != 200 {
		t.Errorf("ForVotes = %d, want 200 (sqrt(10000) doubled)", p.ForVotes)
	}
}

func TestExpertiseBoostDomainCaseInsensitive(t *testing.T) {
	stakes := memStakeStore{"0xexpert": 10000}
	m, proposals, expertise, _ := newTestModule(t, stakes)
	ctx := context.Background()
	id, _ := m.CreateProposal(ctx, activeProposal())

	// Registration canonicalizes to lowercase; a vote citing the domain in
	// any spelling must still find it.
	expertise.Register(ctx, domain.Expertise{
		Owner: "0xexpert", Domain: "crypto", Score: 80, Verified: true,
	})

	if err := m.CastVote(ctx, id, "0xexpert", domain.VoteFor, " Crypto "); err != nil {
		t.Fatalf("CastVote() error = %v", err)
	}
	p, _ := proposals.GetByID(ctx, id)
	if p.ForVotes != 200 {
		t.Errorf("ForVotes = %d, want 200 (boost survives domain casing)", p.ForVotes)
	}
}

func TestUnverifiedDomainGivesNoBoost(t *testing.T) {
	stakes := memStakeStore{"0xvoter": 10000}
	m, proposals, expertise, _ := newTestModule(t, stakes)
	ctx := context.Background()
	id, _ := m.CreateProposal(ctx, activeProposal())

	expertise.Register(ctx, domain.Expertise{
		Owner: "0xvoter", Domain: "crypto", Score: 55, Verified: false,
	})

	if err := m.CastVote(ctx, id, "0xvoter", domain.VoteFor, "crypto"); err != nil {
		t.Fatalf("CastVote() error = %v", err)
	}
	p, _ := proposals.GetByID(ctx, id)
	if p.ForVotes != 100 {
		t.Errorf("ForVotes = %d, want 100 (no boost for unverified)", p.ForVotes)
	}
}

func TestFinalizeQuorum(t *testing.T) {
	tests := []struct {
		name                       string
		forVotes, against, abstain int64
		want                       domain.ProposalStatus
	}{
		{
			// Opposition power never counts toward quorum: 120 < 150 even
			// though 120+80 would clear it.
			name:     "against votes do not fill quorum",
			forVotes: 120, against: 80,
			want: domain.ProposalDefeated,
		},
		{
			// Abstentions do count: 120+40 = 160 >= 150.
			name:     "abstain votes fill quorum",
			forVotes: 120, abstain: 40,
			want: domain.ProposalSucceeded,
		},
		{
			name:     "quorum met but majority against",
			forVotes: 100, against: 110, abstain: 60,
			want: domain.ProposalDefeated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, proposals, _, _ := newTestModule(t, memStakeStore{})
			ctx := context.Background()
			id, _ := m.CreateProposal(ctx, activeProposal())

			p, _ := proposals.GetByID(ctx, id)
			p.ForVotes, p.AgainstVotes, p.AbstainVotes = tt.forVotes, tt.against, tt.abstain
			proposals.proposals[id] = p

			m.now = func() time.Time { return time.Now().UTC().Add(100 * time.Hour) }
			status, err := m.Finalize(ctx, id)
			if err != nil {
				t.Fatalf("Finalize() error = %v", err)
			}
			if status != tt.want {
				t.Errorf("status = %s, want %s", status, tt.want)
			}
		})
	}
}

func TestFinalizeQuorumUnmet(t *testing.T) {
	m, proposals, _, _ := newTestModule(t, memStakeStore{})
	ctx := context.Background()
	id, _ := m.CreateProposal(ctx, activeProposal())

	// for=120 > against=0 but supporting power 120 < quorum 150.
	p, _ := proposals.GetByID(ctx, id)
	p.ForVotes = 120
	proposals.proposals[id] = p

	m.now = func() time.Time { return time.Now().UTC().Add(100 * time.Hour) }
	status, err := m.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if status != domain.ProposalDefeated {
		t.Errorf("status = %s, want defeated on quorum miss", status)
	}
}

func TestExecuteMarketResolution(t *testing.T) {
	m, proposals, _, resolver := newTestModule(t, memStakeStore{})
	ctx := context.Background()

	p := activeProposal()
	p.Type = domain.ProposalMarketResolution
	p.MarketID = 42
	p.Outcome = domain.OutcomeNo
	id, _ := m.CreateProposal(ctx, p)

	// Not executable while active.
	if err := m.Execute(ctx, id); !errors.Is(err, domain.ErrNotExecutable) {
		t.Errorf("Execute() active proposal error = %v, want ErrNotExecutable", err)
	}

	proposals.UpdateStatus(ctx, id, domain.ProposalSucceeded, false)
	if err := m.Execute(ctx, id); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resolver.calls != 1 || resolver.marketID != 42 || resolver.outcome != domain.OutcomeNo {
		t.Errorf("resolver got %+v, want market 42 -> no", resolver)
	}

	// Execution is once only.
	if err := m.Execute(ctx, id); !errors.Is(err, domain.ErrNotExecutable) {
		t.Errorf("second Execute() error = %v, want ErrNotExecutable", err)
	}
}

func TestAttestationFlow(t *testing.T) {
	m, _, expertise, _ := newTestModule(t, memStakeStore{})
	ctx := context.Background()

	if err := m.RegisterExpertise(ctx, "0xnew", "crypto", "ran a mining pool"); err != nil {
		t.Fatalf("RegisterExpertise() error = %v", err)
	}
	e, _ := expertise.Get(ctx, "0xnew", "crypto")
	if e.Score != 50 || e.Verified {
		t.Fatalf("fresh expertise = %+v, want score 50 unverified", e)
	}

	// Seed three qualified attesters plus one under-scored one.
	for i, score := range []int{80, 75, 90, 60} {
		owner := fmt.Sprintf("0xattester%d", i)
		expertise.Register(ctx, domain.Expertise{
			Owner: owner, Domain: "crypto", Score: score, Verified: true,
		})
	}

	// Self-attestation rejected.
	if err := m.AttestExpertise(ctx, "0xnew", "0xnew", "crypto"); !errors.Is(err, domain.ErrSelfAttestation) {
		t.Errorf("self-attest error = %v, want ErrSelfAttestation", err)
	}

	// Under-scored attester rejected even though verified.
	if err := m.AttestExpertise(ctx, "0xattester3", "0xnew", "crypto"); !errors.Is(err, domain.ErrAttesterNotQualified) {
		t.Errorf("under-scored attest error = %v, want ErrAttesterNotQualified", err)
	}

	// First two valid attestations: score grows, still unverified.
	for _, a := range []string{"0xattester0", "0xattester1"} {
		if err := m.AttestExpertise(ctx, a, "0xnew", "crypto"); err != nil {
			t.Fatalf("AttestExpertise(%s) error = %v", a, err)
		}
	}
	e, _ = expertise.Get(ctx, "0xnew", "crypto")
	if e.Score != 60 || e.Verified {
		t.Errorf("after 2 attestations: %+v, want score 60 unverified", e)
	}

	// Duplicate attestation rejected without changing the score.
	if err := m.AttestExpertise(ctx, "0xattester0", "0xnew", "crypto"); !errors.Is(err, domain.ErrDuplicateAttestation) {
		t.Errorf("duplicate attest error = %v, want ErrDuplicateAttestation", err)
	}
	e, _ = expertise.Get(ctx, "0xnew", "crypto")
	if e.Score != 60 {
		t.Errorf("duplicate attestation changed score to %d", e.Score)
	}

	// Third distinct attestation flips verified automatically.
	if err := m.AttestExpertise(ctx, "0xattester2", "0xnew", "crypto"); err != nil {
		t.Fatalf("AttestExpertise() error = %v", err)
	}
	e, _ = expertise.Get(ctx, "0xnew", "crypto")
	if !e.Verified || e.Score != 65 || e.VerifiedAt == nil {
		t.Errorf("after 3 attestations: %+v, want verified score 65", e)
	}
}

func TestVotingEnded(t *testing.T) {
	stakes := memStakeStore{"0xvoter": 100}
	m, _, _, _ := newTestModule(t, stakes)
	ctx := context.Background()
	id, _ := m.CreateProposal(ctx, activeProposal())

	m.now = func() time.Time { return time.Now().UTC().Add(100 * time.Hour) }
	if err := m.CastVote(ctx, id, "0xvoter", domain.VoteFor, ""); !errors.Is(err, domain.ErrVotingEnded) {
		t.Errorf("CastVote() after period error = %v, want ErrVotingEnded", err)
	}
}
