// Package governance implements the proposal lifecycle with quadratic,
// expertise-weighted voting, and the peer-attestation expertise registry. It
// is the fallback adjudication path when automated resolution is disputed.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// MarketResolver applies a governance verdict to a disputed market. Satisfied
// by the resolution state machine.
type MarketResolver interface {
	ResolveDisputed(ctx context.Context, marketID int64, outcome domain.Outcome) error
}

// Config holds governance parameters.
type Config struct {
	// MinBond is the minimum stake bond to create a proposal.
	MinBond int64
	// Quorum is the minimum supporting participation (for+abstain effective
	// power) for a proposal to succeed. Against votes never help a proposal
	// reach quorum.
	Quorum int64
	// VotingPeriod is how long a proposal accepts votes once active.
	VotingPeriod time.Duration
	// ExpertiseBoost multiplies the quadratic power of voters holding
	// verified expertise in the supplied domain.
	ExpertiseBoost int64
}

// Module owns proposals, votes, and expertise state.
type Module struct {
	proposals domain.ProposalStore
	expertise domain.ExpertiseStore
	stakes    domain.StakeStore
	resolver  MarketResolver
	cfg       Config
	logger    *slog.Logger

	now func() time.Time
}

// New creates a governance Module.
func New(
	proposals domain.ProposalStore,
	expertise domain.ExpertiseStore,
	stakes domain.StakeStore,
	resolver MarketResolver,
	cfg Config,
	logger *slog.Logger,
) *Module {
	if cfg.ExpertiseBoost <= 0 {
		cfg.ExpertiseBoost = 2
	}
	return &Module{
		proposals: proposals,
		expertise: expertise,
		stakes:    stakes,
		resolver:  resolver,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "governance")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateProposal validates the bond and opens a new proposal for voting.
func (g *Module) CreateProposal(ctx context.Context, p domain.Proposal) (int64, error) {
	if p.Bond < g.cfg.MinBond {
		return 0, fmt.Errorf("governance: bond %d below minimum %d: %w", p.Bond, g.cfg.MinBond, domain.ErrInsufficientBond)
	}
	if strings.TrimSpace(p.Title) == "" {
		return 0, fmt.Errorf("governance: proposal title required")
	}
	if p.Type == domain.ProposalMarketResolution && p.Outcome == domain.OutcomePending {
		return 0, fmt.Errorf("governance: market resolution proposal needs a non-pending outcome")
	}

	p.Status = domain.ProposalActive
	p.Executed = false
	p.CreatedAt = g.now()
	p.VotingEndsAt = p.CreatedAt.Add(g.cfg.VotingPeriod)

	id, err := g.proposals.Create(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("governance: create proposal: %w", err)
	}
	g.logger.InfoContext(ctx, "proposal created",
		slog.Int64("proposal_id", id),
		slog.String("type", string(p.Type)),
		slog.String("proposer", p.Proposer),
	)
	return id, nil
}

// CastVote records a vote. Voting power is the quadratic transform of the
// voter's stake (integer square root), doubled when the voter supplies an
// expertise domain in which they hold verified status. Both components use
// the same transform so the boost is a clean multiplier.
func (g *Module) CastVote(ctx context.Context, proposalID int64, voter string, support domain.VoteSupport, expertiseDomain string) error {
	p, err := g.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("governance: load proposal %d: %w", proposalID, err)
	}
	if p.Status != domain.ProposalActive {
		return fmt.Errorf("governance: proposal %d is %s: %w", proposalID, p.Status, domain.ErrProposalNotActive)
	}
	if g.now().After(p.VotingEndsAt) {
		return fmt.Errorf("governance: proposal %d: %w", proposalID, domain.ErrVotingEnded)
	}

	voted, err := g.proposals.HasVoted(ctx, proposalID, voter)
	if err != nil {
		return fmt.Errorf("governance: check vote: %w", err)
	}
	if voted {
		return fmt.Errorf("governance: %s on proposal %d: %w", voter, proposalID, domain.ErrAlreadyVoted)
	}

	power, err := g.votingPower(ctx, voter, expertiseDomain)
	if err != nil {
		return err
	}
	if power <= 0 {
		return fmt.Errorf("governance: %s: %w", voter, domain.ErrNoVotingPower)
	}

	vote := domain.Vote{
		ProposalID: proposalID,
		Voter:      voter,
		Support:    support,
		Power:      power,
		Domain:     expertiseDomain,
		CastAt:     g.now(),
	}
	if err := g.proposals.AddVote(ctx, vote); err != nil {
		return fmt.Errorf("governance: record vote: %w", err)
	}

	g.logger.InfoContext(ctx, "vote cast",
		slog.Int64("proposal_id", proposalID),
		slog.String("voter", voter),
		slog.String("support", string(support)),
		slog.Int64("power", power),
	)
	return nil
}

// votingPower computes the effective power for a voter: sqrt(stake), times
// the expertise boost when a verified domain is supplied.
func (g *Module) votingPower(ctx context.Context, voter, expertiseDomain string) (int64, error) {
	stake, err := g.stakes.Balance(ctx, voter)
	if err != nil {
		return 0, fmt.Errorf("governance: stake balance for %s: %w", voter, err)
	}
	if stake <= 0 {
		return 0, nil
	}
	power := int64(math.Sqrt(float64(stake)))

	// The registry stores domains canonicalized; look up the same way so
	// "Crypto" matches an entry registered as "crypto".
	if d := strings.TrimSpace(strings.ToLower(expertiseDomain)); d != "" {
		e, err := g.expertise.Get(ctx, voter, d)
		if err == nil && e.Verified {
			power *= g.cfg.ExpertiseBoost
		}
		// An unverified or unknown domain simply yields no boost.
	}
	return power, nil
}

// Finalize tallies a proposal after its voting period. Succeeded requires
// for-votes to exceed against-votes and for-plus-abstain power to meet
// quorum; counting against votes toward quorum would let opposition push a
// minority proposal over the line. Calling Finalize early or on a non-active
// proposal is an error.
func (g *Module) Finalize(ctx context.Context, proposalID int64) (domain.ProposalStatus, error) {
	p, err := g.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return "", fmt.Errorf("governance: load proposal %d: %w", proposalID, err)
	}
	if p.Status != domain.ProposalActive {
		return "", fmt.Errorf("governance: proposal %d is %s: %w", proposalID, p.Status, domain.ErrProposalNotActive)
	}
	if g.now().Before(p.VotingEndsAt) {
		return "", fmt.Errorf("governance: proposal %d voting still open", proposalID)
	}

	status := domain.ProposalDefeated
	quorumVotes := p.ForVotes + p.AbstainVotes
	if p.ForVotes > p.AgainstVotes && quorumVotes >= g.cfg.Quorum {
		status = domain.ProposalSucceeded
	}

	if err := g.proposals.UpdateStatus(ctx, proposalID, status, false); err != nil {
		return "", fmt.Errorf("governance: finalize proposal %d: %w", proposalID, err)
	}
	g.logger.InfoContext(ctx, "proposal finalized",
		slog.Int64("proposal_id", proposalID),
		slog.String("status", string(status)),
		slog.Int64("for", p.ForVotes),
		slog.Int64("against", p.AgainstVotes),
		slog.Int64("quorum_votes", quorumVotes),
	)
	return status, nil
}

// Execute applies a succeeded proposal. Execution is an explicit action,
// permitted exactly once; market-resolution proposals resolve their disputed
// market through the state machine's governance hook.
func (g *Module) Execute(ctx context.Context, proposalID int64) error {
	p, err := g.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("governance: load proposal %d: %w", proposalID, err)
	}
	if p.Status != domain.ProposalSucceeded || p.Executed {
		return fmt.Errorf("governance: proposal %d (%s, executed=%v): %w", proposalID, p.Status, p.Executed, domain.ErrNotExecutable)
	}

	if p.Type == domain.ProposalMarketResolution {
		if err := g.resolver.ResolveDisputed(ctx, p.MarketID, p.Outcome); err != nil {
			return fmt.Errorf("governance: execute proposal %d: %w", proposalID, err)
		}
	}

	if err := g.proposals.UpdateStatus(ctx, proposalID, domain.ProposalExecuted, true); err != nil {
		return fmt.Errorf("governance: mark executed %d: %w", proposalID, err)
	}
	g.logger.InfoContext(ctx, "proposal executed",
		slog.Int64("proposal_id", proposalID),
		slog.String("type", string(p.Type)),
	)
	return nil
}

// CancelProposal cancels a proposal from any non-terminal state.
func (g *Module) CancelProposal(ctx context.Context, proposalID int64) error {
	p, err := g.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("governance: load proposal %d: %w", proposalID, err)
	}
	if p.Terminal() {
		return fmt.Errorf("governance: proposal %d already terminal: %w", proposalID, domain.ErrInvalidTransition)
	}
	if err := g.proposals.UpdateStatus(ctx, proposalID, domain.ProposalCancelled, p.Executed); err != nil {
		return fmt.Errorf("governance: cancel proposal %d: %w", proposalID, err)
	}
	return nil
}
