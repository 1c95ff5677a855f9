package domain

import "time"

// ProposalType categorizes what a governance proposal changes when executed.
type ProposalType string

const (
	ProposalMarketResolution ProposalType = "market_resolution"
	ProposalParameterChange  ProposalType = "parameter_change"
	ProposalTreasurySpend    ProposalType = "treasury_spend"
	ProposalEmergencyAction  ProposalType = "emergency_action"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalActive    ProposalStatus = "active"
	ProposalSucceeded ProposalStatus = "succeeded"
	ProposalDefeated  ProposalStatus = "defeated"
	ProposalExecuted  ProposalStatus = "executed"
	ProposalCancelled ProposalStatus = "cancelled"
)

// VoteSupport is a voter's position on a proposal.
type VoteSupport string

const (
	VoteFor     VoteSupport = "for"
	VoteAgainst VoteSupport = "against"
	VoteAbstain VoteSupport = "abstain"
)

// Proposal is a bond-gated governance proposal. Market-resolution proposals
// carry the market they adjudicate and the outcome to apply on execution.
type Proposal struct {
	ID           int64
	Type         ProposalType
	Proposer     string
	Title        string
	Description  string
	MarketID     int64   // market_resolution proposals only
	Outcome      Outcome // market_resolution proposals only
	ForVotes     int64
	AgainstVotes int64
	AbstainVotes int64
	Status       ProposalStatus
	Executed     bool
	Bond         int64
	VotingEndsAt time.Time
	CreatedAt    time.Time
}

// Terminal reports whether the proposal can no longer change.
func (p Proposal) Terminal() bool {
	return p.Status == ProposalExecuted || p.Status == ProposalCancelled
}

// Vote is one address's cast vote on a proposal.
type Vote struct {
	ProposalID int64
	Voter      string
	Support    VoteSupport
	// Power is the effective voting power applied, after the quadratic
	// transform and any expertise boost.
	Power  int64
	Domain string // expertise domain supplied for the boost, if any
	CastAt time.Time
}

// Expertise is a participant's reputation in a named topic area. Scores start
// at 50 on self-registration and grow by peer attestation.
type Expertise struct {
	Owner      string
	Domain     string
	Score      int // 0-100
	Verified   bool
	VerifiedAt *time.Time
	// Attesters is the set of addresses that have attested this entry.
	Attesters []string
	CreatedAt time.Time
}

// HasAttester reports whether addr has already attested this entry.
func (e Expertise) HasAttester(addr string) bool {
	for _, a := range e.Attesters {
		if a == addr {
			return true
		}
	}
	return false
}
