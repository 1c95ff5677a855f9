package domain

import "time"

// ResolutionRequest is a pending ask for a market's outcome. A request is
// created when a market enters the resolving state and is immutable once
// fulfilled. The fulfilled flag is the single mutual-exclusion point for the
// whole pipeline: it must be flipped atomically with outcome recording at the
// store layer so that at-least-once delivery from the relay never produces a
// second on-chain resolution.
type ResolutionRequest struct {
	ID        string // opaque request ID (uuid)
	MarketID  int64
	Question  string
	Fulfilled bool
	CreatedAt time.Time
	// FulfilledAt is set together with Fulfilled in the same store write.
	FulfilledAt *time.Time
}

// ModelVote is a single AI model's normalized answer for one consensus
// attempt. Votes are ephemeral; they are retained only in the consensus audit
// trail.
type ModelVote struct {
	Model      string
	Answer     Outcome // yes, no, or invalid
	Confidence int     // 0-100
	Reasoning  string
	LatencyMs  int64
}

// ConsensusResult aggregates the votes of all responding models into a single
// confidence-scored outcome. yesVotes+noVotes+invalidVotes always equals the
// number of models that produced a usable vote.
type ConsensusResult struct {
	MarketID     int64
	Outcome      Outcome
	Confidence   int // 0-100
	YesVotes     int
	NoVotes      int
	InvalidVotes int
	Votes        []ModelVote
	Timestamp    time.Time
}

// Responded returns the number of models that produced a usable vote.
func (r ConsensusResult) Responded() int {
	return r.YesVotes + r.NoVotes + r.InvalidVotes
}

// ResolverStats summarizes a single automation poll cycle.
type ResolverStats struct {
	Checked   int
	Processed int
	Errors    int
}
