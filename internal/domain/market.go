package domain

import "time"

// MarketState represents the lifecycle state of a prediction market.
type MarketState string

const (
	MarketStateActive    MarketState = "active"
	MarketStateResolving MarketState = "resolving"
	MarketStateResolved  MarketState = "resolved"
	MarketStateDisputed  MarketState = "disputed"
	MarketStateCancelled MarketState = "cancelled"
)

// Outcome is the resolved answer of a market question.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
	OutcomeInvalid Outcome = "invalid"
)

// Market represents a yes/no prediction market tracked for resolution.
type Market struct {
	ID         int64
	Question   string
	Category   string
	State      MarketState
	Outcome    Outcome
	Confidence int // 0-100, set when resolved
	// ResolutionTime is the deadline after which the market is eligible for
	// automated resolution.
	ResolutionTime time.Time
	// DisputedAt is set when the market entered the disputed state.
	DisputedAt *time.Time
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the market can no longer transition.
func (m Market) Terminal() bool {
	return m.State == MarketStateCancelled ||
		(m.State == MarketStateResolved && m.Outcome != OutcomePending)
}

// ExpiredUnresolved reports whether the market's deadline has passed without a
// final outcome. Display layers must derive this rather than trusting the
// state field alone, because state and outcome can transiently disagree
// between poll cycles.
func (m Market) ExpiredUnresolved(now time.Time) bool {
	if !now.After(m.ResolutionTime) {
		return false
	}
	if m.State == MarketStateCancelled {
		return false
	}
	return m.State != MarketStateResolved || m.Outcome == OutcomePending
}
