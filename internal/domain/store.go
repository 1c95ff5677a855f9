package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market metadata and lifecycle state.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id int64) (Market, error)
	// ListDue returns markets whose resolution time has passed and that are
	// still active or resolving.
	ListDue(ctx context.Context, now time.Time, opts ListOpts) ([]Market, error)
	ListByState(ctx context.Context, state MarketState, opts ListOpts) ([]Market, error)
	// SetState updates state, outcome, and confidence together.
	SetState(ctx context.Context, id int64, state MarketState, outcome Outcome, confidence int) error
	Count(ctx context.Context) (int64, error)
}

// ResolutionStore persists resolution requests. MarkFulfilled is the single
// mutual-exclusion point of the pipeline: it must be a conditional write that
// succeeds for exactly one caller per request.
type ResolutionStore interface {
	Create(ctx context.Context, req ResolutionRequest) error
	GetByID(ctx context.Context, id string) (ResolutionRequest, error)
	GetByMarket(ctx context.Context, marketID int64) (ResolutionRequest, error)
	// ListUnfulfilled returns unfulfilled requests created at or after since.
	ListUnfulfilled(ctx context.Context, since time.Time, opts ListOpts) ([]ResolutionRequest, error)
	// MarkFulfilled atomically flips the fulfilled flag. It returns true when
	// this call performed the flip and false when the request was already
	// fulfilled (a no-op, not an error).
	MarkFulfilled(ctx context.Context, id string) (bool, error)
}

// ConsensusAuditStore retains the per-request audit trail of model votes and
// aggregated results.
type ConsensusAuditStore interface {
	Record(ctx context.Context, requestID string, result ConsensusResult) error
	GetByRequest(ctx context.Context, requestID string) (ConsensusResult, error)
	// ListBefore returns request IDs whose audit rows are older than cutoff,
	// for cold-storage archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// DeleteByRequest removes archived rows from the hot store.
	DeleteByRequest(ctx context.Context, requestIDs []string) error
}

// ProposalStore persists governance proposals and votes.
type ProposalStore interface {
	Create(ctx context.Context, p Proposal) (int64, error)
	GetByID(ctx context.Context, id int64) (Proposal, error)
	List(ctx context.Context, status ProposalStatus, opts ListOpts) ([]Proposal, error)
	// UpdateStatus transitions a proposal's status and executed flag.
	UpdateStatus(ctx context.Context, id int64, status ProposalStatus, executed bool) error
	// AddVote records a vote and increments the matching tally in one write.
	AddVote(ctx context.Context, v Vote) error
	HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error)
}

// ExpertiseStore persists expertise registrations and attestations.
type ExpertiseStore interface {
	Register(ctx context.Context, e Expertise) error
	Get(ctx context.Context, owner, domain string) (Expertise, error)
	// Update rewrites score, verified, verifiedAt, and the attester set.
	Update(ctx context.Context, e Expertise) error
	ListByDomain(ctx context.Context, domain string, opts ListOpts) ([]Expertise, error)
}

// StakeStore reads voter stake balances used to derive voting power.
type StakeStore interface {
	Balance(ctx context.Context, addr string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
