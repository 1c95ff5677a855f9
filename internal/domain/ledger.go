package domain

import (
	"context"
	"time"
)

// TxReceipt is the confirmation record for a submitted ledger transaction.
type TxReceipt struct {
	TxHash      string
	BlockNumber int64
	Confirmed   bool
}

// Ledger is the narrow interface to the append-only market state store. The
// contract environment itself is out of scope; the ledger is assumed to
// provide at-least-once event delivery and eventual, confirmable finality.
type Ledger interface {
	// ReadMarket returns the current on-ledger view of a market.
	ReadMarket(ctx context.Context, marketID int64) (Market, error)
	// SubmitResolution writes a final outcome for a market. The ledger
	// enforces first-writer-wins on the fulfilled flag.
	SubmitResolution(ctx context.Context, marketID int64, outcome Outcome, confidence int) (TxReceipt, error)
	// QueryResolutionEvents returns resolution requests raised at or after
	// the given time.
	QueryResolutionEvents(ctx context.Context, since time.Time) ([]ResolutionRequest, error)
	// IsFulfilled reports whether a fulfillment event already exists for the
	// request, used as defense in depth before submitting.
	IsFulfilled(ctx context.Context, requestID string) (bool, error)
}

// RelayErrorKind classifies relay network failures at the adapter boundary.
type RelayErrorKind string

const (
	RelayErrChainUnsupported RelayErrorKind = "chain_unsupported"
	RelayErrAuthFailed       RelayErrorKind = "auth_failed"
	RelayErrInvalidRequest   RelayErrorKind = "invalid_request"
	RelayErrTransport        RelayErrorKind = "transport"
)

// RelayError is a classified failure from the relay network adapter.
type RelayError struct {
	Kind    RelayErrorKind
	Message string
}

func (e *RelayError) Error() string {
	return "relay: " + string(e.Kind) + ": " + e.Message
}

// RelayTask identifies an accepted gasless relay submission.
type RelayTask struct {
	TaskID string
}

// RelayNetwork submits transactions on the service's behalf, potentially
// gaslessly. Not every chain is supported; ChainUnsupported is an expected,
// recoverable condition.
type RelayNetwork interface {
	Relay(ctx context.Context, targetChain int64, targetAddress string, callData []byte) (RelayTask, error)
}
