package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")

	// Consensus / extraction.
	ErrNoValidJSON             = errors.New("no valid JSON in model output")
	ErrAllProvidersUnavailable = errors.New("all AI providers unavailable")

	// State machine.
	ErrInvalidTransition = errors.New("invalid market state transition")
	ErrDisputeWindowOver = errors.New("dispute window elapsed")
	ErrMarketDisputed    = errors.New("market under dispute")

	// Relay.
	ErrChainUnsupported = errors.New("target chain not supported by relay")
	ErrRelayAuthFailed  = errors.New("relay authorization failed")
	ErrInvalidRelayCall = errors.New("invalid relay request")

	// Governance.
	ErrProposalNotActive    = errors.New("proposal is not active")
	ErrVotingEnded          = errors.New("voting period has ended")
	ErrAlreadyVoted         = errors.New("address has already voted")
	ErrNoVotingPower        = errors.New("no eligible voting power")
	ErrInsufficientBond     = errors.New("insufficient proposal bond")
	ErrQuorumNotMet         = errors.New("quorum not met")
	ErrNotExecutable        = errors.New("proposal is not executable")
	ErrSelfAttestation      = errors.New("cannot attest own expertise")
	ErrDuplicateAttestation = errors.New("already attested this expert/domain")
	ErrAttesterNotQualified = errors.New("attester is not a verified expert in this domain")
)
