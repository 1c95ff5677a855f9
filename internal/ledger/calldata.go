// Package ledger implements the JSON-RPC adapter for the on-chain resolution
// contract: reading market state, querying resolution events, and submitting
// outcomes either directly or as calldata for relayed execution.
package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// Function selectors (first 4 bytes of the keccak256 of the canonical
// signature).
var (
	fulfillSelector     = ethcrypto.Keccak256([]byte("fulfillResolution(bytes32,uint256,uint8,uint8)"))[:4]
	getMarketSelector   = ethcrypto.Keccak256([]byte("getMarket(uint256)"))[:4]
	isFulfilledSelector = ethcrypto.Keccak256([]byte("isFulfilled(bytes32)"))[:4]

	// ResolutionRequested(bytes32 indexed requestId, uint256 indexed marketId, uint256 timestamp)
	resolutionRequestedTopic = ethcrypto.Keccak256([]byte("ResolutionRequested(bytes32,uint256,uint256)"))
)

// outcomeCodes is the on-chain uint8 encoding of outcomes.
var outcomeCodes = map[domain.Outcome]uint8{
	domain.OutcomePending: 0,
	domain.OutcomeYes:     1,
	domain.OutcomeNo:      2,
	domain.OutcomeInvalid: 3,
}

// codeOutcomes is the inverse of outcomeCodes.
var codeOutcomes = map[uint8]domain.Outcome{
	0: domain.OutcomePending,
	1: domain.OutcomeYes,
	2: domain.OutcomeNo,
	3: domain.OutcomeInvalid,
}

// CallDataBuilder encodes resolution submissions into contract calldata.
type CallDataBuilder struct{}

// NewCallDataBuilder creates a CallDataBuilder.
func NewCallDataBuilder() *CallDataBuilder {
	return &CallDataBuilder{}
}

// ResolutionCallData encodes a fulfillResolution call. The request ID is
// reduced to its on-chain bytes32 key so relayed and direct submissions hit
// the same contract slot.
func (b *CallDataBuilder) ResolutionCallData(requestID string, marketID int64, outcome domain.Outcome, confidence int) ([]byte, error) {
	code, ok := outcomeCodes[outcome]
	if !ok || outcome == domain.OutcomePending {
		return nil, fmt.Errorf("ledger: cannot encode outcome %q", outcome)
	}
	if confidence < 0 || confidence > 100 {
		return nil, fmt.Errorf("ledger: confidence %d out of range", confidence)
	}

	key, err := requestKey(requestID)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, 4+4*32)
	data = append(data, fulfillSelector...)
	data = append(data, key...)
	data = append(data, bigIntTo32Bytes(big.NewInt(marketID))...)
	data = append(data, bigIntTo32Bytes(big.NewInt(int64(code)))...)
	data = append(data, bigIntTo32Bytes(big.NewInt(int64(confidence)))...)
	return data, nil
}

// requestKey maps a request ID to its on-chain bytes32 key. IDs that already
// look like 32-byte hex (ledger-raised requests) are used verbatim; anything
// else (locally generated UUIDs) is hashed.
func requestKey(requestID string) ([]byte, error) {
	if requestID == "" {
		return nil, fmt.Errorf("ledger: empty request id")
	}
	trimmed := strings.TrimPrefix(requestID, "0x")
	if len(trimmed) == 64 {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return raw, nil
		}
	}
	return ethcrypto.Keccak256([]byte(requestID)), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// word extracts the i-th 32-byte word from ABI-encoded return data.
func word(data []byte, i int) ([]byte, error) {
	start := i * 32
	if len(data) < start+32 {
		return nil, fmt.Errorf("ledger: return data too short for word %d", i)
	}
	return data[start : start+32], nil
}
