package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Resolution(bytes32 requestId,uint256 marketId,uint8 outcome,uint8 confidence)
	resolutionTypeHash = ethcrypto.Keccak256(
		[]byte("Resolution(bytes32 requestId,uint256 marketId,uint8 outcome,uint8 confidence)"),
	)
)

// Signer produces EIP-712 attestation signatures over resolution verdicts.
// The signature travels with the audit trail so any party can verify which
// operator key stood behind a given outcome.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// target chain ID.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("ArbiterResolution", "1", chainID)
	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignResolution signs a Resolution EIP-712 struct. The request ID is hashed
// to its bytes32 form; outcomeCode and confidence use the contract's uint8
// encodings. The returned string is a hex-encoded 65-byte signature.
func (s *Signer) SignResolution(requestID string, marketID int64, outcomeCode, confidence uint8) (string, error) {
	if requestID == "" {
		return "", fmt.Errorf("crypto/signer: empty request id")
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			resolutionTypeHash,
			requestIDHash(requestID),
			bigIntTo32Bytes(big.NewInt(marketID)),
			bigIntTo32Bytes(big.NewInt(int64(outcomeCode))),
			bigIntTo32Bytes(big.NewInt(int64(confidence))),
		),
	)

	digest := eip712Hash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// RecoverResolutionSigner returns the address that produced a SignResolution
// signature over the same fields, for attestation verification.
func RecoverResolutionSigner(signature, requestID string, marketID int64, outcomeCode, confidence uint8, chainID int64) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature")
	}
	// Undo the EIP-712 recovery byte offset.
	sig = append([]byte{}, sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			resolutionTypeHash,
			requestIDHash(requestID),
			bigIntTo32Bytes(big.NewInt(marketID)),
			bigIntTo32Bytes(big.NewInt(int64(outcomeCode))),
			bigIntTo32Bytes(big.NewInt(int64(confidence))),
		),
	)
	digest := eip712Hash(buildDomainSeparator("ArbiterResolution", "1", chainID), structHash)

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// requestIDHash maps a request ID to its bytes32 form: 32-byte hex IDs are
// used verbatim, anything else is hashed.
func requestIDHash(requestID string) []byte {
	trimmed := strings.TrimPrefix(requestID, "0x")
	if len(trimmed) == 64 {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return raw
		}
	}
	return ethcrypto.Keccak256([]byte(requestID))
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
