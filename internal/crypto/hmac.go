package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Admin API header names.
const (
	HeaderAPIKey    = "X-Arbiter-Api-Key"
	HeaderTimestamp = "X-Arbiter-Timestamp"
	HeaderSignature = "X-Arbiter-Signature"
)

// HMACAuth holds the shared credentials for the privileged admin API
// (dispute, cancel, manual expertise verification).
type HMACAuth struct {
	Key    string // API key identifying the caller
	Secret string // shared HMAC secret
}

// Headers returns the HTTP headers for an authenticated admin request.
// The signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded
// as base64.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)

	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}
}

// Verify checks a request signature against the shared secret. The timestamp
// must be within maxSkew of now to bound replay; the comparison itself is
// constant time.
func (h *HMACAuth) Verify(method, path, body, key, timestamp, signature string, maxSkew time.Duration) error {
	return h.verifyAt(method, path, body, key, timestamp, signature, maxSkew, time.Now().Unix())
}

func (h *HMACAuth) verifyAt(method, path, body, key, timestamp, signature string, maxSkew time.Duration, nowUnix int64) error {
	if key != h.Key {
		return fmt.Errorf("crypto/hmac: unknown api key")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto/hmac: invalid timestamp: %w", err)
	}
	skew := nowUnix - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > maxSkew {
		return fmt.Errorf("crypto/hmac: timestamp outside allowed skew")
	}

	expected := hmacSHA256Base64([]byte(h.Secret), timestamp+method+path+body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("crypto/hmac: signature mismatch")
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
