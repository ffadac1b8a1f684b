package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// BridgeAuth holds the credentials for HMAC-authenticated requests against
// the ledger signing bridge.
type BridgeAuth struct {
	KeyID  string // credential identifier, sent in cleartext
	Secret string // shared HMAC secret, never sent
}

// Headers returns the HTTP headers for a bridge request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - X-Bridge-Key-Id
//   - X-Bridge-Timestamp
//   - X-Bridge-Signature
func (a *BridgeAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (a *BridgeAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(a.Secret), message)

	return map[string]string{
		"X-Bridge-Key-Id":    a.KeyID,
		"X-Bridge-Timestamp": ts,
		"X-Bridge-Signature": sig,
	}
}

// Verify checks a signature produced by HeadersAt against the same message
// material. The bridge side uses this; it is here so both halves share one
// implementation.
func (a *BridgeAuth) Verify(method, path, body, timestamp, signature string) bool {
	message := timestamp + method + path + body
	want := hmacSHA256Base64([]byte(a.Secret), message)
	return hmac.Equal([]byte(want), []byte(signature))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (a *BridgeAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("BridgeAuth{key_id=%s, secret=%s}", a.KeyID, redact(a.Secret))
}
