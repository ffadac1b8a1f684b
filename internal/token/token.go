// Package token issues and verifies tamper-evident stake tokens. A token
// authorizes a client to submit a stake for a specific (prediction, outcome,
// user, amount) tuple within a short window. This is a MAC, not encryption:
// the payload is readable by anyone, only integrity and authenticity are
// protected.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// DefaultTTL bounds the replay window. Minutes, not hours: a token is meant
// to cover one ledger transfer round-trip.
const DefaultTTL = 5 * time.Minute

const separator = "."

// payload is the wire form of a stake token claim set.
type payload struct {
	PredictionID string  `json:"predictionId"`
	Username     string  `json:"username"`
	OutcomeID    string  `json:"outcomeId"`
	Amount       float64 `json:"amount"`
	Exp          int64   `json:"exp"`
}

// Signer signs and verifies stake tokens with a shared HMAC-SHA256 secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer from the resolved signing secret. The secret
// must already have been resolved through the configuration fallback chain;
// an empty secret is a configuration error, not something to paper over
// here.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of the Signer using the given clock. Useful for
// deterministic expiry testing.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	clone := *s
	clone.now = now
	return &clone
}

// Sign produces a bearer token of the form "<base64 payload>.<hex hmac>"
// with an expiry of now + TTL.
func (s *Signer) Sign(p domain.StakeTokenPayload) (string, error) {
	wire := payload{
		PredictionID: p.PredictionID,
		Username:     p.Username,
		OutcomeID:    p.OutcomeID,
		Amount:       p.Amount,
		Exp:          s.now().Add(s.ttl).Unix(),
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	return encoded + separator + s.signature(encoded), nil
}

// Verify checks a token's structure, signature, expiry, and payload shape.
// It returns the claim set and true only when everything holds; every
// failure mode returns false with no detail, so a forger learns nothing
// about which check tripped.
func (s *Signer) Verify(tok string) (domain.StakeTokenPayload, bool) {
	parts := strings.Split(tok, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return domain.StakeTokenPayload{}, false
	}
	encoded, sig := parts[0], parts[1]

	want := s.signature(encoded)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return domain.StakeTokenPayload{}, false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.StakeTokenPayload{}, false
	}

	var wire payload
	if err := json.Unmarshal(raw, &wire); err != nil {
		// Covers wrong field types too: a stale signature paired with a
		// tampered payload shape must not verify.
		return domain.StakeTokenPayload{}, false
	}

	if wire.PredictionID == "" || wire.Username == "" || wire.OutcomeID == "" {
		return domain.StakeTokenPayload{}, false
	}
	if wire.Amount <= 0 || wire.Exp == 0 {
		return domain.StakeTokenPayload{}, false
	}
	if !s.now().Before(time.Unix(wire.Exp, 0)) {
		return domain.StakeTokenPayload{}, false
	}

	return domain.StakeTokenPayload{
		PredictionID: wire.PredictionID,
		Username:     wire.Username,
		OutcomeID:    wire.OutcomeID,
		Amount:       wire.Amount,
	}, true
}

// signature computes the hex HMAC-SHA256 of the encoded payload text.
func (s *Signer) signature(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
