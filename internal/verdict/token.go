// Package verdict issues and checks short-lived signed detection verdicts,
// so a browser can carry its /api/detect result into later calls.
package verdict

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long an issued verdict stays valid.
const DefaultTTL = 5 * time.Minute

// Verification failure reasons.
const (
	ReasonInvalidEncoding  = "invalid_encoding"
	ReasonInvalidJSON      = "invalid_json"
	ReasonExpired          = "expired"
	ReasonMissingSignature = "missing_signature"
	ReasonInvalidSignature = "invalid_signature"
	ReasonMismatch         = "mismatch"
)

// ErrInvalidToken matches every *InvalidTokenError via errors.Is.
var ErrInvalidToken = errors.New("invalid verdict token")

type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid verdict token: %s", e.Reason)
}

func (e *InvalidTokenError) Is(target error) bool { return target == ErrInvalidToken }

func invalid(reason string) error { return &InvalidTokenError{Reason: reason} }

// Claims is the signed content of a verdict token.
type Claims struct {
	FingerprintHash string `json:"fp"`
	IsBot           bool   `json:"bot"`
	Confidence      int    `json:"confidence"`
	IPHash          string `json:"ip_hash"`
	Timestamp       int64  `json:"timestamp"`
	Sig             string `json:"sig,omitempty"`
}

// Signer issues and verifies tokens with an HMAC-SHA256 key.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock returns a copy of s reading time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	c := *s
	c.now = now
	return &c
}

// Issue signs a verdict for the given fingerprint and client IP.
func (s *Signer) Issue(fingerprintHash string, isBot bool, confidence int, ip string) string {
	c := Claims{
		FingerprintHash: fingerprintHash,
		IsBot:           isBot,
		Confidence:      confidence,
		IPHash:          HashIP(ip),
		Timestamp:       s.now().Unix(),
	}

	payload, _ := json.Marshal(c)
	c.Sig = s.computeSignature(payload)
	tokenData, _ := json.Marshal(c)

	return base64.URLEncoding.EncodeToString(tokenData)
}

// Verify decodes token and checks its age and signature.
func (s *Signer) Verify(token string) (*Claims, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid(ReasonInvalidEncoding)
	}

	var c Claims
	if err := json.Unmarshal(decoded, &c); err != nil {
		return nil, invalid(ReasonInvalidJSON)
	}

	if c.Timestamp == 0 || s.now().Sub(time.Unix(c.Timestamp, 0)) > s.ttl {
		return nil, invalid(ReasonExpired)
	}

	if c.Sig == "" {
		return nil, invalid(ReasonMissingSignature)
	}

	sig := c.Sig
	c.Sig = ""
	payload, _ := json.Marshal(c)
	if !hmac.Equal([]byte(sig), []byte(s.computeSignature(payload))) {
		return nil, invalid(ReasonInvalidSignature)
	}

	return &c, nil
}

// VerifyFor additionally requires the token to describe the given fingerprint.
func (s *Signer) VerifyFor(token, fingerprintHash string) (*Claims, error) {
	c, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if c.FingerprintHash != fingerprintHash {
		return nil, invalid(ReasonMismatch)
	}
	return c, nil
}

func (s *Signer) computeSignature(payload []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// HashIP is the short IP digest stored in tokens and click rows.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:4])
}
