// Package signature authenticates webhook payloads with HMAC-SHA256.
//
// The payment processor signs the exact raw request body with a shared
// secret and sends the hex-encoded digest in a header. Verification
// recomputes the digest over the same bytes and compares in constant
// time, so neither the body nor the signature may be transformed
// before verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrMissingSecret indicates no shared secret was configured.
	ErrMissingSecret = errors.New("signature: shared secret is required")
	// ErrMissingSignature indicates the signature header was absent.
	ErrMissingSignature = errors.New("signature: signature is missing")
	// ErrInvalidSignature indicates the digest did not match the body.
	ErrInvalidSignature = errors.New("signature: signature mismatch")
)

// Sign computes the hex-encoded HMAC-SHA256 digest of body.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the digest over body and compares it against the
// provided signature using a constant-time comparison.
func Verify(secret string, body []byte, provided string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if provided == "" {
		return ErrMissingSignature
	}

	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}
