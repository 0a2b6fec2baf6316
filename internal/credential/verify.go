// Package credential implements Ed25519 verification of a credential's
// canonical signed payload. Verification is synchronous and
// allocation-light: it must run on the hot path with no I/O.
package credential

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

var (
	ErrIssuerNotAllowed = errors.New("issuer_not_allowed")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrExpired          = errors.New("passport_expired")
)

// IssuerKeyLookup resolves an issuer id to its cached Ed25519 public key.
// Implemented by the cache store; kept as a narrow interface here so the
// verifier never depends on cache internals.
type IssuerKeyLookup interface {
	IssuerPublicKey(issuerID string) (ed25519.PublicKey, bool)
}

// VerifySignature checks the credential's detached signature over its
// canonical payload using the issuer's cached public key.
func VerifySignature(keys IssuerKeyLookup, c gatetypes.Credential) error {
	pub, ok := keys.IssuerPublicKey(c.IssuerID)
	if !ok {
		return ErrIssuerNotAllowed
	}

	payload, err := gatetypes.CredentialSignedPayload(c)
	if err != nil {
		return ErrInvalidSignature
	}

	sig, err := decodeSignature(c.Signature)
	if err != nil {
		return ErrInvalidSignature
	}

	if !ed25519.Verify(pub, []byte(payload), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// IsExpired reports whether now is at or after expiresAt.
func IsExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// Sign is a test/tooling helper mirroring what an issuer would do: produce
// a hex-encoded Ed25519 signature over a credential's canonical payload.
func Sign(priv ed25519.PrivateKey, c gatetypes.Credential) (string, error) {
	payload, err := gatetypes.CredentialSignedPayload(c)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, []byte(payload))
	return hex.EncodeToString(sig), nil
}
