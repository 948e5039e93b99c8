// Package token provides access token value types and pure validation
// functions. This package has no I/O dependencies.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinMaterialBytes is the smallest amount of random material accepted
// when minting a token, 128 bits.
const MinMaterialBytes = 16

// ErrShortMaterial is returned when the random material is below 128 bits.
var ErrShortMaterial = errors.New("token material below 128 bits")

// Token represents an issued access token (immutable value type).
// The raw value is handed to the caller exactly once at issuance; only the
// bcrypt hash is kept. Identity is empty for self-identifying tokens, meaning
// the token's own raw value is the identity.
type Token struct {
	ID        string
	Identity  string     // "" = identity is the raw token value itself
	Hash      []byte     // bcrypt hash of the full raw value
	Prefix    string     // First 12 chars for lookup
	IssuedAt  time.Time
	ExpiresAt *time.Time // nil = never expires
	RevokedAt *time.Time // nil = not revoked
	LastUsed  *time.Time
}

// ValidationResult represents the outcome of token validation (value type).
type ValidationResult struct {
	Valid  bool
	Token  Token  // Populated only if Valid=true
	Reason string // Populated only if Valid=false
}

// Reasons for validation failure.
const (
	ReasonValid     = ""
	ReasonNotFound  = "token_not_found"
	ReasonExpired   = "token_expired"
	ReasonRevoked   = "token_revoked"
	ReasonBadFormat = "invalid_format"
)

// FromMaterial mints a token from caller-supplied random material.
// Returns the raw value (to give to the caller) and the Token struct (to
// store). The raw value is prefix + hex(material); with the standard 32
// bytes of material that is 64 hex chars, 256 bits of entropy. The token
// ID is derived from the raw value, so identical material yields an
// identical token. A ttl of zero means the token never expires.
// This is a PURE function apart from the bcrypt salt.
func FromMaterial(prefix string, material []byte, now time.Time, ttl time.Duration) (rawToken string, t Token, err error) {
	if len(material) < MinMaterialBytes {
		return "", Token{}, ErrShortMaterial
	}

	rawToken = prefix + hex.EncodeToString(material)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawToken), bcrypt.DefaultCost)
	if err != nil {
		return "", Token{}, fmt.Errorf("hashing token: %w", err)
	}

	// ID is a non-secret store handle, safe to derive from the value
	sum := sha256.Sum256([]byte(rawToken))
	t = Token{
		ID:       "tok_" + hex.EncodeToString(sum[:8]),
		Hash:     hash,
		Prefix:   rawToken[:12], // First 12 chars for lookup
		IssuedAt: now.UTC(),
	}

	if ttl > 0 {
		expires := now.UTC().Add(ttl)
		t.ExpiresAt = &expires
	}

	return rawToken, t, nil
}

// Generate creates a new access token with 32 bytes of crypto/rand material.
// Convenience for fixtures and the dev token; the issue path injects its
// own randomness through FromMaterial.
func Generate(prefix string, now time.Time, ttl time.Duration) (rawToken string, t Token) {
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	rawToken, t, err := FromMaterial(prefix, material, now, ttl)
	if err != nil {
		panic(fmt.Sprintf("minting token: %v", err))
	}
	return rawToken, t
}

// WithIdentity returns a copy of the token bound to an explicit identity.
// Used when the identity is not the token value itself (e.g. the dev token).
func (t Token) WithIdentity(identity string) Token {
	t.Identity = identity
	return t
}

// IdentityOf resolves the identity a presented token maps to.
// Self-identifying tokens (empty Identity) identify as their own raw value.
// This is a PURE function.
func IdentityOf(t Token, rawToken string) string {
	if t.Identity != "" {
		return t.Identity
	}
	return rawToken
}

// JournalIdentity resolves the identity form safe to persist and label.
// Self-identifying tokens journal under their non-secret ID so the raw value
// never lands in the usage store, logs, or metric labels. Two tokens map to
// the same journal identity exactly when IdentityOf maps them to the same
// identity, so journal aggregates line up with rate limit subjects.
// This is a PURE function.
func JournalIdentity(t Token) string {
	if t.Identity != "" {
		return t.Identity
	}
	return t.ID
}
