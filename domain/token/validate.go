package token

import (
	"strings"
	"time"
)

// Validate checks if a token is valid at the given time.
// Expiry applies only when ExpiresAt is set, so the policy can be enabled
// through configuration without changing any caller.
// This is a PURE function - no side effects, deterministic.
func Validate(t Token, now time.Time) ValidationResult {
	// Check if revoked
	if t.RevokedAt != nil {
		return ValidationResult{
			Valid:  false,
			Reason: ReasonRevoked,
		}
	}

	// Check if expired
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return ValidationResult{
			Valid:  false,
			Reason: ReasonExpired,
		}
	}

	return ValidationResult{
		Valid: true,
		Token: t,
	}
}

// ValidateFormat checks if a raw token has valid format.
// Returns (prefix, valid). Prefix is used for store lookup.
// This is a PURE function.
func ValidateFormat(rawToken string, expectedPrefix string) (prefix string, valid bool) {
	// Must start with expected prefix
	if !strings.HasPrefix(rawToken, expectedPrefix) {
		return "", false
	}

	// Must carry the full 64 hex chars after the prefix
	minLen := len(expectedPrefix) + 64
	if len(rawToken) < minLen {
		return "", false
	}

	// Extract prefix for lookup (first 12 chars)
	if len(rawToken) >= 12 {
		prefix = rawToken[:12]
	} else {
		prefix = rawToken
	}

	return prefix, true
}
