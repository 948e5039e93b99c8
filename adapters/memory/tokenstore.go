// Package memory provides in-memory store implementations. Tokens and rate
// limit windows live here in production too; nothing in this process
// survives a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/tradegate/domain/token"
	"github.com/artpar/tradegate/ports"
)

// TokenStore is an in-memory implementation of ports.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]token.Token // by ID
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]token.Token),
	}
}

// Get retrieves tokens matching a prefix.
func (s *TokenStore) Get(ctx context.Context, prefix string) ([]token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []token.Token
	for _, t := range s.tokens {
		if t.Prefix == prefix {
			result = append(result, t)
		}
	}
	return result, nil
}

// Create stores a new token. Token IDs are unique by construction; a
// duplicate means the caller reused random material.
func (s *TokenStore) Create(ctx context.Context, t token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.ID]; exists {
		return fmt.Errorf("token %s already exists", t.ID)
	}
	s.tokens[t.ID] = t
	return nil
}

// Revoke marks a token as revoked.
func (s *TokenStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[id]; ok {
		t.RevokedAt = &at
		s.tokens[id] = t
	}
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *TokenStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[id]; ok {
		t.LastUsed = &at
		s.tokens[id] = t
	}
	return nil
}

// Count returns the number of stored tokens.
func (s *TokenStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens), nil
}

// GetAll returns all tokens (for testing).
func (s *TokenStore) GetAll() []token.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]token.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		result = append(result, t)
	}
	return result
}

// Clear removes all tokens (for testing).
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]token.Token)
}

// Ensure interface compliance.
var _ ports.TokenStore = (*TokenStore)(nil)
