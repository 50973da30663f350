// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package session holds the bearer credential attached to plant API requests.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store is a thread-safe holder for the current bearer token. An empty
// token means requests go out unauthenticated.
type Store struct {
	mu    sync.RWMutex
	token string
}

// NewStore creates a store seeded with token, which may be empty.
func NewStore(token string) *Store {
	return &Store{token: token}
}

// Token returns the current token, or "" if none is held.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the current token.
func (s *Store) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear drops the current token.
func (s *Store) Clear() {
	s.Set("")
}

// ExpiresAt returns the exp claim of the token if it is a JWT that has one.
// The signature is not checked; the API server remains the authority.
func (s *Store) ExpiresAt() (time.Time, bool) {
	token := s.Token()
	if token == "" {
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether the token carries an exp claim earlier than now.
// Tokens without one never count as expired.
func (s *Store) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && !now.Before(exp)
}
