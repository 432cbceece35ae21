package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// Token is a volatile session credential: 128 random bits, hex-encoded.
type Token struct {
	Value     string
	PlayerID  string
	Username  string
	ExpiresAt time.Time
}

// TokenLifetime is how long a session token stays valid.
const TokenLifetime = 7 * 24 * time.Hour

// tokenStore holds live tokens in memory. Lookup compares the presented
// value against every stored token in constant time per comparison so the
// match never leaks timing.
type tokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: make(map[string]*Token)}
}

func generateToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// generateResetToken returns a 32-byte random token, hex-encoded.
func generateResetToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func (s *tokenStore) issue(playerID, username string, lifetime time.Duration) *Token {
	t := &Token{
		Value:     generateToken(),
		PlayerID:  playerID,
		Username:  username,
		ExpiresAt: time.Now().Add(lifetime),
	}
	s.mu.Lock()
	s.tokens[t.Value] = t
	s.mu.Unlock()
	return t
}

// lookup finds a live token matching value. Expired tokens are dropped.
func (s *tokenStore) lookup(value string) (*Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *Token
	now := time.Now()
	for stored, t := range s.tokens {
		if now.After(t.ExpiresAt) {
			delete(s.tokens, stored)
			continue
		}
		if ConstantTimeEqual(stored, value) {
			found = t
		}
	}
	return found, found != nil
}

func (s *tokenStore) revoke(value string) {
	s.mu.Lock()
	delete(s.tokens, value)
	s.mu.Unlock()
}

func (s *tokenStore) revokePlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v, t := range s.tokens {
		if t.PlayerID == playerID {
			delete(s.tokens, v)
		}
	}
}

// ConstantTimeEqual compares two strings in time constant in their length.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
