package auth

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenUniqueAndSized(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		tok := generateToken()
		require.Len(t, tok, 32, "session token must encode 128 bits")
		_, err := hex.DecodeString(tok)
		require.NoError(t, err)

		_, dup := seen[tok]
		require.False(t, dup, "duplicate session token %q", tok)
		seen[tok] = struct{}{}
	}
}

func TestGenerateResetTokenUniqueAndSized(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		tok := generateResetToken()
		require.Len(t, tok, 64, "reset token must encode 32 bytes")
		_, err := hex.DecodeString(tok)
		require.NoError(t, err)

		_, dup := seen[tok]
		require.False(t, dup, "duplicate reset token %q", tok)
		seen[tok] = struct{}{}
	}
}

func TestIssueYieldsDistinctLiveTokens(t *testing.T) {
	store := newTokenStore()

	first := store.issue("p1", "alice", time.Hour)
	second := store.issue("p1", "alice", time.Hour)
	assert.NotEqual(t, first.Value, second.Value)

	got, ok := store.lookup(first.Value)
	require.True(t, ok)
	assert.Equal(t, "p1", got.PlayerID)
	got, ok = store.lookup(second.Value)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)
}
