package x402types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthorizationNonceIsUniqueAndWellFormed(t *testing.T) {
	a, err := NewAuthorizationNonce()
	require.NoError(t, err)
	b, err := NewAuthorizationNonce()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "0x"))
	assert.Len(t, a, 2+64) // "0x" + 32 bytes hex
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	k1 := IdempotencyKey("https://api.example.com/resource", "0xpayer")
	k2 := IdempotencyKey("https://api.example.com/resource", "0xpayer")
	k3 := IdempotencyKey("https://api.example.com/resource", "0xotherpayer")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
