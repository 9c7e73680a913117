package x402types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewAuthorizationNonce returns a fresh 32-byte hex-encoded nonce suitable
// for Authorization.Nonce, using crypto/rand the way an EIP-3009
// authorization nonce is required to be unpredictable.
func NewAuthorizationNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("x402types: generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// IdempotencyKey derives a stable, collision-resistant key for deduplicating
// client-side payment attempts against the same requirement, grounded on the
// teacher's extensions/paymentidentifier use of google/uuid for identifiers
// distinct from the on-chain nonce.
func IdempotencyKey(resource, payer string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(resource+"|"+payer)).String()
}
