package chain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeonpay/x402evm/x402types"
)

func testAuth() x402types.Authorization {
	return x402types.Authorization{
		From:        "0x00000000000000000000000000000000000000a1",
		To:          "0x00000000000000000000000000000000000000b2",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "2000000000",
		Nonce:       "0x" + strings.Repeat("ab", 32),
	}
}

func TestHashTransferWithAuthorizationIsDeterministic(t *testing.T) {
	auth := testAuth()
	h1, err := HashTransferWithAuthorization(56, "USD Coin", "2", "0x000000000000000000000000000000000000dEaD", auth)
	require.NoError(t, err)
	h2, err := HashTransferWithAuthorization(56, "USD Coin", "2", "0x000000000000000000000000000000000000dEaD", auth)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashTransferWithAuthorizationVariesByDomain(t *testing.T) {
	auth := testAuth()
	base, err := HashTransferWithAuthorization(56, "USD Coin", "2", "0x000000000000000000000000000000000000dEaD", auth)
	require.NoError(t, err)
	otherChain, err := HashTransferWithAuthorization(8453, "USD Coin", "2", "0x000000000000000000000000000000000000dEaD", auth)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherChain)
}

func TestHashTokenTransferWithAuthorizationUsesFacilitatorDomain(t *testing.T) {
	auth := testAuth()
	tokenHash, err := HashTokenTransferWithAuthorization(56, "0x000000000000000000000000000000000000dEaD", auth, true)
	require.NoError(t, err)

	transferHash, err := HashTransferWithAuthorization(56, FacilitatorDomainName, FacilitatorDomainVersion, FacilitatorContractAddress, auth)
	require.NoError(t, err)

	// Same chain/domain but a different struct type and an extra
	// token/needApprove field must hash differently from a bare
	// TransferWithAuthorization signed under the same domain name/version.
	assert.NotEqual(t, tokenHash, transferHash)
}

func TestHashTokenTransferWithAuthorizationVariesByNeedApprove(t *testing.T) {
	auth := testAuth()
	withApprove, err := HashTokenTransferWithAuthorization(56, "0x000000000000000000000000000000000000dEaD", auth, true)
	require.NoError(t, err)
	withoutApprove, err := HashTokenTransferWithAuthorization(56, "0x000000000000000000000000000000000000dEaD", auth, false)
	require.NoError(t, err)
	assert.NotEqual(t, withApprove, withoutApprove)
}

func TestHashTransferWithAuthorizationRejectsMalformedValue(t *testing.T) {
	auth := testAuth()
	auth.Value = "not-a-number"
	_, err := HashTransferWithAuthorization(56, "USD Coin", "2", "0x000000000000000000000000000000000000dEaD", auth)
	assert.Error(t, err)
}
