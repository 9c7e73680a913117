package x402client

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/x402types"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewClientDerivesAddressFromKey(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey).Hex()

	client, err := NewClient(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, want, client.Address())
}

func TestNewClientAcceptsHexPrefix(t *testing.T) {
	client, err := NewClient("0x" + testPrivateKey)
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(client.Address()))
}

func TestNewClientRejectsInvalidKey(t *testing.T) {
	_, err := NewClient("not-a-key")
	assert.Error(t, err)
}

func TestSelectRequirementPrefersMatchingNetwork(t *testing.T) {
	accepts := []x402types.PaymentRequirement{
		{Network: "eip155:8453"},
		{Network: "eip155:56"},
	}
	picked, ok := SelectRequirement(accepts, "eip155:56")
	require.True(t, ok)
	assert.Equal(t, x402types.Network("eip155:56"), picked.Network)
}

func TestSelectRequirementFallsBackToFirst(t *testing.T) {
	accepts := []x402types.PaymentRequirement{{Network: "eip155:8453"}}
	picked, ok := SelectRequirement(accepts, "eip155:999")
	require.True(t, ok)
	assert.Equal(t, x402types.Network("eip155:8453"), picked.Network)
}

func TestSelectRequirementEmptyAccepts(t *testing.T) {
	_, ok := SelectRequirement(nil, "eip155:56")
	assert.False(t, ok)
}

func TestBuildAndSignPayloadProducesRecoverableSignature(t *testing.T) {
	client, err := NewClient(testPrivateKey)
	require.NoError(t, err)

	req := x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: "eip155:56",
		Asset:   "0x000000000000000000000000000000000000dEaD",
		PayTo:   "0x00000000000000000000000000000000000000b0",
		Amount:  "1000000",
		Extra:   &x402types.EIP712Extra{Name: "USD Coin", Version: "2"},
	}

	payload, err := client.BuildAndSignPayload(req, "", false)
	require.NoError(t, err)

	assert.Equal(t, x402types.X402VersionCurrent, payload.X402Version)
	assert.Equal(t, client.Address(), payload.Payload.Authorization.From)
	assert.Equal(t, "1000000", payload.Payload.Authorization.Value)
	assert.NotEmpty(t, payload.Payload.Signature)
	assert.Len(t, payload.Payload.Authorization.Nonce, 66) // "0x" + 32 bytes hex

	digest, err := chain.HashTransferWithAuthorization(56, "USD Coin", "2", req.Asset, payload.Payload.Authorization)
	require.NoError(t, err)
	sig := common.FromHex(payload.Payload.Signature)
	require.Len(t, sig, 65)
	sig[64] -= 27
	pub, err := crypto.SigToPub(digest[:], sig)
	require.NoError(t, err)
	assert.Equal(t, client.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestBuildAndSignPayloadRequiresEIP712Domain(t *testing.T) {
	client, err := NewClient(testPrivateKey)
	require.NoError(t, err)

	_, err = client.BuildAndSignPayload(x402types.PaymentRequirement{Amount: "100"}, "", false)
	assert.Error(t, err)
}

func TestBuildAndSignPayloadDerivesAmountFromFloat(t *testing.T) {
	client, err := NewClient(testPrivateKey)
	require.NoError(t, err)

	req := x402types.PaymentRequirement{
		Network:        "eip155:56",
		Asset:          "0x000000000000000000000000000000000000dEaD",
		PayTo:          "0x00000000000000000000000000000000000000b0",
		AmountRequired: 1.5,
		TokenDecimals:  6,
		Extra:          &x402types.EIP712Extra{Name: "Token", Version: "1"},
	}
	payload, err := client.BuildAndSignPayload(req, "", false)
	require.NoError(t, err)
	assert.Equal(t, "1500000", payload.Payload.Authorization.Value)
}

func TestBuildAndSignPayloadNeedApproveUsesFacilitatorDomain(t *testing.T) {
	client, err := NewClient(testPrivateKey)
	require.NoError(t, err)

	req := x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: "eip155:56",
		Asset:   "0x000000000000000000000000000000000000dEaD",
		PayTo:   "0x00000000000000000000000000000000000000b0",
		Amount:  "1000000",
		Extra:   &x402types.EIP712Extra{Name: "USD Coin", Version: "2"},
	}

	transferPayload, err := client.BuildAndSignPayload(req, "", false)
	require.NoError(t, err)
	approvePayload, err := client.BuildAndSignPayload(req, "", true)
	require.NoError(t, err)

	assert.NotEmpty(t, approvePayload.Payload.Signature)
	assert.NotEqual(t, transferPayload.Payload.Signature, approvePayload.Payload.Signature,
		"signing under the facilitator domain must produce a different signature than the token's own EIP-3009 domain")
}

func TestBuildApproveCalldataPacksFacilitatorSpender(t *testing.T) {
	client, err := NewClient(testPrivateKey)
	require.NoError(t, err)

	req := x402types.PaymentRequirement{Asset: "0x000000000000000000000000000000000000dEaD"}
	to, data, err := client.BuildApproveCalldata(req, "1000000")
	require.NoError(t, err)

	assert.Equal(t, req.Asset, to)
	require.Len(t, data, 4+32+32) // selector + spender + amount
	assert.Equal(t, crypto.Keccak256([]byte("approve(address,uint256)"))[:4], data[:4])

	spender := common.BytesToAddress(data[4:36])
	assert.Equal(t, common.HexToAddress("0x555e3311a9893c9B17444C1Ff0d88192a57Ef13e"), spender)
}

func TestBuildApproveCalldataRejectsInvalidAmount(t *testing.T) {
	client, err := NewClient(testPrivateKey)
	require.NoError(t, err)

	_, _, err = client.BuildApproveCalldata(x402types.PaymentRequirement{Asset: "0xdead"}, "not-a-number")
	assert.Error(t, err)
}
