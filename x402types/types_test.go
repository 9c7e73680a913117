package x402types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBase64RoundTrip(t *testing.T) {
	payload := PaymentPayload{
		X402Version: X402VersionCurrent,
		Scheme:      SchemeExact,
		Network:     "eip155:56",
		Payload: ExactEvmPayload{
			Authorization: Authorization{From: "0xabc", To: "0xdef", Value: "1000000"},
			Signature:     "0xsig",
		},
	}

	encoded, err := EncodeBase64(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	var decoded PaymentPayload
	require.NoError(t, DecodeBase64(encoded, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestDecodeBase64InvalidInput(t *testing.T) {
	var out PaymentPayload
	err := DecodeBase64("not-valid-base64!!", &out)
	assert.Error(t, err)
}

func TestDecodePaymentPayload(t *testing.T) {
	encoded, err := EncodeBase64(PaymentPayload{X402Version: X402VersionCurrent, Scheme: SchemeExact, Network: "eip155:8453"})
	require.NoError(t, err)

	decoded, err := DecodePaymentPayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, X402VersionCurrent, decoded.X402Version)
	assert.Equal(t, Network("eip155:8453"), decoded.Network)
}
