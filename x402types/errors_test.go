package x402types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolErrorWrapsReasonAndCause(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := NewProtocolError(ReasonInsufficientFunds, cause)

	assert.Equal(t, ReasonInsufficientFunds, err.Reason)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insufficient_funds")
	assert.Contains(t, err.Error(), "rpc timeout")
}

func TestProtocolErrorWithoutCause(t *testing.T) {
	err := NewProtocolError(ReasonNetworkMismatch, nil)
	assert.Equal(t, "network_mismatch", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestReasonStringMatchesWireTaxonomy(t *testing.T) {
	assert.Equal(t, "invalid_exact_evm_payload_signature", ReasonInvalidSignature.String())
	assert.Equal(t, "invalid_exact_evm_payload_undeployed_smart_wallet", ReasonUndeployedSmartWallet.String())
}
