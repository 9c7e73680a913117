package exactevm

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/aeonpay/x402evm/x402types"
)

// requiredAmount resolves a PaymentRequirement's atomic-unit amount,
// preferring the explicit integer Amount and falling back to
// AmountRequired scaled by TokenDecimals (spec §3 data model invariant:
// "amount... is strictly integer atomic units").
func requiredAmount(req x402types.PaymentRequirement) (*big.Int, error) {
	if req.Amount != "" {
		v, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("exactevm: requirement amount %q is not an integer", req.Amount)
		}
		return v, nil
	}
	if req.AmountRequired > 0 {
		scale := math.Pow10(req.TokenDecimals)
		atomic := new(big.Float).Mul(big.NewFloat(req.AmountRequired), big.NewFloat(scale))
		v, _ := atomic.Int(nil)
		return v, nil
	}
	return nil, fmt.Errorf("exactevm: requirement carries neither amount nor amountRequired")
}

func parseBigInt(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

func parseNonce(hexNonce string) ([32]byte, error) {
	var out [32]byte
	b, err := hexToBytes(hexNonce)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("exactevm: nonce must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func hexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("exactevm: invalid hex string: %w", err)
	}
	return b, nil
}
