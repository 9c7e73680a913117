package exactevm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aeonpay/x402evm/chain"
)

// absenceMarkers are revert substrings indicating the asset does not
// implement transferWithAuthorization at all (spec §4.1 step 3).
var absenceMarkers = []string{
	"function does not exist",
	"unknown selector",
	"execution reverted", // empty-message revert with no further detail
}

// presenceMarkers are revert substrings indicating the asset does
// implement transferWithAuthorization but rejected the zero-argument probe
// call on its own terms (spec §4.1 step 3).
var presenceMarkers = []string{
	"authorization expired",
	"authorization used",
	"authorization not yet valid",
	"invalid signature",
	"invalid signature length",
}

// probeEIP3009 determines whether asset implements transferWithAuthorization
// by issuing a zero/empty-argument view call and classifying the revert
// message. The result is cached per (chainID, asset) for the process
// lifetime (spec §4.1 step 3, §5 "EIP-3009 probe cache").
func (e *Engine) probeEIP3009(ctx context.Context, asset string) bool {
	key := probeKey{chainID: e.gateway.ChainID(), asset: strings.ToLower(asset)}
	if cached, ok := e.probeCache.Load(key); ok {
		return cached.(bool)
	}

	supports := e.probeEIP3009Uncached(ctx, asset)
	e.probeCache.Store(key, supports)
	e.log.Info("eip3009 capability probed", "asset", asset, "supportsEIP3009", supports)
	return supports
}

func (e *Engine) probeEIP3009Uncached(ctx context.Context, asset string) bool {
	var zero32 [32]byte
	_, err := e.gateway.ReadContract(
		ctx,
		asset,
		chain.EIP3009ABI,
		"transferWithAuthorization",
		common.Address{},
		common.Address{},
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		zero32,
		[]byte{},
	)
	if err == nil {
		// A zero-argument call that doesn't revert at all still proves the
		// selector exists and was dispatched.
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range presenceMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	for _, marker := range absenceMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	// Ambiguous error: treat as absent (conservative), per spec §4.1 step 3.
	return false
}
