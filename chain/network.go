package chain

import (
	"strconv"
	"strings"

	"github.com/aeonpay/x402evm/x402types"
)

// NetworkConfig describes the known facts about a supported chain: its
// numeric chain id and the stablecoin asset the bundled examples/tests use
// as a default when a route config doesn't specify one explicitly.
type NetworkConfig struct {
	ChainID       int64
	DefaultAsset  string
	AssetDecimals int
	AssetName     string
	AssetVersion  string
}

// NetworkConfigs is the set of chains this implementation understands,
// extended from the teacher's Base-only mechanisms/evm/constants.go table
// with BSC, X Layer and Kite per the supported-networks list.
var NetworkConfigs = map[string]NetworkConfig{
	"bsc": {
		ChainID:       56,
		DefaultAsset:  "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
		AssetDecimals: 18,
		AssetName:     "USD Coin",
		AssetVersion:  "1",
	},
	"bsc-testnet": {
		ChainID:       97,
		DefaultAsset:  "0x64544969ed7EBf5f083679233325356EbE738930",
		AssetDecimals: 18,
		AssetName:     "USDC",
		AssetVersion:  "1",
	},
	"base": {
		ChainID:       8453,
		DefaultAsset:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		AssetDecimals: 6,
		AssetName:     "USD Coin",
		AssetVersion:  "2",
	},
	"base-sepolia": {
		ChainID:       84532,
		DefaultAsset:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		AssetDecimals: 6,
		AssetName:     "USDC",
		AssetVersion:  "2",
	},
	"x-layer": {
		ChainID:       196,
		DefaultAsset:  "0x1E4a5963aBFD975d8c9021ce480b42188849D41d",
		AssetDecimals: 6,
		AssetName:     "USD Coin",
		AssetVersion:  "1",
	},
	// Kite (id 2366): spec Open Question 3 — no officially endorsed asset
	// is given by the pack, so this is an explicit placeholder the
	// operator must override via RouteConfig.Asset rather than a
	// fabricated real contract address. See DESIGN.md.
	"kite": {
		ChainID:       2366,
		DefaultAsset:  "",
		AssetDecimals: 18,
		AssetName:     "KITE_USD",
		AssetVersion:  "1",
	},
}

var chainIDToNetwork = func() map[int64]string {
	m := make(map[int64]string, len(NetworkConfigs))
	for name, cfg := range NetworkConfigs {
		// Map iteration order isn't stable, so if two names shared a chain
		// id the one kept would be arbitrary; every chain id in
		// NetworkConfigs is distinct, so the reverse lookup is exact.
		if _, exists := m[cfg.ChainID]; !exists {
			m[cfg.ChainID] = name
		}
	}
	return m
}()

// ResolveChainID extracts a numeric chain id from a CAIP-2 string
// ("eip155:56"), a bare decimal string ("56"), or a known network name
// ("bsc"). Unknown names fall back to chain id 1, matching the teacher's
// GetEvmChainId fallback behavior.
func ResolveChainID(network x402types.Network) int64 {
	s := string(network)
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id
	}
	if cfg, ok := NetworkConfigs[strings.ToLower(s)]; ok {
		return cfg.ChainID
	}
	return 1
}

// NetworkNameForChainID returns the configured network name for a chain id,
// or "" if unknown.
func NetworkNameForChainID(chainID int64) string {
	return chainIDToNetwork[chainID]
}

// LookupNetworkConfig resolves a CAIP-2/decimal/name network identifier to
// its NetworkConfig, if known.
func LookupNetworkConfig(network x402types.Network) (NetworkConfig, bool) {
	chainID := ResolveChainID(network)
	name := NetworkNameForChainID(chainID)
	if name == "" {
		return NetworkConfig{}, false
	}
	cfg, ok := NetworkConfigs[name]
	return cfg, ok
}

// IsBSC reports whether network resolves to BNB Smart Chain mainnet
// (chain id 56) — the only chain the paymaster/sponsored settlement path
// (spec §4.2 Stage B) is enabled for.
func IsBSC(network x402types.Network) bool {
	return ResolveChainID(network) == 56
}
