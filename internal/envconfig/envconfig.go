// Package envconfig loads the environment-variable configuration for the
// cmd/ binaries (facilitator server, facilitatormcp). No pack example or
// the teacher uses a config-loading library (the teacher's own pkg/x402.Config
// is a plain struct filled in by the caller, not environment-driven) so this
// stays on the standard library per SPEC_FULL.md's ambient-stack exception.
package envconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aeonpay/x402evm/internal/telemetry"
)

// FacilitatorConfig is the environment-derived configuration for the
// facilitator HTTP server (cmd/facilitatorserver, cmd/facilitatormcp).
type FacilitatorConfig struct {
	ListenAddr      string
	RPCURLs         map[string]string // network -> RPC URL, e.g. "eip155:56" -> wss://...
	SignerKey       string            // facilitator's own hex private key
	BearerKeys      []string
	PaymasterURL    string
	PaymasterPolicy string
	ScanSinkURL     string
	LogLevel        string
}

// Load reads FacilitatorConfig from the environment. Required variables:
// X402_SIGNER_KEY and at least one X402_RPC_URL_<NETWORK> pair.
func Load() (FacilitatorConfig, error) {
	cfg := FacilitatorConfig{
		ListenAddr: getEnvDefault("X402_LISTEN_ADDR", ":8402"),
		RPCURLs:    map[string]string{},
		SignerKey:  os.Getenv("X402_SIGNER_KEY"),
		LogLevel:   getEnvDefault("X402_LOG_LEVEL", "info"),
	}
	if cfg.SignerKey == "" {
		return cfg, fmt.Errorf("envconfig: X402_SIGNER_KEY is required")
	}

	for _, kv := range os.Environ() {
		const prefix = "X402_RPC_URL_"
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		network := networkFromEnvSuffix(strings.TrimPrefix(parts[0], prefix))
		cfg.RPCURLs[network] = parts[1]
	}
	if len(cfg.RPCURLs) == 0 {
		return cfg, fmt.Errorf("envconfig: at least one X402_RPC_URL_<NETWORK> is required")
	}

	if keys := os.Getenv("X402_BEARER_KEYS"); keys != "" {
		cfg.BearerKeys = strings.Split(keys, ",")
	}
	cfg.PaymasterURL = os.Getenv("X402_PAYMASTER_URL")
	cfg.PaymasterPolicy = os.Getenv("X402_PAYMASTER_POLICY_UUID")
	cfg.ScanSinkURL = getEnvDefault("X402_SCAN_SINK_URL", telemetry.DefaultScanURL)

	return cfg, nil
}

// networkFromEnvSuffix turns an env-var suffix like "EIP155_56" into the
// CAIP-2 network id "eip155:56" it names.
func networkFromEnvSuffix(suffix string) string {
	parts := strings.SplitN(suffix, "_", 2)
	if len(parts) != 2 {
		return strings.ToLower(suffix)
	}
	return strings.ToLower(parts[0]) + ":" + parts[1]
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// BufferSize parses an optional integer env var, falling back to def on
// absence or parse failure.
func BufferSize(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
