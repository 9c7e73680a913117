package envconfig

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearX402Env(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "X402_") {
			continue
		}
		key := strings.SplitN(kv, "=", 2)[0]
		os.Unsetenv(key)
	}
}

func TestLoadRequiresSignerKey(t *testing.T) {
	clearX402Env(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresAtLeastOneRPCURL(t *testing.T) {
	clearX402Env(t)
	os.Setenv("X402_SIGNER_KEY", "0xdeadbeef")
	defer os.Unsetenv("X402_SIGNER_KEY")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesRPCURLsByNetwork(t *testing.T) {
	clearX402Env(t)
	os.Setenv("X402_SIGNER_KEY", "0xdeadbeef")
	os.Setenv("X402_RPC_URL_EIP155_56", "https://bsc-rpc.example.com")
	defer clearX402Env(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://bsc-rpc.example.com", cfg.RPCURLs["eip155:56"])
	assert.Equal(t, ":8402", cfg.ListenAddr)
}

func TestLoadParsesBearerKeys(t *testing.T) {
	clearX402Env(t)
	os.Setenv("X402_SIGNER_KEY", "0xdeadbeef")
	os.Setenv("X402_RPC_URL_EIP155_56", "https://bsc-rpc.example.com")
	os.Setenv("X402_BEARER_KEYS", "key1,key2")
	defer clearX402Env(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"key1", "key2"}, cfg.BearerKeys)
}

func TestBufferSizeFallsBackOnInvalidInput(t *testing.T) {
	os.Setenv("X402_TEST_BUFFER", "not-a-number")
	defer os.Unsetenv("X402_TEST_BUFFER")
	assert.Equal(t, 42, BufferSize("X402_TEST_BUFFER", 42))
}

func TestBufferSizeParsesValidInput(t *testing.T) {
	os.Setenv("X402_TEST_BUFFER", "7")
	defer os.Unsetenv("X402_TEST_BUFFER")
	assert.Equal(t, 7, BufferSize("X402_TEST_BUFFER", 42))
}
