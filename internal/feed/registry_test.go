package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateFromEnv(t *testing.T) {
	env := map[string]string{
		"FEED_PROVIDER":     "Binance",
		"FEED_OPT_QUOTE":    "USDC",
		"FEED_OPT_BASE_URL": "http://localhost:9000",
		"UNRELATED":         "x",
	}

	provider, err := DefaultRegistry().CreateFromEnv(env, "stub")
	require.NoError(t, err)
	assert.Equal(t, "binance", provider.Name())
}

func TestRegistryDefaultsToFallbackProvider(t *testing.T) {
	provider, err := DefaultRegistry().CreateFromEnv(map[string]string{}, "stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", provider.Name())
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := DefaultRegistry().Create("pyth", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown feed provider")
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	factory := func(Settings) (Provider, error) { return NewStubProvider(), nil }
	require.NoError(t, r.Register("stub", factory))
	assert.Error(t, r.Register("stub", factory))
}

func TestExtractOptions(t *testing.T) {
	options := ExtractOptions(map[string]string{
		"FEED_OPT_WS_URL": "wss://example",
		"FEED_OPT_":       "ignored",
		"FEED_PROVIDER":   "binance",
	})
	assert.Equal(t, map[string]string{"ws_url": "wss://example"}, options)
}
