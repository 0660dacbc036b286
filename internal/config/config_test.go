package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regimescan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6, cfg.Detector.Stride)
	assert.InDelta(t, 0.05, cfg.Detector.Smoothing, 1e-12)
	assert.Equal(t, 10*time.Second, cfg.Provider.RequestTimeout())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
detector:
  stride: 8
  smoothing: 0.1
provider:
  rate_limit_per_min: 30
cache:
  addr: "localhost:6379"
  ttl_sec: 600
server:
  listen_addr: ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Detector.Stride)
	assert.InDelta(t, 0.1, cfg.Detector.Smoothing, 1e-12)
	assert.Equal(t, 30, cfg.Provider.RateLimitPerMin)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL())
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	// Untouched sections keep defaults.
	assert.Equal(t, "https://www.alphavantage.co", cfg.Provider.BaseURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"zero stride":        "detector:\n  stride: 0\n",
		"smoothing too high": "detector:\n  smoothing: 1.5\n",
		"empty listen addr":  "server:\n  listen_addr: \"\"\n",
		"cache without ttl":  "cache:\n  addr: \"localhost:6379\"\n  ttl_sec: 0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKeyEnv = "REGIMESCAN_TEST_KEY"

	_, err := cfg.APIKey()
	assert.Error(t, err, "missing key must be reported, not defaulted")

	t.Setenv("REGIMESCAN_TEST_KEY", "demo")
	key, err := cfg.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "demo", key)
}
