package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/completion"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"TRANSMUTE_PROVIDER", "TRANSMUTE_API_KEY", "GROQ_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
		"TRANSMUTE_MAX_RETRIES", "TRANSMUTE_CALL_TIMEOUT", "TRANSMUTE_RPS", "TRANSMUTE_DB_PATH",
		"TRANSMUTE_RETRY_DELAY", "TRANSMUTE_TRANSPORT_RETRIES",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("TRANSMUTE_DATA_DIR", dir)

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "transmute.db"), c.DBPath)
	assert.Equal(t, completion.ProviderOffline, c.Provider)
	assert.Equal(t, 3, c.Policy().MaxRetries)
	assert.Equal(t, 60*time.Second, c.Completion().Timeout)
	assert.Equal(t, []string{filepath.Join(dir, "languages"), ".transmute/languages"}, c.LanguageDirs())

	require.NoError(t, c.EnsureDataDir())
	assert.DirExists(t, c.UserLanguageDir)
}

func TestProviderResolution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSMUTE_DATA_DIR", t.TempDir())

	t.Setenv("GEMINI_API_KEY", "g-key")
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, completion.ProviderGemini, c.Provider)
	assert.Equal(t, "g-key", c.APIKey)

	t.Setenv("GROQ_API_KEY", "q-key")
	c, err = New()
	require.NoError(t, err)
	assert.Equal(t, completion.ProviderGroq, c.Provider)

	t.Setenv("TRANSMUTE_PROVIDER", "gemini")
	c, err = New()
	require.NoError(t, err)
	assert.Equal(t, completion.ProviderGemini, c.Provider)
	assert.Equal(t, "g-key", c.APIKey)
}

func TestOverridesAndErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSMUTE_DATA_DIR", t.TempDir())
	t.Setenv("TRANSMUTE_MAX_RETRIES", "5")
	t.Setenv("TRANSMUTE_CALL_TIMEOUT", "15s")
	t.Setenv("TRANSMUTE_TRANSPORT_RETRIES", "1")
	t.Setenv("TRANSMUTE_RETRY_DELAY", "50ms")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, 5, c.Policy().MaxRetries)
	assert.Equal(t, 15*time.Second, c.CallTimeout)
	assert.Equal(t, 1, c.Policy().TransportRetries)
	assert.Equal(t, 50*time.Millisecond, c.Policy().TransportBackoff)

	t.Setenv("TRANSMUTE_RPS", "fast")
	t.Setenv("TRANSMUTE_MAX_RETRIES", "many")
	_, err = New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRANSMUTE_RPS")
	assert.Contains(t, err.Error(), "TRANSMUTE_MAX_RETRIES")
}
