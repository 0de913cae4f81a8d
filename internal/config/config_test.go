package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GROQ_API_KEY", "TALKNOW_ADDR", "TALKNOW_BASE_URL", "TALKNOW_MODEL",
		"TALKNOW_STORE_DSN", "TALKNOW_SHAPER", "TALKNOW_MAX_TOKENS", "TALKNOW_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8100", cfg.Server.Addr)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "llama3-8b-8192", cfg.LLM.Model)
	assert.Equal(t, "You are a helpful assistant.", cfg.LLM.SystemPrompt)
	assert.Equal(t, 1000, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.Zero(t, cfg.LLM.RequestTimeout)
	assert.False(t, cfg.LLM.IncludeHistory)
	assert.NoError(t, cfg.Validate())
}

func TestSaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "talknow.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "llama-3.1-8b-instant"
	cfg.LLM.RequestTimeout = 45 * time.Second
	cfg.Shaper.Mode = "structured"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", loaded.LLM.Model)
	assert.Equal(t, 45*time.Second, loaded.LLM.RequestTimeout)
	assert.Equal(t, "structured", loaded.Shaper.Mode)
	assert.Equal(t, ":8100", loaded.Server.Addr)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "talknow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  max_tokens: 256\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.LLM.MaxTokens)
	assert.Equal(t, "llama3-8b-8192", cfg.LLM.Model)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("TALKNOW_ADDR", "127.0.0.1:9000")
	t.Setenv("TALKNOW_MODEL", "mixtral")
	t.Setenv("TALKNOW_MAX_TOKENS", "42")
	t.Setenv("TALKNOW_SHAPER", "structured")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gsk-test", cfg.LLM.APIKey)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "mixtral", cfg.LLM.Model)
	assert.Equal(t, 42, cfg.LLM.MaxTokens)
	assert.Equal(t, "structured", cfg.Shaper.Mode)
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("GROQ_API_KEY")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GROQ_API_KEY=from-dotenv\n"), 0o600))

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("GROQ_API_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.LLM.APIKey)

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Addr = ""
	cfg.LLM.MaxTokens = 0
	cfg.LLM.Temperature = 3
	cfg.Shaper.Mode = "fancy"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 5)
}

func TestRequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.RequireAPIKey())
	cfg.LLM.APIKey = "k"
	assert.NoError(t, cfg.RequireAPIKey())
}
