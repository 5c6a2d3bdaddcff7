package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("GOOGLE_API_KEY sets key", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "google-key")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "google-key", cfg.LLM.APIKey)
	})

	t.Run("GEMINI_API_KEY takes precedence", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "google-key")
		t.Setenv("GEMINI_API_KEY", "gemini-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
	})

	t.Run("LUX_MODEL overrides model", func(t *testing.T) {
		t.Setenv("LUX_MODEL", "gemini-2.5-pro")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	})
}

func TestEnvOverrides_Execution(t *testing.T) {
	t.Setenv("LUX_EXEC_TIMEOUT", "2s")
	t.Setenv("LUX_ISOLATED", "true")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 2*time.Second, cfg.GetExecutionTimeout())
	assert.True(t, cfg.Execution.Isolated)
}

func TestEnvOverrides_InvalidBoolIgnored(t *testing.T) {
	t.Setenv("LUX_ISOLATED", "maybe")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.False(t, cfg.Execution.Isolated)
}

func TestEnvOverrides_DataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LUX_DATA_DIR", dir)

	cfg, err := Load(dir + "/missing.yaml")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Paths.DataDir)
	assert.Equal(t, dir+"/functions", cfg.Paths.FunctionsDir)
	assert.Equal(t, dir+"/permissions.json", cfg.Paths.PermissionsFile)
}

func TestValidateLLM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = ""
	require.Error(t, cfg.ValidateLLM())

	cfg.LLM.APIKey = "k"
	require.NoError(t, cfg.ValidateLLM())

	cfg.LLM.Provider = "other"
	require.Error(t, cfg.ValidateLLM())
}
