package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultProvider, cfg.Primary.Provider)
	require.Equal(t, DefaultConcurrency, cfg.Concurrency)
	require.Equal(t, DefaultContextBudget, cfg.ContextBudgetChars)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("primary:\n  provider: anthropic\n  model: claude-3-5-sonnet\nconcurrency: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Primary.Provider)
	require.Equal(t, "claude-3-5-sonnet", cfg.Primary.Model)
	require.Equal(t, 5, cfg.Concurrency)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	require.Equal(t, DefaultProvider, cfg.Primary.Provider)
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NOVELPIPE_PRIMARY_API_KEY", "sk-test-123")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sk-test-123", cfg.Primary.APIKey)
}
