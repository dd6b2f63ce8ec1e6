package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearJarvisEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, DebugRelease, cfg.Debug)
	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, 3600, cfg.Cache.DefaultTTLSeconds)
	require.Equal(t, 3600, cfg.Cache.ContextTTLSeconds)
	require.Equal(t, 1800, cfg.Cache.ToolTTLSeconds)
	require.False(t, cfg.Security.EnablePIIDetection)
	require.False(t, cfg.EnableHybridRetrieval)
	require.Equal(t, 10, cfg.Retrieval.MaxTotalResults)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	clearJarvisEnv(t)
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("CACHE_DEFAULT_TTL", "120")
	t.Setenv("ENABLE_HYBRID_RETRIEVAL", "true")
	t.Setenv("DEBUG", "dev")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, DebugDev, cfg.Debug)
	require.False(t, cfg.Cache.Enabled)
	require.Equal(t, 120, cfg.Cache.DefaultTTLSeconds)
	require.True(t, cfg.EnableHybridRetrieval)
}

func TestLoad_UnrecognizedDebugValueFallsBackToRelease(t *testing.T) {
	clearJarvisEnv(t)
	t.Setenv("DEBUG", "verbose")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, DebugRelease, cfg.Debug)
}

func TestLoad_DotEnvFileIsHonoredWhenEnvVarAbsent(t *testing.T) {
	clearJarvisEnv(t)

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TOOL_CACHE_TTL_SECONDS=90\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("TOOL_CACHE_TTL_SECONDS") })

	cfg, err := Load(envFile)
	require.NoError(t, err)
	require.Equal(t, 90, cfg.Cache.ToolTTLSeconds)
}

func TestLoad_ProcessEnvironmentTakesPrecedenceOverDotEnv(t *testing.T) {
	clearJarvisEnv(t)
	t.Setenv("TOOL_CACHE_TTL_SECONDS", "45")
	t.Cleanup(func() { _ = os.Unsetenv("TOOL_CACHE_TTL_SECONDS") })

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TOOL_CACHE_TTL_SECONDS=90\n"), 0o644))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	require.Equal(t, 45, cfg.Cache.ToolTTLSeconds)
}

func clearJarvisEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DEBUG", "CACHE_ENABLED", "CACHE_DEFAULT_TTL", "CONTEXT_CACHE_TTL_SECONDS",
		"TOOL_CACHE_TTL_SECONDS", "ENABLE_PII_DETECTION", "ENABLE_PII_REDACTION",
		"ENABLE_SECURITY_AUDIT", "ENABLE_HYBRID_RETRIEVAL",
	} {
		if v, ok := os.LookupEnv(k); ok {
			require.NoError(t, os.Unsetenv(k))
			t.Cleanup(func(k, v string) func() { return func() { _ = os.Setenv(k, v) } }(k, v))
		}
	}
}
