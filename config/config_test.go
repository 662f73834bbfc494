// ABOUTME: Tests for configuration layering: defaults, YAML file, .env, and environment.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BUILDPILOT_SERVER", "BUILDPILOT_LOG_LEVEL", "BUILDPILOT_LOG_FILE", "BUILDPILOT_TELEMETRY",
		"BUILDPILOT_TELEMETRY_DIR", "BUILDPILOT_TIMEOUT", "BUILDPILOT_REFRESH_INTERVAL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "empty.yaml", ""), writeFile(t, dir, "empty.env", ""))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", cfg.Server)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestYAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server: https://builder.example.com
request_timeout: 45s
log:
  level: debug
  file: /tmp/bp.log
telemetry:
  enabled: true
  dir: /tmp/bp-telemetry
`)
	cfg, err := Load(path, writeFile(t, dir, "empty.env", ""))
	require.NoError(t, err)
	assert.Equal(t, "https://builder.example.com", cfg.Server)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/bp.log", cfg.Log.File)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB, "unset fields keep defaults")
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server: https://file.example.com\n")
	t.Setenv("BUILDPILOT_SERVER", "http://env.example.com:8080")
	t.Setenv("BUILDPILOT_TIMEOUT", "5s")
	t.Setenv("BUILDPILOT_TELEMETRY", "true")

	cfg, err := Load(path, writeFile(t, dir, "empty.env", ""))
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com:8080", cfg.Server)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestDotEnvDoesNotClobberEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "BUILDPILOT_LOG_LEVEL=warn\nBUILDPILOT_SERVER=http://dotenv.example.com\n")
	// Unset rather than empty so godotenv treats it as absent.
	os.Unsetenv("BUILDPILOT_LOG_LEVEL")
	t.Cleanup(func() { os.Unsetenv("BUILDPILOT_LOG_LEVEL") })
	t.Setenv("BUILDPILOT_SERVER", "http://real.example.com")

	cfg, err := Load(writeFile(t, dir, "empty.yaml", ""), envFile)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "http://real.example.com", cfg.Server)
}

func TestExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInvalidValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.env", "")

	_, err := Load(writeFile(t, dir, "bad.yaml", "server: ftp://nope\n"), empty)
	assert.ErrorContains(t, err, "http(s) URL")

	t.Setenv("BUILDPILOT_TIMEOUT", "soon")
	_, err = Load(writeFile(t, dir, "ok.yaml", ""), empty)
	assert.ErrorContains(t, err, "BUILDPILOT_TIMEOUT")

	_, err = Load(writeFile(t, dir, "broken.yaml", "server: [\n"), empty)
	assert.ErrorContains(t, err, "parsing config")
}
