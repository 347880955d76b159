package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the popguard config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "popguard")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_YAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
engine:
  learning_enabled: false
  auto_action: true
  similarity_threshold: 0.75
  pending_decision_timeout_ms: 5000
  weights:
    close_button: 40
throttle:
  max_detections_per_window: 12
  latency_budget: 250ms
eviction:
  pending_stale_after: 2m
store:
  driver: memory
notify:
  nats_url: nats://127.0.0.1:4222
  nats_token: abc
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.False(t, cfg.Engine.LearningEnabled)
	assert.True(t, cfg.Engine.AutoAction)
	assert.Equal(t, 0.75, cfg.Engine.SimilarityThreshold)
	assert.Equal(t, 5000, cfg.Engine.PendingDecisionTimeoutMs)
	assert.Equal(t, 40.0, cfg.Engine.Weights.CloseButton)
	assert.Equal(t, 12, cfg.Throttle.MaxDetectionsPerWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Throttle.LatencyBudget.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Eviction.PendingStaleAfter.Duration())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "abc", cfg.Notify.NATSToken.Value())

	// Untouched values keep their defaults.
	assert.Equal(t, 0.8, cfg.Engine.SuggestionConfidenceThreshold)
	assert.Equal(t, 60000, cfg.Throttle.WindowMs)
	assert.Equal(t, 30.0, cfg.Engine.Weights.FixedPosition)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithFile_DefaultPath(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, dir, "server:\n  http_port: 8181\n", 0600)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "engine:\n  similarity_threshold: 0.75\n", 0600)

	t.Setenv("ENGINE_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("ENGINE_LEARNING_ENABLED", "false")
	t.Setenv("THROTTLE_WINDOW_MS", "30000")
	t.Setenv("EVICTION_PENDING_STALE_AFTER", "90s")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Engine.SimilarityThreshold)
	assert.False(t, cfg.Engine.LearningEnabled)
	assert.Equal(t, 30000, cfg.Throttle.WindowMs)
	assert.Equal(t, 90*time.Second, cfg.Eviction.PendingStaleAfter.Duration())
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "engine:\n  similarity_threshold: 3\n", 0600)

	_, err := LoadWithFile(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadWithFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8181\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")

	require.NoError(t, os.Chmod(path, 0400))
	_, err = LoadWithFile(path)
	assert.NoError(t, err)
}

func TestLoadWithFile_TooLarge(t *testing.T) {
	dir := setupTestHome(t)
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, dir, string(big), 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	tests := []string{
		filepath.Join(t.TempDir(), "config.yaml"),
		"/tmp/popguard.yaml",
	}
	for _, path := range tests {
		_, err := LoadWithFile(path)
		require.Error(t, err, path)
		assert.Contains(t, err.Error(), "path validation failed")
	}
}

func TestLoadWithFile_SiblingDirectoryRejected(t *testing.T) {
	dir := setupTestHome(t)
	sibling := dir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0700))

	_, err := LoadWithFile(filepath.Join(sibling, "config.yaml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "engine.learning_enabled", envKey("ENGINE_LEARNING_ENABLED"))
	assert.Equal(t, "server.http_port", envKey("SERVER_HTTP_PORT"))
	assert.Equal(t, "", envKey("PATH"))
	assert.Equal(t, "", envKey("GOPATH_EXTRA"))
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/data/popguard.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "popguard.db"), got)

	got, err = ExpandPath("/var/lib/popguard.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/popguard.db", got)
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "popguard"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
