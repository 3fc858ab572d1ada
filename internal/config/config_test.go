package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "127.0.0.1:38800", cfg.ListenAddr())
	require.Equal(t, 6*time.Hour, cfg.Heartbeat.Interval.Std())
	require.Equal(t, 15, cfg.Heartbeat.TaskBudget)
	require.Equal(t, 5, cfg.Heartbeat.BatchSize)
	require.False(t, cfg.Logging.Debug)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  bind: 0.0.0.0
  port: 9999
database:
  path: /tmp/steward-test.db
heartbeat:
  interval: 1h
  task_budget: 3
logging:
  debug: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9999", cfg.ListenAddr())
	require.Equal(t, "/tmp/steward-test.db", cfg.Database.Path)
	require.Equal(t, time.Hour, cfg.Heartbeat.Interval.Std())
	require.Equal(t, 3, cfg.Heartbeat.TaskBudget)
	// Unset fields keep their defaults.
	require.Equal(t, 5, cfg.Heartbeat.BatchSize)
	require.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	require.True(t, cfg.Logging.Debug)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
