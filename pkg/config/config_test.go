package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "fsm", cfg.Oracle.Name)
	assert.True(t, cfg.Inference.Coarsen)
	assert.Zero(t, cfg.Inference.MaxSplits)
	assert.Equal(t, BackendFile, cfg.Checkpoint.Backend)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown oracle", func(c *Config) { c.Oracle.Name = "spin" }},
		{"negative splits", func(c *Config) { c.Inference.MaxSplits = -1 }},
		{"negative duration", func(c *Config) { c.Inference.MaxDuration = -time.Second }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad sampling", func(c *Config) { c.Telemetry.SamplingRatio = 1.5 }},
		{"bad backend", func(c *Config) { c.Checkpoint.Backend = "ftp" }},
		{"mirror equals backend", func(c *Config) { c.Checkpoint.Mirror = BackendFile }},
		{"s3 without bucket", func(c *Config) { c.Checkpoint.Backend = BackendS3 }},
		{"bad exporter", func(c *Config) { c.Metrics.Exporter = "statsd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))
		})
	}

	t.Run("disabled checkpoint skips backend checks", func(t *testing.T) {
		cfg := Default()
		cfg.Checkpoint.Enabled = false
		cfg.Checkpoint.Backend = "ftp"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := Default()
		cfg.Oracle.Name = "spin"
		cfg.Inference.MaxSplits = -1
		err := cfg.Validate()
		var multi *lferrors.MultiError
		require.ErrorAs(t, err, &multi)
		assert.Len(t, multi.Errors, 2)
	})
}

func TestManager_LayersFiles(t *testing.T) {
	dir := t.TempDir()
	system := writeFile(t, dir, "system.yaml", `
oracle:
  name: automaton
inference:
  max_splits: 10
`)
	project := writeFile(t, dir, "project.yaml", `
inference:
  max_splits: 25
  max_duration: 30s
  coarsen: false
`)
	missing := filepath.Join(dir, "missing.yaml")

	m := NewManagerWithPaths(system, missing, project)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, "automaton", cfg.Oracle.Name, "kept from the earlier file")
	assert.Equal(t, 25, cfg.Inference.MaxSplits, "later file wins")
	assert.Equal(t, 30*time.Second, cfg.Inference.MaxDuration)
	assert.False(t, cfg.Inference.Coarsen)
	assert.True(t, cfg.Inference.MineConcurrency, "untouched defaults survive")
	assert.Equal(t, []string{system, project}, m.GetPaths())
}

func TestManager_Env(t *testing.T) {
	t.Setenv("TRACEMINE_ORACLE", "automaton")
	t.Setenv("TRACEMINE_MAX_SPLITS", "7")
	t.Setenv("TRACEMINE_COARSEN", "false")
	t.Setenv("TRACEMINE_OTLP_ENDPOINT", "collector:4317")

	m := NewManagerWithPaths()
	require.NoError(t, m.Load())
	cfg := m.Get()
	assert.Equal(t, "automaton", cfg.Oracle.Name)
	assert.Equal(t, 7, cfg.Inference.MaxSplits)
	assert.False(t, cfg.Inference.Coarsen)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)

	t.Setenv("TRACEMINE_MAX_SPLITS", "many")
	err := m.Load()
	require.Error(t, err)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))
}

func TestManager_LoadFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithPaths()
	require.NoError(t, m.Load())

	err := m.LoadFile(filepath.Join(dir, "nope.yaml"))
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))

	bad := writeFile(t, dir, "bad.yaml", "oracle: [")
	err = m.LoadFile(bad)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))

	invalid := writeFile(t, dir, "invalid.yaml", "oracle:\n  name: spin\n")
	assert.Error(t, m.LoadFile(invalid))
}

func TestManager_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithPaths()
	require.NoError(t, m.Load())
	m.Get().Inference.MaxSplits = 3

	path := filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, m.Save(path))

	other := NewManagerWithPaths(path)
	require.NoError(t, other.Load())
	assert.Equal(t, 3, other.Get().Inference.MaxSplits)
}
