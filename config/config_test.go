package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysim/engine/rlog"
)

func TestDefaultRuntimeConfigValid(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	bad := LogLevel("NOISY")
	cfg := &RuntimeConfig{LogLevel: &bad}
	assert.Error(t, cfg.Validate())
}

func TestLoadRuntimeConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadRuntimeConfig("config.yaml")
	assert.Error(t, err)
}

func TestLoadRuntimeConfigMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	partial := RuntimeConfig{LogFile: strPtr("/tmp/out.log")}
	data, err := json.Marshal(partial)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadRuntimeConfig(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.LogLevel)

	merged := cfg.Merge(DefaultRuntimeConfig())
	require.NotNil(t, merged.LogLevel)
	assert.Equal(t, LogInfo, *merged.LogLevel)
	assert.Equal(t, "/tmp/out.log", *merged.LogFile)
}

func strPtr(s string) *string { return &s }

func TestApplyWritesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raysim.log")
	level := LogTrace
	cfg := &RuntimeConfig{LogLevel: &level, LogFile: &path}
	require.NoError(t, cfg.Apply())
	t.Cleanup(func() { rlog.SetWriters(rlog.Writers{}) })

	rlog.Tracef("apply smoke %d", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "apply smoke 1")
}

func TestApplyRejectsInvalidLevel(t *testing.T) {
	bad := LogLevel("NOISY")
	cfg := &RuntimeConfig{LogLevel: &bad}
	assert.Error(t, cfg.Apply())
}
