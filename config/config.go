// Package config loads the library's build-time and runtime
// configuration: optional pointer fields so partial documents leave
// defaults intact, a Validate pass, and JSON file loading.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/raysim/engine/rlog"
)

// LogLevel is the configure-time log verbosity.
type LogLevel string

const (
	LogTrace    LogLevel = "TRACE"
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarn     LogLevel = "WARN"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
	LogOff      LogLevel = "OFF"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogTrace, LogDebug, LogInfo, LogWarn, LogError, LogCritical, LogOff:
		return true
	}
	return false
}

// BuildConfig captures build-time environment settings. BackendDir
// points at an optional accelerator SDK installation; it is read but not
// enforced by pure-Go code paths, since the ray-trace backend is a
// pluggable raytrace.Tracer rather than a linked SDK.
type BuildConfig struct {
	BackendDir string
}

// BuildConfigFromEnv reads RAYSIM_BACKEND_DIR from the environment.
func BuildConfigFromEnv() BuildConfig {
	return BuildConfig{BackendDir: os.Getenv("RAYSIM_BACKEND_DIR")}
}

// RuntimeConfig holds the settings overridable via API call after
// process start. Fields are pointers so a partial JSON document leaves
// unspecified fields at their DefaultRuntimeConfig() values.
type RuntimeConfig struct {
	LogToStdout  *bool     `json:"log_to_stdout,omitempty"`
	LogLevel     *LogLevel `json:"log_level,omitempty"`
	LogFile      *string   `json:"log_file,omitempty"`
	AutoTapePath *string   `json:"auto_tape_path,omitempty"`
}

func ptrBool(v bool) *bool         { return &v }
func ptrLevel(v LogLevel) *LogLevel { return &v }

// DefaultRuntimeConfig returns the built-in defaults: log to stdout at
// INFO, no log file, no tape recording.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		LogToStdout: ptrBool(true),
		LogLevel:    ptrLevel(LogInfo),
	}
}

// Validate checks that any set fields hold acceptable values.
func (c *RuntimeConfig) Validate() error {
	if c.LogLevel != nil && !c.LogLevel.valid() {
		return fmt.Errorf("config: invalid LogLevel %q", *c.LogLevel)
	}
	return nil
}

// LoadRuntimeConfig loads a RuntimeConfig from a JSON file. Fields absent
// from the file are nil; merge with DefaultRuntimeConfig() via Merge to
// fill them in.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("config: file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", clean, err)
	}
	cfg := &RuntimeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", clean, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply installs the runtime configuration, wiring the rlog streams from
// LogLevel, LogToStdout, and LogFile. TRACE enables all three streams,
// DEBUG and INFO enable Ops and Diag, the warning-and-above levels keep
// only Ops, and OFF disables logging entirely. Unset fields fall back to
// DefaultRuntimeConfig.
func (c *RuntimeConfig) Apply() error {
	if err := c.Validate(); err != nil {
		return err
	}
	cfg := c.Merge(DefaultRuntimeConfig())

	var dst io.Writer
	if cfg.LogFile != nil && *cfg.LogFile != "" {
		f, err := os.OpenFile(*cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("config: opening log file: %w", err)
		}
		dst = f
	} else if *cfg.LogToStdout {
		dst = os.Stdout
	}

	w := rlog.Writers{}
	if dst != nil {
		switch *cfg.LogLevel {
		case LogTrace:
			w = rlog.Writers{Ops: dst, Diag: dst, Trace: dst}
		case LogDebug, LogInfo:
			w = rlog.Writers{Ops: dst, Diag: dst}
		case LogWarn, LogError, LogCritical:
			w = rlog.Writers{Ops: dst}
		case LogOff:
		}
	}
	rlog.SetWriters(w)
	return nil
}

// Merge returns a copy of c with every nil field filled in from other.
func (c *RuntimeConfig) Merge(other *RuntimeConfig) *RuntimeConfig {
	merged := *c
	if merged.LogToStdout == nil {
		merged.LogToStdout = other.LogToStdout
	}
	if merged.LogLevel == nil {
		merged.LogLevel = other.LogLevel
	}
	if merged.LogFile == nil {
		merged.LogFile = other.LogFile
	}
	if merged.AutoTapePath == nil {
		merged.AutoTapePath = other.AutoTapePath
	}
	return &merged
}
