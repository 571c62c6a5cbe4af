// Package config loads voxd configuration from a YAML file, an optional
// .env file and VOXD_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voxcore/internal/log"
	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/orchestrator"
	"github.com/teslashibe/go-voxcore/pkg/recorder"
	"github.com/teslashibe/go-voxcore/pkg/web"
)

// Environment variables that override file settings.
const (
	EnvLogLevel      = "VOXD_LOG_LEVEL"
	EnvDashboardAddr = "VOXD_DASHBOARD_ADDR"
	EnvBackend       = "VOXD_BACKEND"
	EnvVolume        = "VOXD_VOLUME"
	EnvRecordDir     = "VOXD_RECORD_DIR"
)

// Metrics configures the Prometheus registry.
type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// App is the complete voxd configuration.
type App struct {
	Log          log.Options         `yaml:"log" json:"log"`
	Mic          audioio.Config      `yaml:"mic" json:"mic"`
	Speaker      audioio.Config      `yaml:"speaker" json:"speaker"`
	Orchestrator orchestrator.Config `yaml:"orchestrator" json:"orchestrator"`
	Recorder     recorder.Config     `yaml:"recorder" json:"recorder"`
	Dashboard    web.Config          `yaml:"dashboard" json:"dashboard"`
	Metrics      Metrics             `yaml:"metrics" json:"metrics"`

	// Listen starts listening as soon as the pipeline is up.
	Listen bool `yaml:"listen" json:"listen"`
}

// Default returns the built-in configuration.
func Default() App {
	return App{
		Log:          log.Options{Level: "info", MaxSizeMB: 50, MaxBackups: 3},
		Mic:          audioio.DefaultConfig(),
		Speaker:      audioio.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Recorder:     recorder.DefaultConfig(),
		Dashboard:    web.DefaultConfig(),
		Metrics:      Metrics{Enabled: true, Namespace: "voxd"},
		Listen:       true,
	}
}

// Load builds the configuration: defaults, then path (if not empty), then
// the given .env files (missing ones are skipped), then the environment.
func Load(path string, envFiles ...string) (App, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv applies VOXD_* overrides from the process environment.
func (a *App) ApplyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		a.Log.Level = v
	}
	if v := os.Getenv(EnvDashboardAddr); v != "" {
		a.Dashboard.Addr = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		a.Mic.Backend = audioio.Backend(strings.ToLower(v))
		a.Speaker.Backend = a.Mic.Backend
	}
	if v := os.Getenv(EnvVolume); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil || n > orchestrator.MaxVolume {
			return fmt.Errorf("%s must be 0-%d, got %q", EnvVolume, orchestrator.MaxVolume, v)
		}
		a.Orchestrator.DefaultVolume = uint8(n)
	}
	if v := os.Getenv(EnvRecordDir); v != "" {
		a.Recorder.Dir = v
	}
	return nil
}

// Validate checks every section.
func (a *App) Validate() error {
	if err := a.Mic.Validate(); err != nil {
		return fmt.Errorf("mic: %w", err)
	}
	if err := a.Speaker.Validate(); err != nil {
		return fmt.Errorf("speaker: %w", err)
	}
	if err := a.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := a.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if a.Dashboard.Addr == "" {
		return errors.New("dashboard: addr is required")
	}
	if a.Mic.SampleRate != a.Recorder.SampleRate {
		return fmt.Errorf("recorder sample_rate %d must match mic sample_rate %d",
			a.Recorder.SampleRate, a.Mic.SampleRate)
	}
	if a.Metrics.Enabled && a.Metrics.Namespace == "" {
		return errors.New("metrics: namespace is required when enabled")
	}
	return nil
}
