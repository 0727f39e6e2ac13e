// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/loadmeter/lib/stabilize"
)

// EnvironmentVariable names the file [Load] reads.
const EnvironmentVariable = "LOADMETER_CONFIG"

// Metric selects which utilization is measured.
type Metric string

const (
	// GPU measures the busiest graphics device.
	GPU Metric = "gpu"
	// CPU measures aggregate processor time.
	CPU Metric = "cpu"
)

// Provider kinds accepted in the providers list.
const (
	KindNVML       = "nvml"
	KindAMDGPU     = "amdgpu"
	KindDRMSysfs   = "drm-sysfs"
	KindNvidiaSMI  = "nvidia-smi"
	KindCommand    = "command"
	KindProcStat   = "procstat"
	KindPsutil     = "psutil"
	KindPrometheus = "prometheus"
)

// Kinds lists every accepted provider kind.
var Kinds = []string{
	KindNVML,
	KindAMDGPU,
	KindDRMSysfs,
	KindNvidiaSMI,
	KindCommand,
	KindProcStat,
	KindPsutil,
	KindPrometheus,
}

// Config is the complete loadmeter configuration.
type Config struct {
	// Metric is gpu or cpu. It picks the default provider list when
	// Providers is empty.
	Metric Metric `yaml:"metric"`

	// PollInterval is the spacing between samples in daemon and watch
	// mode. Default: 1s
	PollInterval time.Duration `yaml:"poll_interval"`

	// StateFile remembers the last working provider across restarts.
	// Empty disables it.
	// Default: $HOME/.cache/loadmeter/state.cbor
	StateFile string `yaml:"state_file"`

	// StateMaxAge is how old a state file may be before it is ignored.
	// Default: 24h
	StateMaxAge time.Duration `yaml:"state_max_age"`

	// Stabilizer tunes the output filter.
	Stabilizer StabilizerConfig `yaml:"stabilizer"`

	// Providers is the priority list. Empty selects the built-in list
	// for Metric.
	Providers []ProviderConfig `yaml:"providers"`

	// Metrics configures the Prometheus exporter.
	Metrics MetricsConfig `yaml:"metrics"`

	// Log configures the stderr logger.
	Log LogConfig `yaml:"log"`
}

// StabilizerConfig mirrors [stabilize.Config] in file form.
type StabilizerConfig struct {
	FailGrace        time.Duration `yaml:"fail_grace"`
	Alpha            float64       `yaml:"alpha"`
	ZeroConfirm      int           `yaml:"zero_confirm"`
	UnsupportedValue int           `yaml:"unsupported_value"`
}

// ProviderConfig is one entry of the priority list. Which fields apply
// depends on Kind.
type ProviderConfig struct {
	// Kind selects the backend.
	Kind string `yaml:"kind"`

	// Name overrides the provider name used in logs, metrics, and the
	// state file. Only command and prometheus entries accept it, since
	// they are the only kinds that may appear more than once.
	Name string `yaml:"name,omitempty"`

	// Device is the GPU index for nvml. Unset or -1 samples every GPU
	// and reports the busiest.
	Device *int `yaml:"device,omitempty"`

	// Command is the argv for a command entry.
	Command []string `yaml:"command,omitempty"`

	// Timeout bounds one read of a command or prometheus entry.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Address is the Prometheus server URL.
	Address string `yaml:"address,omitempty"`

	// Query is the PromQL expression.
	Query string `yaml:"query,omitempty"`

	// Scale multiplies the query result. Default: 1
	Scale float64 `yaml:"scale,omitempty"`
}

// SlotName returns the name the provider built from this entry
// carries in logs, metrics, and the state file. Names must be unique
// across the providers list.
func (p ProviderConfig) SlotName() string {
	switch p.Kind {
	case KindCommand:
		if p.Name != "" {
			return p.Name
		}
		if len(p.Command) > 0 {
			return KindCommand + ":" + filepath.Base(p.Command[0])
		}
		return KindCommand
	case KindPrometheus:
		if p.Name != "" {
			return p.Name
		}
		return KindPrometheus
	default:
		return p.Kind
	}
}

// DeviceIndex returns the configured device, or -1 when unset.
func (p ProviderConfig) DeviceIndex() int {
	if p.Device == nil {
		return -1
	}
	return *p.Device
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	// Listen is the host:port to serve /metrics on. Empty disables
	// the exporter.
	Listen string `yaml:"listen"`
}

// LogConfig configures the stderr logger.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info
	Level string `yaml:"level"`

	// Format is text or json. Default: text
	Format string `yaml:"format"`
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Default returns the default configuration. LoadFile decodes the file
// on top of it, so every field the file omits keeps its default.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateFile := ""
	if homeDir != "" {
		stateFile = filepath.Join(homeDir, ".cache", "loadmeter", "state.cbor")
	}

	stabilizer := stabilize.DefaultConfig()
	return &Config{
		Metric:       GPU,
		PollInterval: time.Second,
		StateFile:    stateFile,
		StateMaxAge:  24 * time.Hour,
		Stabilizer: StabilizerConfig{
			FailGrace:        stabilizer.FailGrace,
			Alpha:            stabilizer.Alpha,
			ZeroConfirm:      stabilizer.ZeroConfirm,
			UnsupportedValue: stabilizer.UnsupportedValue,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the file named by LOADMETER_CONFIG.
// There is no search path: if the variable is unset, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your loadmeter.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. Files ending in .json or
// .jsonc may carry comments and trailing commas; anything else is
// YAML. Environment variables never override values, they are only
// substituted into path fields that reference them.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := cfg.decode(data, isJSON(path)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// Parse decodes YAML (or, when json is set, JSONC) data on top of the
// defaults. Variables are expanded as in LoadFile.
func Parse(data []byte, json bool) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, json); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func isJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return true
	}
	return false
}

// decode merges data into c. JSON is a subset of YAML, so JSONC only
// needs its comments stripped before the YAML decoder sees it. Unknown
// keys are rejected so a misspelled field does not silently keep its
// default.
func (c *Config) decode(data []byte, json bool) error {
	if json {
		data = jsonc.ToJSON(data)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.StateFile = expandVars(c.StateFile, vars)
	for i := range c.Providers {
		if len(c.Providers[i].Command) > 0 {
			c.Providers[i].Command[0] = expandVars(c.Providers[i].Command[0], vars)
		}
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// StabilizerSettings converts the stabilizer section.
func (c *Config) StabilizerSettings() stabilize.Config {
	return stabilize.Config{
		FailGrace:        c.Stabilizer.FailGrace,
		Alpha:            c.Stabilizer.Alpha,
		ZeroConfirm:      c.Stabilizer.ZeroConfirm,
		UnsupportedValue: c.Stabilizer.UnsupportedValue,
	}
}

// Validate checks the configuration for errors. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Metric != GPU && c.Metric != CPU {
		errs = append(errs, fmt.Errorf("metric must be %q or %q, got %q", GPU, CPU, c.Metric))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval))
	}
	if c.StateMaxAge < 0 {
		errs = append(errs, fmt.Errorf("state_max_age must not be negative, got %v", c.StateMaxAge))
	}
	if err := c.StabilizerSettings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stabilizer: %w", err))
	}

	names := make(map[string]int)
	for i, entry := range c.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		errs = append(errs, entry.validate(prefix)...)
		name := entry.SlotName()
		if previous, ok := names[name]; ok {
			errs = append(errs, fmt.Errorf("%s: name %q already used by providers[%d]", prefix, name, previous))
		} else {
			names[name] = i
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (p ProviderConfig) validate(prefix string) []error {
	var errs []error
	if !slices.Contains(Kinds, p.Kind) {
		return []error{fmt.Errorf("%s: unknown kind %q (want one of %s)", prefix, p.Kind, strings.Join(Kinds, ", "))}
	}
	if p.Name != "" && p.Kind != KindCommand && p.Kind != KindPrometheus {
		errs = append(errs, fmt.Errorf("%s: name is only accepted for %s and %s", prefix, KindCommand, KindPrometheus))
	}
	if p.Device != nil && p.Kind != KindNVML {
		errs = append(errs, fmt.Errorf("%s: device is only accepted for %s", prefix, KindNVML))
	}
	if p.Device != nil && *p.Device < -1 {
		errs = append(errs, fmt.Errorf("%s: device must be -1 or a GPU index, got %d", prefix, *p.Device))
	}
	if p.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s: timeout must not be negative, got %v", prefix, p.Timeout))
	}
	switch p.Kind {
	case KindCommand:
		if len(p.Command) == 0 || p.Command[0] == "" {
			errs = append(errs, fmt.Errorf("%s: command is required", prefix))
		}
	case KindPrometheus:
		if p.Address == "" {
			errs = append(errs, fmt.Errorf("%s: address is required", prefix))
		}
		if p.Query == "" {
			errs = append(errs, fmt.Errorf("%s: query is required", prefix))
		}
		if p.Scale < 0 {
			errs = append(errs, fmt.Errorf("%s: scale must not be negative, got %v", prefix, p.Scale))
		}
	}
	return errs
}

// EnsureStateDirectory creates the directory holding StateFile.
func (c *Config) EnsureStateDirectory() error {
	if c.StateFile == "" {
		return nil
	}
	directory := filepath.Dir(c.StateFile)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	return nil
}
