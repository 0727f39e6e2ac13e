// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Metric != GPU {
		t.Errorf("expected metric=gpu, got %s", cfg.Metric)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("expected poll_interval=1s, got %v", cfg.PollInterval)
	}
	if cfg.Stabilizer.UnsupportedValue != -1 {
		t.Errorf("expected unsupported_value=-1, got %d", cfg.Stabilizer.UnsupportedValue)
	}
	if cfg.Stabilizer.ZeroConfirm != 3 {
		t.Errorf("expected zero_confirm=3, got %d", cfg.Stabilizer.ZeroConfirm)
	}
	if len(cfg.Providers) != 0 {
		t.Errorf("expected no explicit providers, got %d", len(cfg.Providers))
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("expected exporter disabled by default, got listen=%q", cfg.Metrics.Listen)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad_RequiresLoadmeterConfig(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when LOADMETER_CONFIG not set, got nil")
	}

	expectedMsg := "LOADMETER_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithLoadmeterConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "loadmeter.yaml")

	configContent := `
metric: cpu
poll_interval: 250ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Metric != CPU {
		t.Errorf("expected metric=cpu, got %s", cfg.Metric)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll_interval=250ms, got %v", cfg.PollInterval)
	}
	// Omitted fields keep their defaults.
	if cfg.Stabilizer.Alpha != 0.4 {
		t.Errorf("expected default alpha=0.4, got %v", cfg.Stabilizer.Alpha)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "loadmeter.yaml")

	configContent := `
metric: gpu
poll_interval: 2s
state_file: /var/lib/loadmeter/state.cbor
state_max_age: 1h
stabilizer:
  fail_grace: 10s
  alpha: 0.5
  zero_confirm: 2
  unsupported_value: 255
providers:
  - kind: nvml
    device: 1
  - kind: command
    name: vendor-tool
    command: ["vendor-tool", "--busy"]
    timeout: 3s
  - kind: prometheus
    address: http://prometheus:9090
    query: avg(gpu_busy_ratio)
    scale: 100
metrics:
  listen: 127.0.0.1:9464
log:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if cfg.StateFile != "/var/lib/loadmeter/state.cbor" {
		t.Errorf("expected state_file=/var/lib/loadmeter/state.cbor, got %s", cfg.StateFile)
	}
	if cfg.StateMaxAge != time.Hour {
		t.Errorf("expected state_max_age=1h, got %v", cfg.StateMaxAge)
	}

	settings := cfg.StabilizerSettings()
	if settings.FailGrace != 10*time.Second || settings.Alpha != 0.5 ||
		settings.ZeroConfirm != 2 || settings.UnsupportedValue != 255 {
		t.Errorf("unexpected stabilizer settings: %+v", settings)
	}

	if len(cfg.Providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(cfg.Providers))
	}
	if got := cfg.Providers[0].DeviceIndex(); got != 1 {
		t.Errorf("expected nvml device=1, got %d", got)
	}
	command := cfg.Providers[1]
	if command.Name != "vendor-tool" || len(command.Command) != 2 || command.Timeout != 3*time.Second {
		t.Errorf("unexpected command provider: %+v", command)
	}
	prometheus := cfg.Providers[2]
	if prometheus.Address != "http://prometheus:9090" || prometheus.Scale != 100 {
		t.Errorf("unexpected prometheus provider: %+v", prometheus)
	}

	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("expected metrics.listen=127.0.0.1:9464, got %s", cfg.Metrics.Listen)
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, %v; want debug", level, err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "loadmeter.jsonc")

	configContent := `{
  // Measure processors instead of graphics.
  "metric": "cpu",
  "providers": [
    {"kind": "psutil"},
    /* fallback */
    {"kind": "procstat"},
  ],
  "metrics": {"listen": "localhost:9464"},
}`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Metric != CPU {
		t.Errorf("expected metric=cpu, got %s", cfg.Metric)
	}
	if len(cfg.Providers) != 2 || cfg.Providers[0].Kind != KindPsutil || cfg.Providers[1].Kind != KindProcStat {
		t.Errorf("unexpected providers: %+v", cfg.Providers)
	}
	if cfg.Metrics.Listen != "localhost:9464" {
		t.Errorf("expected metrics.listen=localhost:9464, got %s", cfg.Metrics.Listen)
	}
}

func TestLoadFile_YAMLKeepsURLs(t *testing.T) {
	// A YAML file must not go through the JSONC stripper, which would
	// treat the "//" in an unquoted URL as a comment.
	cfg, err := Parse([]byte(`
providers:
  - kind: prometheus
    address: http://prometheus:9090
    query: up
`), false)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if got := cfg.Providers[0].Address; got != "http://prometheus:9090" {
		t.Errorf("address = %q", got)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadFile(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	unknownKey := filepath.Join(tmpDir, "unknown.yaml")
	if err := os.WriteFile(unknownKey, []byte("poll_intervall: 1s\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(unknownKey); err == nil {
		t.Error("expected error for misspelled key")
	}

	badDuration := filepath.Join(tmpDir, "duration.yaml")
	if err := os.WriteFile(badDuration, []byte("poll_interval: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(badDuration); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := Parse(nil, false)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}
	if cfg.Metric != GPU || cfg.PollInterval != time.Second {
		t.Errorf("empty file did not yield defaults: %+v", cfg)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/meter")
	t.Setenv("LOADMETER_TOOLS", "/opt/tools")

	cfg, err := Parse([]byte(`
state_file: ${HOME}/state/loadmeter.cbor
providers:
  - kind: command
    command: ["${LOADMETER_TOOLS}/busy", "${HOME}"]
`), false)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if cfg.StateFile != "/home/meter/state/loadmeter.cbor" {
		t.Errorf("state_file = %q", cfg.StateFile)
	}
	if cfg.Providers[0].Command[0] != "/opt/tools/busy" {
		t.Errorf("command[0] = %q", cfg.Providers[0].Command[0])
	}
	// Only the program path is expanded; arguments are passed verbatim.
	if cfg.Providers[0].Command[1] != "${HOME}" {
		t.Errorf("command[1] = %q, want it unexpanded", cfg.Providers[0].Command[1])
	}
}

func TestExpandVars(t *testing.T) {
	vars := map[string]string{
		"HOME":    "/home/user",
		"PROJECT": "loadmeter",
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"${HOME}/.cache", "/home/user/.cache"},
		{"${PROJECT}/state", "loadmeter/state"},
		{"${UNDEFINED:-default}", "default"},
		{"${UNDEFINED}", ""},
		{"no vars here", "no vars here"},
		{"${HOME}/${PROJECT}", "/home/user/loadmeter"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := expandVars(tt.input, vars)
			if result != tt.expected {
				t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	intPointer := func(v int) *int { return &v }

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			modify: func(c *Config) {},
		},
		{
			name:    "unknown metric",
			modify:  func(c *Config) { c.Metric = "disk" },
			wantErr: "metric",
		},
		{
			name:    "zero poll interval",
			modify:  func(c *Config) { c.PollInterval = 0 },
			wantErr: "poll_interval",
		},
		{
			name:    "negative state age",
			modify:  func(c *Config) { c.StateMaxAge = -time.Second },
			wantErr: "state_max_age",
		},
		{
			name:    "alpha out of range",
			modify:  func(c *Config) { c.Stabilizer.Alpha = 1.5 },
			wantErr: "stabilizer",
		},
		{
			name:    "sentinel inside the percentage range",
			modify:  func(c *Config) { c.Stabilizer.UnsupportedValue = 50 },
			wantErr: "stabilizer",
		},
		{
			name:    "unknown kind",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Kind: "cuda"}} },
			wantErr: "unknown kind",
		},
		{
			name:    "command without argv",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Kind: KindCommand}} },
			wantErr: "command is required",
		},
		{
			name:    "prometheus without query",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Kind: KindPrometheus, Address: "http://p:9090"}} },
			wantErr: "query is required",
		},
		{
			name:    "device on the wrong kind",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Kind: KindAMDGPU, Device: intPointer(0)}} },
			wantErr: "device is only accepted",
		},
		{
			name:    "invalid device",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Kind: KindNVML, Device: intPointer(-3)}} },
			wantErr: "device must be",
		},
		{
			name:    "name on a fixed kind",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Kind: KindNVML, Name: "gpu0"}} },
			wantErr: "name is only accepted",
		},
		{
			name: "duplicate provider",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{{Kind: KindProcStat}, {Kind: KindProcStat}}
			},
			wantErr: "already used",
		},
		{
			name: "two commands with distinct names",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{
					{Kind: KindCommand, Name: "a", Command: []string{"a"}},
					{Kind: KindCommand, Name: "b", Command: []string{"b"}},
				}
			},
		},
		{
			name: "two unnamed commands",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{
					{Kind: KindCommand, Command: []string{"true"}},
					{Kind: KindCommand, Command: []string{"/usr/bin/false"}},
				}
			},
		},
		{
			name: "named command colliding with a derived name",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{
					{Kind: KindCommand, Name: "command:true", Command: []string{"vendor-tool"}},
					{Kind: KindCommand, Command: []string{"/bin/true"}},
				}
			},
			wantErr: `name "command:true" already used by providers[0]`,
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSlotName(t *testing.T) {
	tests := []struct {
		entry ProviderConfig
		want  string
	}{
		{ProviderConfig{Kind: KindNVML}, "nvml"},
		{ProviderConfig{Kind: KindNvidiaSMI}, "nvidia-smi"},
		{ProviderConfig{Kind: KindCommand, Command: []string{"/opt/bin/gpu-busy", "-q"}}, "command:gpu-busy"},
		{ProviderConfig{Kind: KindCommand, Name: "vendor", Command: []string{"gpu-busy"}}, "vendor"},
		{ProviderConfig{Kind: KindPrometheus}, "prometheus"},
		{ProviderConfig{Kind: KindPrometheus, Name: "fleet"}, "fleet"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.entry.SlotName(); got != tt.want {
				t.Errorf("SlotName(%+v) = %q, want %q", tt.entry, got, tt.want)
			}
		})
	}
}

func TestValidate_ReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Metric = "disk"
	cfg.PollInterval = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"metric", "poll_interval", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %q, missing %q", err, want)
		}
	}
}

func TestEnsureStateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Default()
	cfg.StateFile = filepath.Join(tmpDir, "nested", "dir", "state.cbor")

	if err := cfg.EnsureStateDirectory(); err != nil {
		t.Fatalf("EnsureStateDirectory() failed: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(cfg.StateFile)); err != nil || !info.IsDir() {
		t.Errorf("state directory not created: %v", err)
	}

	cfg.StateFile = ""
	if err := cfg.EnsureStateDirectory(); err != nil {
		t.Errorf("EnsureStateDirectory() with no state file = %v", err)
	}
}
