package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/nusbridge/internal/advdata"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MaxPeers != 1 {
		t.Errorf("MaxPeers = %d, want 1", cfg.MaxPeers)
	}
	if cfg.Scan.Interval != 100*time.Millisecond || cfg.Scan.Window != 50*time.Millisecond {
		t.Errorf("Scan = %s/%s, want 100ms/50ms", cfg.Scan.Interval, cfg.Scan.Window)
	}
	if cfg.Scan.WhitelistTimeout != 30*time.Second {
		t.Errorf("Scan.WhitelistTimeout = %s, want 30s", cfg.Scan.WhitelistTimeout)
	}
	if cfg.Connection.MinInterval != 7500*time.Microsecond || cfg.Connection.MaxInterval != 30*time.Millisecond {
		t.Errorf("Connection interval = %s-%s, want 7.5ms-30ms", cfg.Connection.MinInterval, cfg.Connection.MaxInterval)
	}
	if cfg.Connection.SupervisionTimeout != 4*time.Second {
		t.Errorf("Connection.SupervisionTimeout = %s, want 4s", cfg.Connection.SupervisionTimeout)
	}
	if cfg.Uplink.Interval != time.Second {
		t.Errorf("Uplink.Interval = %s, want 1s", cfg.Uplink.Interval)
	}
	if cfg.Sink.Method != "stdout" {
		t.Errorf("Sink.Method = %q, want %q", cfg.Sink.Method, "stdout")
	}
	if cfg.OnFault != "halt" {
		t.Errorf("OnFault = %q, want %q", cfg.OnFault, "halt")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
log_level: debug
max_peers: 4
scan:
  interval: 200ms
  window: 200ms
  active: false
  whitelist_timeout: 0s
connection:
  min_interval: 15ms
  max_interval: 45ms
  slave_latency: 2
  supervision_timeout: 6s
uplink:
  interval: 5s
  payload: hello
gpio:
  scan_led: GPIO17
  erase_button: GPIO4
hotkey:
  enabled: true
  keys: ["alt", "u"]
sink:
  method: paste
on_fault: exit
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.MaxPeers != 4 {
		t.Errorf("MaxPeers = %d, want 4", cfg.MaxPeers)
	}
	if cfg.Scan.Interval != 200*time.Millisecond || cfg.Scan.Active {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if cfg.Scan.WhitelistTimeout != 0 {
		t.Errorf("Scan.WhitelistTimeout = %s, want 0", cfg.Scan.WhitelistTimeout)
	}
	if cfg.Connection.SlaveLatency != 2 || cfg.Connection.SupervisionTimeout != 6*time.Second {
		t.Errorf("Connection = %+v", cfg.Connection)
	}
	// Unset fields keep their defaults.
	if cfg.Connection.ConnectTimeout != 10*time.Second {
		t.Errorf("Connection.ConnectTimeout = %s, want default 10s", cfg.Connection.ConnectTimeout)
	}
	if cfg.Uplink.Payload != "hello" || cfg.Uplink.Interval != 5*time.Second {
		t.Errorf("Uplink = %+v", cfg.Uplink)
	}
	if !cfg.GPIO.Enabled() || cfg.GPIO.EraseButton != "GPIO4" {
		t.Errorf("GPIO = %+v", cfg.GPIO)
	}
	if !cfg.Hotkey.Enabled || len(cfg.Hotkey.Keys) != 2 || cfg.Hotkey.Keys[0] != "alt" {
		t.Errorf("Hotkey = %+v", cfg.Hotkey)
	}
	if cfg.Sink.Method != "paste" {
		t.Errorf("Sink.Method = %q, want %q", cfg.Sink.Method, "paste")
	}
	if cfg.OnFault != "exit" {
		t.Errorf("OnFault = %q, want %q", cfg.OnFault, "exit")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	cfg, err := Load(writeConfig(t, `
bonds:
  path: ~/bonds/test.db
  secret_path: ~/bonds/identity.key
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "bonds/test.db"); cfg.Bonds.Path != want {
		t.Errorf("Bonds.Path = %q, want %q", cfg.Bonds.Path, want)
	}
	if want := filepath.Join(home, "bonds/identity.key"); cfg.Bonds.SecretPath != want {
		t.Errorf("Bonds.SecretPath = %q, want %q", cfg.Bonds.SecretPath, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "scan:\n  interval: fast\n"))
	if err == nil {
		t.Error("Load() should reject an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "bad target service",
			modify:  func(c *Config) { c.TargetService = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "zero max peers",
			modify:  func(c *Config) { c.MaxPeers = 0 },
			wantErr: true,
		},
		{
			name:    "too many peers",
			modify:  func(c *Config) { c.MaxPeers = 9 },
			wantErr: true,
		},
		{
			name:    "scan window wider than interval",
			modify:  func(c *Config) { c.Scan.Window = 150 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "scan interval too short",
			modify:  func(c *Config) { c.Scan.Interval = time.Millisecond },
			wantErr: true,
		},
		{
			name:    "negative whitelist timeout",
			modify:  func(c *Config) { c.Scan.WhitelistTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "connection interval inverted",
			modify:  func(c *Config) { c.Connection.MaxInterval = 5 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "slave latency too high",
			modify:  func(c *Config) { c.Connection.SlaveLatency = 500 },
			wantErr: true,
		},
		{
			name: "supervision timeout too short for latency",
			modify: func(c *Config) {
				c.Connection.SlaveLatency = 100
				c.Connection.SupervisionTimeout = time.Second
			},
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.Connection.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero uplink interval",
			modify:  func(c *Config) { c.Uplink.Interval = 0 },
			wantErr: true,
		},
		{
			name:    "empty payload",
			modify:  func(c *Config) { c.Uplink.Payload = "" },
			wantErr: true,
		},
		{
			name:    "empty bond path",
			modify:  func(c *Config) { c.Bonds.Path = "" },
			wantErr: true,
		},
		{
			name:    "empty secret path",
			modify:  func(c *Config) { c.Bonds.SecretPath = "" },
			wantErr: true,
		},
		{
			name: "enabled hotkey without keys",
			modify: func(c *Config) {
				c.Hotkey.Enabled = true
				c.Hotkey.Keys = nil
			},
			wantErr: true,
		},
		{
			name:    "disabled hotkey without keys",
			modify:  func(c *Config) { c.Hotkey.Keys = nil },
			wantErr: false,
		},
		{
			name:    "invalid sink method",
			modify:  func(c *Config) { c.Sink.Method = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid on_fault",
			modify:  func(c *Config) { c.OnFault = "reboot" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCentral(t *testing.T) {
	cfg := Default()
	cfg.MaxPeers = 3
	cfg.Uplink.Payload = "hi"

	cc, err := cfg.Central()
	if err != nil {
		t.Fatalf("Central() error = %v", err)
	}
	if cc.Target != advdata.MustParseUUID(cfg.TargetService) {
		t.Errorf("Target = %s, want %s", cc.Target, cfg.TargetService)
	}
	if cc.MaxPeers != 3 {
		t.Errorf("MaxPeers = %d, want 3", cc.MaxPeers)
	}
	if cc.Conn.SupervisionTimeout != cfg.Connection.SupervisionTimeout {
		t.Errorf("Conn.SupervisionTimeout = %s", cc.Conn.SupervisionTimeout)
	}
	if !bytes.Equal(cc.Payload, []byte("hi")) {
		t.Errorf("Payload = %q, want %q", cc.Payload, "hi")
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "nusbridge", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# nusbridge") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Connection.MinInterval != 7500*time.Microsecond {
		t.Errorf("written config Connection.MinInterval = %s, want 7.5ms", cfg.Connection.MinInterval)
	}
	if cfg.Sink.Method != "stdout" {
		t.Errorf("written config Sink.Method = %q, want %q", cfg.Sink.Method, "stdout")
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "nusbridge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("max_peers: 2\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
