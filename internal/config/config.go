package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/nusbridge/internal/advdata"
	"github.com/chaz8081/nusbridge/internal/central"
)

// Config holds all application configuration.
type Config struct {
	LogLevel      string           `yaml:"log_level"`
	TargetService string           `yaml:"target_service"`
	MaxPeers      int              `yaml:"max_peers"`
	Scan          ScanConfig       `yaml:"scan"`
	Connection    ConnectionConfig `yaml:"connection"`
	Uplink        UplinkConfig     `yaml:"uplink"`
	Bonds         BondsConfig      `yaml:"bonds"`
	GPIO          GPIOConfig       `yaml:"gpio"`
	Hotkey        HotkeyConfig     `yaml:"hotkey"`
	Sink          SinkConfig       `yaml:"sink"`
	OnFault       string           `yaml:"on_fault"` // "halt" or "exit"
}

// ScanConfig holds scan timing.
type ScanConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Window           time.Duration `yaml:"window"`
	Active           bool          `yaml:"active"`
	WhitelistTimeout time.Duration `yaml:"whitelist_timeout"` // 0 skips the whitelist phase
}

// ConnectionConfig holds the GAP connection parameters. SlaveLatency is not
// sent to the radio, which picks its own; it only sets the floor that
// SupervisionTimeout is checked against.
type ConnectionConfig struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	SlaveLatency       uint16        `yaml:"slave_latency"`
	SupervisionTimeout time.Duration `yaml:"supervision_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// UplinkConfig holds the periodic send settings.
type UplinkConfig struct {
	Interval time.Duration `yaml:"interval"`
	Payload  string        `yaml:"payload"`
}

// BondsConfig holds bond storage locations.
type BondsConfig struct {
	Path       string `yaml:"path"`        // SQLite database
	SecretPath string `yaml:"secret_path"` // 32-byte identity root
}

// GPIOConfig names the GPIO lines for the status LEDs and the erase
// button. All empty means no GPIO panel.
type GPIOConfig struct {
	ScanLED      string `yaml:"scan_led"`
	ConnectedLED string `yaml:"connected_led"`
	AssertLED    string `yaml:"assert_led"`
	EraseButton  string `yaml:"erase_button"`
}

// Enabled reports whether any LED pin is configured.
func (g GPIOConfig) Enabled() bool {
	return g.ScanLED != "" || g.ConnectedLED != "" || g.AssertLED != ""
}

// HotkeyConfig holds the send-button hotkey settings.
type HotkeyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Keys     []string      `yaml:"keys"`
	Debounce time.Duration `yaml:"debounce"`
}

// SinkConfig holds where peer data goes.
type SinkConfig struct {
	Method string `yaml:"method"` // "stdout", "type" or "paste"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nusbridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "nusbridge")

	return &Config{
		LogLevel:      "info",
		TargetService: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		MaxPeers:      1,
		Scan: ScanConfig{
			Interval:         100 * time.Millisecond,
			Window:           50 * time.Millisecond,
			Active:           true,
			WhitelistTimeout: 30 * time.Second,
		},
		Connection: ConnectionConfig{
			MinInterval:        7500 * time.Microsecond,
			MaxInterval:        30 * time.Millisecond,
			SlaveLatency:       0,
			SupervisionTimeout: 4 * time.Second,
			ConnectTimeout:     10 * time.Second,
		},
		Uplink: UplinkConfig{
			Interval: time.Second,
			Payload:  "ping",
		},
		Bonds: BondsConfig{
			Path:       filepath.Join(dataDir, "bonds.db"),
			SecretPath: filepath.Join(dataDir, "identity.key"),
		},
		Hotkey: HotkeyConfig{
			Enabled:  false,
			Keys:     []string{"ctrl", "shift", "u"},
			Debounce: 50 * time.Millisecond,
		},
		Sink: SinkConfig{
			Method: "stdout",
		},
		OnFault: "halt",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in the bond paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Bonds.Path = expandTilde(cfg.Bonds.Path)
	cfg.Bonds.SecretPath = expandTilde(cfg.Bonds.SecretPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if _, err := advdata.ParseUUID(c.TargetService); err != nil {
		return fmt.Errorf("target_service: %w", err)
	}

	if c.MaxPeers < 1 || c.MaxPeers > central.MaxWhitelistAddrs {
		return fmt.Errorf("max_peers must be between 1 and %d, got %d", central.MaxWhitelistAddrs, c.MaxPeers)
	}

	if err := c.Scan.validate(); err != nil {
		return err
	}
	if err := c.Connection.validate(); err != nil {
		return err
	}

	if c.Uplink.Interval <= 0 {
		return errors.New("uplink.interval must be > 0")
	}
	if c.Uplink.Payload == "" {
		return errors.New("uplink.payload must not be empty")
	}

	if c.Bonds.Path == "" {
		return errors.New("bonds.path must not be empty")
	}
	if c.Bonds.SecretPath == "" {
		return errors.New("bonds.secret_path must not be empty")
	}

	if c.Hotkey.Enabled && len(c.Hotkey.Keys) == 0 {
		return errors.New("hotkey.keys must not be empty when hotkey is enabled")
	}
	if c.Hotkey.Debounce < 0 {
		return errors.New("hotkey.debounce must be >= 0")
	}

	switch c.Sink.Method {
	case "stdout", "type", "paste":
	default:
		return fmt.Errorf("sink.method must be \"stdout\", \"type\" or \"paste\", got %q", c.Sink.Method)
	}

	switch c.OnFault {
	case "halt", "exit":
	default:
		return fmt.Errorf("on_fault must be \"halt\" or \"exit\", got %q", c.OnFault)
	}

	return nil
}

func (s ScanConfig) validate() error {
	// Controller limits: 2.5 ms to 10.24 s.
	const lo, hi = 2500 * time.Microsecond, 10240 * time.Millisecond
	if s.Interval < lo || s.Interval > hi {
		return fmt.Errorf("scan.interval must be between %s and %s, got %s", lo, hi, s.Interval)
	}
	if s.Window < lo || s.Window > s.Interval {
		return fmt.Errorf("scan.window must be between %s and scan.interval, got %s", lo, s.Window)
	}
	if s.WhitelistTimeout < 0 {
		return errors.New("scan.whitelist_timeout must be >= 0")
	}
	return nil
}

func (cc ConnectionConfig) validate() error {
	const lo, hi = 7500 * time.Microsecond, 4 * time.Second
	if cc.MinInterval < lo || cc.MinInterval > hi {
		return fmt.Errorf("connection.min_interval must be between %s and %s, got %s", lo, hi, cc.MinInterval)
	}
	if cc.MaxInterval < cc.MinInterval || cc.MaxInterval > hi {
		return fmt.Errorf("connection.max_interval must be between min_interval and %s, got %s", hi, cc.MaxInterval)
	}
	if cc.SlaveLatency > 499 {
		return fmt.Errorf("connection.slave_latency must be <= 499, got %d", cc.SlaveLatency)
	}
	if cc.SupervisionTimeout < 100*time.Millisecond || cc.SupervisionTimeout > 32*time.Second {
		return fmt.Errorf("connection.supervision_timeout must be between 100ms and 32s, got %s", cc.SupervisionTimeout)
	}
	// The link must survive the longest run of skipped connection events.
	if minTimeout := 2 * time.Duration(1+cc.SlaveLatency) * cc.MaxInterval; cc.SupervisionTimeout <= minTimeout {
		return fmt.Errorf("connection.supervision_timeout must exceed %s for this latency and interval", minTimeout)
	}
	if cc.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be > 0")
	}
	return nil
}

// Central converts the config into the central state machine's config.
// Call Validate first.
func (c *Config) Central() (central.Config, error) {
	target, err := advdata.ParseUUID(c.TargetService)
	if err != nil {
		return central.Config{}, fmt.Errorf("target_service: %w", err)
	}
	return central.Config{
		Target:           target,
		MaxPeers:         c.MaxPeers,
		ScanInterval:     c.Scan.Interval,
		ScanWindow:       c.Scan.Window,
		ActiveScan:       c.Scan.Active,
		WhitelistTimeout: c.Scan.WhitelistTimeout,
		Conn: central.ConnParams{
			MinInterval:        c.Connection.MinInterval,
			MaxInterval:        c.Connection.MaxInterval,
			SlaveLatency:       c.Connection.SlaveLatency,
			SupervisionTimeout: c.Connection.SupervisionTimeout,
		},
		UplinkInterval: c.Uplink.Interval,
		Payload:        []byte(c.Uplink.Payload),
	}, nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# nusbridge configuration
# Durations use Go syntax (100ms, 7.5ms, 30s).
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the path written, or "" when a config already
// exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
