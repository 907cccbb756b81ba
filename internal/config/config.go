// Package config loads and validates the monitor's YAML configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/doorman-monitor/internal/sched"
)

// Config holds all application configuration.
type Config struct {
	Lock     LockConfig  `yaml:"lock"`
	Poll     PollConfig  `yaml:"poll"`
	Web      WebConfig   `yaml:"web"`
	Redis    RedisConfig `yaml:"redis"`
	DataDir  string      `yaml:"data_dir"`
	LogLevel string      `yaml:"log_level"`
}

// LockConfig identifies the target lock and its provisioned key.
type LockConfig struct {
	Name                   string  `yaml:"name"`    // BLE local name, e.g. "Aug-A1B2"
	Address                string  `yaml:"address"` // BLE MAC address
	Key                    string  `yaml:"key"`     // hex-encoded symmetric key
	KeyIndex               int     `yaml:"key_index"`
	AlwaysConnected        bool    `yaml:"always_connected"`
	IdleDisconnectDelaySec float64 `yaml:"idle_disconnect_delay_sec"`
}

// PollConfig holds the adaptive polling cadence.
type PollConfig struct {
	ActiveIntervalSec      int `yaml:"active_interval_sec"`
	NormalIntervalSec      int `yaml:"normal_interval_sec"`
	QuietIntervalSec       int `yaml:"quiet_interval_sec"`
	ActiveDecaySec         int `yaml:"active_decay_sec"`
	BatteryPollIntervalSec int `yaml:"battery_poll_interval_sec"`
	QuietHoursStart        int `yaml:"quiet_hours_start"`
	QuietHoursEnd          int `yaml:"quiet_hours_end"`
}

// WebConfig holds the dashboard listen settings.
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig holds the optional Redis state publisher settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "doorman-monitor")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Lock: LockConfig{
			IdleDisconnectDelaySec: 5.1,
		},
		Poll: PollConfig{
			ActiveIntervalSec:      120,
			NormalIntervalSec:      600,
			QuietIntervalSec:       1800,
			ActiveDecaySec:         600,
			BatteryPollIntervalSec: 3600,
			QuietHoursStart:        1,
			QuietHoursEnd:          6,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8099,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		DataDir:  filepath.Join(home, ".doorman-monitor"),
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in data_dir is expanded to the user's home
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

	cfg.DataDir = expandTilde(cfg.DataDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Lock.Key != "" {
		if _, err := hex.DecodeString(c.Lock.Key); err != nil {
			return fmt.Errorf("lock.key must be hex-encoded: %w", err)
		}
	}

	if c.Poll.ActiveIntervalSec <= 0 {
		return fmt.Errorf("poll.active_interval_sec must be > 0")
	}
	if c.Poll.NormalIntervalSec <= 0 {
		return fmt.Errorf("poll.normal_interval_sec must be > 0")
	}
	if c.Poll.QuietIntervalSec <= 0 {
		return fmt.Errorf("poll.quiet_interval_sec must be > 0")
	}
	if c.Poll.ActiveDecaySec <= 0 {
		return fmt.Errorf("poll.active_decay_sec must be > 0")
	}
	if c.Poll.BatteryPollIntervalSec <= 0 {
		return fmt.Errorf("poll.battery_poll_interval_sec must be > 0")
	}
	if c.Poll.QuietHoursStart < 0 || c.Poll.QuietHoursStart > 23 {
		return fmt.Errorf("poll.quiet_hours_start must be 0-23, got %d", c.Poll.QuietHoursStart)
	}
	if c.Poll.QuietHoursEnd < 0 || c.Poll.QuietHoursEnd > 23 {
		return fmt.Errorf("poll.quiet_hours_end must be 0-23, got %d", c.Poll.QuietHoursEnd)
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 1-65535, got %d", c.Web.Port)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty when redis is enabled")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// EventsFile returns the path of the durable change-event log.
func (c *Config) EventsFile() string {
	return filepath.Join(c.DataDir, "events.jsonl")
}

// LockKey returns the decoded symmetric key, or nil when none is
// configured. Validate catches malformed keys before this is called.
func (c *Config) LockKey() []byte {
	if c.Lock.Key == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Lock.Key)
	if err != nil {
		return nil
	}
	return key
}

// SchedulerConfig converts the polling section into the scheduler's
// duration-based form.
func (c *Config) SchedulerConfig() sched.Config {
	return sched.Config{
		ActiveInterval:      time.Duration(c.Poll.ActiveIntervalSec) * time.Second,
		NormalInterval:      time.Duration(c.Poll.NormalIntervalSec) * time.Second,
		QuietInterval:       time.Duration(c.Poll.QuietIntervalSec) * time.Second,
		ActiveDecay:         time.Duration(c.Poll.ActiveDecaySec) * time.Second,
		BatteryPollInterval: time.Duration(c.Poll.BatteryPollIntervalSec) * time.Second,
		QuietHoursStart:     c.Poll.QuietHoursStart,
		QuietHoursEnd:       c.Poll.QuietHoursEnd,
	}
}

// IdleDisconnectDelay returns the idle disconnect delay as a Duration.
func (c *Config) IdleDisconnectDelay() time.Duration {
	return time.Duration(c.Lock.IdleDisconnectDelaySec * float64(time.Second))
}

// ParseLogLevel maps a config log level string to a slog.Level,
// defaulting to info for unknown values.
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

// WriteDefault writes a commented default config to the default path
// if none exists yet. Returns the written path, or "" if a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	cfg := Default()
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	header := "# doorman-monitor configuration\n" +
		"# Run with -scan to find your lock's BLE name and address.\n" +
		"# The lock key is obtained from the vendor cloud during setup.\n\n"
	if err := os.WriteFile(path, append([]byte(header), body...), 0600); err != nil {
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
