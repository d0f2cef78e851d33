package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Capture   CaptureConfig   `toml:"capture"`
	Encounter EncounterConfig `toml:"encounter"`
	Logging   LoggingConfig   `toml:"logging"`
	Database  DatabaseConfig  `toml:"database"`
	Scripting ScriptingConfig `toml:"scripting"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

type CaptureConfig struct {
	DeviceFilter string `toml:"device_filter"` // substring match; empty = all devices
	BPF          string `toml:"bpf"`
	SnapLen      int    `toml:"snap_len"`
	Promiscuous  bool   `toml:"promiscuous"`
}

type EncounterConfig struct {
	ResetTimerSeconds uint32 `toml:"reset_timer_seconds"` // 0 = never auto-end
	MaxHistory        uint32 `toml:"max_history"`         // clamped to 0..60
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty = encounter archive disabled
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type ScriptingConfig struct {
	Dir string `toml:"dir"` // empty = hooks disabled
}

type MetricsConfig struct {
	Listen string `toml:"listen"` // empty = endpoint disabled
}

// MaxHistoryBound caps the retained encounter history.
const MaxHistoryBound = 60

// Load reads a TOML config file over the defaults. A missing file is not
// an error; the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) clamp() {
	if c.Encounter.MaxHistory > MaxHistoryBound {
		c.Encounter.MaxHistory = MaxHistoryBound
	}
	if c.Capture.SnapLen <= 0 {
		c.Capture.SnapLen = 65535
	}
	if c.Capture.BPF == "" {
		c.Capture.BPF = "tcp"
	}
}

func defaults() *Config {
	return &Config{
		Capture: CaptureConfig{
			BPF:         "tcp",
			SnapLen:     65535,
			Promiscuous: true,
		},
		Encounter: EncounterConfig{
			ResetTimerSeconds: 5,
			MaxHistory:        10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
	}
}
