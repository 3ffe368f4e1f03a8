// Package config loads server configuration from a TOML file with
// sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vecinal/billing-engine/engine"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Billing BillingConfig `toml:"billing"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

type BillingConfig struct {
	// ModulePriority orders modules for same-date allocation ties,
	// highest priority first.
	ModulePriority []string `toml:"module_priority"`

	// FiscalStartMonth is the first month of the fiscal year (1-12).
	FiscalStartMonth int `toml:"fiscal_start_month"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Storage: StorageConfig{Path: "billing.db"},
		Billing: BillingConfig{
			ModulePriority:   []string{string(engine.ModuleDues), string(engine.ModuleWater)},
			FiscalStartMonth: int(time.January),
		},
	}
}

// Load reads a TOML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Billing.FiscalStartMonth < 1 || c.Billing.FiscalStartMonth > 12 {
		return fmt.Errorf("invalid fiscal_start_month %d", c.Billing.FiscalStartMonth)
	}
	return nil
}

// ModulePriority converts the configured order into the engine's
// injected priority table.
func (c Config) ModulePriority() engine.ModulePriority {
	mp := make(engine.ModulePriority, len(c.Billing.ModulePriority))
	for i, m := range c.Billing.ModulePriority {
		mp[engine.Module(m)] = i
	}
	return mp
}

// FiscalCalendar builds the classifier's calendar from config.
func (c Config) FiscalCalendar() engine.FiscalCalendar {
	return engine.FiscalCalendar{StartMonth: time.Month(c.Billing.FiscalStartMonth)}
}
