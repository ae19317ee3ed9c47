// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr" env:"SETTLEMENT_HTTP_ADDR"`
	PostgresDSN string `yaml:"postgres_dsn" env:"SETTLEMENT_POSTGRES_DSN"`
	LogLevel    string `yaml:"log_level" env:"SETTLEMENT_LOG_LEVEL"`
	AuditPath   string `yaml:"audit_path" env:"SETTLEMENT_AUDIT_PATH"`

	StartLevel uint64 `yaml:"start_level" env:"SETTLEMENT_START_LEVEL"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Entropy     EntropyConfig     `yaml:"entropy"`
	Engine      EngineConfig      `yaml:"engine"`
}

// MaintenanceConfig drives the background settlement passes.
type MaintenanceConfig struct {
	// Schedule is a cron expression for forced maintenance kicks.
	Schedule string        `yaml:"schedule" env:"SETTLEMENT_MAINTENANCE_SCHEDULE"`
	Interval time.Duration `yaml:"interval" env:"SETTLEMENT_MAINTENANCE_INTERVAL"`
	Budget   int           `yaml:"budget" env:"SETTLEMENT_MAINTENANCE_BUDGET"`
}

// EntropyConfig selects the seed source.
type EntropyConfig struct {
	// URL of a drand-style beacon; empty selects the local beacon.
	URL    string        `yaml:"url" env:"SETTLEMENT_ENTROPY_URL"`
	Period time.Duration `yaml:"period" env:"SETTLEMENT_ENTROPY_PERIOD"`
	Delay  time.Duration `yaml:"delay" env:"SETTLEMENT_ENTROPY_DELAY"`
}

// EngineConfig carries the settlement policy knobs.
type EngineConfig struct {
	MaturityStep       uint64 `yaml:"maturity_step" env:"SETTLEMENT_MATURITY_STEP"`
	SaleOffset         uint64 `yaml:"sale_offset" env:"SETTLEMENT_SALE_OFFSET"`
	RedirectMaturities uint64 `yaml:"redirect_maturities" env:"SETTLEMENT_REDIRECT_MATURITIES"`
	RedirectMax        int    `yaml:"redirect_max" env:"SETTLEMENT_REDIRECT_MAX"`
	BoostBps           uint64 `yaml:"boost_bps" env:"SETTLEMENT_BOOST_BPS"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Maintenance: MaintenanceConfig{
			Schedule: "@every 1m",
			Interval: 15 * time.Second,
			Budget:   8,
		},
		Entropy: EntropyConfig{
			Period: 30 * time.Second,
			Delay:  2 * time.Second,
		},
		Engine: EngineConfig{
			MaturityStep:       5,
			SaleOffset:         10,
			RedirectMaturities: 10,
			RedirectMax:        32,
			BoostBps:           15_000,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// non-empty) and environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.Maintenance.Budget <= 0 {
		return Config{}, fmt.Errorf("maintenance budget must be positive")
	}
	if cfg.Engine.MaturityStep == 0 {
		return Config{}, fmt.Errorf("maturity step must be positive")
	}
	return cfg, nil
}
