// Package config loads the settings of the settlement core from a YAML file,
// an optional .env file and AMM_* environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the core.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Market   MarketConfig   `yaml:"market"`
	Payout   PayoutConfig   `yaml:"payout"`
}

// DatabaseConfig selects the transactional store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"required,oneof=postgres sqlite"`
	DSN          string `yaml:"dsn" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=1"`
	LogQueries   bool   `yaml:"log_queries"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type MarketConfig struct {
	// DefaultLiquidityMicros is b for markets opened without an explicit one.
	DefaultLiquidityMicros int64 `yaml:"default_liquidity_micros" validate:"gt=0"`
}

type PayoutConfig struct {
	BatchSize        int     `yaml:"batch_size" validate:"gte=1,lte=10000"`
	BatchesPerSecond float64 `yaml:"batches_per_second" validate:"gt=0"`
}

// Default returns a configuration for a local SQLite database.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "amm.db",
			MaxOpenConns: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Market: MarketConfig{
			DefaultLiquidityMicros: 100_000_000,
		},
		Payout: PayoutConfig{
			BatchSize:        500,
			BatchesPerSecond: 5,
		},
	}
}

// Load reads the YAML file at path on top of Default, then applies
// environment overrides. An empty path skips the file. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("AMM_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("AMM_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("AMM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AMM_PAYOUT_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "AMM_PAYOUT_BATCH_SIZE")
		}
		c.Payout.BatchSize = n
	}
	return nil
}

var validate = validator.New()

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
