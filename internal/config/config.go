// Package config loads the paper engine's service configuration.
//
// Values come from, in increasing priority: built-in defaults, an optional
// config.yml in the config directory, a .env file next to it, and PAPER_*
// environment variables (store.driver → PAPER_STORE_DRIVER). The plain
// PORT, DATABASE_URL and REDIS_URL variables are honoured as well.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var drivers = []string{DriverMemory, DriverFile, DriverBadger, DriverSQLite, DriverPostgres}

// Config holds all configuration for the service.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Store      Store      `mapstructure:"store"`
	Redis      Redis      `mapstructure:"redis"`
	Logger     Logger     `mapstructure:"logger"`
	Narratives Narratives `mapstructure:"narratives"`
	Ledger     Ledger     `mapstructure:"ledger"`
}

// Server holds the HTTP server configuration.
type Server struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Store selects and configures the persistence backend.
type Store struct {
	Driver      string `mapstructure:"driver"`
	DataDir     string `mapstructure:"data_dir"`
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	BadgerPath  string `mapstructure:"badger_path"`
}

// Redis configures the optional read-through cache in front of the store.
type Redis struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// Logger holds the logging configuration. File, when set, receives a copy
// of every record and is rotated by size.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Narratives points at an optional YAML catalogue replacing the built-in one.
type Narratives struct {
	File string `mapstructure:"file"`
}

// Ledger configures the paper account.
type Ledger struct {
	StartingBalance string `mapstructure:"starting_balance"`
}

// Balance returns the parsed starting balance.
func (l Ledger) Balance() decimal.Decimal {
	v, err := decimal.NewFromString(l.StartingBalance)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// Load reads configuration from dir. A missing config.yml or .env is not an
// error.
func Load(dir string) (Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix("PAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("server.port", "PAPER_SERVER_PORT", "PORT")
	v.BindEnv("store.database_url", "PAPER_STORE_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("redis.url", "PAPER_REDIS_URL", "REDIS_URL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "data/paper.db")
	v.SetDefault("store.badger_path", "data/badger")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 28)
	v.SetDefault("logger.compress", false)

	v.SetDefault("narratives.file", "")

	v.SetDefault("ledger.starting_balance", "10000")
}

// Validate checks the configuration for values the service cannot start
// with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalidConfig, c.Server.Port)
	}
	if !slices.Contains(drivers, c.Store.Driver) {
		return fmt.Errorf("%w: store.driver %q (want one of %s)", ErrInvalidConfig, c.Store.Driver, strings.Join(drivers, ", "))
	}
	if c.Store.Driver == DriverPostgres && c.Store.DatabaseURL == "" {
		return fmt.Errorf("%w: store.database_url is required for postgres", ErrInvalidConfig)
	}
	if c.Redis.URL != "" && c.Redis.TTL <= 0 {
		return fmt.Errorf("%w: redis.ttl must be positive", ErrInvalidConfig)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logger.Level)) {
		return fmt.Errorf("%w: logger.level %q", ErrInvalidConfig, c.Logger.Level)
	}
	if c.Logger.Format != "json" && c.Logger.Format != "text" {
		return fmt.Errorf("%w: logger.format %q", ErrInvalidConfig, c.Logger.Format)
	}
	balance, err := decimal.NewFromString(c.Ledger.StartingBalance)
	if err != nil || !balance.IsPositive() {
		return fmt.Errorf("%w: ledger.starting_balance %q", ErrInvalidConfig, c.Ledger.StartingBalance)
	}
	return nil
}
