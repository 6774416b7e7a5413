package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/txngate/txngate/internal/domain/models"
)

// Config holds all application configuration
type Config struct {
	// Adapter selects the configured storage engine:
	// postgres, sqlite, redis or memory.
	Adapter string `mapstructure:"adapter"`

	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Registry RegistryConfig `mapstructure:"registry"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string `mapstructure:"level"` // debug, info, warn, error
	Development bool   `mapstructure:"development"`
}

// MetricsConfig holds the Prometheus metrics server configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// RegistryConfig tunes the session registry's leak sweep
type RegistryConfig struct {
	// SweepMaxAgeSeconds is how long a session may stay open before the
	// sweep warns that a callback is likely holding its identifier.
	SweepMaxAgeSeconds int `mapstructure:"sweep_max_age_seconds"`
}

// TransactionSetting is the per-adapter boolean-or-options transaction
// control: disabled entirely, or enabled with engine tuning. A disabled
// adapter silently runs every operation untransacted, overriding any
// per-call request to join.
type TransactionSetting struct {
	Enabled   bool   `mapstructure:"enabled"`
	Isolation string `mapstructure:"isolation"` // read_committed, repeatable_read, serializable
}

// Options converts the setting into the adapter's default TxOptions.
func (s TransactionSetting) Options() models.TxOptions {
	return models.TxOptions{Isolation: models.IsolationLevel(s.Isolation)}
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host         string             `mapstructure:"host"`
	Port         int                `mapstructure:"port"`
	User         string             `mapstructure:"user"`
	Password     string             `mapstructure:"password"`
	Database     string             `mapstructure:"database"`
	SSLMode      string             `mapstructure:"ssl_mode"`
	MaxConns     int32              `mapstructure:"max_conns"`
	MinConns     int32              `mapstructure:"min_conns"`
	Transactions TransactionSetting `mapstructure:"transactions"`
}

// URL returns the PostgreSQL connection string
func (c PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	Path         string             `mapstructure:"path"`
	Transactions TransactionSetting `mapstructure:"transactions"`
}

// RedisConfig holds Redis configuration. Redis never supports coordinated
// transactions here, so there is no transaction setting to tune.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MemoryConfig holds in-memory adapter configuration
type MemoryConfig struct {
	Transactions TransactionSetting `mapstructure:"transactions"`
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("bind %s: %w", b[0], err)
		}
	}
	return nil
}

// Load reads configuration from environment variables using Viper, applies
// defaults, unmarshals and validates.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("adapter", "memory")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("registry.sweep_max_age_seconds", 60)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "txngate")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 25)
	v.SetDefault("postgres.min_conns", 5)
	v.SetDefault("postgres.transactions.enabled", true)
	v.SetDefault("postgres.transactions.isolation", "")
	v.SetDefault("sqlite.path", "txngate.db")
	v.SetDefault("sqlite.transactions.enabled", true)
	v.SetDefault("sqlite.transactions.isolation", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("memory.transactions.enabled", true)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envBindings := [][2]string{
		{"adapter", "TXNGATE_ADAPTER"},
		{"logger.level", "LOG_LEVEL"},
		{"logger.development", "LOG_DEVELOPMENT"},
		{"metrics.enabled", "METRICS_ENABLED"},
		{"metrics.port", "METRICS_PORT"},
		{"registry.sweep_max_age_seconds", "REGISTRY_SWEEP_MAX_AGE_SECONDS"},
		{"postgres.host", "DB_HOST"},
		{"postgres.port", "DB_PORT"},
		{"postgres.user", "DB_USER"},
		{"postgres.password", "DB_PASSWORD"},
		{"postgres.database", "DB_NAME"},
		{"postgres.ssl_mode", "DB_SSL_MODE"},
		{"postgres.max_conns", "DB_MAX_CONNS"},
		{"postgres.min_conns", "DB_MIN_CONNS"},
		{"postgres.transactions.enabled", "DB_TRANSACTIONS_ENABLED"},
		{"postgres.transactions.isolation", "DB_TRANSACTIONS_ISOLATION"},
		{"sqlite.path", "SQLITE_PATH"},
		{"sqlite.transactions.enabled", "SQLITE_TRANSACTIONS_ENABLED"},
		{"sqlite.transactions.isolation", "SQLITE_TRANSACTIONS_ISOLATION"},
		{"redis.address", "REDIS_ADDRESS"},
		{"redis.password", "REDIS_PASSWORD"},
		{"redis.db", "REDIS_DB"},
		{"memory.transactions.enabled", "MEMORY_TRANSACTIONS_ENABLED"},
	}
	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.Adapter {
	case "postgres", "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown adapter %q", c.Adapter)
	}

	for _, setting := range []struct {
		name      string
		isolation string
	}{
		{"postgres", c.Postgres.Transactions.Isolation},
		{"sqlite", c.SQLite.Transactions.Isolation},
		{"memory", c.Memory.Transactions.Isolation},
	} {
		switch models.IsolationLevel(setting.isolation) {
		case models.IsolationDefault, models.IsolationReadCommitted,
			models.IsolationRepeatableRead, models.IsolationSerializable:
		default:
			return fmt.Errorf("%s: unknown isolation level %q", setting.name, setting.isolation)
		}
	}

	if c.Adapter == "postgres" && c.Postgres.Database == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Adapter == "sqlite" && c.SQLite.Path == "" {
		return fmt.Errorf("SQLITE_PATH is required")
	}
	return nil
}
