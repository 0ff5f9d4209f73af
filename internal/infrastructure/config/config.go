// Package config loads service configuration from an optional .env file,
// an optional config file and STOCKFLOW_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// EnvPrefix is prepended to every environment key (STOCKFLOW_SERVER_PORT).
const EnvPrefix = "STOCKFLOW"

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Fulfillment FulfillmentConfig
	Returns     ReturnsConfig
	Audit       AuditConfig
	Worker      WorkerConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64 // requests per second per client, 0 disables
	RateBurst       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string
	Development bool
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds the event stream connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// AuthConfig holds JWT settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
}

// FulfillmentConfig tunes allocation and packaging
type FulfillmentConfig struct {
	MaxItemsPerPackage int
	Strategy           string
	ProductCacheTTL    time.Duration
}

// ReturnsConfig tunes return acceptance
type ReturnsConfig struct {
	Policy         string
	AllowInTransit bool
}

// AuditConfig tunes the audit sink
type AuditConfig struct {
	CompressThreshold int
}

// WorkerConfig holds background job settings
type WorkerConfig struct {
	OutboxInterval  time.Duration
	ReconcileCron   string
	CleanupCron     string
	BatchSize       int
	MaxRetries      int
	OutboxRetention time.Duration
	IdempotencyTTL  time.Duration
	ReconcileLimit  int
	MetricsPort     int // 0 disables the worker /metrics listener
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "stockflow.events")
	v.SetDefault("redis.max_len", 100000)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "stockflow")

	v.SetDefault("fulfillment.max_items_per_package", 0)
	v.SetDefault("fulfillment.strategy", "fefo")
	v.SetDefault("fulfillment.product_cache_ttl", 5*time.Minute)

	v.SetDefault("returns.policy", "true")
	v.SetDefault("returns.allow_in_transit", true)

	v.SetDefault("audit.compress_threshold", 4096)

	v.SetDefault("worker.outbox_interval", 2*time.Second)
	v.SetDefault("worker.reconcile_cron", "@every 5m")
	v.SetDefault("worker.cleanup_cron", "0 3 * * *")
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.max_retries", 5)
	v.SetDefault("worker.outbox_retention", 72*time.Hour)
	v.SetDefault("worker.idempotency_ttl", 24*time.Hour)
	v.SetDefault("worker.reconcile_limit", 500)
	v.SetDefault("worker.metrics_port", 9091)
}

// Load loads configuration.
// Priority (highest to lowest):
// 1. Environment variables with STOCKFLOW_ prefix (e.g., STOCKFLOW_DATABASE_URL)
// 2. .env file in the working directory
// 3. config.yaml
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			RateLimit:       v.GetFloat64("server.rate_limit"),
			RateBurst:       v.GetInt("server.rate_burst"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			MaxConns: v.GetInt32("database.max_conns"),
			MinConns: v.GetInt32("database.min_conns"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Stream:   v.GetString("redis.stream"),
			MaxLen:   v.GetInt64("redis.max_len"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("auth.enabled"),
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Fulfillment: FulfillmentConfig{
			MaxItemsPerPackage: v.GetInt("fulfillment.max_items_per_package"),
			Strategy:           v.GetString("fulfillment.strategy"),
			ProductCacheTTL:    v.GetDuration("fulfillment.product_cache_ttl"),
		},
		Returns: ReturnsConfig{
			Policy:         v.GetString("returns.policy"),
			AllowInTransit: v.GetBool("returns.allow_in_transit"),
		},
		Audit: AuditConfig{
			CompressThreshold: v.GetInt("audit.compress_threshold"),
		},
		Worker: WorkerConfig{
			OutboxInterval:  v.GetDuration("worker.outbox_interval"),
			ReconcileCron:   v.GetString("worker.reconcile_cron"),
			CleanupCron:     v.GetString("worker.cleanup_cron"),
			BatchSize:       v.GetInt("worker.batch_size"),
			MaxRetries:      v.GetInt("worker.max_retries"),
			OutboxRetention: v.GetDuration("worker.outbox_retention"),
			IdempotencyTTL:  v.GetDuration("worker.idempotency_ttl"),
			ReconcileLimit:  v.GetInt("worker.reconcile_limit"),
			MetricsPort:     v.GetInt("worker.metrics_port"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is enabled"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Fulfillment.MaxItemsPerPackage < 0 {
		errs = append(errs, errors.New("fulfillment.max_items_per_package must not be negative"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, errors.New("worker.batch_size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
