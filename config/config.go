package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"smartengo-backend/internal/util"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Session    SessionConfig    `yaml:"session"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	Env             string  `yaml:"env"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	CORSAllowOrigin string  `yaml:"cors_allow_origin"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// SessionConfig holds the toilet session rules.
type SessionConfig struct {
	Tariff            int64         `yaml:"tariff"`
	MinManualAmount   int64         `yaml:"min_manual_amount"`
	Currency          string        `yaml:"currency"`
	OverstayMinutes   int           `yaml:"overstay_minutes"`
	OverstayThreshold time.Duration `yaml:"-"`

	// Nil means "not configured" so the default can be told apart from an explicit false.
	MaintenanceClearsOccupancy *bool `yaml:"maintenance_clears_occupancy"`
	SensorKeepsMaintenance     bool  `yaml:"sensor_keeps_maintenance"`
}

// MonitorConfig holds the overstay monitor configuration.
type MonitorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// AuthConfig holds the admin authentication configuration.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTLHours int           `yaml:"token_ttl_hours"`
	TokenTTL      time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// RedisConfig enables cross-instance fan-out of the change feed.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// KafkaConfig enables the outbound event stream.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TracingConfig holds the OpenTelemetry exporter configuration.
type TracingConfig struct {
	ServiceName    string `yaml:"service_name"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset value with its default.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 10
	}
	if cfg.Server.CORSAllowOrigin == "" {
		cfg.Server.CORSAllowOrigin = "*"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Session.Tariff <= 0 {
		cfg.Session.Tariff = 200
	}
	if cfg.Session.MinManualAmount <= 0 {
		cfg.Session.MinManualAmount = cfg.Session.Tariff
	}
	if cfg.Session.Currency == "" {
		cfg.Session.Currency = "Frw"
	}
	if cfg.Session.OverstayMinutes <= 0 {
		cfg.Session.OverstayMinutes = 15
	}
	cfg.Session.OverstayThreshold = time.Duration(cfg.Session.OverstayMinutes) * time.Minute
	if cfg.Session.MaintenanceClearsOccupancy == nil {
		clears := true
		cfg.Session.MaintenanceClearsOccupancy = &clears
	}

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 30
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second

	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		util.GetLogger().Warn("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "smartengo:changes"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "toilet-events"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "smartengo-backend"
	}
}
