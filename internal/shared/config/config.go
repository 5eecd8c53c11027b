package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from environment variables.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Store    StoreConfig    `envPrefix:"STORE_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	RabbitMQ RabbitMQConfig `envPrefix:"RABBITMQ_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	HTTP     HTTPConfig     `envPrefix:"HTTP_"`
	Dispatch DispatchConfig `envPrefix:"DISPATCH_"`
	Gateway  GatewayConfig  `envPrefix:"WS_"`
}

type StoreConfig struct {
	Driver     string `env:"DRIVER" envDefault:"postgres"` // postgres | sqlite
	SQLitePath string `env:"SQLITE_PATH" envDefault:"dispatch.db"`
}

type DatabaseConfig struct {
	Host          string `env:"HOST" envDefault:"localhost"`
	Port          int    `env:"PORT" envDefault:"5432"`
	User          string `env:"USER"`
	Password      string `env:"PASSWORD"`
	Name          string `env:"NAME" envDefault:"dispatch"`
	SSLMode       string `env:"SSLMODE" envDefault:"disable"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	MaxConns      int    `env:"MAX_CONNS" envDefault:"10"`
}

type RabbitMQConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5672"`
	User     string `env:"USER" envDefault:"guest"`
	Password string `env:"PASSWORD" envDefault:"guest"`
	Prefetch int    `env:"PREFETCH" envDefault:"8"`
}

type RedisConfig struct {
	Addr       string `env:"ADDR" envDefault:"localhost:6379"`
	Password   string `env:"PASSWORD"`
	DB         int    `env:"DB" envDefault:"0"`
	Channel    string `env:"CHANNEL" envDefault:"gateway:events"`
	OfferTTLMs int    `env:"OFFER_TTL_MS" envDefault:"86400000"`
}

type HTTPConfig struct {
	Port         int `env:"PORT" envDefault:"8080"`
	MetricsPort  int `env:"METRICS_PORT" envDefault:"8081"`
	ShutdownSecs int `env:"SHUTDOWN_SECONDS" envDefault:"5"`
}

type DispatchConfig struct {
	RadiiKm            []float64 `env:"RADII_KM" envDefault:"5,10,15,20" envSeparator:","`
	TopN               int       `env:"TOP_N" envDefault:"10"`
	FanoutConcurrency  int       `env:"FANOUT_CONCURRENCY" envDefault:"16"`
	CategoryTablePath  string    `env:"CATEGORY_TABLE_PATH"`
	MetricsLogSchedule string    `env:"METRICS_LOG_SCHEDULE" envDefault:"@every 5m"`
}

type GatewayConfig struct {
	MessagesPerSecond float64  `env:"MESSAGES_PER_SECOND" envDefault:"20"`
	Burst             int      `env:"BURST" envDefault:"40"`
	SendBuffer        int      `env:"SEND_BUFFER" envDefault:"64"`
	AllowedOrigins    []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load parses the process environment, applies defaults and validates.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "DB_PORT must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "DB_USER is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "STORE_SQLITE_PATH is required")
		}
	default:
		problems = append(problems, "STORE_DRIVER must be postgres or sqlite")
	}

	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "RABBITMQ_PORT must be in 1..65535")
	}
	if c.RabbitMQ.Prefetch <= 0 {
		problems = append(problems, "RABBITMQ_PREFETCH must be > 0")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		problems = append(problems, "HTTP_PORT must be in 1..65535")
	}

	if len(c.Dispatch.RadiiKm) == 0 {
		problems = append(problems, "DISPATCH_RADII_KM must list at least one radius")
	}
	for i, r := range c.Dispatch.RadiiKm {
		if r <= 0 {
			problems = append(problems, "DISPATCH_RADII_KM values must be > 0")
			break
		}
		if i > 0 && r <= c.Dispatch.RadiiKm[i-1] {
			problems = append(problems, "DISPATCH_RADII_KM must be strictly ascending")
			break
		}
	}
	if c.Dispatch.TopN <= 0 {
		problems = append(problems, "DISPATCH_TOP_N must be > 0")
	}
	if c.Dispatch.FanoutConcurrency <= 0 {
		problems = append(problems, "DISPATCH_FANOUT_CONCURRENCY must be > 0")
	}

	if c.Gateway.MessagesPerSecond <= 0 || c.Gateway.Burst <= 0 {
		problems = append(problems, "WS_MESSAGES_PER_SECOND and WS_BURST must be > 0")
	}
	if c.Gateway.SendBuffer <= 0 {
		problems = append(problems, "WS_SEND_BUFFER must be > 0")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}
