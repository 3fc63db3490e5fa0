package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP     HTTPServer
	DB       DBConnection
	Redis    Redis
	AMQP     AMQP
	Gateway  Gateway
	Dispatch Dispatch
	Stats    Stats
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

type HTTPServer struct {
	Address string `env:"HTTP_ADDRESS" env-default:":8080"`
}

type DBConnection struct {
	Host     string `env:"DB_HOST" env-default:"localhost"`
	Port     string `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER" env-required:"true"`
	Password string `env:"DB_PASSWORD" env-required:"true"`
	Name     string `env:"DB_NAME" env-required:"true"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`
}

// DSN builds a lib/pq connection string.
func (c DBConnection) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Redis is optional; an empty Addr falls back to in-process locks and no stats cache.
type Redis struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" env-default:"0"`
	LockTTL  time.Duration `env:"QUOTA_LOCK_TTL" env-default:"90s"` // held across the gateway join calls
}

// AMQP is optional; an empty URL keeps delivery events on the in-memory queue.
type AMQP struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" env-default:"delivery_events"`
	Queue    string `env:"AMQP_QUEUE" env-default:"delivery_events.stats"`
}

type Gateway struct {
	BaseURL           string        `env:"GATEWAY_BASE_URL" env-required:"true"`
	Timeout           time.Duration `env:"GATEWAY_TIMEOUT" env-default:"30s"`
	MaxAttempts       int           `env:"GATEWAY_MAX_ATTEMPTS" env-default:"3"`
	DefaultRetryAfter time.Duration `env:"GATEWAY_DEFAULT_RETRY_AFTER" env-default:"5s"`
	RatePerSec        float64       `env:"GATEWAY_RATE_PER_SEC" env-default:"0"`
}

// Dispatch holds the humanization window between recipients.
type Dispatch struct {
	MinDelay time.Duration `env:"DISPATCH_MIN_DELAY" env-default:"5s"`
	MaxDelay time.Duration `env:"DISPATCH_MAX_DELAY" env-default:"7s"`
}

type Stats struct {
	CacheTTL time.Duration `env:"STATS_CACHE_TTL" env-default:"1m"`
}

// Worker is the subset cmd/worker needs.
type Worker struct {
	Redis    Redis
	AMQP     AMQP
	Stats    Stats
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

// Seeder is the subset cmd/seeder needs.
type Seeder struct {
	DB        DBConnection
	SeedFiles []string `env:"SEED_FILES" env-separator:","`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	const op = "config.Load"

	var cfg Config
	if err := read(&cfg, envFiles); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Dispatch.MaxDelay < cfg.Dispatch.MinDelay {
		return nil, fmt.Errorf("%s: DISPATCH_MAX_DELAY %s is below DISPATCH_MIN_DELAY %s", op, cfg.Dispatch.MaxDelay, cfg.Dispatch.MinDelay)
	}
	if cfg.Gateway.MaxAttempts < 1 {
		cfg.Gateway.MaxAttempts = 1
	}
	return &cfg, nil
}

func LoadWorker(envFiles ...string) (*Worker, error) {
	const op = "config.LoadWorker"

	var cfg Worker
	if err := read(&cfg, envFiles); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.AMQP.URL == "" || cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("%s: AMQP_URL and REDIS_ADDR are required", op)
	}
	return &cfg, nil
}

func LoadSeeder(envFiles ...string) (*Seeder, error) {
	const op = "config.LoadSeeder"

	var cfg Seeder
	if err := read(&cfg, envFiles); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func read(cfg any, envFiles []string) error {
	// Missing .env is fine, the OS environment may carry everything.
	_ = godotenv.Load(envFiles...)
	return cleanenv.ReadEnv(cfg)
}
