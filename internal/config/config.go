package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	// Server
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,required"`

	// NATS
	// NATS_EMBED runs an in-process JetStream server instead of dialing
	// NATS_URL. Good for single-node deployments and local development.
	NatsURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsEmbed    bool   `env:"NATS_EMBED" envDefault:"false"`
	NatsStoreDir string `env:"NATS_STORE_DIR" envDefault:"./data/jetstream"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Queue workers
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"10"`
	WorkerAttempts    int           `env:"WORKER_ATTEMPTS" envDefault:"3"`
	RedeliveryDelay   time.Duration `env:"REDELIVERY_DELAY" envDefault:"5s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// LOG_FILE, if set, rotates logs on disk instead of writing to stderr.
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
