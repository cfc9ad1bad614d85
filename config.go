package queuectl

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process-level configuration for the CLI and workers. Queue
// tuning (max_retries, backoff_base) is not here: it lives in the shared
// store so every worker sees the same values.
type Config struct {
	// Store selects the backend: mongo, postgres, redis or memory.
	Store string `env:"QUEUECTL_STORE" envDefault:"mongo"`

	MongoURI    string `env:"MONGO_URI"    envDefault:"mongodb://localhost:27017/"`
	DBName      string `env:"DB_NAME"      envDefault:"queuectl"`
	PostgresURL string `env:"POSTGRES_URL" envDefault:"postgres://localhost:5432/queuectl?sslmode=disable"`
	RedisURL    string `env:"REDIS_URL"    envDefault:"redis://localhost:6379/0"`

	// RunDir holds the worker PID registry.
	RunDir string `env:"QUEUECTL_RUN_DIR" envDefault:"run"`

	// PollInterval is how long an idle worker sleeps between claim attempts.
	PollInterval time.Duration `env:"QUEUECTL_POLL_INTERVAL" envDefault:"2s"`

	// StopTimeout is how long the supervisor waits after SIGTERM before
	// killing a worker.
	StopTimeout time.Duration `env:"QUEUECTL_STOP_TIMEOUT" envDefault:"5s"`

	// JobTimeout bounds a single command run. Zero means unbounded.
	JobTimeout time.Duration `env:"QUEUECTL_JOB_TIMEOUT" envDefault:"0s"`

	// StaleJobThreshold, when positive, lets idle workers requeue jobs
	// stuck in processing for longer than this. Zero disables it.
	StaleJobThreshold time.Duration `env:"QUEUECTL_STALE_JOB_THRESHOLD" envDefault:"0s"`

	// ClaimRate caps claim attempts per second for each worker. Zero
	// means no cap.
	ClaimRate float64 `env:"QUEUECTL_CLAIM_RATE" envDefault:"0"`

	// AuditLog, when set, is a file every process appends job lifecycle
	// events to as JSON lines.
	AuditLog string `env:"QUEUECTL_AUDIT_LOG"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// DefaultConfig returns a Config with the same defaults LoadConfig applies
// when no environment variables are set.
func DefaultConfig() Config {
	return Config{
		Store:        "mongo",
		MongoURI:     "mongodb://localhost:27017/",
		DBName:       "queuectl",
		PostgresURL:  "postgres://localhost:5432/queuectl?sslmode=disable",
		RedisURL:     "redis://localhost:6379/0",
		RunDir:       "run",
		PollInterval: 2 * time.Second,
		StopTimeout:  5 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// LoadConfig parses Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("queuectl: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c Config) Validate() error {
	switch c.Store {
	case "mongo", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("queuectl: unknown store %q (want mongo, postgres, redis or memory)", c.Store)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("queuectl: QUEUECTL_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("queuectl: QUEUECTL_STOP_TIMEOUT must not be negative, got %s", c.StopTimeout)
	}
	if c.JobTimeout < 0 || c.StaleJobThreshold < 0 {
		return fmt.Errorf("queuectl: durations must not be negative")
	}
	if c.ClaimRate < 0 {
		return fmt.Errorf("queuectl: QUEUECTL_CLAIM_RATE must not be negative, got %g", c.ClaimRate)
	}
	return nil
}
