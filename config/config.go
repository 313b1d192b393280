package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds process configuration read from the environment.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,notEmpty"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret       string        `env:"JWT_SECRET,notEmpty"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	OperatorEmails  []string      `env:"OPERATOR_EMAILS" envSeparator:","`
	HolderAccountID string        `env:"HOLDER_ACCOUNT_ID,notEmpty"`
	DBMaxConns      int32         `env:"DB_MAX_CONNS" envDefault:"16"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Outbox OutboxConfig
}

// OutboxConfig tunes the outbox relay.
type OutboxConfig struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	MaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	WebhookURL   string        `env:"OUTBOX_WEBHOOK_URL"`
}

// Load reads the given .env files (or ./.env when none are given), then
// parses and validates the environment. Variables already set in the
// environment win over .env entries.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Warn("no .env file found, relying on system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if _, err := uuid.Parse(c.HolderAccountID); err != nil {
		errs = append(errs, fmt.Errorf("config: HOLDER_ACCOUNT_ID must be a UUID: %w", err))
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, fmt.Errorf("config: DB_MAX_CONNS must be positive, got %d", c.DBMaxConns))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.Outbox.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: OUTBOX_POLL_INTERVAL must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("config: OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.Outbox.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("config: OUTBOX_MAX_ATTEMPTS must be positive"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Level maps LOG_LEVEL onto a slog level.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown LOG_LEVEL %q", c.LogLevel)
	}
}
