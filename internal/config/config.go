package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"noreply@postbell.dev"`
	ReplyTo      string `envconfig:"REPLY_TO" default:""`

	// ----------------------------
	// Delivery
	// ----------------------------
	RateLimit     int           `envconfig:"RATE_LIMIT" default:"10"`
	SendRetries   int           `envconfig:"SEND_RETRIES" default:"2"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"5"`
	BatchDelay    time.Duration `envconfig:"BATCH_DELAY" default:"1s"`
	SendTimeout   time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	LedgerTimeout time.Duration `envconfig:"LEDGER_TIMEOUT" default:"5s"`

	// ----------------------------
	// Content
	// ----------------------------
	SiteURL        string   `envconfig:"SITE_URL" default:"http://localhost:3000"`
	TokenSecret    string   `envconfig:"TOKEN_SECRET" required:"true"`
	OperatorEmails []string `envconfig:"OPERATOR_EMAILS"`

	// ----------------------------
	// Retry queue
	// ----------------------------
	QueueMaxAttempts int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	SweepSchedule    string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`
	SweepLimit       int           `envconfig:"SWEEP_LIMIT" default:"50"`
	SweepWorkers     int           `envconfig:"SWEEP_WORKERS" default:"5"`
	ClaimLease       time.Duration `envconfig:"CLAIM_LEASE" default:"10m"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort   string `envconfig:"API_PORT" default:"8080"`
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the delivery pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.New("BATCH_SIZE must be positive")
	case c.BatchDelay <= 0:
		return errors.New("BATCH_DELAY must be positive")
	case c.SendTimeout <= 0:
		return errors.New("SEND_TIMEOUT must be positive")
	case c.QueueMaxAttempts <= 0:
		return errors.New("QUEUE_MAX_ATTEMPTS must be positive")
	case c.SweepLimit <= 0:
		return errors.New("SWEEP_LIMIT must be positive")
	case c.TokenSecret == "":
		return errors.New("TOKEN_SECRET must not be empty")
	case c.JWTSecret == "":
		return errors.New("JWT_SECRET must not be empty")
	}
	return nil
}
