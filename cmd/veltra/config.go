package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
	"github.com/veltradev/veltra/internal/models"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultFrontendURL  = "http://localhost:3000"
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultActionTTL    = 15 * time.Minute
	defaultMailWorkers  = 4
)

type Config struct {
	// Default logging level
	LogLevel string `env:"LOG_LEVEL"`

	// Environment: dev or prod
	Environment string `env:"ENVIRONMENT"`

	// Address on which the service will be run
	ListenAddr string `env:"RUN_ADDRESS"`

	// Database to connect to. In-memory storage is used if empty
	DatabaseDSN string `env:"DATABASE_URI"`

	// Redis to queue outgoing mail. Mail is only logged if empty
	RedisURL string `env:"REDIS_URL"`

	// Redis list the mail is queued to
	MailQueueKey string `env:"MAIL_QUEUE_KEY"`

	// Mail provider endpoint the mail worker delivers to
	MailWebhookURL string `env:"MAIL_WEBHOOK_URL"`

	// Mail worker pool size
	MailWorkers int `env:"MAIL_WORKERS"`

	// Secrets to sign tokens with. Access secret signs email action tokens too
	AccessSecret  string `env:"ACCESS_TOKEN_SECRET"`
	RefreshSecret string `env:"REFRESH_TOKEN_SECRET"`

	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL"`
	ActionTTL  time.Duration `env:"ACTION_TOKEN_TTL"`

	// Base url of the frontend, used in email links and as allowed websocket origin
	FrontendURL string `env:"FRONTEND_URL"`

	// Role new users get
	DefaultRole string `env:"DEFAULT_ROLE"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:     defaultLoggingLevel,
		Environment:  defaultEnvironment,
		ListenAddr:   defaultListenAddr,
		MailQueueKey: mailer.DefaultQueueKey,
		MailWorkers:  defaultMailWorkers,
		AccessTTL:    defaultAccessTTL,
		RefreshTTL:   defaultRefreshTTL,
		ActionTTL:    defaultActionTTL,
		FrontendURL:  defaultFrontendURL,
		DefaultRole:  models.RoleUser,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(envMap)
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// Load variables from environment. Options missing in environ keep their values
func (c *Config) LoadEnv(environ map[string]string) error {
	if err := env.ParseWithOptions(c, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Flags to run the server with, flag defaults are the current config values
func (c *Config) ServeFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis url to queue mail to")
	fs.StringVar(&c.AccessSecret, "access-secret", c.AccessSecret, "Secret to sign access tokens")
	fs.StringVar(&c.RefreshSecret, "refresh-secret", c.RefreshSecret, "Secret to sign refresh tokens")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.DurationVar(&c.ActionTTL, "action-ttl", c.ActionTTL, "Email action token lifetime")
	fs.StringVarP(&c.FrontendURL, "frontend-url", "f", c.FrontendURL, "Frontend base url")
	fs.StringVar(&c.DefaultRole, "default-role", c.DefaultRole, "Role of registered users")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
}

// Flags to run migrations with
func (c *Config) MigrateFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
}

// Flags to run the mail worker with
func (c *Config) MailWorkerFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis url to take mail from")
	fs.StringVarP(&c.MailWebhookURL, "webhook", "w", c.MailWebhookURL, "Mail provider url to deliver mail to")
	fs.IntVarP(&c.MailWorkers, "workers", "n", c.MailWorkers, "Number of delivery workers")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
}

func (c *Config) Validate() error {
	var errs []error

	if c.AccessSecret == "" {
		errs = append(errs, errors.New("access token secret is required"))
	}
	if c.RefreshSecret == "" {
		errs = append(errs, errors.New("refresh token secret is required"))
	}
	if c.AccessSecret != "" && c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	for name, ttl := range map[string]time.Duration{"access": c.AccessTTL, "refresh": c.RefreshTTL, "action": c.ActionTTL} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s token ttl must be positive, got %s", name, ttl))
		}
	}

	return errors.Join(errs...)
}
