package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/veltradev/veltra/internal/db"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
	"github.com/veltradev/veltra/internal/service/maildispatch"
)

func main() {
	// Initialize context that cancelled on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Environ(), os.Getwd, os.Args[1:]); err != nil {
		slog.Error("veltra stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

// run loads config (defaults, .env, environment, flags in that order) and executes the command from args
func run(ctx context.Context, environ []string, getwd func() (string, error), args []string) error {
	cfg := NewConfig()
	if err := cfg.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env: %w", err)
	}
	if err := cfg.LoadEnv(env.ToMap(environ)); err != nil {
		return err
	}

	root := rootCmd(cfg)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func rootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "veltra",
		Short:         "Session and authorization service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(cfg), migrateCmd(cfg), mailWorkerCmd(cfg))
	return root
}

func serveCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewServerApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("can't initialize app: %w", err)
			}

			if err := app.Run(cmd.Context()); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		},
	}

	cfg.ServeFlags(cmd.Flags())
	return cmd
}

func migrateCmd(cfg *Config) *cobra.Command {
	var steps int

	requireDSN := func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseDSN == "" {
			return errors.New("database connection string is required")
		}
		return nil
	}

	up := &cobra.Command{
		Use:     "up",
		Short:   "Apply all migrations",
		Args:    cobra.NoArgs,
		PreRunE: requireDSN,
		RunE: func(cmd *cobra.Command, args []string) error {
			return db.Migrate(cfg.DatabaseDSN)
		},
	}

	down := &cobra.Command{
		Use:     "down",
		Short:   "Roll back migrations",
		Args:    cobra.NoArgs,
		PreRunE: requireDSN,
		RunE: func(cmd *cobra.Command, args []string) error {
			return db.Rollback(cfg.DatabaseDSN, steps)
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema",
	}
	cfg.MigrateFlags(cmd.PersistentFlags())
	cmd.AddCommand(up, down)

	return cmd
}

func mailWorkerCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail-worker",
		Short: "Deliver queued mail to the mail provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.RedisURL == "" || cfg.MailWebhookURL == "" {
				return errors.New("redis url and mail webhook url are required")
			}

			l, err := logger.New(cfg.Environment, cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("error while initializing logger: %w", err)
			}

			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("error while parsing redis url. Err: %w", err)
			}
			client := redis.NewClient(opts)
			defer client.Close() // nolint:errcheck

			d := maildispatch.New(
				maildispatch.Config{CountWorkers: cfg.MailWorkers},
				mailer.NewRedisQueue(client, cfg.MailQueueKey),
				maildispatch.NewWebhookClient(cfg.MailWebhookURL, l),
				l,
			)

			l.Info("Starting mail worker", "workers", cfg.MailWorkers)
			<-d.Dispatch(cmd.Context())
			return nil
		},
	}

	cfg.MailWorkerFlags(cmd.Flags())
	return cmd
}
