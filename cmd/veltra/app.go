package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/veltradev/veltra/internal/db"
	"github.com/veltradev/veltra/internal/handlers"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
	"github.com/veltradev/veltra/internal/metrics"
	"github.com/veltradev/veltra/internal/repository"
	"github.com/veltradev/veltra/internal/repository/memory"
	"github.com/veltradev/veltra/internal/repository/postgres"
	"github.com/veltradev/veltra/internal/service/auth"
	"github.com/veltradev/veltra/internal/service/auth/tokenmanager"
	"github.com/veltradev/veltra/internal/service/permission"
	"github.com/veltradev/veltra/internal/socket"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger

	socket  *socket.Server
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (app *ServerApp, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app = &ServerApp{ListenAddr: c.ListenAddr, Logger: l}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	storage, err := app.openStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	mail, err := app.openMailer(ctx, c)
	if err != nil {
		return nil, err
	}

	// Initialize services
	tokens, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  c.AccessSecret,
		RefreshSecret: c.RefreshSecret,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		ActionTTL:     c.ActionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	authService := auth.NewService(auth.Config{
		FrontendURL: c.FrontendURL,
		DefaultRole: c.DefaultRole,
	}, tokens, storage, mail, l)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Conversations are not persisted yet, membership lives in memory
	app.socket = socket.NewServer(
		socket.Config{CheckOrigin: allowOrigin(c.FrontendURL)},
		socket.NewAuthenticator(authService),
		socket.NewMemoryMembership(),
		l,
		m,
	)

	app.Handler, err = handlers.NewRouter(handlers.RouterConfig{
		Auth:     authService,
		Storage:  storage,
		Resolver: permission.NewResolver(storage.Role()),
		Logger:   l,
		Socket:   app.socket,
		Metrics:  m,
		Gatherer: reg,
	})
	if err != nil {
		return nil, fmt.Errorf("error while building router. Err: %w", err)
	}

	return app, nil
}

// Postgres if configured, in-memory storage otherwise
func (s *ServerApp) openStorage(ctx context.Context, c *Config) (repository.Storage, error) {
	if c.DatabaseDSN == "" {
		s.Logger.Warn("Database is not configured, data is kept in memory")
		return memory.New(), nil
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	return postgres.NewStorage(pool), nil
}

// Redis queue if configured, logging mailer otherwise
func (s *ServerApp) openMailer(ctx context.Context, c *Config) (mailer.Mailer, error) {
	if c.RedisURL == "" {
		s.Logger.Warn("Redis is not configured, mail is only logged")
		return mailer.LogMailer{Logger: s.Logger}, nil
	}

	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("error while parsing redis url. Err: %w", err)
	}

	client := redis.NewClient(opts)
	s.closers = append(s.closers, func() { _ = client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
	}

	return mailer.NewRedisQueue(client, c.MailQueueKey), nil
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by http server
		if err := s.socket.Shutdown(timeoutCtx); err != nil {
			s.Logger.Error("Socket connections are not closed in time", "error", err)
		}
		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}

// Websocket origin check: requests without origin (not a browser) and from the frontend are allowed
func allowOrigin(frontendURL string) func(r *http.Request) bool {
	allowed, err := url.Parse(frontendURL)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		u, parseErr := url.Parse(origin)
		if parseErr != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return err == nil && strings.EqualFold(u.Scheme, allowed.Scheme) && strings.EqualFold(u.Host, allowed.Host)
	}
}
