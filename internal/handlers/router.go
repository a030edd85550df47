package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veltradev/veltra/internal/handlers/middleware"
	"github.com/veltradev/veltra/internal/handlers/routes"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/metrics"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository"
	"github.com/veltradev/veltra/internal/service/auth"
	"github.com/veltradev/veltra/internal/service/auth/tokenmanager"
)

type authService interface {
	// Check credentials. Unknown email and wrong password are ok=false without error
	ValidateUser(ctx context.Context, email string, password string) (models.User, bool, error)

	// Issue session for verified user
	// Has to return apperrors.ErrNotVerifiedAccount if user is not verified
	Login(ctx context.Context, userID uuid.UUID) (models.Session, error)

	// Exchange refresh token for new session
	// Has to return apperrors.ErrRefreshTokenInvalid on any token failure
	Refresh(ctx context.Context, refresh string) (models.Session, error)

	// Drop session of the user, idempotent
	Logout(ctx context.Context, userID uuid.UUID) error

	// Account flows
	Register(ctx context.Context, params auth.RegisterParams) (models.User, error)
	VerifyEmail(ctx context.Context, token string) (models.Session, error)
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token string, password string, confirmPassword string) error

	// Verify access token of the request
	Authenticate(r *http.Request) (tokenmanager.UserClaims, error)

	// Set session tokens (access, refresh) to response
	SetSession(w http.ResponseWriter, session models.Session)
	ClearSession(w http.ResponseWriter)

	// Get refresh token from request
	ReadRefreshToken(r *http.Request) (string, error)
}

type permissionResolver interface {
	Resolve(ctx context.Context, roleID uuid.UUID) ([]models.Permission, error)
}

type RouterConfig struct {
	Auth     authService
	Storage  repository.Storage
	Resolver permissionResolver
	Logger   logger.Logger

	// WebSocket endpoint, not mounted if nil
	Socket http.Handler

	// Metrics are collected if set and exposed on /metrics if Gatherer is set
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Routes of the API with their access tags
func Routes(cfg RouterConfig) []routes.Route {
	authService, l := cfg.Auth, cfg.Logger

	list := []routes.Route{
		{Method: http.MethodPost, Pattern: "/api/v1/auth/register", Handler: handleRegister(authService, l), Public: true},
		{Method: http.MethodPost, Pattern: "/api/v1/auth/login", Handler: handleLogin(authService, l), Public: true},
		{Method: http.MethodGet, Pattern: "/api/v1/auth/refresh", Handler: handleTokenRefresh(authService, l), Public: true},
		{Method: http.MethodPost, Pattern: "/api/v1/auth/verify-email", Handler: handleVerifyEmail(authService, l), Public: true},
		{Method: http.MethodPost, Pattern: "/api/v1/auth/resend-verification", Handler: handleResendVerification(authService, l), Public: true},
		{Method: http.MethodPost, Pattern: "/api/v1/auth/forgot-password", Handler: handleForgotPassword(authService, l), Public: true},
		{Method: http.MethodPost, Pattern: "/api/v1/auth/reset-password", Handler: handleResetPassword(authService, l), Public: true},

		{Method: http.MethodPost, Pattern: "/api/v1/auth/logout", Handler: handleLogout(authService, l), SkipPermission: true},
		{Method: http.MethodGet, Pattern: "/api/v1/auth/account", Handler: handleAccount(), SkipPermission: true},

		{Method: http.MethodGet, Pattern: "/api/v1/users/{id}", Handler: handleGetUser(cfg.Storage.User(), l)},
		{Method: http.MethodGet, Pattern: "/api/v1/roles/{id}", Handler: handleGetRole(cfg.Storage.Role(), l)},
	}

	// Socket authenticates itself on handshake
	if cfg.Socket != nil {
		list = append(list, routes.Route{Method: http.MethodGet, Pattern: "/ws", Handler: cfg.Socket, Public: true})
	}

	return list
}

// NewRouter mounts every route behind the guard
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	registry, err := routes.NewRegistry(Routes(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("build route registry: %w", err)
	}

	guard := middleware.NewGuard(registry, cfg.Auth, cfg.Resolver, cfg.Logger, cfg.Metrics)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(middleware.Instrument(cfg.Metrics))
	}
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.NotFound(guard.Unmatched())
	r.MethodNotAllowed(guard.Unmatched())

	for _, route := range registry.Routes() {
		r.With(guard.Middleware).Method(route.Method, route.Pattern, route.Handler)
	}

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	return r, nil
}
