package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/handlers/render"
	"github.com/veltradev/veltra/internal/handlers/routes"
	"github.com/veltradev/veltra/internal/handlers/userctx"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/metrics"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/service/auth/tokenmanager"
)

var tracer = otel.Tracer("github.com/veltradev/veltra/internal/handlers/middleware")

type authenticator interface {
	// Verify access token of the request
	// Must return apperrors.ErrTokenExpired for expired token and apperrors.ErrTokenInvalid for any other failure
	Authenticate(r *http.Request) (tokenmanager.UserClaims, error)
}

type permissionResolver interface {
	Resolve(ctx context.Context, roleID uuid.UUID) ([]models.Permission, error)
}

// Guard authorizes every request before it reaches the handler
//
//	public route -> pass
//	verify access token -> expired or invalid
//	resolve live permissions of the role -> principal attached to request context
//	skip permission route -> pass
//	permission for (method, route template) -> pass or forbidden
//
// Routes missing in the registry are protected, requests no route matched go to Unmatched
type Guard struct {
	registry *routes.Registry
	auth     authenticator
	resolver permissionResolver
	logger   logger.Logger
	metrics  *metrics.Metrics
}

func NewGuard(registry *routes.Registry, auth authenticator, resolver permissionResolver, l logger.Logger, m *metrics.Metrics) *Guard {
	return &Guard{
		registry: registry,
		auth:     auth,
		resolver: resolver,
		logger:   l,
		metrics:  m,
	}
}

// Middleware has to be attached to routes inline (chi 'With'), so the matched route pattern is known
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			pattern = rctx.RoutePattern()
		}

		route, ok := g.registry.Lookup(r.Method, pattern)
		if !ok {
			// Unknown routes fail closed: token and permission are required
			route = routes.Route{Method: r.Method, Pattern: pattern}
		}

		if route.Public {
			g.decide(metrics.OutcomePublic)
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := tracer.Start(r.Context(), "guard.Authorize", spanOptions(route)...)
		defer span.End()

		principal, err := g.authorize(ctx, r, route)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperrors.KindOf(err))
			g.deny(w, r, route, err)
			return
		}

		span.SetAttributes(attribute.String("user.id", principal.ID.String()))
		span.SetStatus(codes.Ok, "")
		g.decide(metrics.OutcomeAllowed)

		next.ServeHTTP(w, r.WithContext(userctx.New(ctx, principal)))
	})
}

// Unmatched replies to requests no route matched (chi NotFound and MethodNotAllowed)
// Token is verified first, then any principal is forbidden: 404 and 405 are never disclosed
func (g *Guard) Unmatched() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := routes.Route{Method: r.Method}

		_, span := tracer.Start(r.Context(), "guard.Authorize", spanOptions(route)...)
		defer span.End()

		err := apperrors.ErrForbidden
		if _, authErr := g.auth.Authenticate(r); authErr != nil {
			err = authErr
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.KindOf(err))
		g.deny(w, r, route, err)
	}
}

func (g *Guard) authorize(ctx context.Context, r *http.Request, route routes.Route) (models.Principal, error) {
	claims, err := g.auth.Authenticate(r)
	if err != nil {
		return models.Principal{}, err
	}

	perms, err := g.resolver.Resolve(ctx, claims.Role.ID)
	if err != nil {
		return models.Principal{}, err
	}

	principal := models.Principal{
		ID:          claims.ID,
		Email:       claims.Email,
		FirstName:   claims.FirstName,
		LastName:    claims.LastName,
		Role:        claims.Role,
		Permissions: perms,
	}

	if route.SkipPermission {
		return principal, nil
	}

	if !principal.Can(route.Method, route.Template()) {
		return principal, apperrors.ErrForbidden
	}

	return principal, nil
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, route routes.Route, err error) {
	switch {
	case errors.Is(err, apperrors.ErrTokenExpired):
		g.decide(metrics.OutcomeExpired)
	case errors.Is(err, apperrors.ErrTokenInvalid):
		g.decide(metrics.OutcomeInvalid)
	case errors.Is(err, apperrors.ErrForbidden):
		g.decide(metrics.OutcomeForbidden)
	default:
		g.decide(metrics.OutcomeError)
		g.logger.Error("Request authorization failed", "method", r.Method, "route", route.Pattern, "error", err)
		render.Error(w, r, err)
		return
	}

	g.logger.Debug("Request denied", "method", r.Method, "route", route.Pattern, "reason", apperrors.KindOf(err), "error", err)
	render.Error(w, r, err)
}

func (g *Guard) decide(outcome string) {
	if g.metrics != nil {
		g.metrics.GuardDecisions.WithLabelValues(outcome).Inc()
	}
}

func spanOptions(route routes.Route) []trace.SpanStartOption {
	return []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String("http.method", route.Method),
			attribute.String("http.route", route.Pattern),
			attribute.Bool("guard.skip_permission", route.SkipPermission),
		),
	}
}
