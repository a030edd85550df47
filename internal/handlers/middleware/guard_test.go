package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltradev/veltra/internal/handlers/routes"
	"github.com/veltradev/veltra/internal/handlers/userctx"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
	"github.com/veltradev/veltra/internal/metrics"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository/memory"
	"github.com/veltradev/veltra/internal/service/auth"
	"github.com/veltradev/veltra/internal/service/auth/tokenmanager"
	"github.com/veltradev/veltra/internal/service/permission"
)

const (
	testAccessSecret  = "test-access-secret"
	testRefreshSecret = "test-refresh-secret"
)

type guardEnv struct {
	url     string
	tokens  *tokenmanager.TokenManager
	storage *memory.Storage
	metrics *metrics.Metrics
}

// Handler responds with email of the principal found in request context
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := userctx.FromContext(r.Context())
	if !ok {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(p.Email))
})

func newRouter(t *testing.T, guard *Guard, reg *routes.Registry) http.Handler {
	t.Helper()

	r := chi.NewRouter()
	r.NotFound(guard.Unmatched())
	r.MethodNotAllowed(guard.Unmatched())
	for _, route := range reg.Routes() {
		r.With(guard.Middleware).Method(route.Method, route.Pattern, route.Handler)
	}
	// Mounted in router but missing in registry
	r.With(guard.Middleware).Get("/api/v1/unregistered", whoami)

	return r
}

func newRegistry(t *testing.T) *routes.Registry {
	t.Helper()

	reg, err := routes.NewRegistry(
		routes.Route{Method: http.MethodGet, Pattern: "/api/v1/public", Handler: whoami, Public: true},
		routes.Route{Method: http.MethodGet, Pattern: "/api/v1/users/{id}", Handler: whoami},
		routes.Route{Method: http.MethodGet, Pattern: "/api/v1/roles/{id}", Handler: whoami},
		routes.Route{Method: http.MethodGet, Pattern: "/api/v1/account", Handler: whoami, SkipPermission: true},
	)
	require.NoError(t, err)
	return reg
}

func newGuardEnv(t *testing.T) guardEnv {
	t.Helper()

	tokens, err := tokenmanager.New(tokenmanager.Config{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret})
	require.NoError(t, err)

	storage := memory.New()
	authService := auth.NewService(auth.Config{}, tokens, storage, mailer.LogMailer{Logger: logger.NewNoOpLogger()}, logger.NewNoOpLogger())
	m := metrics.New(nil)

	reg := newRegistry(t)
	guard := NewGuard(reg, authService, permission.NewResolver(storage.Role()), logger.NewNoOpLogger(), m)

	srv := httptest.NewServer(newRouter(t, guard, reg))
	t.Cleanup(srv.Close)

	return guardEnv{url: srv.URL, tokens: tokens, storage: storage, metrics: m}
}

func userWithRole(roleID uuid.UUID, roleName string) models.User {
	return models.User{
		ID:    uuid.New(),
		Email: "alice@example.com",
		Role:  models.RoleRef{ID: roleID, Name: roleName},
	}
}

func (e guardEnv) access(t *testing.T, user models.User) string {
	t.Helper()

	token, err := e.tokens.IssueAccess(user)
	require.NoError(t, err)
	return token.Value
}

type result struct {
	status int
	body   string
}

func doGet(t *testing.T, url string, token string) result {
	t.Helper()
	return doRequest(t, http.MethodGet, url, token)
}

func doRequest(t *testing.T, method string, url string, token string) result {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	return result{status: resp.StatusCode, body: string(body)}
}

func TestGuard(t *testing.T) {
	env := newGuardEnv(t)
	user := userWithRole(memory.UserRoleID, models.RoleUser)
	admin := userWithRole(memory.AdminRoleID, models.RoleAdmin)

	expiredToken := func() string {
		past, err := tokenmanager.New(tokenmanager.Config{
			AccessSecret:  testAccessSecret,
			RefreshSecret: testRefreshSecret,
			Now:           func() time.Time { return time.Now().Add(-time.Hour) },
		})
		require.NoError(t, err)
		token, err := past.IssueAccess(user)
		require.NoError(t, err)
		return token.Value
	}()

	foreignToken := func() string {
		other, err := tokenmanager.New(tokenmanager.Config{AccessSecret: "other-secret", RefreshSecret: "other-refresh"})
		require.NoError(t, err)
		token, err := other.IssueAccess(user)
		require.NoError(t, err)
		return token.Value
	}()

	refreshToken := func() string {
		token, err := env.tokens.IssueRefresh(user)
		require.NoError(t, err)
		return token.Value
	}()

	tests := []struct {
		name           string
		path           string
		token          string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "public route without token",
			path:           "/api/v1/public",
			expectedStatus: http.StatusOK,
			expectedBody:   "anonymous",
		},
		{
			name:           "public route ignores broken token",
			path:           "/api/v1/public",
			token:          "garbage",
			expectedStatus: http.StatusOK,
			expectedBody:   "anonymous",
		},
		{
			name:           "no token",
			path:           "/api/v1/users/42",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_invalid"`,
		},
		{
			name:           "expired token",
			path:           "/api/v1/users/42",
			token:          expiredToken,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_expired"`,
		},
		{
			name:           "token signed with other secret",
			path:           "/api/v1/users/42",
			token:          foreignToken,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_invalid"`,
		},
		{
			name:           "refresh token is not access token",
			path:           "/api/v1/users/42",
			token:          refreshToken,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_invalid"`,
		},
		{
			name:           "permitted route",
			path:           "/api/v1/users/42",
			token:          env.access(t, user),
			expectedStatus: http.StatusOK,
			expectedBody:   "alice@example.com",
		},
		{
			name:           "route without permission",
			path:           "/api/v1/roles/42",
			token:          env.access(t, user),
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"error":"forbidden"`,
		},
		{
			name:           "admin has permission",
			path:           "/api/v1/roles/42",
			token:          env.access(t, admin),
			expectedStatus: http.StatusOK,
			expectedBody:   "alice@example.com",
		},
		{
			name:           "skip permission route with token",
			path:           "/api/v1/account",
			token:          env.access(t, userWithRole(uuid.New(), "GHOST")),
			expectedStatus: http.StatusOK,
			expectedBody:   "alice@example.com",
		},
		{
			name:           "skip permission route without token",
			path:           "/api/v1/account",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_invalid"`,
		},
		{
			name:           "unknown role has no permissions",
			path:           "/api/v1/users/42",
			token:          env.access(t, userWithRole(uuid.New(), models.RoleAdmin)),
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"error":"forbidden"`,
		},
		{
			name:           "route missing in registry is protected",
			path:           "/api/v1/unregistered",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_invalid"`,
		},
		{
			name:           "route missing in registry needs permission",
			path:           "/api/v1/unregistered",
			token:          env.access(t, admin),
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"error":"forbidden"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doGet(t, env.url+tt.path, tt.token)

			require.Equalf(t, tt.expectedStatus, res.status, "unexpected status. Body: %s", res.body)
			assert.Contains(t, res.body, tt.expectedBody)
		})
	}
}

func TestGuard_PermissionChangesApplyImmediately(t *testing.T) {
	env := newGuardEnv(t)
	token := env.access(t, userWithRole(memory.UserRoleID, models.RoleUser))

	res := doGet(t, env.url+"/api/v1/roles/1", token)
	require.Equal(t, http.StatusForbidden, res.status)

	role, err := env.storage.Role().GetRoleWithPermissions(t.Context(), memory.UserRoleID)
	require.NoError(t, err)
	role.Permissions = append(role.Permissions, models.Permission{ID: uuid.New(), Method: http.MethodGet, APIPath: "/api/v1/roles/:id"})
	env.storage.PutRole(role)

	res = doGet(t, env.url+"/api/v1/roles/1", token)
	require.Equal(t, http.StatusOK, res.status, "same token, new permission")

	role.IsActive = false
	env.storage.PutRole(role)

	res = doGet(t, env.url+"/api/v1/users/1", token)
	require.Equal(t, http.StatusForbidden, res.status, "inactive role has no permissions")
}

func TestGuard_Metrics(t *testing.T) {
	env := newGuardEnv(t)
	token := env.access(t, userWithRole(memory.UserRoleID, models.RoleUser))

	doGet(t, env.url+"/api/v1/public", "")
	doGet(t, env.url+"/api/v1/users/1", token)
	doGet(t, env.url+"/api/v1/roles/1", token)
	doGet(t, env.url+"/api/v1/users/1", "")

	decisions := env.metrics.GuardDecisions
	assert.Equal(t, float64(1), promtestutil.ToFloat64(decisions.WithLabelValues(metrics.OutcomePublic)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(decisions.WithLabelValues(metrics.OutcomeAllowed)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(decisions.WithLabelValues(metrics.OutcomeForbidden)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(decisions.WithLabelValues(metrics.OutcomeInvalid)))
}

type resolverFunc func(ctx context.Context, roleID uuid.UUID) ([]models.Permission, error)

func (f resolverFunc) Resolve(ctx context.Context, roleID uuid.UUID) ([]models.Permission, error) {
	return f(ctx, roleID)
}

func TestGuard_ResolverFailure(t *testing.T) {
	tokens, err := tokenmanager.New(tokenmanager.Config{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret})
	require.NoError(t, err)
	authService := auth.NewService(auth.Config{}, tokens, memory.New(), mailer.LogMailer{Logger: logger.NewNoOpLogger()}, logger.NewNoOpLogger())

	failing := resolverFunc(func(context.Context, uuid.UUID) ([]models.Permission, error) {
		return nil, errors.New("role store is down")
	})
	reg := newRegistry(t)
	guard := NewGuard(reg, authService, failing, logger.NewNoOpLogger(), nil)
	srv := httptest.NewServer(newRouter(t, guard, reg))
	defer srv.Close()

	token, err := tokens.IssueAccess(userWithRole(memory.UserRoleID, models.RoleUser))
	require.NoError(t, err)

	res := doGet(t, srv.URL+"/api/v1/users/1", token.Value)

	require.Equal(t, http.StatusInternalServerError, res.status)
	assert.Contains(t, res.body, `"error":"internal_error"`)
	assert.NotContains(t, res.body, "role store is down")
}

func TestGuard_Unmatched(t *testing.T) {
	env := newGuardEnv(t)
	user := userWithRole(memory.UserRoleID, models.RoleUser)
	admin := userWithRole(memory.AdminRoleID, models.RoleAdmin)

	expired, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Now:           func() time.Time { return time.Now().Add(-time.Hour) },
	})
	require.NoError(t, err)
	expiredToken, err := expired.IssueAccess(user)
	require.NoError(t, err)

	tests := []struct {
		name           string
		method         string
		path           string
		token          string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "method not registered without token",
			method:         http.MethodDelete,
			path:           "/api/v1/roles/42",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_invalid"`,
		},
		{
			name:           "method not registered with expired token",
			method:         http.MethodDelete,
			path:           "/api/v1/roles/42",
			token:          expiredToken.Value,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_expired"`,
		},
		{
			name:           "method not registered with user token",
			method:         http.MethodDelete,
			path:           "/api/v1/roles/42",
			token:          env.access(t, user),
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"error":"forbidden"`,
		},
		{
			name:           "method not registered with admin token",
			method:         http.MethodPut,
			path:           "/api/v1/users/42",
			token:          env.access(t, admin),
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"error":"forbidden"`,
		},
		{
			name:           "path not registered without token",
			method:         http.MethodGet,
			path:           "/api/v1/nowhere",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"token_invalid"`,
		},
		{
			name:           "path not registered with admin token",
			method:         http.MethodGet,
			path:           "/api/v1/nowhere",
			token:          env.access(t, admin),
			expectedStatus: http.StatusForbidden,
			expectedBody:   `"error":"forbidden"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doRequest(t, tt.method, env.url+tt.path, tt.token)

			require.Equalf(t, tt.expectedStatus, res.status, "unexpected status. Body: %s", res.body)
			assert.Contains(t, res.body, tt.expectedBody)
		})
	}

	assert.Equal(t, float64(3), promtestutil.ToFloat64(env.metrics.GuardDecisions.WithLabelValues(metrics.OutcomeForbidden)))
}
