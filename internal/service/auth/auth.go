package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository"
	"github.com/veltradev/veltra/internal/service/auth/tokenmanager"
)

const (
	DefaultAccessHeaderName = "Authorization"
	DefaultAccessScheme     = "Bearer"
	DefaultRefreshCookie    = "refreshToken"
)

type Config struct {
	// Header to read and write access token, 'Authorization' if empty
	AccessHeaderName string

	// Scheme the access token prefixed with, 'Bearer' if empty
	AccessScheme string

	// Cookie to keep refresh token in, 'refreshToken' if empty
	RefreshCookieName string

	// Base url for links in emails
	FrontendURL string

	// Role name new users get, 'USER' if empty
	DefaultRole string

	// Password hasher, DefaultHasher if nil
	Hasher PasswordHasher
}

// AuthService checks credentials, issues sessions and runs account flows
// It is the only writer of users refresh token
type AuthService struct {
	cfg     Config
	tokens  *tokenmanager.TokenManager
	storage repository.Storage
	mailer  mailer.Mailer
	logger  logger.Logger

	// Hash compared with when user is not found, so response time does not reveal whether email is registered
	dummyHash     string
	dummyHashOnce sync.Once
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, storage repository.Storage, mail mailer.Mailer, log logger.Logger) *AuthService {
	if cfg.AccessHeaderName == "" {
		cfg.AccessHeaderName = DefaultAccessHeaderName
	}
	if cfg.AccessScheme == "" {
		cfg.AccessScheme = DefaultAccessScheme
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = DefaultRefreshCookie
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = models.RoleUser
	}
	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")

	return &AuthService{
		cfg:     cfg,
		tokens:  tokens,
		storage: storage,
		mailer:  mail,
		logger:  log,
	}
}

// Tokens used by the service
func (s *AuthService) Tokens() *tokenmanager.TokenManager {
	return s.tokens
}

// ValidateUser checks email and password
// Unknown email and wrong password are both reported as ok=false without error
func (s *AuthService) ValidateUser(ctx context.Context, email string, password string) (models.User, bool, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, normalizeEmail(email))

	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.cfg.Hasher.Compare(s.getDummyHash(), password)
		return models.User{}, false, nil
	case err != nil:
		return models.User{}, false, fmt.Errorf("validate user: %w", err)
	}

	if err := s.cfg.Hasher.Compare(user.PasswordHash, password); err != nil {
		return models.User{}, false, nil
	}

	return user, true, nil
}

// Login issues new access and refresh tokens for verified user
// Refresh token is stored on the user, so any previously issued one stops working
func (s *AuthService) Login(ctx context.Context, userID uuid.UUID) (session models.Session, err error) {
	ctx, span := startSpan(ctx, "auth.Login", attribute.String("user.id", userID.String()))
	defer func() { endSpan(span, err) }()

	return s.login(ctx, s.storage.User(), userID)
}

// Refresh exchanges valid refresh token for new session
// Any failure (expired, bad signature, unknown user or already rotated token) is ErrRefreshTokenInvalid
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (session models.Session, err error) {
	ctx, span := startSpan(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return session, fmt.Errorf("%w: %w", apperrors.ErrRefreshTokenInvalid, err)
	}
	span.SetAttributes(attribute.String("user.id", claims.ID.String()))

	user, err := s.storage.User().GetUserByID(ctx, claims.ID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return session, fmt.Errorf("%w: user not found", apperrors.ErrRefreshTokenInvalid)
	case err != nil:
		return session, fmt.Errorf("refresh: %w", err)
	}

	if user.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(refreshToken)) != 1 {
		return session, fmt.Errorf("%w: token is not the current one", apperrors.ErrRefreshTokenInvalid)
	}

	return s.login(ctx, s.storage.User(), user.ID)
}

// Logout drops the stored refresh token
// It is safe to call more than once and for unknown user
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) (err error) {
	ctx, span := startSpan(ctx, "auth.Logout", attribute.String("user.id", userID.String()))
	defer func() { endSpan(span, err) }()

	user, err := s.storage.User().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("logout: %w", err)
	case user.RefreshToken == nil:
		return nil
	}

	user.RefreshToken = nil
	if _, err := s.storage.User().SaveUser(ctx, user); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	return nil
}

// Authenticate reads access token from request header and verifies it
// Missing or malformed header is ErrTokenInvalid
func (s *AuthService) Authenticate(r *http.Request) (tokenmanager.UserClaims, error) {
	token, ok := s.AccessToken(r)
	if !ok {
		return tokenmanager.UserClaims{}, fmt.Errorf("access token header: %w", apperrors.ErrTokenInvalid)
	}

	return s.tokens.ParseAccess(token)
}

// AccessToken returns token from access header if it has expected scheme
func (s *AuthService) AccessToken(r *http.Request) (string, bool) {
	header := r.Header.Get(s.cfg.AccessHeaderName)

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, s.cfg.AccessScheme) {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// SetSession writes access token to response header and refresh token to cookie
// Previous refresh cookie is cleared first
func (s *AuthService) SetSession(w http.ResponseWriter, session models.Session) {
	w.Header().Set(s.cfg.AccessHeaderName, s.cfg.AccessScheme+" "+session.Access.Value)

	s.ClearSession(w)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    session.Refresh.Value,
		Path:     "/",
		MaxAge:   int(s.tokens.TTL(tokenmanager.KindRefresh) / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// ClearSession expires refresh cookie
func (s *AuthService) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// ReadRefreshToken returns refresh token from request cookie
func (s *AuthService) ReadRefreshToken(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.cfg.RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", fmt.Errorf("%w: no refresh cookie", apperrors.ErrRefreshTokenInvalid)
	}

	return cookie.Value, nil
}

func (s *AuthService) login(ctx context.Context, users repository.UserRepo, userID uuid.UUID) (models.Session, error) {
	var session models.Session

	user, err := users.GetUserByID(ctx, userID)
	if err != nil {
		return session, fmt.Errorf("login: %w", err)
	}

	if !user.IsVerified {
		return session, apperrors.ErrNotVerifiedAccount
	}

	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return session, err
	}

	refresh, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return session, err
	}

	// Rotation point: the stored token is the only one that may be redeemed.
	// Concurrent refreshes are not serialized, the last saved token wins
	user.RefreshToken = &refresh.Value
	user, err = users.SaveUser(ctx, user)
	if err != nil {
		return session, fmt.Errorf("login: %w", err)
	}

	return models.Session{User: user, Access: access, Refresh: refresh}, nil
}

func (s *AuthService) getDummyHash() string {
	s.dummyHashOnce.Do(func() {
		hash, err := s.cfg.Hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Error("Cant prepare dummy password hash", "error", err)
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
