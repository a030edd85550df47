package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/models"
)

const (
	defaultSigningMethod   = "HS256"
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultActionTokenTTL  = 15 * time.Minute
)

// Kind of the token. Every kind has its own secret, lifetime and claims
type Kind int

const (
	KindAccess Kind = iota
	KindRefresh
	KindAction // verify email or reset password links
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	case KindAction:
		return "action"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Claims of access and refresh tokens
type UserClaims struct {
	jwt.RegisteredClaims
	ID        uuid.UUID      `json:"id"`
	Email     string         `json:"email"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Role      models.RoleRef `json:"role"`
}

// Claims of action token: user id is stored as 'sub'
type ActionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

func (c ActionClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Token manager with sensible defaults
type Config struct {
	// Secret to sign access and action tokens. Required
	AccessSecret string

	// Secret to sign refresh tokens. Required
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ActionTTL  time.Duration

	// Clock to issue tokens with, time.Now if not set
	Now func() time.Time
}

type kindConfig struct {
	secret []byte
	ttl    time.Duration
}

type TokenManager struct {
	alg   jwt.SigningMethod
	kinds map[Kind]kindConfig
	now   func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use HMAC one", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.ActionTTL, defaultActionTokenTTL)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		alg: alg,
		kinds: map[Kind]kindConfig{
			KindAccess:  {secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
			KindRefresh: {secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
			KindAction:  {secret: []byte(cfg.AccessSecret), ttl: cfg.ActionTTL},
		},
		now: cfg.Now,
	}, nil
}

// TTL of the token kind
func (m *TokenManager) TTL(kind Kind) time.Duration {
	return m.kinds[kind].ttl
}

func (m *TokenManager) IssueAccess(user models.User) (models.IssuedToken, error) {
	return m.issueUser(KindAccess, user)
}

func (m *TokenManager) IssueRefresh(user models.User) (models.IssuedToken, error) {
	return m.issueUser(KindRefresh, user)
}

func (m *TokenManager) IssueAction(user models.User) (models.IssuedToken, error) {
	return issue(m, KindAction, func(rc jwt.RegisteredClaims) jwt.Claims {
		rc.Subject = user.ID.String()
		return ActionClaims{RegisteredClaims: rc, Email: user.Email}
	})
}

func (m *TokenManager) ParseAccess(token string) (UserClaims, error) {
	return m.parseUser(KindAccess, token)
}

func (m *TokenManager) ParseRefresh(token string) (UserClaims, error) {
	return m.parseUser(KindRefresh, token)
}

func (m *TokenManager) ParseAction(token string) (ActionClaims, error) {
	var claims ActionClaims
	if err := m.parse(KindAction, token, &claims); err != nil {
		return claims, err
	}

	if _, err := claims.UserID(); err != nil {
		return claims, fmt.Errorf("action token subject: %w", apperrors.ErrTokenInvalid)
	}

	return claims, nil
}

func (m *TokenManager) issueUser(kind Kind, user models.User) (models.IssuedToken, error) {
	return issue(m, kind, func(rc jwt.RegisteredClaims) jwt.Claims {
		return UserClaims{
			RegisteredClaims: rc,
			ID:               user.ID,
			Email:            user.Email,
			FirstName:        user.FirstName,
			LastName:         user.LastName,
			Role:             user.Role,
		}
	})
}

func (m *TokenManager) parseUser(kind Kind, token string) (UserClaims, error) {
	var claims UserClaims
	if err := m.parse(kind, token, &claims); err != nil {
		return claims, err
	}

	if claims.ID == uuid.Nil {
		return claims, fmt.Errorf("%s token without user id: %w", kind, apperrors.ErrTokenInvalid)
	}

	return claims, nil
}

// issue signs claims built by fn with the kind secret
// Every token gets its own jti, so two tokens issued within the same second never collide
func issue(m *TokenManager, kind Kind, fn func(jwt.RegisteredClaims) jwt.Claims) (models.IssuedToken, error) {
	var issued models.IssuedToken
	cfg := m.kinds[kind]

	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(cfg.ttl)

	claims := fn(jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	value, err := jwt.NewWithClaims(m.alg, claims).SignedString(cfg.secret)
	if err != nil {
		return issued, fmt.Errorf("error while signing %s token. Err: %w", kind, err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

// parse verifies signature and expiry of the token
// Expired token is reported as ErrTokenExpired, any other failure as ErrTokenInvalid
func (m *TokenManager) parse(kind Kind, token string, claims jwt.Claims) error {
	cfg := m.kinds[kind]

	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			return cfg.secret, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%s token: %w", kind, apperrors.ErrTokenExpired)
	default:
		return fmt.Errorf("%s token: %w: %v", kind, apperrors.ErrTokenInvalid, err)
	}
}
