package socket

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/service/auth/tokenmanager"
)

type accessVerifier interface {
	// Verify access token of the request
	Authenticate(r *http.Request) (tokenmanager.UserClaims, error)
}

// Identity bound to a connection for its whole lifetime
type Identity struct {
	ID        uuid.UUID      `json:"id"`
	Email     string         `json:"email"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Role      models.RoleRef `json:"role"`
}

// Authenticator checks the access token of a handshake request
type Authenticator struct {
	verifier accessVerifier
}

func NewAuthenticator(verifier accessVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Authenticate returns identity of the handshake request
// Missing, malformed, expired or forged token is ErrUnauthorized, the cause is not exposed
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	claims, err := a.verifier.Authenticate(r)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}

	return Identity{
		ID:        claims.ID,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		Role:      claims.Role,
	}, nil
}
