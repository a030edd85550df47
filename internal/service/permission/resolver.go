package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository"
)

// Resolver reads the live permission set of a role
// Permissions are never cached or taken from a token, so role changes apply to the very next request
type Resolver struct {
	roles repository.RoleRepo
}

func NewResolver(roles repository.RoleRepo) *Resolver {
	return &Resolver{roles: roles}
}

// Resolve returns permissions of the role
// Unknown or inactive role has no permissions
func (r *Resolver) Resolve(ctx context.Context, roleID uuid.UUID) ([]models.Permission, error) {
	role, err := r.roles.GetRoleWithPermissions(ctx, roleID)

	switch {
	case errors.Is(err, apperrors.ErrRoleNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("resolve permissions of role %s: %w", roleID, err)
	case !role.IsActive:
		return nil, nil
	default:
		return role.Permissions, nil
	}
}
