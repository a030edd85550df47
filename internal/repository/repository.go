package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user with role and verification flag from the argument
	// If user with email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by it's id or email, role is returned as reference (id and name)
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Save mutable user fields: names, password hash, role, verification flag and refresh token
	// If user not found must return apperrors.ErrUserNotFound
	SaveUser(ctx context.Context, user models.User) (models.User, error)
}

// Role repository interface
type RoleRepo interface {
	// Get role with its ordered permission set
	// If role not found must return apperrors.ErrRoleNotFound
	GetRoleWithPermissions(ctx context.Context, roleID uuid.UUID) (models.Role, error)

	// Get role without permissions
	// If role not found must return apperrors.ErrRoleNotFound
	GetRoleByName(ctx context.Context, name string) (models.Role, error)
}

type Storage interface {
	User() UserRepo
	Role() RoleRepo

	// Run fn within transaction if storage supports it
	InTx(ctx context.Context, fn func(Storage) error) error
}
