// Package memory is in-process storage used in development mode and tests.
// It holds the same roles and permissions the database migrations seed.
package memory

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository"
)

var (
	AdminRoleID = uuid.MustParse("5b0c6f0e-0d8a-4c59-9a3e-3f1f8c1a0001")
	UserRoleID  = uuid.MustParse("5b0c6f0e-0d8a-4c59-9a3e-3f1f8c1a0002")
)

// Roles seeded by database migrations
func DefaultRoles() []models.Role {
	getUser := models.Permission{
		ID:      uuid.MustParse("9d2e7a41-6b1f-4f0e-8c7d-2a4b6c8e0001"),
		Name:    "Get user by id",
		APIPath: "/api/v1/users/:id",
		Method:  http.MethodGet,
		Module:  "USERS",
	}
	getRole := models.Permission{
		ID:      uuid.MustParse("9d2e7a41-6b1f-4f0e-8c7d-2a4b6c8e0002"),
		Name:    "Get role with permissions",
		APIPath: "/api/v1/roles/:id",
		Method:  http.MethodGet,
		Module:  "ROLES",
	}

	return []models.Role{
		{
			ID:          AdminRoleID,
			Name:        models.RoleAdmin,
			Description: "Full access to every guarded route",
			IsActive:    true,
			Permissions: []models.Permission{getUser, getRole},
		},
		{
			ID:          UserRoleID,
			Name:        models.RoleUser,
			Description: "Default role of registered users",
			IsActive:    true,
			Permissions: []models.Permission{getUser},
		},
	}
}

// Storage keeps users and roles in maps guarded by single lock
// There is no compare-and-swap on save: the last writer wins
type Storage struct {
	mu    sync.RWMutex
	users map[uuid.UUID]models.User
	roles map[uuid.UUID]models.Role
}

// New storage with the given roles, DefaultRoles if none given
func New(roles ...models.Role) *Storage {
	if len(roles) == 0 {
		roles = DefaultRoles()
	}

	s := &Storage{
		users: make(map[uuid.UUID]models.User),
		roles: make(map[uuid.UUID]models.Role, len(roles)),
	}
	for _, r := range roles {
		s.roles[r.ID] = cloneRole(r)
	}

	return s
}

func (s *Storage) User() repository.UserRepo {
	return userRepo{s}
}

func (s *Storage) Role() repository.RoleRepo {
	return roleRepo{s}
}

// InTx runs fn against the same storage, there are no transactions in memory
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return fn(s)
}

// PutRole creates or replaces the role. Changes are visible to the next read
func (s *Storage) PutRole(role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles[role.ID] = cloneRole(role)
}

type userRepo struct {
	s *Storage
}

func (r userRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Email == user.Email {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
	}

	role, ok := r.s.roles[user.Role.ID]
	if !ok {
		return models.User{}, apperrors.ErrRoleNotFound
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.Role = role.Ref()
	user.RefreshToken = nil

	r.s.users[user.ID] = cloneUser(user)
	return user, nil
}

func (r userRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[userID]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}

	return cloneUser(user), nil
}

func (r userRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}

	return models.User{}, apperrors.ErrUserNotFound
}

func (r userRepo) SaveUser(ctx context.Context, user models.User) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.users[user.ID]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}

	role, ok := r.s.roles[user.Role.ID]
	if !ok {
		return models.User{}, apperrors.ErrRoleNotFound
	}

	// Identity fields are immutable
	user.Email = stored.Email
	user.CreatedAt = stored.CreatedAt
	user.Role = role.Ref()

	r.s.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

type roleRepo struct {
	s *Storage
}

func (r roleRepo) GetRoleWithPermissions(ctx context.Context, roleID uuid.UUID) (models.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	role, ok := r.s.roles[roleID]
	if !ok {
		return models.Role{}, apperrors.ErrRoleNotFound
	}

	return cloneRole(role), nil
}

func (r roleRepo) GetRoleByName(ctx context.Context, name string) (models.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, role := range r.s.roles {
		if role.Name == name {
			role.Permissions = nil
			return role, nil
		}
	}

	return models.Role{}, apperrors.ErrRoleNotFound
}

func cloneUser(u models.User) models.User {
	if u.RefreshToken != nil {
		token := *u.RefreshToken
		u.RefreshToken = &token
	}
	return u
}

func cloneRole(r models.Role) models.Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}
