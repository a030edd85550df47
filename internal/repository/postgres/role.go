package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/models"
)

type RoleRepo struct {
	DB DBTX
}

const getRoleByID = `-- name: GetRoleByID
SELECT id, name, description, is_active
FROM roles
WHERE id = $1
`

const getRolePermissions = `-- name: GetRolePermissions
SELECT p.id, p.name, p.api_path, p.method, p.module
FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY rp.position, p.name
`

func (r *RoleRepo) GetRoleWithPermissions(ctx context.Context, roleID uuid.UUID) (models.Role, error) {
	rows, _ := r.DB.Query(ctx, getRoleByID, roleID)
	role, err := collectRole(rows)
	if err != nil {
		return role, err
	}

	rows, _ = r.DB.Query(ctx, getRolePermissions, roleID)
	role.Permissions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Permission, error) {
		var p models.Permission
		err := row.Scan(&p.ID, &p.Name, &p.APIPath, &p.Method, &p.Module)
		return p, err
	})
	if err != nil {
		return role, fmt.Errorf("db error: %w", err)
	}

	return role, nil
}

const getRoleByName = `-- name: GetRoleByName
SELECT id, name, description, is_active
FROM roles
WHERE name = $1
`

func (r *RoleRepo) GetRoleByName(ctx context.Context, name string) (models.Role, error) {
	rows, _ := r.DB.Query(ctx, getRoleByName, name)
	return collectRole(rows)
}

func collectRole(rows pgx.Rows) (models.Role, error) {
	role, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.Role, error) {
		var r models.Role
		err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsActive)
		return r, err
	})

	switch {
	case err == nil:
		return role, nil
	case errors.Is(err, pgx.ErrNoRows):
		return role, apperrors.ErrRoleNotFound
	default:
		return role, fmt.Errorf("db error: %w", err)
	}
}
