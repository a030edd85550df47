package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `u.id, u.created_at, u.email, u.password_hash, u.first_name, u.last_name,
	u.role_id, r.name, u.is_verified, u.refresh_token`

const createUser = `-- name: CreateUser
WITH u AS (
	INSERT INTO users (id, email, password_hash, first_name, last_name, role_id, is_verified)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING *
)
SELECT ` + userColumns + `
FROM u JOIN roles r ON r.id = u.role_id
`

func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createUser,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role.ID, user.IsVerified,
	)
	created, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return created, apperrors.ErrUserAlreadyExists
			case pgerrcode.ForeignKeyViolation:
				return created, apperrors.ErrRoleNotFound
			}
		}

		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users u JOIN roles r ON r.id = u.role_id
WHERE u.id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, userID)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + `
FROM users u JOIN roles r ON r.id = u.role_id
WHERE u.email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const saveUser = `-- name: SaveUser
WITH u AS (
	UPDATE users
	SET password_hash = $2,
		first_name = $3,
		last_name = $4,
		role_id = $5,
		is_verified = $6,
		refresh_token = $7
	WHERE id = $1
	RETURNING *
)
SELECT ` + userColumns + `
FROM u JOIN roles r ON r.id = u.role_id
`

func (r *UserRepo) SaveUser(ctx context.Context, user models.User) (models.User, error) {
	rows, _ := r.DB.Query(ctx, saveUser,
		user.ID, user.PasswordHash, user.FirstName, user.LastName, user.Role.ID, user.IsVerified, user.RefreshToken,
	)
	saved, err := collectUser(rows)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return saved, apperrors.ErrRoleNotFound
	}

	return saved, err
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Role.ID, &u.Role.Name, &u.IsVerified, &u.RefreshToken,
	)
	return u, err
}
