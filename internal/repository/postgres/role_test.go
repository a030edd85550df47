package postgres

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository"
	"github.com/veltradev/veltra/internal/testutil"
)

func Test_RoleRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("seeded roles exist", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RoleRepo{DB: tx}

			for _, name := range []string{models.RoleAdmin, models.RoleUser} {
				role, err := r.GetRoleByName(t.Context(), name)
				require.NoError(t, err)
				assert.Equal(t, name, role.Name)
				assert.True(t, role.IsActive)
				assert.Empty(t, role.Permissions, "permissions are not loaded by name")
			}
		})
	})

	t.Run("role with ordered permissions", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RoleRepo{DB: tx}
			admin, err := r.GetRoleByName(t.Context(), models.RoleAdmin)
			require.NoError(t, err)

			role, err := r.GetRoleWithPermissions(t.Context(), admin.ID)

			require.NoError(t, err)
			require.Len(t, role.Permissions, 2)
			assert.Equal(t, "/api/v1/users/:id", role.Permissions[0].APIPath)
			assert.Equal(t, http.MethodGet, role.Permissions[0].Method)
			assert.Equal(t, "/api/v1/roles/:id", role.Permissions[1].APIPath)
		})
	})

	t.Run("role not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RoleRepo{DB: tx}

			_, err := r.GetRoleWithPermissions(t.Context(), uuid.New())
			require.ErrorIs(t, err, apperrors.ErrRoleNotFound)

			_, err = r.GetRoleByName(t.Context(), "GHOST")
			require.ErrorIs(t, err, apperrors.ErrRoleNotFound)
		})
	})

	t.Run("permission change is visible immediately", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RoleRepo{DB: tx}
			user, err := r.GetRoleByName(t.Context(), models.RoleUser)
			require.NoError(t, err)

			_, err = tx.Exec(t.Context(), `DELETE FROM role_permissions WHERE role_id = $1`, user.ID)
			require.NoError(t, err)

			role, err := r.GetRoleWithPermissions(t.Context(), user.ID)
			require.NoError(t, err)
			assert.Empty(t, role.Permissions)
		})
	})
}

func Test_Storage_InTx(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
		s := NewStorage(tx)
		role, err := s.Role().GetRoleByName(t.Context(), models.RoleUser)
		require.NoError(t, err)

		err = s.InTx(t.Context(), func(s repository.Storage) error {
			_, err := s.User().CreateUser(t.Context(), models.User{Email: "tx@example.com", PasswordHash: "hash", Role: role.Ref()})
			require.NoError(t, err)
			return apperrors.ErrForbidden
		})
		require.ErrorIs(t, err, apperrors.ErrForbidden)

		_, err = s.User().GetUserByEmail(t.Context(), "tx@example.com")
		require.ErrorIs(t, err, apperrors.ErrUserNotFound, "inner transaction must be rolled back")
	})
}
