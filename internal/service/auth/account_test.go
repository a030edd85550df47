package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/mailer"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/service/auth/tokenmanager"
)

func TestAuthService_Register(t *testing.T) {
	params := RegisterParams{
		Email:     "Alice@Example.com",
		Password:  "strong-password",
		FirstName: "Alice",
		LastName:  "Nguyen",
	}

	t.Run("creates unverified user and mails link", func(t *testing.T) {
		env := newTestEnv(t)

		user, err := env.srv.Register(t.Context(), params)

		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, models.RoleUser, user.Role.Name)
		assert.False(t, user.IsVerified)
		assert.NotEqual(t, "strong-password", user.PasswordHash)

		mail := env.mailer.last(t)
		assert.Equal(t, "alice@example.com", mail.To)
		assert.Equal(t, mailer.TemplateVerifyEmail, mail.Template)
		assert.Equal(t, "Alice Nguyen", mail.Data["name"])
		assert.Contains(t, mail.Data["link"], "http://localhost:3000/verify-email?token=")

		claims, err := env.tokens.ParseAction(mail.token(t))
		require.NoError(t, err)
		userID, err := claims.UserID()
		require.NoError(t, err)
		assert.Equal(t, user.ID, userID)
	})

	t.Run("registered user can't login before verification", func(t *testing.T) {
		env := newTestEnv(t)
		user, err := env.srv.Register(t.Context(), params)
		require.NoError(t, err)

		_, err = env.srv.Login(t.Context(), user.ID)

		require.ErrorIs(t, err, apperrors.ErrNotVerifiedAccount)
	})

	t.Run("duplicate email", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.srv.Register(t.Context(), params)
		require.NoError(t, err)

		_, err = env.srv.Register(t.Context(), params)

		require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
	})

	t.Run("mail failure does not fail registration", func(t *testing.T) {
		env := newTestEnv(t)
		env.mailer.err = errors.New("queue is down")

		user, err := env.srv.Register(t.Context(), params)

		require.NoError(t, err)
		_, err = env.storage.User().GetUserByID(t.Context(), user.ID)
		require.NoError(t, err)
	})

	t.Run("unknown default role", func(t *testing.T) {
		env := newTestEnv(t)
		env.srv.cfg.DefaultRole = "GHOST"

		_, err := env.srv.Register(t.Context(), params)

		require.ErrorIs(t, err, apperrors.ErrRoleNotFound)
	})
}

func TestAuthService_VerifyEmail(t *testing.T) {
	t.Run("verifies and logs in", func(t *testing.T) {
		env := newTestEnv(t)
		user, err := env.srv.Register(t.Context(), RegisterParams{Email: "alice@example.com", Password: "pwd"})
		require.NoError(t, err)

		session, err := env.srv.VerifyEmail(t.Context(), env.mailer.last(t).token(t))

		require.NoError(t, err)
		assert.Equal(t, user.ID, session.User.ID)
		assert.True(t, session.User.IsVerified)

		stored, err := env.storage.User().GetUserByID(t.Context(), user.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsVerified)
		require.NotNil(t, stored.RefreshToken)
		assert.Equal(t, session.Refresh.Value, *stored.RefreshToken)
	})

	t.Run("already verified", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.srv.Register(t.Context(), RegisterParams{Email: "alice@example.com", Password: "pwd"})
		require.NoError(t, err)
		token := env.mailer.last(t).token(t)
		_, err = env.srv.VerifyEmail(t.Context(), token)
		require.NoError(t, err)

		_, err = env.srv.VerifyEmail(t.Context(), token)

		require.ErrorIs(t, err, apperrors.ErrAlreadyVerified)
	})

	t.Run("expired token", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice@example.com", "pwd", false)
		past, err := tokenmanager.New(tokenmanager.Config{
			AccessSecret:  "test-access-secret",
			RefreshSecret: "test-refresh-secret",
			Now:           func() time.Time { return time.Now().Add(-time.Hour) },
		})
		require.NoError(t, err)
		token, err := past.IssueAction(user)
		require.NoError(t, err)

		_, err = env.srv.VerifyEmail(t.Context(), token.Value)

		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	})

	t.Run("invalid token", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.srv.VerifyEmail(t.Context(), "garbage")

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("token of unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		token, err := env.tokens.IssueAction(models.User{ID: uuid.New(), Email: "ghost@example.com"})
		require.NoError(t, err)

		_, err = env.srv.VerifyEmail(t.Context(), token.Value)

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})
}

func TestAuthService_ResendVerification(t *testing.T) {
	t.Run("sends new link", func(t *testing.T) {
		env := newTestEnv(t)
		env.createUser(t, "alice@example.com", "pwd", false)

		err := env.srv.ResendVerification(t.Context(), "alice@example.com")

		require.NoError(t, err)
		mail := env.mailer.last(t)
		assert.Equal(t, mailer.TemplateVerifyEmail, mail.Template)
		_, err = env.srv.VerifyEmail(t.Context(), mail.token(t))
		require.NoError(t, err)
	})

	t.Run("already verified", func(t *testing.T) {
		env := newTestEnv(t)
		env.createUser(t, "alice@example.com", "pwd", true)

		err := env.srv.ResendVerification(t.Context(), "alice@example.com")

		require.ErrorIs(t, err, apperrors.ErrAlreadyVerified)
		assert.Empty(t, env.mailer.sent)
	})

	t.Run("unknown email is silently ignored", func(t *testing.T) {
		env := newTestEnv(t)

		err := env.srv.ResendVerification(t.Context(), "ghost@example.com")

		require.NoError(t, err)
		assert.Empty(t, env.mailer.sent)
	})

	t.Run("mail failure is reported", func(t *testing.T) {
		env := newTestEnv(t)
		env.createUser(t, "alice@example.com", "pwd", false)
		env.mailer.err = errors.New("queue is down")

		err := env.srv.ResendVerification(t.Context(), "alice@example.com")

		require.Error(t, err)
	})
}

func TestAuthService_ForgotPassword(t *testing.T) {
	t.Run("sends reset link", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice@example.com", "pwd", true)

		err := env.srv.ForgotPassword(t.Context(), "ALICE@example.com")

		require.NoError(t, err)
		mail := env.mailer.last(t)
		assert.Equal(t, mailer.TemplateResetPassword, mail.Template)
		assert.Contains(t, mail.Data["link"], "http://localhost:3000/reset-password?token=")

		stored, err := env.storage.User().GetUserByID(t.Context(), user.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.RefreshToken, "no session is created")
	})

	t.Run("unknown email is silently ignored", func(t *testing.T) {
		env := newTestEnv(t)

		err := env.srv.ForgotPassword(t.Context(), "ghost@example.com")

		require.NoError(t, err)
		assert.Empty(t, env.mailer.sent)
	})
}

func TestAuthService_ResetPassword(t *testing.T) {
	t.Run("sets new password", func(t *testing.T) {
		env := newTestEnv(t)
		env.createUser(t, "alice@example.com", "old-password", true)
		require.NoError(t, env.srv.ForgotPassword(t.Context(), "alice@example.com"))
		token := env.mailer.last(t).token(t)

		err := env.srv.ResetPassword(t.Context(), token, "new-password", "new-password")

		require.NoError(t, err)
		_, ok, err := env.srv.ValidateUser(t.Context(), "alice@example.com", "new-password")
		require.NoError(t, err)
		assert.True(t, ok)
		_, ok, err = env.srv.ValidateUser(t.Context(), "alice@example.com", "old-password")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("existing session is kept", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice@example.com", "old-password", true)
		session, err := env.srv.Login(t.Context(), user.ID)
		require.NoError(t, err)
		token, err := env.tokens.IssueAction(user)
		require.NoError(t, err)

		err = env.srv.ResetPassword(t.Context(), token.Value, "new-password", "new-password")

		require.NoError(t, err)
		_, err = env.srv.Refresh(t.Context(), session.Refresh.Value)
		require.NoError(t, err)
	})

	t.Run("action token may be used again until it expires", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice@example.com", "old-password", true)
		token, err := env.tokens.IssueAction(user)
		require.NoError(t, err)

		require.NoError(t, env.srv.ResetPassword(t.Context(), token.Value, "first", "first"))
		require.NoError(t, env.srv.ResetPassword(t.Context(), token.Value, "second", "second"))
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice@example.com", "old-password", true)
		token, err := env.tokens.IssueAction(user)
		require.NoError(t, err)

		err = env.srv.ResetPassword(t.Context(), token.Value, "new-password", "other-password")

		require.ErrorIs(t, err, apperrors.ErrConfirmPasswordMismatch)
	})

	t.Run("token is checked before confirmation", func(t *testing.T) {
		env := newTestEnv(t)

		err := env.srv.ResetPassword(t.Context(), "garbage", "a", "b")

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("refresh token is not an action token", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice@example.com", "old-password", true)
		refresh, err := env.tokens.IssueRefresh(user)
		require.NoError(t, err)

		err = env.srv.ResetPassword(t.Context(), refresh.Value, "new-password", "new-password")

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("token of unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		token, err := env.tokens.IssueAction(models.User{ID: uuid.New()})
		require.NoError(t, err)

		err = env.srv.ResetPassword(t.Context(), token.Value, "new-password", "new-password")

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})
}
