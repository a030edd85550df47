package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/mailer"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository"
)

type RegisterParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates unverified user with default role and mails verification link
// User is created even if the mail can't be queued: verification may be requested again
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (user models.User, err error) {
	ctx, span := startSpan(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	hash, err := s.cfg.Hasher.Hash(params.Password)
	if err != nil {
		return user, fmt.Errorf("register: %w", err)
	}

	role, err := s.storage.Role().GetRoleByName(ctx, s.cfg.DefaultRole)
	if err != nil {
		return user, fmt.Errorf("register: default role %q: %w", s.cfg.DefaultRole, err)
	}

	user, err = s.storage.User().CreateUser(ctx, models.User{
		Email:        normalizeEmail(params.Email),
		PasswordHash: hash,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Role:         role.Ref(),
		IsVerified:   false,
	})
	if err != nil {
		return user, err
	}

	if err := s.sendActionMail(ctx, user, mailer.TemplateVerifyEmail); err != nil {
		s.logger.Error("Verification mail not sent", "user_id", user.ID, "error", err)
	}

	return user, nil
}

// VerifyEmail marks user verified and logs them in
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (session models.Session, err error) {
	ctx, span := startSpan(ctx, "auth.VerifyEmail")
	defer func() { endSpan(span, err) }()

	user, err := s.actionTokenUser(ctx, token)
	if err != nil {
		return session, err
	}

	if user.IsVerified {
		return session, apperrors.ErrAlreadyVerified
	}

	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		user.IsVerified = true
		if _, err := storage.User().SaveUser(ctx, user); err != nil {
			return fmt.Errorf("verify email: %w", err)
		}

		session, err = s.login(ctx, storage.User(), user.ID)
		return err
	})

	return session, err
}

// ResendVerification mails new verification link
// Unknown email is not an error and nothing is sent, so the response does not reveal registered emails
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.storage.User().GetUserByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.logger.Debug("Verification requested for unknown email")
		return nil
	case err != nil:
		return fmt.Errorf("resend verification: %w", err)
	case user.IsVerified:
		return apperrors.ErrAlreadyVerified
	}

	return s.sendActionMail(ctx, user, mailer.TemplateVerifyEmail)
}

// ForgotPassword mails password reset link
// Unknown email is not an error and nothing is sent
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.storage.User().GetUserByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.logger.Debug("Password reset requested for unknown email")
		return nil
	case err != nil:
		return fmt.Errorf("forgot password: %w", err)
	}

	return s.sendActionMail(ctx, user, mailer.TemplateResetPassword)
}

// ResetPassword sets new password of the action token owner
// Existing session is kept and user is not logged in
func (s *AuthService) ResetPassword(ctx context.Context, token string, password string, confirmPassword string) (err error) {
	ctx, span := startSpan(ctx, "auth.ResetPassword")
	defer func() { endSpan(span, err) }()

	claims, err := s.tokens.ParseAction(token)
	if err != nil {
		return err
	}

	if password != confirmPassword {
		return apperrors.ErrConfirmPasswordMismatch
	}

	userID, _ := claims.UserID() // validated by ParseAction
	user, err := s.storage.User().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return fmt.Errorf("reset password: %w", apperrors.ErrTokenInvalid)
	case err != nil:
		return fmt.Errorf("reset password: %w", err)
	}

	user.PasswordHash, err = s.cfg.Hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	if _, err := s.storage.User().SaveUser(ctx, user); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	return nil
}

// Parse action token and load its owner. Missing owner is ErrTokenInvalid
func (s *AuthService) actionTokenUser(ctx context.Context, token string) (models.User, error) {
	claims, err := s.tokens.ParseAction(token)
	if err != nil {
		return models.User{}, err
	}

	userID, _ := claims.UserID() // validated by ParseAction
	user, err := s.storage.User().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, fmt.Errorf("action token owner: %w", apperrors.ErrTokenInvalid)
	case err != nil:
		return user, fmt.Errorf("action token owner: %w", err)
	}

	return user, nil
}

var mailSubjects = map[string]string{
	mailer.TemplateVerifyEmail:   "Verify your email",
	mailer.TemplateResetPassword: "Reset your password",
}

func (s *AuthService) sendActionMail(ctx context.Context, user models.User, template string) error {
	token, err := s.tokens.IssueAction(user)
	if err != nil {
		return err
	}

	link := s.cfg.FrontendURL + "/" + template + "?token=" + url.QueryEscape(token.Value)

	return s.mailer.SendMail(ctx, user.Email, mailSubjects[template], template, map[string]string{
		"name": user.FullName(),
		"link": link,
	})
}
