package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/handlers/render"
	"github.com/veltradev/veltra/internal/handlers/userctx"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/service/auth"
)

type userResponse struct {
	ID         uuid.UUID      `json:"id"`
	Email      string         `json:"email"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	Role       models.RoleRef `json:"role"`
	IsVerified bool           `json:"isVerified"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Role:       u.Role,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

type sessionResponse struct {
	User                 userResponse `json:"user"`
	AccessToken          string       `json:"accessToken"`
	AccessTokenExpiresAt time.Time    `json:"accessTokenExpiresAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Write session to response: tokens to header and cookie, user to body
func renderSession(w http.ResponseWriter, authService authService, session models.Session) {
	authService.SetSession(w, session)
	render.JSON(w, sessionResponse{
		User:                 newUserResponse(session.User),
		AccessToken:          session.Access.Value,
		AccessTokenExpiresAt: session.Access.ExpiresAt,
	})
}

// Render error, not well known errors are logged
func renderError(w http.ResponseWriter, r *http.Request, l logger.Logger, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		l.Error("Request failed", "method", r.Method, "uri", r.RequestURI, "error", err)
	}
	render.Error(w, r, err)
}

func handleRegister(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email     string `json:"email" validate:"required,email,max=255"`
		Password  string `json:"password" validate:"required,min=8,max=128,password"`
		FirstName string `json:"firstName" validate:"max=128"`
		LastName  string `json:"lastName" validate:"max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := authService.Register(r.Context(), auth.RegisterParams{
			Email:     data.Email,
			Password:  data.Password,
			FirstName: data.FirstName,
			LastName:  data.LastName,
		})
		if err != nil {
			renderError(w, r, l, err)
			return
		}

		render.JSONWithStatus(w, newUserResponse(user), http.StatusCreated)
	})
}

func handleLogin(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, ok, err := authService.ValidateUser(r.Context(), data.Email, data.Password)
		switch {
		case err != nil:
			renderError(w, r, l, err)
			return
		case !ok:
			render.Error(w, r, apperrors.ErrInvalidCredentials)
			return
		}

		session, err := authService.Login(r.Context(), user.ID)
		if err != nil {
			renderError(w, r, l, err)
			return
		}

		renderSession(w, authService, session)
	})
}

func handleTokenRefresh(authService authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := authService.ReadRefreshToken(r)
		if err != nil {
			render.Error(w, r, err)
			return
		}

		session, err := authService.Refresh(r.Context(), refresh)
		if err != nil {
			if errors.Is(err, apperrors.ErrRefreshTokenInvalid) {
				authService.ClearSession(w)
			}
			renderError(w, r, l, err)
			return
		}

		renderSession(w, authService, session)
	})
}

func handleLogout(authService authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, r, apperrors.ErrTokenInvalid)
			return
		}

		if err := authService.Logout(r.Context(), principal.ID); err != nil {
			renderError(w, r, l, err)
			return
		}

		authService.ClearSession(w)
		render.JSON(w, messageResponse{Message: "Logged out"})
	})
}

func handleAccount() http.Handler {
	type response struct {
		ID          uuid.UUID           `json:"id"`
		Email       string              `json:"email"`
		FirstName   string              `json:"firstName"`
		LastName    string              `json:"lastName"`
		Role        models.RoleRef      `json:"role"`
		Permissions []models.Permission `json:"permissions"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, r, apperrors.ErrTokenInvalid)
			return
		}

		perms := p.Permissions
		if perms == nil {
			perms = []models.Permission{}
		}

		render.JSON(w, response{
			ID:          p.ID,
			Email:       p.Email,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Role:        p.Role,
			Permissions: perms,
		})
	})
}

func handleVerifyEmail(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Token string `json:"token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.VerifyEmail(r.Context(), data.Token)
		if err != nil {
			renderError(w, r, l, err)
			return
		}

		renderSession(w, authService, session)
	})
}

func handleResendVerification(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := authService.ResendVerification(r.Context(), data.Email); err != nil {
			renderError(w, r, l, err)
			return
		}

		render.JSON(w, messageResponse{Message: "If the account exists, verification email has been sent"})
	})
}

func handleForgotPassword(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := authService.ForgotPassword(r.Context(), data.Email); err != nil {
			renderError(w, r, l, err)
			return
		}

		render.JSON(w, messageResponse{Message: "If the account exists, password reset email has been sent"})
	})
}

func handleResetPassword(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Token           string `json:"token" validate:"required"`
		Password        string `json:"password" validate:"required,min=8,max=128,password"`
		ConfirmPassword string `json:"confirmPassword" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := authService.ResetPassword(r.Context(), data.Token, data.Password, data.ConfirmPassword); err != nil {
			renderError(w, r, l, err)
			return
		}

		render.JSON(w, messageResponse{Message: "Password has been reset"})
	})
}
