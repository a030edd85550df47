package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/handlers/render"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/repository"
)

func handleGetUser(users repository.UserRepo, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			render.Error(w, r, apperrors.ErrUserNotFound)
			return
		}

		user, err := users.GetUserByID(r.Context(), userID)
		if err != nil {
			renderError(w, r, l, err)
			return
		}

		render.JSON(w, newUserResponse(user))
	})
}
