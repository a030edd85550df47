package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/handlers/render"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/models"
	"github.com/veltradev/veltra/internal/repository"
)

func handleGetRole(roles repository.RoleRepo, l logger.Logger) http.Handler {
	type response struct {
		ID          uuid.UUID           `json:"id"`
		Name        string              `json:"name"`
		Description string              `json:"description"`
		IsActive    bool                `json:"isActive"`
		Permissions []models.Permission `json:"permissions"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roleID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			render.Error(w, r, apperrors.ErrRoleNotFound)
			return
		}

		role, err := roles.GetRoleWithPermissions(r.Context(), roleID)
		if err != nil {
			renderError(w, r, l, err)
			return
		}

		perms := role.Permissions
		if perms == nil {
			perms = []models.Permission{}
		}

		render.JSON(w, response{
			ID:          role.ID,
			Name:        role.Name,
			Description: role.Description,
			IsActive:    role.IsActive,
			Permissions: perms,
		})
	})
}
