package models

import (
	"github.com/google/uuid"
)

// Role reference as it embedded to users and token claims
type RoleRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Role struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsActive    bool
	Permissions []Permission // ordered
}

func (r Role) Ref() RoleRef {
	return RoleRef{ID: r.ID, Name: r.Name}
}

// Permission grants access to exactly one (Method, APIPath) pair
// APIPath is a route template like '/api/v1/users/:id'
type Permission struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	APIPath string    `json:"apiPath"`
	Method  string    `json:"method"`
	Module  string    `json:"module"`
}

// Roles seeded by migrations
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)
