package models

import (
	"github.com/google/uuid"
)

// Principal is the authenticated identity attached to a request
// Permissions are resolved from the role store on every request and never taken from a token
type Principal struct {
	ID          uuid.UUID
	Email       string
	FirstName   string
	LastName    string
	Role        RoleRef
	Permissions []Permission
}

// Can reports whether the principal holds a permission for the method and route template.
// Both fields must be equal, the template is compared as is (not the resolved URL)
func (p Principal) Can(method string, template string) bool {
	for _, perm := range p.Permissions {
		if perm.Method == method && perm.APIPath == template {
			return true
		}
	}
	return false
}
