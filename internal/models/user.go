package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         RoleRef
	IsVerified   bool

	// The only refresh token that may be redeemed for this user, nil if there is no active session.
	// One user has exactly one session: issuing a new token overwrites the previous one
	RefreshToken *string
}

func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
