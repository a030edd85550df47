package models

import (
	"time"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Session issued by AuthService on login, refresh or email verification
type Session struct {
	User    User
	Access  IssuedToken
	Refresh IssuedToken
}
