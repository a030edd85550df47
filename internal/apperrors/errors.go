package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrInvalidCredentials = errors.New("invalid email or password")

	// Access and action token verification failures
	// Expired must be distinguishable from any other failure
	ErrTokenExpired = errors.New("token is expired")
	ErrTokenInvalid = errors.New("token is invalid")

	// Refresh token failures are collapsed into single error: expired, bad signature or rotated away
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrNotVerifiedAccount      = errors.New("account is not verified")
	ErrAlreadyVerified         = errors.New("account is already verified")
	ErrConfirmPasswordMismatch = errors.New("password confirmation does not match")
)

// Stable machine readable error kinds
const (
	KindUserAlreadyExists       = "user_already_exists"
	KindNotFound                = "not_found"
	KindInvalidCredentials      = "invalid_credentials"
	KindTokenExpired            = "token_expired"
	KindTokenInvalid            = "token_invalid"
	KindRefreshTokenInvalid     = "refresh_token_invalid"
	KindUnauthorized            = "unauthorized"
	KindForbidden               = "forbidden"
	KindNotVerifiedAccount      = "not_verified_account"
	KindAlreadyVerified         = "already_verified"
	KindConfirmPasswordMismatch = "confirm_password_mismatch"
	KindValidationFailed        = "validation_failed"
	KindDecodingFailed          = "decoding_failed"
	KindInternal                = "internal_error"
)

var kinds = []struct {
	err    error
	kind   string
	status int
}{
	// Order matters: more specific errors go first
	{ErrRefreshTokenInvalid, KindRefreshTokenInvalid, http.StatusUnauthorized},
	{ErrTokenExpired, KindTokenExpired, http.StatusUnauthorized},
	{ErrTokenInvalid, KindTokenInvalid, http.StatusUnauthorized},
	{ErrUnauthorized, KindUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, KindForbidden, http.StatusForbidden},
	{ErrInvalidCredentials, KindInvalidCredentials, http.StatusUnauthorized},
	{ErrNotVerifiedAccount, KindNotVerifiedAccount, http.StatusBadRequest},
	{ErrAlreadyVerified, KindAlreadyVerified, http.StatusBadRequest},
	{ErrConfirmPasswordMismatch, KindConfirmPasswordMismatch, http.StatusBadRequest},
	{ErrUserAlreadyExists, KindUserAlreadyExists, http.StatusConflict},
	{ErrUserNotFound, KindNotFound, http.StatusNotFound},
	{ErrRoleNotFound, KindNotFound, http.StatusNotFound},
}

// KindOf returns the stable kind of the error or KindInternal if the error is not well known
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// StatusOf returns HTTP status code of the error, 500 if the error is not well known
func StatusOf(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
