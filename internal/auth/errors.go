package auth

import "errors"

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrNotConfigured      = errors.New("auth: admin account not configured")
	ErrTokenInvalid       = errors.New("auth: invalid token")
)
