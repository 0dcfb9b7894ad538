package leviton

import (
	"errors"
	"fmt"
)

// Sentinel errors for cloud operations. Check with errors.Is().
var (
	// ErrNotAuthenticated is returned when a request is made before Login or
	// RestoreSession.
	ErrNotAuthenticated = errors.New("leviton: not authenticated")

	// ErrTwoFactorRequired means the account has two-factor authentication
	// enabled and the login must be repeated with a code.
	ErrTwoFactorRequired = errors.New("leviton: two-factor code required")

	// ErrLoginFailed covers rejected credentials, a rejected 2FA code and any
	// other non-200 login response.
	ErrLoginFailed = errors.New("leviton: login failed")

	// ErrInvalidLoginResponse means the login response lacked id or userId.
	ErrInvalidLoginResponse = errors.New("leviton: invalid login response")

	// ErrAuthenticationExpired means the token was rejected and could not be
	// renewed without user interaction.
	ErrAuthenticationExpired = errors.New("leviton: authentication expired")

	// ErrRequestFailed wraps unexpected HTTP responses from the directory API.
	ErrRequestFailed = errors.New("leviton: request failed")

	ErrNoResidentialAccount = errors.New("leviton: no residential account")
	ErrNoResidence          = errors.New("leviton: no residences found")

	// ErrInvalidDeviceID is returned for ids the realtime channel cannot
	// subscribe to (they must be integers).
	ErrInvalidDeviceID = errors.New("leviton: invalid device id")
)

// twoFactorMarker is the body fragment the login endpoint returns when a
// 2FA code is needed.
const twoFactorMarker = "InsufficientData:Personusestwofactorauthentication.Requirescode."

// StatusError carries an unexpected HTTP status and body. It unwraps to the
// sentinel in Err.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%v: %s: status %d: %s", e.Err, e.Op, e.StatusCode, body)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
