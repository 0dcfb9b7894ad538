package account

import "errors"

// Sentinel errors for account operations. Check with errors.Is().
//
// The flow errors carry the reason codes shown to users.
var (
	ErrAccountNotFound = errors.New("account: not found")

	// ErrAlreadyConfigured aborts a user flow for an email that already has
	// a stored account.
	ErrAlreadyConfigured = errors.New("already_configured")

	// ErrInvalidAuth means the cloud rejected the credentials or code.
	ErrInvalidAuth = errors.New("invalid_auth")

	// ErrCannotConnect means the cloud could not be reached.
	ErrCannotConnect = errors.New("cannot_connect")

	// ErrFlowState is returned when a step is called out of order.
	ErrFlowState = errors.New("account: step not valid in current flow state")

	// ErrNoCredentials means there is neither a stored session nor a
	// configured password.
	ErrNoCredentials = errors.New("account: no stored session and no password configured")

	// ErrInteractiveLoginRequired means the cloud wants a two-factor code
	// that the daemon cannot supply.
	ErrInteractiveLoginRequired = errors.New("account: two-factor code required, run `levitonbridge login`")
)
