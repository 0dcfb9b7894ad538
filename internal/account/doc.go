// Package account manages the Leviton cloud account: the interactive
// login flow with its two-factor step, persistence of the login response in
// SQLite, and restoring that session when the daemon starts.
//
// Passwords are never stored. A restored session renews itself only when a
// password is configured and the account does not require a 2FA code on
// every login.
package account
