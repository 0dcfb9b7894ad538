// Package logging provides structured logging for the Leviton bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("coordinator").Info("refreshed", "devices", 12)
//
// # Security
//
// Never log the cloud password, the 2FA code, the session token or the raw
// login response. Log the account email or the user id instead.
package logging
