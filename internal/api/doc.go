// Package api implements the local HTTP REST API and WebSocket server.
//
// This package provides:
//   - REST endpoints for the device directory, state, history and commands
//   - WebSocket hub for real-time state change broadcasts
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API reads from the local device registry, which mirrors the cloud
// directory, and sends commands through the same entity executor the MQTT
// bridge uses. Commands are audited like MQTT commands, with source "api".
// Snapshot changes from the coordinator are pushed to WebSocket clients
// subscribed to "device.state_changed" and "system.status".
//
// # Security
//
// When security.auth_enabled is set, every route except /health, /metrics
// and /auth/login needs an Authorization: Bearer token from /auth/login.
// WebSocket connections use single-use tickets from /auth/ws-ticket so the
// token never appears in a URL.
package api
