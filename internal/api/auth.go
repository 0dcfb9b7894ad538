package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new ticket for subject.
func (ts *ticketStore) issue(subject string) string {
	ticket := generateTicket()

	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{subject: subject, expiresAt: time.Now().Add(ticketTTL)}
	ts.mu.Unlock()

	return ticket
}

// consume checks a ticket and removes it (single-use).
func (ts *ticketStore) consume(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)

	return entry, time.Now().Before(entry.expiresAt)
}

// clean removes expired tickets.
func (ts *ticketStore) clean() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// handleLogin checks the admin credentials and returns a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	admin := s.secCfg.Admin
	err := auth.Authenticate(req.Username, req.Password, admin.Username, admin.PasswordHash)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("login failed", "username", req.Username, "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid credentials")
		return
	case err != nil:
		s.logger.Error("login unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "login is not configured")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	token, expires, err := auth.GenerateAccessToken(req.Username, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("failed to generate token", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.logger.Info("login succeeded", "username", req.Username)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Round(time.Second).Seconds()),
	})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(subjectFrom(r.Context()))

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop removes expired tickets until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.clean()
		}
	}
}
