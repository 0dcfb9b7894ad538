package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// Account is a configured cloud account and its persisted session.
type Account struct {
	// Email is the lowercase unique key.
	Email       string          `json:"email"`
	Session     leviton.Session `json:"-"`
	ResidenceID string          `json:"residence_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UserID is the cloud user id of the stored session.
func (a Account) UserID() string {
	return a.Session.UserID
}

// NormalizeEmail returns the unique key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store persists accounts.
type Store interface {
	// Save inserts or replaces the account keyed by its normalised email.
	Save(ctx context.Context, a *Account) error

	// Load returns ErrAccountNotFound when no account matches.
	Load(ctx context.Context, email string) (*Account, error)

	// Delete returns ErrAccountNotFound when no account matches.
	Delete(ctx context.Context, email string) error
}

// SQLiteStore implements Store on the accounts table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts the account. The login response is stored verbatim.
func (s *SQLiteStore) Save(ctx context.Context, a *Account) error {
	a.Email = NormalizeEmail(a.Email)
	if a.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !a.Session.Valid() {
		return fmt.Errorf("saving %s: %w", a.Email, leviton.ErrInvalidLoginResponse)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (email, user_id, login_response, residence_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
			user_id = excluded.user_id,
			login_response = excluded.login_response,
			residence_id = excluded.residence_id,
			updated_at = excluded.updated_at`,
		a.Email,
		a.Session.UserID,
		string(a.Session.Raw),
		a.ResidenceID,
		a.CreatedAt.Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	return nil
}

// Load returns the account for email.
func (s *SQLiteStore) Load(ctx context.Context, email string) (*Account, error) {
	var (
		a                    Account
		raw                  string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT email, login_response, residence_id, created_at, updated_at
		 FROM accounts WHERE email = ?`,
		NormalizeEmail(email),
	).Scan(&a.Email, &raw, &a.ResidenceID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}

	a.Session, err = leviton.ParseSession([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("stored session for %s: %w", a.Email, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// Delete removes the account for email.
func (s *SQLiteStore) Delete(ctx context.Context, email string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE email = ?", NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
