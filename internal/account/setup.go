package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// saveTimeout bounds persisting a renewed session from the client callback.
const saveTimeout = 5 * time.Second

// Cloud is the client surface Setup needs. Satisfied by *leviton.Client.
type Cloud interface {
	Login(ctx context.Context, email, password, code string) (leviton.Session, error)
	RestoreSession(s leviton.Session) error
	SetCredentials(email, password string)
	OnSessionChange(fn func(leviton.Session))
	ResidentialAccountID(ctx context.Context) (string, error)
	ResidenceID(ctx context.Context, accountID string) (string, error)
}

// Logger is the logging interface used by Setup.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Credentials are the configured login details.
type Credentials struct {
	Email    string
	Password string
	// Code is an optional 2FA code, usable only once.
	Code string
}

// Setup prepares an authenticated client for the daemon.
//
// A stored session is restored when present; otherwise the configured
// credentials log in. The residence is then resolved and the account saved.
// Renewed sessions are persisted for as long as the client lives.
//
// Returns:
//   - *Account: The ready account with its residence id
//   - error: ErrInteractiveLoginRequired when a 2FA code is needed,
//     ErrNoCredentials when there is nothing to log in with
func Setup(ctx context.Context, cloud Cloud, store Store, creds Credentials, logger Logger) (*Account, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	email := NormalizeEmail(creds.Email)

	acct, err := store.Load(ctx, email)
	switch {
	case err == nil:
		if err := cloud.RestoreSession(acct.Session); err != nil {
			return nil, err
		}
		logger.Info("restored stored Leviton session", "email", email, "user_id", acct.UserID())
	case errors.Is(err, ErrAccountNotFound):
		acct, err = freshLogin(ctx, cloud, email, creds)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if creds.Password != "" {
		cloud.SetCredentials(email, creds.Password)
	}

	// The hook is registered before any authenticated call so a re-login
	// triggered while resolving the residence is persisted too.
	var mu sync.Mutex
	var renewedSession *leviton.Session
	cloud.OnSessionChange(func(s leviton.Session) {
		mu.Lock()
		renewedSession = &s
		renewed := *acct
		renewed.Session = s
		mu.Unlock()

		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := store.Save(saveCtx, &renewed); err != nil {
			logger.Error("persisting renewed session failed", "email", email, "error", err)
			return
		}
		logger.Info("persisted renewed Leviton session", "email", email)
	})

	residence, err := resolveResidence(ctx, cloud)
	if errors.Is(err, leviton.ErrAuthenticationExpired) {
		return nil, fmt.Errorf("%w: %w", ErrInteractiveLoginRequired, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving residence: %w", err)
	}
	if acct.ResidenceID != "" && acct.ResidenceID != residence {
		logger.Warn("primary residence changed", "previous", acct.ResidenceID, "current", residence)
	}

	mu.Lock()
	if renewedSession != nil {
		acct.Session = *renewedSession
	}
	acct.ResidenceID = residence
	final := *acct
	mu.Unlock()

	if err := store.Save(ctx, &final); err != nil {
		return nil, err
	}
	mu.Lock()
	acct.CreatedAt, acct.UpdatedAt = final.CreatedAt, final.UpdatedAt
	mu.Unlock()

	return acct, nil
}

func freshLogin(ctx context.Context, cloud Cloud, email string, creds Credentials) (*Account, error) {
	if creds.Password == "" {
		return nil, ErrNoCredentials
	}
	session, err := cloud.Login(ctx, email, creds.Password, creds.Code)
	if errors.Is(err, leviton.ErrTwoFactorRequired) {
		return nil, ErrInteractiveLoginRequired
	}
	if err != nil {
		return nil, err
	}
	return &Account{Email: email, Session: session}, nil
}

func resolveResidence(ctx context.Context, cloud Cloud) (string, error) {
	accountID, err := cloud.ResidentialAccountID(ctx)
	if err != nil {
		return "", err
	}
	return cloud.ResidenceID(ctx, accountID)
}
