package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// Step names the state of a login flow.
type Step string

const (
	StepUser            Step = "user"
	StepTwoFactor       Step = "2fa"
	StepReauthConfirm   Step = "reauth_confirm"
	StepReauthTwoFactor Step = "reauth_2fa"
	StepDone            Step = "done"
)

// Reasons reported when a flow completes.
const (
	ReasonCreated          = "created"
	ReasonReauthSuccessful = "reauth_successful"
)

// Authenticator performs cloud logins. Satisfied by *leviton.Client.
type Authenticator interface {
	Login(ctx context.Context, email, password, code string) (leviton.Session, error)
}

// Result is the outcome of one flow step.
type Result struct {
	// Next is the step to run next, or StepDone.
	Next Step
	// Account is set once the flow is done.
	Account *Account
	// Reason is set once the flow is done.
	Reason string
}

// Flow walks a user through login, including the two-factor round trip,
// and persists the resulting session. A Flow is not safe for concurrent use.
type Flow struct {
	auth  Authenticator
	store Store

	step     Step
	email    string
	password string
	existing *Account
}

// NewFlow starts a flow for a new account at StepUser.
func NewFlow(auth Authenticator, store Store) *Flow {
	return &Flow{auth: auth, store: store, step: StepUser}
}

// NewReauthFlow starts a flow that renews the session of a stored account.
func NewReauthFlow(ctx context.Context, auth Authenticator, store Store, email string) (*Flow, error) {
	existing, err := store.Load(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Flow{
		auth:     auth,
		store:    store,
		step:     StepReauthConfirm,
		email:    existing.Email,
		existing: existing,
	}, nil
}

// Step returns the step the flow is waiting on.
func (f *Flow) Step() Step {
	return f.step
}

// Email returns the normalised email the flow is for.
func (f *Flow) Email() string {
	return f.email
}

// StepUser submits email and password.
func (f *Flow) StepUser(ctx context.Context, email, password string) (Result, error) {
	if f.step != StepUser {
		return Result{Next: f.step}, ErrFlowState
	}

	f.email = NormalizeEmail(email)
	_, err := f.store.Load(ctx, f.email)
	switch {
	case err == nil:
		return Result{Next: f.step}, fmt.Errorf("%w: %s", ErrAlreadyConfigured, f.email)
	case !errors.Is(err, ErrAccountNotFound):
		return Result{Next: f.step}, err
	}

	f.password = password
	return f.login(ctx, "", StepTwoFactor, ReasonCreated)
}

// StepTwoFactor submits the code after StepUser asked for one.
func (f *Flow) StepTwoFactor(ctx context.Context, code string) (Result, error) {
	if f.step != StepTwoFactor {
		return Result{Next: f.step}, ErrFlowState
	}
	return f.login(ctx, code, StepTwoFactor, ReasonCreated)
}

// StepReauth submits a fresh password for the stored account.
func (f *Flow) StepReauth(ctx context.Context, password string) (Result, error) {
	if f.step != StepReauthConfirm {
		return Result{Next: f.step}, ErrFlowState
	}
	f.password = password
	return f.login(ctx, "", StepReauthTwoFactor, ReasonReauthSuccessful)
}

// StepReauthTwoFactor submits the code after StepReauth asked for one.
func (f *Flow) StepReauthTwoFactor(ctx context.Context, code string) (Result, error) {
	if f.step != StepReauthTwoFactor {
		return Result{Next: f.step}, ErrFlowState
	}
	return f.login(ctx, code, StepReauthTwoFactor, ReasonReauthSuccessful)
}

// login runs one attempt. A 2FA challenge moves the flow to twoFactorStep;
// a rejection leaves it where it is so the user can retry.
func (f *Flow) login(ctx context.Context, code string, twoFactorStep Step, reason string) (Result, error) {
	session, err := f.auth.Login(ctx, f.email, f.password, code)
	switch {
	case errors.Is(err, leviton.ErrTwoFactorRequired):
		f.step = twoFactorStep
		return Result{Next: f.step}, nil
	case errors.Is(err, leviton.ErrLoginFailed), errors.Is(err, leviton.ErrInvalidLoginResponse):
		return Result{Next: f.step}, fmt.Errorf("%w: %w", ErrInvalidAuth, err)
	case err != nil:
		return Result{Next: f.step}, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}

	acct := &Account{Email: f.email, Session: session}
	if f.existing != nil {
		acct.ResidenceID = f.existing.ResidenceID
		acct.CreatedAt = f.existing.CreatedAt
	}
	if err := f.store.Save(ctx, acct); err != nil {
		return Result{Next: f.step}, err
	}

	f.step = StepDone
	f.password = ""
	return Result{Next: StepDone, Account: acct, Reason: reason}, nil
}
