package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/nerrad567/leviton-bridge/internal/account"
	"github.com/nerrad567/leviton-bridge/internal/auth"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/config"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
	"github.com/nerrad567/leviton-bridge/internal/output"
)

// maxCodeAttempts is how many two-factor codes login accepts before giving up.
const maxCodeAttempts = 3

// prompter reads answers from stdin. Secrets are read without echo when
// stdin is a terminal.
type prompter struct {
	in  *bufio.Reader
	fd  int
	tty bool
	out *output.Output
}

func newPrompter(r io.Reader, out *output.Output) *prompter {
	p := &prompter{in: bufio.NewReader(r), out: out}
	if f, ok := r.(*os.File); ok {
		p.fd = int(f.Fd()) //nolint:gosec // file descriptors fit in int
		p.tty = term.IsTerminal(p.fd)
	}
	return p
}

// line prompts and returns one trimmed line.
func (p *prompter) line(label string) (string, error) {
	p.out.Prompt(label)
	s, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || s == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(s), nil
}

// secret prompts for a value that should not be echoed.
func (p *prompter) secret(label string) (string, error) {
	if !p.tty {
		return p.line(label)
	}
	p.out.Prompt(label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(b), nil
}

// cliLogger returns the logger for interactive commands: silent unless
// --verbose was given.
func cliLogger(verbose bool) *logging.Logger {
	if !verbose {
		return logging.Discard()
	}
	return logging.NewWithWriter(os.Stderr, config.LoggingConfig{Level: "debug", Format: "text"}, version)
}

// login runs the interactive login flow and stores the session, so that
// serve can start without a two-factor prompt.
func login(ctx context.Context, opts cliOptions, out *output.Output, p *prompter) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := cliLogger(opts.Verbose)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	email := opts.Email
	if email == "" {
		email = cfg.Leviton.Email
	}
	password := cfg.Leviton.Password
	if password == "" || opts.Reauth {
		password, err = p.secret("Password for " + email + ": ")
		if err != nil {
			return err
		}
	}

	client := newCloudClient(cfg, log)
	store := account.NewSQLiteStore(db.DB)

	res, err := runLoginFlow(ctx, client, store, email, password, opts.Reauth, p)
	if err != nil {
		return err
	}

	// Resolve and store the residence now so serve starts straight away.
	acct, err := account.Setup(ctx, client, store, account.Credentials{Email: res.Account.Email}, log)
	if err != nil {
		return fmt.Errorf("resolving residence: %w", err)
	}

	if out.JSON {
		return out.EmitJSON(map[string]any{
			"status":       res.Reason,
			"email":        acct.Email,
			"user_id":      acct.UserID(),
			"residence_id": acct.ResidenceID,
		})
	}
	out.Success(fmt.Sprintf("Logged in as %s (%s)", acct.Email, res.Reason))
	out.Print(out.Gray("Residence: " + acct.ResidenceID))
	return nil
}

// runLoginFlow drives an account flow to completion, prompting for
// two-factor codes as the cloud asks for them.
func runLoginFlow(ctx context.Context, authn account.Authenticator, store account.Store, email, password string, reauth bool, p *prompter) (account.Result, error) {
	var (
		flow *account.Flow
		res  account.Result
		err  error
	)
	if reauth {
		flow, err = account.NewReauthFlow(ctx, authn, store, account.NormalizeEmail(email))
		if errors.Is(err, account.ErrAccountNotFound) {
			return res, fmt.Errorf("no stored session for %s, run login without --reauth", email)
		}
		if err != nil {
			return res, err
		}
		res, err = flow.StepReauth(ctx, password)
	} else {
		flow = account.NewFlow(authn, store)
		res, err = flow.StepUser(ctx, email, password)
		if errors.Is(err, account.ErrAlreadyConfigured) {
			return res, fmt.Errorf("%w: use --reauth to renew the stored session", err)
		}
	}

	for attempt := 1; err == nil && res.Next != account.StepDone; attempt++ {
		if attempt > maxCodeAttempts {
			return res, fmt.Errorf("%w: too many invalid two-factor codes", account.ErrInvalidAuth)
		}

		code, promptErr := p.line("Two-factor code: ")
		if promptErr != nil {
			return res, promptErr
		}

		if res.Next == account.StepReauthTwoFactor {
			res, err = flow.StepReauthTwoFactor(ctx, code)
		} else {
			res, err = flow.StepTwoFactor(ctx, code)
		}
		if errors.Is(err, account.ErrInvalidAuth) {
			p.out.Warn("Invalid code, try again.")
			err = nil
		}
	}
	return res, err
}

// listDevices prints the cloud's device directory.
func listDevices(ctx context.Context, opts cliOptions, out *output.Output) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := cliLogger(opts.Verbose)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	client := newCloudClient(cfg, log)
	acct, err := account.Setup(ctx, client, account.NewSQLiteStore(db.DB), credentials(cfg), log)
	if err != nil {
		return err
	}

	devices, err := client.ListDevices(ctx, acct.ResidenceID)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	if out.JSON {
		return out.EmitJSON(map[string]any{"devices": devices, "count": len(devices)})
	}

	rows := make([]output.Row, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, deviceRow(d))
	}
	out.Table(rows)
	out.Print(out.Gray(fmt.Sprintf("%d devices", len(devices))))
	return nil
}

func deviceRow(d leviton.Device) output.Row {
	room := d.RoomName
	if room == "" {
		room = d.Room
	}
	status := d.Status
	if status == "" {
		status = "online"
	}
	return output.Row{
		ID:       d.ID,
		Name:     d.Name,
		Model:    d.Model,
		Category: string(leviton.PrimaryCategory(d.Model)),
		Room:     room,
		Status:   status,
		State:    stateSummary(d),
	}
}

// stateSummary renders the reported state, e.g. "ON 40%".
func stateSummary(d leviton.Device) string {
	var parts []string
	if d.Power != "" {
		parts = append(parts, d.Power)
	}
	if d.Brightness != nil {
		parts = append(parts, fmt.Sprintf("%d%%", *d.Brightness))
	}
	if d.FanSpeed != nil {
		parts = append(parts, fmt.Sprintf("speed %d", *d.FanSpeed))
	}
	if d.Occupancy != nil && *d.Occupancy {
		parts = append(parts, "occupied")
	}
	return strings.Join(parts, " ")
}

// hashPassword prints an Argon2id hash for security.admin.password_hash.
func hashPassword(out *output.Output, p *prompter) error {
	password, err := p.secret("New admin password: ")
	if err != nil {
		return err
	}
	confirm, err := p.secret("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	if out.JSON {
		return out.EmitJSON(map[string]string{"password_hash": hash})
	}
	out.Print(hash)
	return nil
}
