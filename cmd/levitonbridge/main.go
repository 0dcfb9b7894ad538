// Leviton Bridge - Decora Smart Wi-Fi to MQTT
//
// This is the main entry point for levitonbridge. It mirrors the devices of
// a My Leviton account onto MQTT (with Home Assistant discovery), keeps them
// current through the cloud's realtime socket and a polling fallback, and
// serves a local HTTP API for status and commands.
//
// Commands:
//
//	levitonbridge [serve]        run the bridge (default)
//	levitonbridge login          log in, answering the 2FA challenge
//	levitonbridge devices        list the devices the cloud reports
//	levitonbridge hash-password  hash a password for security.admin.password_hash
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nerrad567/leviton-bridge/internal/output"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

// Subcommands.
const (
	cmdServe        = "serve"
	cmdLogin        = "login"
	cmdDevices      = "devices"
	cmdHashPassword = "hash-password"
	cmdVersion      = "version"
)

type cliOptions struct {
	Command    string
	ConfigPath string
	Email      string
	Reauth     bool
	JSON       bool
	Quiet      bool
	Verbose    bool
	NoColor    bool
	Help       bool
	Version    bool
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code := exitSuccess
	if err := run(ctx, os.Args[1:]); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, ue.msg)
			code = exitUsage
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = exitFailure
		}
	}
	cancel()
	os.Exit(code)
}

// run dispatches to the selected subcommand.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//
// Returns:
//   - error: nil on success, usageError for bad arguments
func run(ctx context.Context, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if opts.Help {
		printUsage()
		return nil
	}
	if opts.Version || opts.Command == cmdVersion {
		fmt.Fprintf(os.Stdout, "levitonbridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	out := output.New(output.Options{
		JSON:    opts.JSON,
		Quiet:   opts.Quiet,
		NoColor: opts.NoColor || os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb",
	})

	switch opts.Command {
	case cmdServe:
		return serve(ctx, opts.ConfigPath)
	case cmdLogin:
		return login(ctx, opts, out, newPrompter(os.Stdin, out))
	case cmdDevices:
		return listDevices(ctx, opts, out)
	case cmdHashPassword:
		return hashPassword(out, newPrompter(os.Stdin, out))
	}
	return usageError{msg: "unknown command: " + opts.Command + "\n(run with --help for usage)"}
}

func parseArgs(args []string) (cliOptions, error) {
	opts := cliOptions{ConfigPath: getConfigPath()}

	fs := pflag.NewFlagSet("levitonbridge", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.SortFlags = false

	fs.BoolVarP(&opts.Help, "help", "h", false, "display help")
	fs.BoolVar(&opts.Version, "version", false, "output the version number")
	fs.StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "path to config.yaml")
	fs.StringVar(&opts.Email, "email", "", "account email for login (default: leviton.email)")
	fs.BoolVar(&opts.Reauth, "reauth", false, "renew the stored session of an existing account")
	fs.BoolVar(&opts.JSON, "json", false, "output machine-readable JSON")
	fs.BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress non-essential output")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "log diagnostics to stderr")
	fs.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, usageError{msg: err.Error() + "\n(run with --help for usage)"}
	}

	rest := fs.Args()
	switch len(rest) {
	case 0:
		opts.Command = cmdServe
	case 1:
		opts.Command = strings.ToLower(rest[0])
	default:
		return cliOptions{}, usageError{msg: "unexpected arguments: " + strings.Join(rest[1:], " ")}
	}

	switch opts.Command {
	case cmdServe, cmdLogin, cmdDevices, cmdHashPassword, cmdVersion:
	default:
		return cliOptions{}, usageError{msg: "unknown command: " + opts.Command + "\n(run with --help for usage)"}
	}
	if opts.Reauth && opts.Command != cmdLogin {
		return cliOptions{}, usageError{msg: "--reauth only applies to login"}
	}
	if opts.Email != "" && opts.Command != cmdLogin {
		return cliOptions{}, usageError{msg: "--email only applies to login"}
	}
	return opts, nil
}

func printUsage() {
	fmt.Fprintln(os.Stdout, "Usage: levitonbridge [options] [command]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Bridges Leviton Decora Smart Wi-Fi devices to MQTT and a local HTTP API")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Commands:")
	fmt.Fprintln(os.Stdout, "  serve                      run the bridge (default)")
	fmt.Fprintln(os.Stdout, "  login                      log in to My Leviton and store the session")
	fmt.Fprintln(os.Stdout, "  devices                    list the devices the cloud reports")
	fmt.Fprintln(os.Stdout, "  hash-password              hash a password for security.admin.password_hash")
	fmt.Fprintln(os.Stdout, "  version                    output the version number")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Options:")
	fmt.Fprintln(os.Stdout, "  -h, --help                 display help")
	fmt.Fprintln(os.Stdout, "      --version              output the version number")
	fmt.Fprintf(os.Stdout, "  -c, --config <path>        path to config.yaml (default: %q, or $LEVITON_CONFIG)\n", defaultConfigPath)
	fmt.Fprintln(os.Stdout, "      --email <email>        account email for login (default: leviton.email)")
	fmt.Fprintln(os.Stdout, "      --reauth               renew the stored session of an existing account")
	fmt.Fprintln(os.Stdout, "      --json                 output machine-readable JSON")
	fmt.Fprintln(os.Stdout, "  -q, --quiet                suppress non-essential output")
	fmt.Fprintln(os.Stdout, "  -v, --verbose              log diagnostics to stderr")
	fmt.Fprintln(os.Stdout, "      --no-color             disable colored output")
}

// getConfigPath returns the configuration file path.
// Uses LEVITON_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LEVITON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
