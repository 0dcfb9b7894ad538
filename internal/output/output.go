// Package output renders levitonbridge CLI results for a terminal or as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
)

type Options struct {
	JSON    bool
	Quiet   bool
	NoColor bool

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

type Output struct {
	JSON  bool
	Quiet bool

	stdout io.Writer
	stderr io.Writer

	green  *color.Color
	yellow *color.Color
	red    *color.Color
	gray   *color.Color
	bold   *color.Color
}

func New(opts Options) *Output {
	if opts.NoColor {
		color.NoColor = true
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Output{
		JSON:   opts.JSON,
		Quiet:  opts.Quiet,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
		gray:   color.New(color.FgHiBlack),
		bold:   color.New(color.Bold),
	}
}

func (o *Output) Green(s string) string {
	return o.green.Sprint(s)
}

func (o *Output) Yellow(s string) string {
	return o.yellow.Sprint(s)
}

func (o *Output) Red(s string) string {
	return o.red.Sprint(s)
}

func (o *Output) Gray(s string) string {
	return o.gray.Sprint(s)
}

func (o *Output) Bold(s string) string {
	return o.bold.Sprint(s)
}

func (o *Output) Print(msg string) {
	if o.JSON || o.Quiet {
		return
	}
	fmt.Fprintln(o.stdout, msg)
}

func (o *Output) Success(msg string) {
	if o.JSON || o.Quiet {
		return
	}
	fmt.Fprintln(o.stdout, o.Green(msg))
}

func (o *Output) Warn(msg string) {
	if o.JSON || o.Quiet {
		return
	}
	fmt.Fprintln(o.stdout, o.Yellow(msg))
}

// Prompt writes msg without a newline, even in quiet mode, so interactive
// input always has a label.
func (o *Output) Prompt(msg string) {
	fmt.Fprint(o.stderr, o.Bold(msg))
}

func (o *Output) Error(msg string) {
	fmt.Fprintln(o.stderr, o.Red(msg))
}

func (o *Output) EmitJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Row is one line of a device table.
type Row struct {
	ID       string
	Name     string
	Model    string
	Category string
	Room     string
	Status   string
	State    string
}

// Table writes rows as aligned columns with a bold header.
// Offline rows are dimmed.
func (o *Output) Table(rows []Row) {
	if o.JSON || o.Quiet {
		return
	}
	tw := tabwriter.NewWriter(o.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, o.Bold("ID\tNAME\tMODEL\tCATEGORY\tROOM\tSTATUS\tSTATE"))
	for _, r := range rows {
		status := o.Green(r.Status)
		if r.Status != "" && r.Status != "online" {
			status = o.Gray(r.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.Model, r.Category, dash(r.Room), status, dash(r.State))
	}
	//nolint:errcheck // best-effort terminal output
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
