package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Verification failure (corrupt journal, undecodable records)
	ExitCommandError = 2 // Command error (invalid flags, missing files)
)

// ExitError carries the exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON, FormatYAML}

// printer writes command results in the selected format.
type printer struct {
	format string
	w      io.Writer
	colors palette
}

func newPrinter(opts *RootOptions, w io.Writer) *printer {
	return &printer{
		format: opts.Format,
		w:      w,
		colors: newPalette(!opts.NoColor && isTerminal(w)),
	}
}

// structured writes v as JSON or YAML. It reports false for text output.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintf(p.w, "%s\n", b)
		return true, err
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type palette struct {
	lsn   func(a ...any) string
	tag   func(a ...any) string
	tx    func(a ...any) string
	key   func(a ...any) string
	ok    func(a ...any) string
	fail  func(a ...any) string
	faint func(a ...any) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		lsn:   mk(color.FgHiBlack),
		tag:   mk(color.FgCyan, color.Bold),
		tx:    mk(color.FgYellow),
		key:   mk(color.FgGreen),
		ok:    mk(color.FgGreen, color.Bold),
		fail:  mk(color.FgRed, color.Bold),
		faint: mk(color.Faint),
	}
}
