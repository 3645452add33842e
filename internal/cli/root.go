package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/locmap/internal/observability"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	LogLevel string // "debug" | "info" | "warn" | "error"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the locmap CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "locmap",
		Short: "locmap - location history reports",
		Long: `Turn the location cache of a phone's location daemon into an interactive
HTML map and a spreadsheet.

The default source is the ZRTCLLOCATIONMO table of a Cache.sqlite database.
Timestamps are converted from the Apple epoch to UTC and speeds from meters
per second to miles per hour.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if _, err := observability.ParseLevel(opts.LogLevel); err != nil {
				return WrapExitError(ExitCommandError, "invalid --log-level", err)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// setupLogging installs the process logger on w. --verbose wins over
// --log-level; JSON output gets JSON log lines.
func setupLogging(opts *RootOptions, w io.Writer) (*slog.Logger, error) {
	level, err := observability.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --log-level", err)
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return observability.Init(w, opts.Format == "json", level), nil
}

// newFormatter builds the formatter for a command's output streams.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
