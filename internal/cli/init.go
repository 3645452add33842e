package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/locmap/internal/config"
	"github.com/roach88/locmap/internal/report"
)

// DefaultJobFile is where init writes when no path is given.
const DefaultJobFile = "locmap.yaml"

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Force bool
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a job file template",
		Long: `Write a commented job file with every option at its default.
An existing file is left alone unless --force is given.

Example:
  locmap init
  locmap init jobs/evidence.yaml --force`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := DefaultJobFile
			if len(args) == 1 {
				path = args[0]
			}
			return runInit(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing file")

	return cmd
}

// initResult is the printed outcome of init.
type initResult struct {
	Path string `json:"path"`
}

func (r initResult) String() string {
	return fmt.Sprintf("Wrote job file %s", r.Path)
}

func runInit(opts *InitOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if !opts.Force {
		if _, err := os.Stat(path); err == nil {
			msg := fmt.Sprintf("%s already exists (use --force to overwrite)", path)
			if opts.Format == "json" {
				if ferr := formatter.Error(CodeFileExists, msg, nil); ferr != nil {
					return ferr
				}
			}
			return NewExitError(ExitCommandError, msg)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return WrapExitError(ExitCommandError, "cannot check "+path, err)
		}
	}

	err := report.WriteFile("init", path, func(w io.Writer) error {
		_, err := w.Write(config.Template())
		return err
	})
	if err != nil {
		if opts.Format == "json" {
			if ferr := formatter.Error(errorCode(err), err.Error(), nil); ferr != nil {
				return ferr
			}
		}
		return WrapExitError(ExitFailure, "init failed", err)
	}
	return formatter.Success(initResult{Path: path})
}
