package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/locmap/internal/config"
	"github.com/roach88/locmap/internal/source"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [source]",
		Short: "List the tables and columns of a location cache",
		Long: `List every table (or worksheet) in a source file with its columns and row
count. Tables holding the four columns a run needs are marked.

Example:
  locmap inspect Cache.sqlite
  locmap inspect --format json exports/locations.xlsx`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultSource
			if len(args) == 1 {
				path = args[0]
			}
			return runInspect(opts, path, cmd)
		},
	}

	return cmd
}

// tableReport is one described table.
type tableReport struct {
	source.TableInfo
	Location bool `json:"location"`
}

// inspectReport is the printed outcome of inspect.
type inspectReport struct {
	Source string        `json:"source"`
	Kind   source.Kind   `json:"kind"`
	Tables []tableReport `json:"tables"`
}

func (r inspectReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", r.Source, r.Kind)
	if len(r.Tables) == 0 {
		b.WriteString("\n  no tables")
	}
	for _, t := range r.Tables {
		fmt.Fprintf(&b, "\n  %s: %d rows", t.Name, t.Rows)
		if t.Location {
			b.WriteString(" [location table]")
		}
		fmt.Fprintf(&b, "\n    %s", strings.Join(t.Columns, ", "))
	}
	return b.String()
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if _, err := setupLogging(opts.RootOptions, cmd.ErrOrStderr()); err != nil {
		return err
	}

	tables, err := source.Describe(cmd.Context(), path)
	if err != nil {
		if opts.Format == "json" {
			if ferr := formatter.Error(errorCode(err), err.Error(), nil); ferr != nil {
				return ferr
			}
		}
		return WrapExitError(exitCodeFor(err), "inspect failed", err)
	}
	formatter.VerboseLog("found %d tables in %s", len(tables), path)

	rep := inspectReport{Source: path, Kind: source.KindOf(path), Tables: make([]tableReport, 0, len(tables))}
	for _, t := range tables {
		rep.Tables = append(rep.Tables, tableReport{TableInfo: t, Location: hasColumns(t.Columns, source.DefaultColumns())})
	}
	return formatter.Success(rep)
}

// hasColumns reports whether names holds every required column, ignoring case.
func hasColumns(names []string, cols source.Columns) bool {
	for _, want := range []string{cols.Timestamp, cols.Latitude, cols.Longitude, cols.Speed} {
		found := false
		for _, n := range names {
			if strings.EqualFold(n, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
