package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/roach88/locmap/internal/config"
	"github.com/roach88/locmap/internal/pipeline"
	"github.com/roach88/locmap/internal/report"
	"github.com/roach88/locmap/internal/report/mapview"
	"github.com/roach88/locmap/internal/report/sheet"
)

const maxSpeedPrecision = 10

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string

	Source          string
	Table           string
	TimestampColumn string
	LatitudeColumn  string
	LongitudeColumn string
	SpeedColumn     string

	Output    string
	MapOutput string
	Day       string

	Epoch       string
	EpochOffset int64

	SpeedPrecision int
	Parallelism    int
	Title          string
	Path           bool
	MetricsFile    string

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs pipeline.RunIDGenerator

	// Clock allows overriding the stage timing clock (for testing).
	Clock clockwork.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [source]",
		Short: "Generate the map and spreadsheet from a location cache",
		Long: `Read the location table of a Cache.sqlite database (or a .csv/.xlsx export of
it), convert every record, and write an interactive HTML map and a spreadsheet.

Values come from the job file given with --config; flags override them.
Without a source argument, --source or the job file, Cache.sqlite in the
working directory is read. The spreadsheet is written as CSV when its path
ends in .csv and as XLSX otherwise.

Example:
  locmap run Cache.sqlite
  locmap run --config job.yaml --day 2025-07-22
  locmap run exports/locations.csv -o out/report.csv --map out/map.html --path`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReports(opts, args, cmd)
		},
	}

	defaults := config.Default()
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to a YAML job file")
	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "location cache to read (default "+config.DefaultSource+")")
	cmd.Flags().StringVar(&opts.Table, "table", defaults.Table, "table or worksheet holding the location rows")
	cmd.Flags().StringVar(&opts.TimestampColumn, "ts-col", defaults.Columns.Timestamp, "timestamp column")
	cmd.Flags().StringVar(&opts.LatitudeColumn, "lat-col", defaults.Columns.Latitude, "latitude column")
	cmd.Flags().StringVar(&opts.LongitudeColumn, "lon-col", defaults.Columns.Longitude, "longitude column")
	cmd.Flags().StringVar(&opts.SpeedColumn, "speed-col", defaults.Columns.Speed, "speed column (meters per second)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", sheet.DefaultFileName, "spreadsheet path (.csv or .xlsx)")
	cmd.Flags().StringVar(&opts.MapOutput, "map", "", "map path (default "+mapview.DefaultFileName+" next to the spreadsheet)")
	cmd.Flags().StringVar(&opts.Day, "day", "", "only report one UTC day (YYYY-MM-DD or MM/DD/YYYY)")
	cmd.Flags().StringVar(&opts.Epoch, "epoch", defaults.Epoch.Name, "timestamp epoch (apple|unix)")
	cmd.Flags().Int64Var(&opts.EpochOffset, "epoch-offset", 0, "override the epoch's offset from Unix time, in seconds")
	cmd.Flags().IntVar(&opts.SpeedPrecision, "speed-precision", report.DefaultSpeedPrecision, "decimal places for speeds")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", defaults.Parallelism, "reports rendered at once (1 or 2)")
	cmd.Flags().StringVar(&opts.Title, "title", defaults.Map.Title, "map page title")
	cmd.Flags().BoolVar(&opts.Path, "path", false, "draw the chronological path on the map")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write run metrics in Prometheus textfile format")

	return cmd
}

func runReports(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger, err := setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	job, err := opts.resolveJob(cmd, args)
	if err != nil {
		return configFailure(formatter, err)
	}
	epoch, err := job.ResolveEpoch()
	if err != nil {
		return configFailure(formatter, err)
	}
	day, err := job.ResolveDay()
	if err != nil {
		return configFailure(formatter, err)
	}
	tablePath, mapPath := job.ResolveOutputs()

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithParallelism(job.Parallelism),
	}
	if opts.RunIDs != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRunIDs(opts.RunIDs))
	}
	if opts.Clock != nil {
		pipeOpts = append(pipeOpts, pipeline.WithClock(opts.Clock))
	}
	orch := pipeline.New(epoch, pipeline.Generators{
		Map:   mapview.New(job.MapOptions()),
		Table: sheet.New(job.SheetOptions()),
	}, pipeOpts...)

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	res, runErr := orch.Run(ctx, pipeline.Request{
		Source:    job.Source,
		Table:     job.Table,
		Columns:   job.Columns,
		MapPath:   mapPath,
		TablePath: tablePath,
		Day:       day,
	})

	if job.MetricsFile != "" {
		if err := orch.Metrics().WriteTextfile(job.MetricsFile); err != nil {
			logger.Warn("could not write metrics", "path", job.MetricsFile, "error", err)
		} else {
			formatter.VerboseLog("metrics written to %s", job.MetricsFile)
		}
	}

	if res != nil {
		formatter.RunID = res.RunID
	}
	summary := runSummary{Result: res, Day: job.Day}
	if runErr != nil {
		if opts.Format == "json" {
			if err := formatter.Error(errorCode(runErr), runErr.Error(), summary); err != nil {
				return err
			}
		} else if res != nil {
			fmt.Fprintln(formatter.Writer, summary)
		}
		return WrapExitError(exitCodeFor(runErr), "run failed", runErr)
	}
	return formatter.Success(summary)
}

// resolveJob loads the job file, if any, and applies the flags the user set.
func (opts *RunOptions) resolveJob(cmd *cobra.Command, args []string) (config.Job, error) {
	job := config.Default()
	if opts.Config != "" {
		var err error
		if job, err = config.Load(opts.Config); err != nil {
			return config.Job{}, err
		}
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("source", &job.Source, opts.Source)
	set("table", &job.Table, opts.Table)
	set("ts-col", &job.Columns.Timestamp, opts.TimestampColumn)
	set("lat-col", &job.Columns.Latitude, opts.LatitudeColumn)
	set("lon-col", &job.Columns.Longitude, opts.LongitudeColumn)
	set("speed-col", &job.Columns.Speed, opts.SpeedColumn)
	set("out", &job.Output.Table, opts.Output)
	set("map", &job.Output.Map, opts.MapOutput)
	set("day", &job.Day, opts.Day)
	set("epoch", &job.Epoch.Name, opts.Epoch)
	set("title", &job.Map.Title, opts.Title)
	set("metrics-file", &job.MetricsFile, opts.MetricsFile)
	if flags.Changed("epoch-offset") {
		offset := opts.EpochOffset
		job.Epoch.Offset = &offset
	}
	if flags.Changed("speed-precision") {
		job.SpeedPrecision = opts.SpeedPrecision
	}
	if flags.Changed("parallelism") {
		job.Parallelism = opts.Parallelism
	}
	if flags.Changed("path") {
		job.Map.Path = opts.Path
	}
	if len(args) == 1 {
		if flags.Changed("source") && opts.Source != args[0] {
			return config.Job{}, fmt.Errorf("source given twice: %q and --source %q", args[0], opts.Source)
		}
		job.Source = args[0]
	}

	if strings.TrimSpace(job.Source) == "" {
		return config.Job{}, fmt.Errorf("no source given")
	}
	if job.SpeedPrecision < 0 || job.SpeedPrecision > maxSpeedPrecision {
		return config.Job{}, fmt.Errorf("speed precision %d out of range 0..%d", job.SpeedPrecision, maxSpeedPrecision)
	}
	if job.Parallelism < 1 || job.Parallelism > 2 {
		return config.Job{}, fmt.Errorf("parallelism %d out of range 1..2", job.Parallelism)
	}
	job.Columns = job.Columns.WithDefaults()
	return job, nil
}

// configFailure reports a job that could not be assembled.
func configFailure(formatter *OutputFormatter, err error) error {
	if formatter.Format == "json" {
		if ferr := formatter.Error(CodeConfigError, err.Error(), nil); ferr != nil {
			return ferr
		}
	}
	return WrapExitError(ExitCommandError, "invalid job", err)
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// runSummary is the printed outcome of a run.
type runSummary struct {
	*pipeline.Result
	Day string `json:"day,omitempty"`
}

func (s runSummary) String() string {
	if s.Result == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", s.RunID)
	fmt.Fprintf(&b, "Source: %s\n", s.Source)
	fmt.Fprintf(&b, "Records: %d (speed unknown %d, speed implausible %d, invalid coordinates %d)\n",
		s.Stats.Records, s.Stats.SpeedUnknown, s.Stats.SpeedImplausible, s.Stats.CoordinatesInvalid)
	if s.Day != "" {
		fmt.Fprintf(&b, "Day %s: %d records excluded\n", s.Day, s.Excluded)
	}
	if s.First != nil && s.Last != nil {
		fmt.Fprintf(&b, "Span: %s to %s UTC\n", report.FormatTime(*s.First), report.FormatTime(*s.Last))
	}
	for _, a := range s.Artifacts {
		fmt.Fprintf(&b, "%-6s %-8s %s", a.Name, a.Outcome, a.Path)
		if a.Error != "" {
			fmt.Fprintf(&b, " (%s)", a.Error)
		}
		b.WriteByte('\n')
	}
	var total time.Duration
	for _, st := range s.Stages {
		total += st.Duration
	}
	fmt.Fprintf(&b, "Took %s", total.Round(time.Millisecond))
	return b.String()
}
