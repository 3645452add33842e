// Package pipeline runs one location-history job end to end: open the
// source, normalize it once, then render the map and the table from the same
// immutable sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/locmap/internal/convert"
	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/normalize"
	"github.com/roach88/locmap/internal/observability"
	"github.com/roach88/locmap/internal/record"
	"github.com/roach88/locmap/internal/report"
	"github.com/roach88/locmap/internal/source"
)

// Request describes one run.
type Request struct {
	Source  string
	Table   string
	Columns source.Columns

	MapPath   string
	TablePath string

	// Day, when set, limits both reports to records on that UTC date.
	Day *time.Time
}

// Generators are the two report generators a run drives.
type Generators struct {
	Map   report.Generator
	Table report.Generator
}

// Artifact outcomes.
const (
	OutcomeWritten = observability.OutcomeWritten
	OutcomeFailed  = observability.OutcomeFailed
	OutcomeSkipped = observability.OutcomeSkipped
)

// Artifact reports what happened to one output file.
type Artifact struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// StageTiming is the wall time one stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Result summarizes a run. It is returned even when the run fails, holding
// whatever was learned before the failure.
type Result struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`

	Stats    normalize.Stats `json:"stats"`
	Excluded int             `json:"excluded"`

	First *time.Time `json:"first,omitempty"`
	Last  *time.Time `json:"last,omitempty"`

	Artifacts []Artifact    `json:"artifacts"`
	Stages    []StageTiming `json:"stages"`
}

// Succeeded reports whether every artifact was written.
func (r *Result) Succeeded() bool {
	if len(r.Artifacts) == 0 {
		return false
	}
	for _, a := range r.Artifacts {
		if a.Outcome != OutcomeWritten {
			return false
		}
	}
	return true
}

// Orchestrator sequences the stages of a run.
type Orchestrator struct {
	epoch       convert.Epoch
	generators  Generators
	logger      *slog.Logger
	clock       clockwork.Clock
	metrics     *observability.Metrics
	ids         RunIDGenerator
	parallelism int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the clock used for stage timings.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics sets the metrics the run reports into.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRunIDs sets the run ID generator. Defaults to UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithParallelism sets how many reports render at once: 2 (the default) or 1.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) { o.parallelism = n }
}

// New creates an Orchestrator for the given epoch and generators.
func New(epoch convert.Epoch, gens Generators, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		epoch:       epoch,
		generators:  gens,
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		ids:         UUIDv7Generator{},
		parallelism: 2,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}
	return o
}

// Metrics returns the metrics the orchestrator reports into.
func (o *Orchestrator) Metrics() *observability.Metrics {
	return o.metrics
}

// Run executes the job described by req.
//
// The source is read and normalized exactly once. Both reports are then
// generated from the same sequence; one failing does not stop or remove the
// other. The returned error is the first failure in stage order (source,
// normalize, map, table) and carries the stage name. Cancellation is checked
// before each stage and skips everything downstream.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RunID: o.ids.Generate(), Source: req.Source}
	log := o.logger.With("run_id", res.RunID)
	defer func() {
		success := 0.0
		if res.Succeeded() {
			success = 1
		}
		o.metrics.RunSuccess.Set(success)
	}()

	targets := []target{
		{name: errs.StageMap, gen: o.generators.Map, path: req.MapPath},
		{name: errs.StageTable, gen: o.generators.Table, path: req.TablePath},
	}
	fail := func(err error) (*Result, error) {
		for _, t := range targets {
			res.Artifacts = append(res.Artifacts, o.skip(t))
		}
		log.Error("run failed", "stage", errs.StageOf(err), "error", err)
		return res, err
	}

	if err := checkPaths(req, targets); err != nil {
		return fail(err)
	}

	// Source
	if err := ctx.Err(); err != nil {
		return fail(stageError(errs.StageSource, err))
	}
	log.Info("opening source", "stage", errs.StageSource, "path", req.Source, "table", req.Table)
	start := o.clock.Now()
	src, err := source.Open(ctx, req.Source, req.Table, req.Columns)
	o.observeStage(res, errs.StageSource, start)
	if err != nil {
		return fail(stageError(errs.StageSource, err))
	}
	log.Debug("source open", "stage", errs.StageSource, "metadata_columns", len(src.Metadata()))

	// Normalize
	if err := ctx.Err(); err != nil {
		src.Close()
		return fail(stageError(errs.StageNormalize, err))
	}
	start = o.clock.Now()
	seq, err := normalize.NormalizeField(ctx, src, o.epoch, req.Columns.WithDefaults().Timestamp)
	o.observeStage(res, errs.StageNormalize, start)
	if err != nil {
		stage := errs.StageNormalize
		if errs.IsSourceUnavailable(err) || errs.IsSchemaMismatch(err) {
			stage = errs.StageSource
		}
		return fail(stageError(stage, err))
	}

	res.Stats = normalize.Summarize(seq)
	o.observeStats(res.Stats)
	log.Info("records normalized", "stage", errs.StageNormalize,
		"records", res.Stats.Records,
		"speed_unknown", res.Stats.SpeedUnknown,
		"speed_implausible", res.Stats.SpeedImplausible,
		"coordinates_invalid", res.Stats.CoordinatesInvalid,
	)

	if req.Day != nil {
		var excluded int
		seq, excluded = normalize.FilterDay(seq, *req.Day)
		res.Excluded = excluded
		o.metrics.RecordsExcluded.Add(float64(excluded))
		log.Info("day filter applied", "day", req.Day.Format("2006-01-02"),
			"kept", seq.Len(), "excluded", excluded)
	}
	if first, last, ok := seq.Span(); ok {
		res.First, res.Last = &first, &last
	}

	// Reports
	if err := ctx.Err(); err != nil {
		return fail(stageError(errs.StageMap, err))
	}
	return o.generate(ctx, log, res, seq, targets)
}

type target struct {
	name string
	gen  report.Generator
	path string
}

func (o *Orchestrator) generate(ctx context.Context, log *slog.Logger, res *Result, seq *record.Sequence, targets []target) (*Result, error) {
	var (
		g         errgroup.Group
		failures  = make([]error, len(targets))
		durations = make([]time.Duration, len(targets))
	)
	g.SetLimit(o.parallelism)

	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			start := o.clock.Now()
			log.Debug("generating artifact", "stage", t.name, "path", t.path)
			failures[i] = t.gen.Generate(ctx, seq, t.path)
			durations[i] = o.clock.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	var first error
	for i, t := range targets {
		err := failures[i]
		switch {
		case err == nil:
			res.Stages = append(res.Stages, StageTiming{Stage: t.name, Duration: durations[i]})
			o.metrics.ObserveStage(t.name, durations[i])
			res.Artifacts = append(res.Artifacts, o.record(t, OutcomeWritten, nil))
			log.Info("artifact written", "stage", t.name, "path", t.path, "records", seq.Len())
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			res.Artifacts = append(res.Artifacts, o.record(t, OutcomeSkipped, err))
		default:
			res.Stages = append(res.Stages, StageTiming{Stage: t.name, Duration: durations[i]})
			o.metrics.ObserveStage(t.name, durations[i])
			res.Artifacts = append(res.Artifacts, o.record(t, OutcomeFailed, err))
			log.Error("artifact failed", "stage", t.name, "path", t.path, "error", err)
		}
		if err != nil && first == nil {
			first = stageError(t.name, err)
		}
	}
	return res, first
}

func (o *Orchestrator) record(t target, outcome string, err error) Artifact {
	o.metrics.ObserveArtifact(t.name, outcome)
	a := Artifact{Name: t.name, Path: t.path, Outcome: outcome}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func (o *Orchestrator) skip(t target) Artifact {
	return o.record(t, OutcomeSkipped, nil)
}

func (o *Orchestrator) observeStage(res *Result, stage string, start time.Time) {
	d := o.clock.Since(start)
	res.Stages = append(res.Stages, StageTiming{Stage: stage, Duration: d})
	o.metrics.ObserveStage(stage, d)
}

func (o *Orchestrator) observeStats(s normalize.Stats) {
	o.metrics.RecordsRead.Add(float64(s.Records))
	o.metrics.RecordsFlagged.WithLabelValues(record.FlagSpeedUnknown).Add(float64(s.SpeedUnknown))
	o.metrics.RecordsFlagged.WithLabelValues(record.FlagSpeedImplausible).Add(float64(s.SpeedImplausible))
	o.metrics.RecordsFlagged.WithLabelValues(record.FlagCoordinatesInvalid).Add(float64(s.CoordinatesInvalid))
}

// checkPaths rejects requests whose outputs are missing, collide with each
// other, or would overwrite the source.
func checkPaths(req Request, targets []target) error {
	srcAbs, _ := filepath.Abs(req.Source)
	seen := map[string]string{}
	for _, t := range targets {
		if t.gen == nil {
			return errs.ArtifactWriteError(t.name, t.path, errors.New("no generator configured"))
		}
		if t.path == "" {
			return errs.ArtifactWriteError(t.name, t.path, errors.New("no output path"))
		}
		abs, err := filepath.Abs(t.path)
		if err != nil {
			return errs.ArtifactWriteError(t.name, t.path, err)
		}
		if req.Source != "" && abs == srcAbs {
			return errs.ArtifactWriteError(t.name, t.path, errors.New("output would overwrite the source"))
		}
		if other, ok := seen[abs]; ok {
			return errs.ArtifactWriteError(t.name, t.path, fmt.Errorf("same path as the %s output", other))
		}
		seen[abs] = t.name
	}
	return nil
}

// stageError attaches the stage to err, keeping its classification.
func stageError(stage string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) && error(e) == err {
		return e.WithStage(stage)
	}
	return fmt.Errorf("%s: %w", stage, err)
}
