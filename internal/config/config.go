// Package config loads the optional YAML job file that describes a run.
//
// A job file is checked against an embedded CUE schema before it is decoded,
// so typos and out-of-range values are reported with their position instead
// of being silently ignored. Command-line flags are applied on top of the
// loaded Job by the CLI.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/locmap/internal/convert"
	"github.com/roach88/locmap/internal/normalize"
	"github.com/roach88/locmap/internal/report"
	"github.com/roach88/locmap/internal/report/mapview"
	"github.com/roach88/locmap/internal/report/sheet"
	"github.com/roach88/locmap/internal/source"
)

//go:embed schema.cue
var schemaSource string

//go:embed template.yaml
var template []byte

const dateLayout = "2006-01-02"

// DefaultSource is read when neither the job file nor the command line names a source.
const DefaultSource = "Cache.sqlite"

// Job is a fully described run.
type Job struct {
	Source  string         `yaml:"source"`
	Table   string         `yaml:"table"`
	Columns source.Columns `yaml:"columns"`
	Epoch   Epoch          `yaml:"epoch"`
	Output  Output         `yaml:"output"`

	// Day restricts the reports to one UTC calendar day (YYYY-MM-DD or MM/DD/YYYY).
	Day string `yaml:"day"`

	SpeedPrecision int `yaml:"speed_precision"`

	// Parallelism is 2 to render both reports concurrently, 1 for sequential.
	Parallelism int `yaml:"parallelism"`

	Map   Map   `yaml:"map"`
	Sheet Sheet `yaml:"sheet"`

	MetricsFile string `yaml:"metrics_file"`
}

// Epoch selects and optionally adjusts the timestamp epoch.
type Epoch struct {
	Name   string `yaml:"name"`
	Offset *int64 `yaml:"offset"`
	Min    string `yaml:"min"`
	Max    string `yaml:"max"`
}

// Output names the artifact paths.
type Output struct {
	Table string `yaml:"table"`
	Map   string `yaml:"map"`
}

// Map configures the HTML map.
type Map struct {
	Title        string   `yaml:"title"`
	PopupColumns []string `yaml:"popup_columns"`
	Path         bool     `yaml:"path"`
	Zoom         int      `yaml:"zoom"`
}

// Sheet configures the XLSX workbook.
type Sheet struct {
	Name string `yaml:"name"`
}

// Default returns the job used when no file is given.
func Default() Job {
	mo := mapview.DefaultOptions()
	return Job{
		Source:         DefaultSource,
		Table:          source.DefaultTable,
		Columns:        source.DefaultColumns(),
		Epoch:          Epoch{Name: convert.AppleEpoch.Name},
		SpeedPrecision: report.DefaultSpeedPrecision,
		Parallelism:    2,
		Map: Map{
			Title:        mo.Title,
			PopupColumns: mo.PopupColumns,
			Zoom:         mo.Zoom,
		},
		Sheet: Sheet{Name: sheet.DefaultSheetName},
	}
}

// Load reads and validates the job file at path. Values the file leaves out
// keep their defaults.
func Load(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job file: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the job schema and decodes it onto Default.
// name is used in error positions.
func Parse(name string, data []byte) (Job, error) {
	if err := Validate(name, data); err != nil {
		return Job{}, err
	}

	job := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
		return Job{}, fmt.Errorf("decode job file %s: %w", name, err)
	}
	job.Columns = job.Columns.WithDefaults()
	return job, nil
}

// Validate checks data against the embedded CUE schema.
func Validate(name string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile job schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Job"))

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("parse job file: %w", err)
	}
	v := ctx.BuildFile(file)
	if err := v.Err(); err != nil {
		return fmt.Errorf("build job file: %w", err)
	}
	if v.IsNull() {
		// Empty or comment-only file.
		return nil
	}

	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid job file:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}

// Template returns a commented job file with every option at its default.
func Template() []byte {
	return bytes.Clone(template)
}

// ResolveEpoch builds the epoch described by the job.
func (j Job) ResolveEpoch() (convert.Epoch, error) {
	epoch, ok := convert.Named(j.Epoch.Name)
	if !ok {
		return convert.Epoch{}, fmt.Errorf("unknown epoch %q", j.Epoch.Name)
	}
	if j.Epoch.Offset != nil {
		epoch.Offset = *j.Epoch.Offset
	}
	if j.Epoch.Min != "" {
		t, err := time.Parse(dateLayout, j.Epoch.Min)
		if err != nil {
			return convert.Epoch{}, fmt.Errorf("epoch min: %w", err)
		}
		epoch.Min = t
	}
	if j.Epoch.Max != "" {
		t, err := time.Parse(dateLayout, j.Epoch.Max)
		if err != nil {
			return convert.Epoch{}, fmt.Errorf("epoch max: %w", err)
		}
		epoch.Max = t
	}
	if err := epoch.Validate(); err != nil {
		return convert.Epoch{}, err
	}
	return epoch, nil
}

// ResolveDay parses the day filter. It returns nil when no filter is set.
func (j Job) ResolveDay() (*time.Time, error) {
	if j.Day == "" {
		return nil, nil
	}
	day, err := normalize.ParseDay(j.Day)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// ResolveOutputs returns the artifact paths. The table defaults to
// location_data.xlsx in the working directory and the map defaults to
// location_data_map.html next to the table.
func (j Job) ResolveOutputs() (tablePath, mapPath string) {
	tablePath = j.Output.Table
	if tablePath == "" {
		tablePath = sheet.DefaultFileName
	}
	mapPath = j.Output.Map
	if mapPath == "" {
		mapPath = filepath.Join(filepath.Dir(tablePath), mapview.DefaultFileName)
	}
	return tablePath, mapPath
}

// MapOptions returns the map generator options.
func (j Job) MapOptions() mapview.Options {
	return mapview.Options{
		Title:          j.Map.Title,
		PopupColumns:   j.Map.PopupColumns,
		Path:           j.Map.Path,
		Zoom:           j.Map.Zoom,
		SpeedPrecision: j.SpeedPrecision,
	}
}

// SheetOptions returns the table generator options.
func (j Job) SheetOptions() sheet.Options {
	return sheet.Options{
		SheetName:      j.Sheet.Name,
		SpeedPrecision: j.SpeedPrecision,
	}
}
