// Package mapview renders a record sequence as a self-contained interactive
// HTML map built on Leaflet.
//
// Every record appears in the page: points with coordinates become markers
// (out-of-range coordinates get a distinct style), and records without
// usable coordinates are listed in an "unplotted records" panel.
package mapview

import (
	"context"
	_ "embed"
	"html/template"
	"io"
	"strings"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
	"github.com/roach88/locmap/internal/report"
)

// DefaultFileName is the map's file name when none is configured.
const DefaultFileName = "location_data_map.html"

const (
	defaultTitle = "Location History"
	defaultZoom  = 12
	worldZoom    = 2
)

//go:embed map.html.tmpl
var pageSource string

var pageTemplate = template.Must(template.New("map").Parse(pageSource))

// Options configures the map page.
type Options struct {
	// Title is shown in the browser tab and the summary panel.
	Title string

	// PopupColumns are metadata columns added to each marker's popup, in
	// order. Columns the source does not have are skipped.
	PopupColumns []string

	// Path draws a chronological polyline through the valid points.
	Path bool

	// Zoom is the initial zoom level. Zero selects 12.
	Zoom int

	// SpeedPrecision is the number of decimals shown for speeds.
	SpeedPrecision int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Title:          defaultTitle,
		PopupColumns:   []string{"Z_PK"},
		Zoom:           defaultZoom,
		SpeedPrecision: report.DefaultSpeedPrecision,
	}
}

// Generator writes the HTML map.
type Generator struct {
	opts Options
}

var _ report.Generator = (*Generator)(nil)

// New creates a map generator.
func New(opts Options) *Generator {
	if opts.Title == "" {
		opts.Title = defaultTitle
	}
	if opts.Zoom <= 0 {
		opts.Zoom = defaultZoom
	}
	return &Generator{opts: opts}
}

// Name implements report.Generator.
func (g *Generator) Name() string { return errs.StageMap }

// Generate implements report.Generator.
func (g *Generator) Generate(ctx context.Context, seq *record.Sequence, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return report.WriteFile(errs.StageMap, path, func(w io.Writer) error {
		return g.Render(w, seq)
	})
}

// Render writes the page for seq to w. Output depends only on seq and the
// options.
func (g *Generator) Render(w io.Writer, seq *record.Sequence) error {
	data, err := g.page(seq)
	if err != nil {
		return err
	}
	return pageTemplate.Execute(w, data)
}

type page struct {
	Title     string
	Total     int
	Plotted   int
	Invalid   int
	Span      string
	Unplotted []unplottedRow
	Points    template.JS
	Config    template.JS
}

type unplottedRow struct {
	Row       int
	Time      string
	Speed     string
	Latitude  string
	Longitude string
	Flags     string
}

func (g *Generator) page(seq *record.Sequence) (*page, error) {
	popup := g.popupColumns(seq)

	p := &page{Title: g.opts.Title, Total: seq.Len()}
	if first, last, ok := seq.Span(); ok {
		p.Span = report.FormatTime(first) + " to " + report.FormatTime(last) + " UTC"
	}

	var (
		points         = record.Array{}
		sumLat, sumLon float64
		valid          int
	)
	seq.Each(func(_ int, r record.NormalizedRecord) bool {
		points = append(points, g.point(r, popup))

		switch {
		case !r.Plottable():
			p.Unplotted = append(p.Unplotted, unplottedRow{
				Row:       r.Row,
				Time:      report.FormatTime(r.Time),
				Speed:     report.FormatSpeed(r.SpeedMPH, g.opts.SpeedPrecision),
				Latitude:  report.FormatCoordinate(r.Latitude),
				Longitude: report.FormatCoordinate(r.Longitude),
				Flags:     report.FormatFlags(r.Flags()),
			})
		case r.CoordinatesInvalid:
			p.Plotted++
			p.Invalid++
		default:
			p.Plotted++
			valid++
			sumLat += r.Latitude.Float64
			sumLon += r.Longitude.Float64
		}
		return true
	})

	center := record.Array{record.Float(0), record.Float(0)}
	zoom := worldZoom
	if valid > 0 {
		center = record.Array{record.Float(sumLat / float64(valid)), record.Float(sumLon / float64(valid))}
		zoom = g.opts.Zoom
	}

	pointsJSON, err := scriptJSON(points)
	if err != nil {
		return nil, err
	}
	configJSON, err := scriptJSON(record.Object{
		"center":  center,
		"zoom":    record.Int(zoom),
		"path":    record.Bool(g.opts.Path),
		"unknown": record.String(report.UnknownSpeed),
	})
	if err != nil {
		return nil, err
	}
	p.Points = pointsJSON
	p.Config = configJSON
	return p, nil
}

type popupColumn struct {
	name  string
	index int
}

func (g *Generator) popupColumns(seq *record.Sequence) []popupColumn {
	var cols []popupColumn
	for _, name := range g.opts.PopupColumns {
		if i := seq.ColumnIndex(name); i >= 0 {
			cols = append(cols, popupColumn{name: seq.Columns()[i].Name, index: i})
		}
	}
	return cols
}

func (g *Generator) point(r record.NormalizedRecord, popup []popupColumn) record.Object {
	var lat, lon record.Value = record.Null{}, record.Null{}
	if r.Plottable() {
		lat = record.Float(r.Latitude.Float64)
		lon = record.Float(r.Longitude.Float64)
	}

	meta := record.Array{}
	for _, c := range popup {
		var v record.Value = record.Null{}
		if c.index < len(r.Metadata) {
			v = r.Metadata[c.index]
		}
		meta = append(meta, record.Array{record.String(c.name), record.String(report.FormatValue(v))})
	}

	flags := record.Array{}
	for _, f := range r.Flags() {
		flags = append(flags, record.String(f))
	}

	return record.Object{
		"row":   record.Int(r.Row),
		"time":  record.String(report.FormatTime(r.Time)),
		"speed": record.String(report.FormatSpeed(r.SpeedMPH, g.opts.SpeedPrecision)),
		"lat":   lat,
		"lon":   lon,
		"plot":  record.Bool(r.Plottable()),
		"valid": record.Bool(!r.CoordinatesInvalid),
		"flags": flags,
		"meta":  meta,
	}
}

// scriptEscaper makes canonical JSON safe inside a <script> element. Each
// replacement is a JSON string escape, so the result is still the same JSON.
var scriptEscaper = strings.NewReplacer(
	"<", `\u003c`,
	">", `\u003e`,
	"&", `\u0026`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

func scriptJSON(v any) (template.JS, error) {
	data, err := record.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return template.JS(scriptEscaper.Replace(string(data))), nil
}
