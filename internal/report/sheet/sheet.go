// Package sheet renders a record sequence as a spreadsheet: an XLSX workbook
// by default, or CSV when the destination ends in .csv.
package sheet

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
	"github.com/roach88/locmap/internal/report"
)

const (
	// DefaultFileName is the table's file name when none is configured.
	DefaultFileName = "location_data.xlsx"

	// DefaultSheetName names the worksheet holding the records.
	DefaultSheetName = "Locations"
)

// Fixed leading columns. Metadata columns follow in source order, then Flags.
const (
	HeaderTime      = "Timestamp (UTC)"
	HeaderSpeed     = "Speed (MPH)"
	HeaderLatitude  = "Latitude"
	HeaderLongitude = "Longitude"
	HeaderFlags     = "Flags"
)

// flaggedFill highlights rows carrying at least one flag.
const flaggedFill = "FFF2CC"

// Options configures the table.
type Options struct {
	// SheetName names the XLSX worksheet. Empty selects DefaultSheetName.
	SheetName string

	// SpeedPrecision is the number of decimals shown for speeds.
	SpeedPrecision int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SheetName:      DefaultSheetName,
		SpeedPrecision: report.DefaultSpeedPrecision,
	}
}

// Generator writes the tabular report.
type Generator struct {
	opts Options
}

var _ report.Generator = (*Generator)(nil)

// New creates a table generator.
func New(opts Options) *Generator {
	if opts.SheetName == "" {
		opts.SheetName = DefaultSheetName
	}
	if opts.SpeedPrecision < 0 {
		opts.SpeedPrecision = report.DefaultSpeedPrecision
	}
	return &Generator{opts: opts}
}

// Name implements report.Generator.
func (g *Generator) Name() string { return errs.StageTable }

// Header returns the column titles for seq.
func Header(seq *record.Sequence) []string {
	header := []string{HeaderTime, HeaderSpeed, HeaderLatitude, HeaderLongitude}
	for _, c := range seq.Columns() {
		header = append(header, c.Name)
	}
	return append(header, HeaderFlags)
}

// Generate implements report.Generator. The format follows the extension of
// path: .csv writes CSV, anything else writes XLSX.
func (g *Generator) Generate(ctx context.Context, seq *record.Sequence, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	render := g.WriteXLSX
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		render = g.WriteCSV
	}
	return report.WriteFile(errs.StageTable, path, func(w io.Writer) error {
		return render(w, seq)
	})
}

// WriteCSV writes seq as CSV, one row per record in sequence order.
func (g *Generator) WriteCSV(w io.Writer, seq *record.Sequence) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(seq)); err != nil {
		return err
	}

	var writeErr error
	seq.Each(func(_ int, r record.NormalizedRecord) bool {
		row := []string{
			report.FormatTime(r.Time),
			report.FormatSpeed(r.SpeedMPH, g.opts.SpeedPrecision),
			report.FormatCoordinate(r.Latitude),
			report.FormatCoordinate(r.Longitude),
		}
		for _, v := range r.Metadata {
			row = append(row, report.FormatValue(v))
		}
		row = append(row, report.FormatFlags(r.Flags()))
		writeErr = cw.Write(row)
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}

	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes seq as a single-sheet workbook with a bold, frozen,
// filterable header. Flagged rows are highlighted. Rows are streamed, so
// memory stays flat however long the sequence is.
func (g *Generator) WriteXLSX(w io.Writer, seq *record.Sequence) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := g.opts.SheetName
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	st, err := newStyles(f, g.opts.SpeedPrecision)
	if err != nil {
		return err
	}

	header := Header(seq)
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream sheet: %w", err)
	}

	// Widths and panes must be set before the first row is streamed.
	if err := sw.SetColWidth(1, 1, 24); err != nil {
		return err
	}
	if err := sw.SetColWidth(2, 4, 13); err != nil {
		return err
	}
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
		Selection:   []excelize.Selection{{SQRef: "A2", ActiveCell: "A2", Pane: "bottomLeft"}},
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := setRow(sw, 1, headerCells(header, st.header)); err != nil {
		return err
	}

	rowNum := 1
	var writeErr error
	seq.Each(func(_ int, r record.NormalizedRecord) bool {
		rowNum++
		writeErr = setRow(sw, rowNum, g.recordCells(r, st))
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}

	// The filter lands in the worksheet the stream writer flushes.
	if err := f.AutoFilter(sheet, fmt.Sprintf("A1:%s%d", lastCol, rowNum), nil); err != nil {
		return fmt.Errorf("autofilter: %w", err)
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	_, err = f.WriteTo(w)
	return err
}

// recordCells lays out one record. Every cell of a flagged row carries the
// highlight, empty ones included.
func (g *Generator) recordCells(r record.NormalizedRecord, st styles) []any {
	style, speedStyle := 0, st.speed
	if r.Flagged() {
		style, speedStyle = st.flagged, st.speedFlagged
	}

	values := []any{
		report.FormatTime(r.Time),
		speedCell(r.SpeedMPH, g.opts.SpeedPrecision),
		coordinateCell(r.Latitude),
		coordinateCell(r.Longitude),
	}
	for _, v := range r.Metadata {
		values = append(values, valueCell(v))
	}
	values = append(values, report.FormatFlags(r.Flags()))

	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = excelize.Cell{StyleID: style, Value: v}
	}
	cells[1] = excelize.Cell{StyleID: speedStyle, Value: values[1]}
	return cells
}

func setRow(sw *excelize.StreamWriter, rowNum int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := sw.SetRow(cell, cells); err != nil {
		return fmt.Errorf("row %d: %w", rowNum, err)
	}
	return nil
}

func headerCells(header []string, style int) []any {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = excelize.Cell{StyleID: style, Value: h}
	}
	return cells
}

// speedCell stores a known speed as a number rounded to the display
// precision, and an unknown one as the placeholder text.
func speedCell(mph sql.NullFloat64, precision int) any {
	s := report.FormatSpeed(mph, precision)
	if !mph.Valid {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

func coordinateCell(c sql.NullFloat64) any {
	if !c.Valid {
		return nil
	}
	return c.Float64
}

func valueCell(v record.Value) any {
	switch val := v.(type) {
	case nil, record.Null:
		return nil
	case record.Int:
		return int64(val)
	case record.Float:
		return float64(val)
	case record.Bool:
		return bool(val)
	default:
		return report.FormatValue(v)
	}
}

type styles struct {
	header       int
	flagged      int
	speed        int
	speedFlagged int
}

func newStyles(f *excelize.File, precision int) (styles, error) {
	numFmt := "0"
	if precision > 0 {
		numFmt += "." + strings.Repeat("0", precision)
	}
	fill := excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{flaggedFill}}

	var (
		st  styles
		err error
	)
	if st.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return st, fmt.Errorf("header style: %w", err)
	}
	if st.flagged, err = f.NewStyle(&excelize.Style{Fill: fill}); err != nil {
		return st, fmt.Errorf("flagged style: %w", err)
	}
	if st.speed, err = f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt}); err != nil {
		return st, fmt.Errorf("speed style: %w", err)
	}
	if st.speedFlagged, err = f.NewStyle(&excelize.Style{Fill: fill, CustomNumFmt: &numFmt}); err != nil {
		return st, fmt.Errorf("speed style: %w", err)
	}
	return st, nil
}
