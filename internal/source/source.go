package source

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
)

// DefaultTable is the location table of the daemon's Cache.sqlite.
const DefaultTable = "ZRTCLLOCATIONMO"

// Columns names the four required columns. Matching is case-insensitive.
type Columns struct {
	Timestamp string `yaml:"timestamp" json:"timestamp"`
	Latitude  string `yaml:"latitude" json:"latitude"`
	Longitude string `yaml:"longitude" json:"longitude"`
	Speed     string `yaml:"speed" json:"speed"`
}

// DefaultColumns returns the column names used by the daemon's cache.
func DefaultColumns() Columns {
	return Columns{
		Timestamp: "ZTIMESTAMP",
		Latitude:  "ZLATITUDE",
		Longitude: "ZLONGITUDE",
		Speed:     "ZSPEED",
	}
}

// WithDefaults fills empty names from DefaultColumns.
func (c Columns) WithDefaults() Columns {
	d := DefaultColumns()
	if c.Timestamp == "" {
		c.Timestamp = d.Timestamp
	}
	if c.Latitude == "" {
		c.Latitude = d.Latitude
	}
	if c.Longitude == "" {
		c.Longitude = d.Longitude
	}
	if c.Speed == "" {
		c.Speed = d.Speed
	}
	return c
}

// Source is a single-pass cursor over raw records, modeled on sql.Rows.
//
//	src, err := source.Open(ctx, path, "", source.DefaultColumns())
//	if err != nil { ... }
//	defer src.Close()
//	for src.Next() {
//	    rec := src.Record()
//	}
//	if err := src.Err(); err != nil { ... }
type Source interface {
	// Metadata returns the passthrough columns in source order.
	Metadata() []record.Column

	// Next advances to the next row. It returns false at the end or on error.
	Next() bool

	// Record returns the current row. Only valid after Next returned true.
	Record() record.RawRecord

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the underlying file. Safe to call more than once.
	Close() error
}

// Kind identifies the container format of a source file.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindCSV    Kind = "csv"
	KindXLSX   Kind = "xlsx"
)

// KindOf picks the reader for path by extension. Anything that is not a
// .csv or .xlsx file is treated as SQLite, since cache files come with many
// extensions (.sqlite, .db, .sqlite3, none).
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return KindCSV
	case ".xlsx":
		return KindXLSX
	default:
		return KindSQLite
	}
}

// Open opens the source at path and validates its schema.
//
// For SQLite, table names the location table (DefaultTable when empty).
// For XLSX it names a sheet (the first sheet when empty). CSV ignores it.
//
// Returns a SourceUnavailable error if the file cannot be opened and a
// SchemaMismatch error if the table or a required column is absent.
func Open(ctx context.Context, path, table string, cols Columns) (Source, error) {
	cols = cols.WithDefaults()
	switch KindOf(path) {
	case KindCSV:
		return openCSV(path, cols)
	case KindXLSX:
		return openXLSX(path, table, cols)
	default:
		return openSQLite(ctx, path, table, cols)
	}
}

// TableInfo describes one table (or sheet) in a source file.
type TableInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Describe lists the tables in a source file with their columns and row counts.
// Tables are returned in name order for SQLite and in file order otherwise.
func Describe(ctx context.Context, path string) ([]TableInfo, error) {
	switch KindOf(path) {
	case KindCSV:
		return describeCSV(path)
	case KindXLSX:
		return describeXLSX(path)
	default:
		return describeSQLite(ctx, path)
	}
}

// layout maps the required fields and metadata onto cell positions.
type layout struct {
	timestamp int
	latitude  int
	longitude int
	speed     int

	names    []string
	metaIdx  []int
	metaCols []record.Column
}

// resolveLayout finds the required columns in header and treats every other
// column as passthrough metadata, in header order.
func resolveLayout(header []string, cols Columns) (layout, error) {
	find := func(name string) int {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}

	l := layout{
		timestamp: find(cols.Timestamp),
		latitude:  find(cols.Latitude),
		longitude: find(cols.Longitude),
		speed:     find(cols.Speed),
		names:     header,
	}

	var missing []string
	for _, req := range []struct {
		name string
		idx  int
	}{
		{cols.Timestamp, l.timestamp},
		{cols.Latitude, l.latitude},
		{cols.Longitude, l.longitude},
		{cols.Speed, l.speed},
	} {
		if req.idx < 0 {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return layout{}, errs.SchemaMismatch(missing[0],
			fmt.Sprintf("required column(s) not found: %s", strings.Join(missing, ", ")))
	}

	for i, h := range header {
		if i == l.timestamp || i == l.latitude || i == l.longitude || i == l.speed {
			continue
		}
		l.metaIdx = append(l.metaIdx, i)
		l.metaCols = append(l.metaCols, record.Column{Name: h})
	}
	return l, nil
}

// build assembles a RawRecord from one row of cells. Short rows (trailing
// empty cells trimmed by the exporter) read as NULL.
func (l layout) build(row int, cells []record.Value) (record.RawRecord, error) {
	cell := func(i int) record.Value {
		if i < len(cells) && cells[i] != nil {
			return cells[i]
		}
		return record.Null{}
	}

	rec := record.RawRecord{
		Row:       row,
		Timestamp: cell(l.timestamp),
		Metadata:  make([]record.Value, len(l.metaIdx)),
	}

	for _, f := range []struct {
		idx int
		dst *sql.NullFloat64
	}{
		{l.latitude, &rec.Latitude},
		{l.longitude, &rec.Longitude},
		{l.speed, &rec.Speed},
	} {
		v, ok, err := record.Numeric(cell(f.idx))
		if err != nil {
			return record.RawRecord{}, errs.SchemaMismatchAt(row, l.names[f.idx], err)
		}
		*f.dst = sql.NullFloat64{Float64: v, Valid: ok}
	}

	for i, idx := range l.metaIdx {
		rec.Metadata[i] = cell(idx)
	}
	return rec, nil
}
