package source

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
)

// xlsxSource streams rows from one sheet of a spreadsheet export.
type xlsxSource struct {
	path   string
	file   *excelize.File
	rows   *excelize.Rows
	layout layout

	row    int
	cur    record.RawRecord
	err    error
	closed bool
}

// rawCells reads cell values as stored, not as displayed, so a coordinate
// formatted to two decimals still reads back at full precision.
var rawCells = excelize.Options{RawCellValue: true}

// resolveSheet finds sheet in f, case-insensitively. Empty means the first
// sheet, and so does DefaultTable when no sheet carries that name: exports
// rarely keep the database table's name.
func resolveSheet(f *excelize.File, sheet string) (string, bool) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", false
	}
	if sheet == "" {
		return sheets[0], true
	}
	for _, s := range sheets {
		if strings.EqualFold(s, sheet) {
			return s, true
		}
	}
	if strings.EqualFold(sheet, DefaultTable) {
		return sheets[0], true
	}
	return "", false
}

func openXLSX(path, sheet string, cols Columns) (*xlsxSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errs.SourceUnavailable(path, err)
	}

	name, ok := resolveSheet(f, sheet)
	if !ok {
		f.Close()
		return nil, errs.SchemaMismatch(sheet, fmt.Sprintf("sheet %q not found", sheet))
	}

	rows, err := f.Rows(name)
	if err != nil {
		f.Close()
		return nil, errs.SourceUnavailable(path, fmt.Errorf("read sheet %s: %w", name, err))
	}

	var header []string
	if rows.Next() {
		header, err = rows.Columns(rawCells)
		if err != nil {
			rows.Close()
			f.Close()
			return nil, errs.SourceUnavailable(path, fmt.Errorf("read header: %w", err))
		}
	}

	l, err := resolveLayout(header, cols)
	if err != nil {
		rows.Close()
		f.Close()
		return nil, err
	}

	return &xlsxSource{path: path, file: f, rows: rows, layout: l}, nil
}

func (s *xlsxSource) Metadata() []record.Column {
	return append([]record.Column(nil), s.layout.metaCols...)
}

func (s *xlsxSource) Next() bool {
	if s.closed || s.err != nil {
		return false
	}

	var fields []string
	for {
		if !s.rows.Next() {
			if err := s.rows.Error(); err != nil {
				s.fail(errs.SourceUnavailable(s.path, fmt.Errorf("read row %d: %w", s.row, err)))
				return false
			}
			s.Close()
			return false
		}

		var err error
		fields, err = s.rows.Columns(rawCells)
		if err != nil {
			s.fail(errs.SourceUnavailable(s.path, fmt.Errorf("read row %d: %w", s.row, err)))
			return false
		}
		if len(fields) > 0 {
			break
		}
		// Blank rows are layout, not data, but still hold a position so Row
		// matches the worksheet: data row i sits on worksheet row i+2.
		s.row++
	}

	rec, err := s.layout.build(s.row, textCells(fields))
	if err != nil {
		s.fail(err)
		return false
	}

	s.cur = rec
	s.row++
	return true
}

func (s *xlsxSource) Record() record.RawRecord { return s.cur }

func (s *xlsxSource) Err() error { return s.err }

func (s *xlsxSource) fail(err error) {
	s.err = err
	s.Close()
}

func (s *xlsxSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	rowsErr := s.rows.Close()
	fileErr := s.file.Close()
	if rowsErr != nil {
		return rowsErr
	}
	return fileErr
}

func describeXLSX(path string) ([]TableInfo, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errs.SourceUnavailable(path, err)
	}
	defer f.Close()

	var tables []TableInfo
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, rawCells)
		if err != nil {
			return nil, errs.SourceUnavailable(path, fmt.Errorf("read sheet %s: %w", sheet, err))
		}
		info := TableInfo{Name: sheet}
		if len(rows) > 0 {
			info.Columns = rows[0]
			info.Rows = int64(len(rows) - 1)
		}
		tables = append(tables, info)
	}
	return tables, nil
}
