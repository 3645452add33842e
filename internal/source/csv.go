package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
)

// utf8BOM is prepended by spreadsheet tools when saving CSV.
const utf8BOM = "\ufeff"

// csvSource streams rows from a CSV export whose first line is the header.
type csvSource struct {
	path   string
	file   *os.File
	reader *csv.Reader
	layout layout

	row    int
	cur    record.RawRecord
	err    error
	closed bool
}

func openCSVReader(path string) (*os.File, *csv.Reader, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, errs.SourceUnavailable(path, err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		// No header at all: the schema check below reports the missing columns.
		return f, r, nil, nil
	}
	if err != nil {
		f.Close()
		return nil, nil, nil, errs.SourceUnavailable(path, fmt.Errorf("read header: %w", err))
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	return f, r, header, nil
}

func openCSV(path string, cols Columns) (*csvSource, error) {
	f, r, header, err := openCSVReader(path)
	if err != nil {
		return nil, err
	}

	l, err := resolveLayout(header, cols)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &csvSource{path: path, file: f, reader: r, layout: l}, nil
}

func (s *csvSource) Metadata() []record.Column {
	return append([]record.Column(nil), s.layout.metaCols...)
}

func (s *csvSource) Next() bool {
	if s.closed || s.err != nil {
		return false
	}

	fields, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		s.Close()
		return false
	}
	if err != nil {
		s.fail(errs.SourceUnavailable(s.path, fmt.Errorf("read row %d: %w", s.row, err)))
		return false
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

// textCells turns exported text cells into values; empty cells are NULL.
func textCells(fields []string) []record.Value {
	cells := make([]record.Value, len(fields))
	for i, f := range fields {
		if f == "" {
			cells[i] = record.Null{}
			continue
		}
		cells[i] = record.String(f)
	}
	return cells
}

func (s *csvSource) Record() record.RawRecord { return s.cur }

func (s *csvSource) Err() error { return s.err }

func (s *csvSource) fail(err error) {
	s.err = err
	s.Close()
}

func (s *csvSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

func describeCSV(path string) ([]TableInfo, error) {
	f, r, header, err := openCSVReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var count int64
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errs.SourceUnavailable(path, fmt.Errorf("read row %d: %w", count, err))
		}
		count++
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return []TableInfo{{Name: name, Columns: header, Rows: count}}, nil
}
