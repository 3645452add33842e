package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
)

// sqliteSource streams rows from one table of a SQLite file.
type sqliteSource struct {
	path   string
	db     *sql.DB
	rows   *sql.Rows
	layout layout

	row    int
	cur    record.RawRecord
	err    error
	closed bool
}

// readOnlyDSN builds a URI that opens path without ever writing to it.
// immutable=1 also stops SQLite from creating -wal/-shm files or taking locks.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro&immutable=1"}
	return u.String(), nil
}

// openDatabase opens path read-only and checks it really is a SQLite database.
func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.SourceUnavailable(path, err)
	}
	if info.IsDir() {
		return nil, errs.SourceUnavailable(path, errors.New("is a directory"))
	}

	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, errs.SourceUnavailable(path, err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.SourceUnavailable(path, fmt.Errorf("open database: %w", err))
	}

	// One reader is all a single pass needs.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.SourceUnavailable(path, fmt.Errorf("connect to database: %w", err))
	}

	// Ping succeeds on any file; reading the schema is what detects non-databases.
	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		return nil, errs.SourceUnavailable(path, fmt.Errorf("read schema: %w", err))
	}

	return db, nil
}

func openSQLite(ctx context.Context, path, table string, cols Columns) (*sqliteSource, error) {
	if table == "" {
		table = DefaultTable
	}

	db, err := openDatabase(ctx, path)
	if err != nil {
		return nil, err
	}

	header, err := tableColumns(ctx, db, table)
	if err != nil {
		db.Close()
		return nil, errs.SourceUnavailable(path, err)
	}
	if len(header) == 0 {
		db.Close()
		return nil, errs.SchemaMismatch(table, fmt.Sprintf("table %q not found", table))
	}

	l, err := resolveLayout(header, cols)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Unary plus strips the declared type, so mattn/go-sqlite3 hands back the
	// stored value instead of reinterpreting TIMESTAMP integers as Unix times.
	selects := make([]string, len(header))
	for i, h := range header {
		selects[i] = "+" + quoteIdent(h)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), quoteIdent(table))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		db.Close()
		return nil, errs.SourceUnavailable(path, fmt.Errorf("query %s: %w", table, err))
	}

	return &sqliteSource{path: path, db: db, rows: rows, layout: l}, nil
}

// tableColumns returns the table's column names in declaration order, or
// nothing when the table does not exist.
func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info: %w", err)
	}
	return names, nil
}

// quoteIdent quotes a SQL identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *sqliteSource) Metadata() []record.Column {
	return append([]record.Column(nil), s.layout.metaCols...)
}

func (s *sqliteSource) Next() bool {
	if s.closed || s.err != nil {
		return false
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			s.fail(errs.SourceUnavailable(s.path, fmt.Errorf("read row %d: %w", s.row, err)))
			return false
		}
		s.Close()
		return false
	}

	raw := make([]any, len(s.layout.names))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		s.fail(errs.SourceUnavailable(s.path, fmt.Errorf("scan row %d: %w", s.row, err)))
		return false
	}

	cells := make([]record.Value, len(raw))
	for i, v := range raw {
		cell, err := record.FromDriver(v)
		if err != nil {
			s.fail(errs.SchemaMismatchAt(s.row, s.layout.names[i], err))
			return false
		}
		cells[i] = cell
	}

	rec, err := s.layout.build(s.row, cells)
	if err != nil {
		s.fail(err)
		return false
	}

	s.cur = rec
	s.row++
	return true
}

func (s *sqliteSource) Record() record.RawRecord { return s.cur }

func (s *sqliteSource) Err() error { return s.err }

// fail records the first error and releases the database.
func (s *sqliteSource) fail(err error) {
	s.err = err
	s.Close()
}

func (s *sqliteSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	rowsErr := s.rows.Close()
	dbErr := s.db.Close()
	return errors.Join(rowsErr, dbErr)
}

func describeSQLite(ctx context.Context, path string) ([]TableInfo, error) {
	db, err := openDatabase(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, errs.SourceUnavailable(path, fmt.Errorf("list tables: %w", err))
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, errs.SourceUnavailable(path, fmt.Errorf("scan table name: %w", err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errs.SourceUnavailable(path, fmt.Errorf("iterate tables: %w", err))
	}
	rows.Close()

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		cols, err := tableColumns(ctx, db, name)
		if err != nil {
			return nil, errs.SourceUnavailable(path, err)
		}
		var count int64
		if err := db.QueryRowContext(ctx, "SELECT count(*) FROM "+quoteIdent(name)).Scan(&count); err != nil {
			return nil, errs.SourceUnavailable(path, fmt.Errorf("count %s: %w", name, err))
		}
		tables = append(tables, TableInfo{Name: name, Columns: cols, Rows: count})
	}
	return tables, nil
}
