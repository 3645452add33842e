package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// CacheSchema is the location table as the daemon's Core Data store declares it.
// ZTIMESTAMP is declared TIMESTAMP, which the SQLite driver would normally
// reinterpret; fixtures keep that declaration on purpose.
const CacheSchema = `
CREATE TABLE ZRTCLLOCATIONMO (
	Z_PK INTEGER PRIMARY KEY,
	Z_ENT INTEGER,
	Z_OPT INTEGER,
	ZALTITUDE FLOAT,
	ZCOURSE FLOAT,
	ZHORIZONTALACCURACY FLOAT,
	ZLATITUDE FLOAT,
	ZLONGITUDE FLOAT,
	ZSPEED FLOAT,
	ZTIMESTAMP TIMESTAMP,
	ZVERTICALACCURACY FLOAT
)`

// CacheRow is one fixture row. Nil fields are stored as NULL.
type CacheRow struct {
	PK        int64
	Timestamp any
	Latitude  any
	Longitude any
	Speed     any
	Altitude  any
}

// NewCacheDB creates a Cache.sqlite-style database in t.TempDir() holding rows
// in the given order and returns its path.
func NewCacheDB(t *testing.T, rows ...CacheRow) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "Cache.sqlite")
	ExecDB(t, path, CacheSchema)

	db := openRW(t, path)
	defer db.Close()

	for _, r := range rows {
		_, err := db.Exec(`
			INSERT INTO ZRTCLLOCATIONMO
			(Z_PK, Z_ENT, Z_OPT, ZALTITUDE, ZCOURSE, ZHORIZONTALACCURACY,
			 ZLATITUDE, ZLONGITUDE, ZSPEED, ZTIMESTAMP, ZVERTICALACCURACY)
			VALUES (?, 12, 1, ?, -1.0, 5.0, ?, ?, ?, ?, 3.0)
		`, r.PK, r.Altitude, r.Latitude, r.Longitude, r.Speed, r.Timestamp)
		require.NoError(t, err, "insert fixture row %d", r.PK)
	}

	return path
}

// ExecDB runs statements against the SQLite database at path, creating it if needed.
func ExecDB(t *testing.T, path string, stmts ...string) {
	t.Helper()

	db := openRW(t, path)
	defer db.Close()

	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, "exec %q", stmt)
	}
}

func openRW(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	return db
}

// SampleRows is a small, deliberately unsorted trace through lower Manhattan.
// Row 2 has unknown speed, row 3 a negative speed, and row 4 an impossible latitude.
func SampleRows() []CacheRow {
	return []CacheRow{
		{PK: 1, Timestamp: 774835260.5, Latitude: 40.7128, Longitude: -74.006, Speed: 1.5, Altitude: 10.0},
		{PK: 2, Timestamp: 774835200.0, Latitude: 40.7130, Longitude: -74.0055, Speed: nil, Altitude: 11.0},
		{PK: 3, Timestamp: 774835320.25, Latitude: 40.7135, Longitude: -74.005, Speed: -1.0, Altitude: nil},
		{PK: 4, Timestamp: int64(774835230), Latitude: 200.0, Longitude: -74.004, Speed: 10.0, Altitude: 12.5},
	}
}
