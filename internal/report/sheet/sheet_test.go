package sheet

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
)

func nf(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }

var base = time.Date(2025, 7, 22, 0, 1, 0, 500_000_000, time.UTC)

func sampleSequence() *record.Sequence {
	cols := []record.Column{{Name: "Z_PK"}, {Name: "ZALTITUDE"}}
	return record.NewSequence(cols, []record.NormalizedRecord{
		{
			Row: 0, Time: base,
			SpeedMPH: nf(3.35540443808),
			Latitude: nf(40.7128), Longitude: nf(-74.006),
			Metadata: []record.Value{record.Int(1), record.Float(10)},
		},
		{
			Row: 3, Time: base.Add(time.Minute),
			SpeedMPH: nf(22.369362920544),
			Latitude: nf(200), Longitude: nf(-74.004), CoordinatesInvalid: true,
			Metadata: []record.Value{record.Int(4), record.Float(12.5)},
		},
		{
			Row: 2, Time: base.Add(2 * time.Minute),
			Longitude: nf(-74.005), CoordinatesInvalid: true,
			Metadata: []record.Value{record.Int(3), record.Null{}},
		},
		{
			Row: 1, Time: base.Add(3 * time.Minute),
			SpeedMPH: nf(-2.2369362920544), SpeedImplausible: true,
			Latitude: nf(40.7135), Longitude: nf(-74.005),
			Metadata: []record.Value{record.Int(2), record.String("11,5")},
		},
	})
}

func TestHeader(t *testing.T) {
	assert.Equal(t,
		[]string{"Timestamp (UTC)", "Speed (MPH)", "Latitude", "Longitude", "Z_PK", "ZALTITUDE", "Flags"},
		Header(sampleSequence()))
	assert.Equal(t,
		[]string{"Timestamp (UTC)", "Speed (MPH)", "Latitude", "Longitude", "Flags"},
		Header(record.NewSequence(nil, nil)))
}

func TestWriteCSVGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(DefaultOptions()).WriteCSV(&buf, sampleSequence()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "locations_csv", buf.Bytes())
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(DefaultOptions()).WriteCSV(&buf, record.NewSequence([]record.Column{{Name: "Z_PK"}}, nil)))
	assert.Equal(t, "Timestamp (UTC),Speed (MPH),Latitude,Longitude,Z_PK,Flags\n", buf.String())
}

func TestGenerateCSVIsByteIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.CSV")
	g := New(DefaultOptions())
	assert.Equal(t, "table", g.Name())

	require.NoError(t, g.Generate(context.Background(), sampleSequence(), path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, g.Generate(context.Background(), sampleSequence(), path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, bytes.HasPrefix(first, []byte("Timestamp (UTC),")))
}

func TestGenerateXLSXReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "locations.xlsx")
	require.NoError(t, New(DefaultOptions()).Generate(context.Background(), sampleSequence(), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{DefaultSheetName}, f.GetSheetList())

	cell := func(ref string) string {
		t.Helper()
		v, err := f.GetCellValue(DefaultSheetName, ref)
		require.NoError(t, err)
		return v
	}

	// Header
	assert.Equal(t, "Timestamp (UTC)", cell("A1"))
	assert.Equal(t, "Speed (MPH)", cell("B1"))
	assert.Equal(t, "Z_PK", cell("E1"))
	assert.Equal(t, "Flags", cell("G1"))

	// Rows in sequence order
	assert.Equal(t, "2025-07-22 00:01:00.500", cell("A2"))
	assert.Equal(t, "3.36", cell("B2"))
	assert.Equal(t, "40.7128", cell("C2"))
	assert.Equal(t, "1", cell("E2"))
	assert.Equal(t, "", cell("G2"))

	assert.Equal(t, "coordinates_invalid", cell("G3"))

	assert.Equal(t, "unknown", cell("B4"))
	assert.Equal(t, "", cell("C4"))
	assert.Equal(t, "", cell("F4"))

	assert.Equal(t, "-2.24", cell("B5"))
	assert.Equal(t, "11,5", cell("F5"))
	assert.Equal(t, "speed_implausible", cell("G5"))

	rows, err := f.GetRows(DefaultSheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 5, "header plus one row per record")
}

func TestGenerateXLSXStyles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.xlsx")
	require.NoError(t, New(DefaultOptions()).Generate(context.Background(), sampleSequence(), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	panes, err := f.GetPanes(DefaultSheetName)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)

	clean, err := f.GetCellStyle(DefaultSheetName, "A2")
	require.NoError(t, err)
	flagged, err := f.GetCellStyle(DefaultSheetName, "A3")
	require.NoError(t, err)
	assert.NotEqual(t, clean, flagged, "flagged rows are highlighted")

	style, err := f.GetStyle(flagged)
	require.NoError(t, err)
	assert.Equal(t, "pattern", style.Fill.Type)
	assert.Len(t, style.Fill.Color, 1)

	unknownSpeed, err := f.GetCellStyle(DefaultSheetName, "C4")
	require.NoError(t, err)
	assert.Equal(t, flagged, unknownSpeed, "empty cells of a flagged row are highlighted too")

	var filter *excelize.DefinedName
	for _, dn := range f.GetDefinedName() {
		if dn.Name == "_xlnm._FilterDatabase" {
			filter = &dn
		}
	}
	require.NotNil(t, filter, "header has an autofilter")
	assert.Contains(t, filter.RefersTo, "$A$1:$G$5")
}

func TestGenerateXLSXIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	g := New(DefaultOptions())
	generate := func(name string) []byte {
		path := filepath.Join(dir, name)
		require.NoError(t, g.Generate(context.Background(), sampleSequence(), path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}

	first := generate("a.xlsx")
	time.Sleep(1100 * time.Millisecond) // cross a second boundary
	second := generate("b.xlsx")
	again := generate("a.xlsx")

	assert.True(t, bytes.Equal(first, second), "workbooks differ between runs")
	assert.True(t, bytes.Equal(first, again), "rewriting the same path changes the workbook")
}

func TestGenerateXLSXLargeSequence(t *testing.T) {
	recs := make([]record.NormalizedRecord, 5000)
	for i := range recs {
		recs[i] = record.NormalizedRecord{
			Row: i, Time: base.Add(time.Duration(i) * time.Second),
			SpeedMPH: nf(float64(i % 70)),
			Latitude: nf(40.7), Longitude: nf(-74.0),
			Metadata: []record.Value{record.Int(int64(i + 1))},
		}
	}
	seq := record.NewSequence([]record.Column{{Name: "Z_PK"}}, recs)
	path := filepath.Join(t.TempDir(), "large.xlsx")
	require.NoError(t, New(DefaultOptions()).Generate(context.Background(), seq, path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(DefaultSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 5001)
	assert.Equal(t, "5000", rows[5000][4])
}

func TestGenerateXLSXCustomSheetAndPrecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.xlsx")
	g := New(Options{SheetName: "Trip", SpeedPrecision: 4})
	require.NoError(t, g.Generate(context.Background(), sampleSequence(), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Trip", "B3")
	require.NoError(t, err)
	assert.Equal(t, "22.3694", v)
}

func TestGenerateUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o644))

	err := New(DefaultOptions()).Generate(context.Background(), sampleSequence(), filepath.Join(dir, "file", "out.xlsx"))
	require.Error(t, err)
	assert.True(t, errs.IsArtifactWriteError(err))
	assert.Equal(t, errs.StageTable, errs.StageOf(err))
}
