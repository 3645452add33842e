package mapview

import (
	"bytes"
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
			Latitude: sql.NullFloat64{}, Longitude: nf(-74.005), CoordinatesInvalid: true,
			Metadata: []record.Value{record.Int(3), record.Null{}},
		},
	})
}

func render(t *testing.T, g *Generator, seq *record.Sequence) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, g.Render(&buf, seq))
	return buf.String()
}

func TestRenderEmbedsEveryRecordInOrder(t *testing.T) {
	out := render(t, New(DefaultOptions()), sampleSequence())

	first := `{"flags":[],"lat":40.7128,"lon":-74.006,"meta":[["Z_PK","1"]],"plot":true,"row":0,"speed":"3.36","time":"2025-07-22 00:01:00.500","valid":true}`
	second := `{"flags":["coordinates_invalid"],"lat":200,"lon":-74.004,"meta":[["Z_PK","4"]],"plot":true,"row":3,"speed":"22.37","time":"2025-07-22 00:02:00.500","valid":false}`
	third := `{"flags":["speed_unknown","coordinates_invalid"],"lat":null,"lon":null,"meta":[["Z_PK","3"]],"plot":false,"row":2,"speed":"unknown","time":"2025-07-22 00:03:00.500","valid":false}`

	assert.Contains(t, out, "var points = ["+first+","+second+","+third+"];")
	assert.Contains(t, out, `var config = {"center":[40.7128,-74.006],"path":false,"unknown":"unknown","zoom":12};`)
}

func TestRenderSummaryAndUnplottedPanel(t *testing.T) {
	out := render(t, New(DefaultOptions()), sampleSequence())

	assert.Contains(t, out, "<title>Location History</title>")
	assert.Contains(t, out, "2 of 3 records plotted, 2025-07-22 00:01:00.500 to 2025-07-22 00:03:00.500 UTC")
	assert.Contains(t, out, "1 with out-of-range coordinates")
	assert.Contains(t, out, "Unplotted records (1)")
	assert.Contains(t, out, "<tr><td>2</td><td>2025-07-22 00:03:00.500</td><td>unknown</td><td></td><td>-74.005</td><td>speed_unknown; coordinates_invalid</td></tr>")
}

func TestRenderIsByteIdentical(t *testing.T) {
	g := New(DefaultOptions())
	a := render(t, g, sampleSequence())
	b := render(t, g, sampleSequence())
	assert.Equal(t, a, b)
}

func TestRenderEscapesMetadata(t *testing.T) {
	seq := record.NewSequence([]record.Column{{Name: "Z_PK"}}, []record.NormalizedRecord{{
		Time: base, SpeedMPH: nf(1), Latitude: nf(1), Longitude: nf(1),
		Metadata: []record.Value{record.String("</script><script>alert(1)</script>")},
	}})

	out := render(t, New(DefaultOptions()), seq)
	assert.NotContains(t, out, "<script>alert(1)")
	assert.Contains(t, out, `\u003c/script\u003e\u003cscript\u003ealert(1)\u003c/script\u003e`)
	assert.Equal(t, 1, strings.Count(out, "</script>\n</body>"), "only the page's own script is closed")
}

func TestRenderTitleIsEscaped(t *testing.T) {
	opts := DefaultOptions()
	opts.Title = "Trips <b>& stops"
	out := render(t, New(opts), record.NewSequence(nil, nil))
	assert.Contains(t, out, "<title>Trips &lt;b&gt;&amp; stops</title>")
}

func TestRenderEmptySequence(t *testing.T) {
	out := render(t, New(DefaultOptions()), record.NewSequence(nil, nil))

	assert.Contains(t, out, "var points = [];")
	assert.Contains(t, out, `"center":[0,0]`)
	assert.Contains(t, out, `"zoom":2`)
	assert.Contains(t, out, "0 of 0 records plotted")
	assert.NotContains(t, out, "Unplotted records")
}

func TestRenderPathAndPopupColumns(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = true
	opts.PopupColumns = []string{"zaltitude", "ZMISSING", "Z_PK"}

	out := render(t, New(opts), sampleSequence())
	assert.Contains(t, out, `"path":true`)
	assert.Contains(t, out, `"meta":[["ZALTITUDE","10"],["Z_PK","1"]]`)
	assert.Contains(t, out, `"meta":[["ZALTITUDE",""],["Z_PK","3"]]`)
}

func TestRenderNaNCoordinatesAreUnplotted(t *testing.T) {
	seq := record.NewSequence(nil, []record.NormalizedRecord{{
		Time: base, Latitude: nf(math.NaN()), Longitude: nf(1), CoordinatesInvalid: true,
	}})

	out := render(t, New(DefaultOptions()), seq)
	assert.Contains(t, out, `"lat":null,"lon":null`)
	assert.Contains(t, out, "Unplotted records (1)")
}

func TestGenerateWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps", DefaultFileName)
	g := New(DefaultOptions())
	assert.Equal(t, "map", g.Name())

	require.NoError(t, g.Generate(context.Background(), sampleSequence(), path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, g.Generate(context.Background(), sampleSequence(), path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second, "rerun must produce identical bytes")
	assert.True(t, bytes.HasPrefix(first, []byte("<!DOCTYPE html>")))
}

func TestGenerateUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o644))

	err := New(DefaultOptions()).Generate(context.Background(), sampleSequence(), filepath.Join(dir, "file", "map.html"))
	require.Error(t, err)
	assert.True(t, errs.IsArtifactWriteError(err))
	assert.Equal(t, errs.StageMap, errs.StageOf(err))
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "map.html")
	err := New(DefaultOptions()).Generate(ctx, sampleSequence(), path)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, path)
}
