package record

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nf(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }

func TestFlags(t *testing.T) {
	r := NormalizedRecord{SpeedMPH: nf(10)}
	assert.Empty(t, r.Flags())
	assert.False(t, r.Flagged())

	r = NormalizedRecord{SpeedImplausible: true, SpeedMPH: nf(-2), CoordinatesInvalid: true}
	assert.Equal(t, []string{FlagSpeedImplausible, FlagCoordinatesInvalid}, r.Flags())
	assert.True(t, r.Flagged())

	r = NormalizedRecord{}
	assert.Equal(t, []string{FlagSpeedUnknown}, r.Flags())
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(nf(40.7), nf(-74)))
	assert.True(t, ValidCoordinates(nf(90), nf(180)))
	assert.True(t, ValidCoordinates(nf(-90), nf(-180)))
	assert.False(t, ValidCoordinates(nf(200), nf(0)))
	assert.False(t, ValidCoordinates(nf(0), nf(180.5)))
	assert.False(t, ValidCoordinates(sql.NullFloat64{}, nf(0)))
	assert.False(t, ValidCoordinates(nf(math.NaN()), nf(0)))
}

func TestPlottable(t *testing.T) {
	assert.True(t, NormalizedRecord{Latitude: nf(200), Longitude: nf(0)}.Plottable())
	assert.False(t, NormalizedRecord{Latitude: nf(1)}.Plottable())
	assert.False(t, NormalizedRecord{Latitude: nf(math.Inf(1)), Longitude: nf(0)}.Plottable())
}

func TestSequenceIsReadOnly(t *testing.T) {
	records := []NormalizedRecord{
		{Row: 0, Time: time.Unix(10, 0).UTC(), Metadata: []Value{Int(1)}},
		{Row: 1, Time: time.Unix(20, 0).UTC(), Metadata: []Value{Int(2)}},
	}
	columns := []Column{{Name: "Z_PK"}}
	seq := NewSequence(columns, records)

	// Mutating inputs after construction does not leak in.
	records[0].Row = 99
	columns[0].Name = "changed"
	assert.Equal(t, 0, seq.At(0).Row)
	assert.Equal(t, "Z_PK", seq.Columns()[0].Name)

	// Mutating returned values does not leak in either.
	got := seq.At(1)
	got.Metadata[0] = Int(42)
	assert.Equal(t, Int(2), seq.At(1).Metadata[0])

	all := seq.Records()
	all[0].Row = 7
	assert.Equal(t, 0, seq.At(0).Row)
}

func TestSequenceSpanAndEach(t *testing.T) {
	var empty *Sequence
	assert.Equal(t, 0, empty.Len())
	_, _, ok := empty.Span()
	assert.False(t, ok)

	seq := NewSequence(nil, []NormalizedRecord{
		{Row: 0, Time: time.Unix(10, 0).UTC()},
		{Row: 1, Time: time.Unix(20, 0).UTC()},
		{Row: 2, Time: time.Unix(30, 0).UTC()},
	})
	first, last, ok := seq.Span()
	require.True(t, ok)
	assert.Equal(t, int64(10), first.Unix())
	assert.Equal(t, int64(30), last.Unix())

	var seen []int
	seq.Each(func(i int, r NormalizedRecord) bool {
		seen = append(seen, r.Row)
		return i < 1
	})
	assert.Equal(t, []int{0, 1}, seen)
}

func TestSequenceColumnIndex(t *testing.T) {
	seq := NewSequence([]Column{{Name: "Z_PK"}, {Name: "ZALTITUDE"}}, nil)
	assert.Equal(t, 0, seq.ColumnIndex("z_pk"))
	assert.Equal(t, 1, seq.ColumnIndex("ZALTITUDE"))
	assert.Equal(t, -1, seq.ColumnIndex("missing"))
}
