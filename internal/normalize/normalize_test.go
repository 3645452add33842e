package normalize

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/locmap/internal/convert"
	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
	"github.com/roach88/locmap/internal/source"
	"github.com/roach88/locmap/internal/testutil"
)

// sliceSource is an in-memory source.Source for tests.
type sliceSource struct {
	cols    []record.Column
	records []record.RawRecord
	err     error

	idx    int
	closed bool
}

func (s *sliceSource) Metadata() []record.Column { return s.cols }

func (s *sliceSource) Next() bool {
	if s.closed || s.idx >= len(s.records) {
		s.closed = true
		return false
	}
	s.idx++
	return true
}

func (s *sliceSource) Record() record.RawRecord { return s.records[s.idx-1] }

func (s *sliceSource) Err() error {
	if s.idx >= len(s.records) {
		return s.err
	}
	return nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func nf(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }

func raw(row int, ts record.Value) record.RawRecord {
	return record.RawRecord{Row: row, Timestamp: ts, Latitude: nf(1), Longitude: nf(2), Speed: nf(1)}
}

func rows(seq *record.Sequence) []int {
	var out []int
	seq.Each(func(_ int, r record.NormalizedRecord) bool {
		out = append(out, r.Row)
		return true
	})
	return out
}

func TestNormalizeSortsChronologically(t *testing.T) {
	src := &sliceSource{records: []record.RawRecord{
		raw(0, record.Int(300)),
		raw(1, record.Int(100)),
		raw(2, record.Float(200.5)),
	}}

	seq, err := Normalize(context.Background(), src, convert.AppleEpoch)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, rows(seq))
	assert.True(t, src.closed, "source must be released before returning")
}

func TestNormalizeTieBreakByRow(t *testing.T) {
	src := &sliceSource{records: []record.RawRecord{
		raw(0, record.Int(500)),
		raw(1, record.Int(100)),
		raw(2, record.Float(100)),
		raw(3, record.String("100")),
		raw(4, record.Int(50)),
	}}

	seq, err := Normalize(context.Background(), src, convert.AppleEpoch)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 2, 3, 0}, rows(seq))
}

func TestSortIsDeterministicRegardlessOfInputPermutation(t *testing.T) {
	base := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	build := func(order []int) []record.NormalizedRecord {
		var out []record.NormalizedRecord
		for _, row := range order {
			// Rows 0-2 share one instant, 3-4 another.
			offset := time.Duration(row/3) * time.Minute
			out = append(out, record.NormalizedRecord{Row: row, Time: base.Add(offset)})
		}
		return out
	}

	want := []int{0, 1, 2, 3, 4}
	for _, order := range [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {2, 4, 0, 3, 1}} {
		recs := build(order)
		Sort(recs)
		var got []int
		for _, r := range recs {
			got = append(got, r.Row)
		}
		assert.Equal(t, want, got, "input order %v", order)
	}
}

func TestNormalizeKeepsAndFlagsSuspectRows(t *testing.T) {
	src := &sliceSource{records: []record.RawRecord{
		{Row: 0, Timestamp: record.Int(10), Latitude: nf(40), Longitude: nf(-74), Speed: sql.NullFloat64{}},
		{Row: 1, Timestamp: record.Int(20), Latitude: nf(200), Longitude: nf(-74), Speed: nf(2)},
		{Row: 2, Timestamp: record.Int(30), Speed: nf(-1)},
		{Row: 3, Timestamp: record.Int(40), Latitude: nf(40), Longitude: nf(-74), Speed: nf(0)},
	}}

	seq, err := Normalize(context.Background(), src, convert.AppleEpoch)
	require.NoError(t, err)
	require.Equal(t, 4, seq.Len(), "no record may be dropped")

	assert.Equal(t, []string{record.FlagSpeedUnknown}, seq.At(0).Flags())
	assert.False(t, seq.At(0).SpeedMPH.Valid, "unknown speed stays unknown")

	assert.Equal(t, []string{record.FlagCoordinatesInvalid}, seq.At(1).Flags())
	assert.Equal(t, []string{record.FlagSpeedImplausible, record.FlagCoordinatesInvalid}, seq.At(2).Flags())
	assert.Empty(t, seq.At(3).Flags())
	assert.Equal(t, 0.0, seq.At(3).SpeedMPH.Float64)

	stats := Summarize(seq)
	assert.Equal(t, Stats{Records: 4, SpeedUnknown: 1, SpeedImplausible: 1, CoordinatesInvalid: 2}, stats)
}

func TestNormalizeConversionErrorIsAtomic(t *testing.T) {
	src := &sliceSource{records: []record.RawRecord{
		raw(0, record.Int(100)),
		raw(1, record.String("garbage")),
		raw(2, record.Float(1e300)),
	}}

	seq, err := NormalizeField(context.Background(), src, convert.AppleEpoch, "ZTIMESTAMP")
	require.Error(t, err)
	assert.Nil(t, seq, "no partial sequence on failure")
	assert.True(t, src.closed)

	assert.True(t, errs.IsConversionError(err))
	assert.True(t, errs.IsInvalidTimestamp(err))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 1, e.Row, "first failing row is reported")
	assert.Equal(t, "ZTIMESTAMP", e.Field)
	assert.Contains(t, err.Error(), "garbage")
}

func TestNormalizePropagatesSourceError(t *testing.T) {
	srcErr := errs.SchemaMismatchAt(1, "ZSPEED", assert.AnError)
	src := &sliceSource{records: []record.RawRecord{raw(0, record.Int(1))}, err: srcErr}

	_, err := Normalize(context.Background(), src, convert.AppleEpoch)
	require.Error(t, err)
	assert.True(t, errs.IsSchemaMismatch(err))
}

func TestNormalizeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &sliceSource{records: []record.RawRecord{raw(0, record.Int(1))}}
	_, err := Normalize(ctx, src, convert.AppleEpoch)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, src.closed)
}

func TestNormalizeEmptySource(t *testing.T) {
	src := &sliceSource{cols: []record.Column{{Name: "Z_PK"}}}

	seq, err := Normalize(context.Background(), src, convert.AppleEpoch)
	require.NoError(t, err)
	assert.Equal(t, 0, seq.Len())
	assert.Equal(t, []record.Column{{Name: "Z_PK"}}, seq.Columns())
}

func TestNormalizeKeepsOriginalEpoch(t *testing.T) {
	src := &sliceSource{records: []record.RawRecord{raw(0, record.Float(774835200.25))}}

	seq, err := Normalize(context.Background(), src, convert.AppleEpoch)
	require.NoError(t, err)

	r := seq.At(0)
	assert.Equal(t, record.Float(774835200.25), r.Epoch)
	assert.InDelta(t, 774835200.25, convert.AppleEpoch.FromTime(r.Time), 1e-6)
}

func TestNormalizeFromSQLite(t *testing.T) {
	path := testutil.NewCacheDB(t, testutil.SampleRows()...)
	src, err := source.Open(context.Background(), path, "", source.DefaultColumns())
	require.NoError(t, err)

	seq, err := Normalize(context.Background(), src, convert.AppleEpoch)
	require.NoError(t, err)

	// 774835200 < 774835230 < 774835260.5 < 774835320.25
	assert.Equal(t, []int{1, 3, 0, 2}, rows(seq))
	assert.Equal(t, time.Date(2025, 7, 22, 0, 0, 0, 0, time.UTC), seq.At(0).Time)

	// Running twice over the same file yields the same sequence.
	src2, err := source.Open(context.Background(), path, "", source.DefaultColumns())
	require.NoError(t, err)
	seq2, err := Normalize(context.Background(), src2, convert.AppleEpoch)
	require.NoError(t, err)
	assert.Equal(t, seq.Records(), seq2.Records())
}
