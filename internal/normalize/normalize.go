// Package normalize turns a raw record source into an ordered, immutable
// record.Sequence.
//
// Normalization is all-or-nothing: every row is kept (flagged rather than
// dropped when its speed or coordinates are suspect), and a single
// unconvertible timestamp aborts the whole run with the row that caused it.
package normalize

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/roach88/locmap/internal/convert"
	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
	"github.com/roach88/locmap/internal/source"
)

// TimestampField names the timestamp in ConversionError when the source
// column name is not known.
const TimestampField = "timestamp"

// Normalize drains src, converts every row, and returns the records sorted
// by (Time, Row).
//
// The source is closed before Normalize returns on every path, so the input
// file is never held open while reports are generated.
//
// Returns a ConversionError wrapping the first InvalidTimestamp (with its row
// index) if any timestamp cannot be converted, or the source's own error if
// reading fails. No partial sequence is ever returned.
func Normalize(ctx context.Context, src source.Source, epoch convert.Epoch) (*record.Sequence, error) {
	return NormalizeField(ctx, src, epoch, TimestampField)
}

// NormalizeField is Normalize with the timestamp column's name used in errors.
func NormalizeField(ctx context.Context, src source.Source, epoch convert.Epoch, field string) (*record.Sequence, error) {
	defer src.Close()

	var records []record.NormalizedRecord
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw := src.Record()
		rec, err := Convert(raw, epoch)
		if err != nil {
			return nil, errs.ConversionError(raw.Row, field, err)
		}
		records = append(records, rec)
	}
	if err := src.Err(); err != nil {
		return nil, err
	}

	Sort(records)
	return record.NewSequence(src.Metadata(), records), nil
}

// Convert applies the field conversions to a single raw record.
// The only failure is an InvalidTimestamp, tagged with the record's row.
func Convert(raw record.RawRecord, epoch convert.Epoch) (record.NormalizedRecord, error) {
	t, err := epoch.ToTime(raw.Timestamp)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			cp := *e
			cp.Row = raw.Row
			cp.Stage = errs.StageNormalize
			err = &cp
		}
		return record.NormalizedRecord{}, err
	}

	mph, implausible := convert.Speed(raw.Speed)

	return record.NormalizedRecord{
		Row:                raw.Row,
		Time:               t,
		Epoch:              raw.Timestamp,
		SpeedMPH:           mph,
		SpeedImplausible:   implausible,
		Latitude:           raw.Latitude,
		Longitude:          raw.Longitude,
		CoordinatesInvalid: !record.ValidCoordinates(raw.Latitude, raw.Longitude),
		Metadata:           slices.Clone(raw.Metadata),
	}, nil
}

// Sort orders records by calendar time, breaking ties by original row index.
// The key is total, so the result does not depend on the sort algorithm.
func Sort(records []record.NormalizedRecord) {
	slices.SortStableFunc(records, func(a, b record.NormalizedRecord) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.Row, b.Row)
	})
}

// Stats counts records and flags in a sequence.
type Stats struct {
	Records            int `json:"records"`
	SpeedUnknown       int `json:"speed_unknown"`
	SpeedImplausible   int `json:"speed_implausible"`
	CoordinatesInvalid int `json:"coordinates_invalid"`
}

// Summarize computes Stats for seq.
func Summarize(seq *record.Sequence) Stats {
	var s Stats
	seq.Each(func(_ int, r record.NormalizedRecord) bool {
		s.Records++
		if !r.SpeedMPH.Valid {
			s.SpeedUnknown++
		}
		if r.SpeedImplausible {
			s.SpeedImplausible++
		}
		if r.CoordinatesInvalid {
			s.CoordinatesInvalid++
		}
		return true
	})
	return s
}
