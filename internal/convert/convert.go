// Package convert holds the pure field conversions applied to every location
// record: proprietary epoch timestamps to calendar time, and meters per second
// to miles per hour.
//
// Nothing here touches I/O or shared state; every function is safe for
// concurrent use.
package convert

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
)

// MetersPerSecondToMPH is the exact factor from m/s to statute miles per hour
// (3600 / 1609.344).
const MetersPerSecondToMPH = 2.2369362920544

// Epoch describes a proprietary epoch: the number of seconds to add to a
// stored value to get Unix time, plus the range of dates considered sane.
type Epoch struct {
	// Name identifies the epoch in logs and configuration.
	Name string

	// Offset is the Unix time of the epoch's zero point, in seconds.
	Offset int64

	// Min is the earliest accepted instant (inclusive).
	Min time.Time

	// Max is the latest accepted instant (exclusive).
	Max time.Time
}

var (
	// DefaultMin and DefaultMax bound accepted dates to the years 2000 through 2100.
	DefaultMin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultMax = time.Date(2101, 1, 1, 0, 0, 0, 0, time.UTC)
)

// AppleEpoch is the Core Foundation absolute time reference, 2001-01-01T00:00:00Z.
// The location daemon's cache stores timestamps relative to it.
var AppleEpoch = Epoch{
	Name:   "apple",
	Offset: 978307200,
	Min:    DefaultMin,
	Max:    DefaultMax,
}

// UnixEpoch accepts values that are already Unix seconds, e.g. re-exported data.
var UnixEpoch = Epoch{
	Name:   "unix",
	Offset: 0,
	Min:    DefaultMin,
	Max:    DefaultMax,
}

// Named returns the built-in epoch with the given name.
func Named(name string) (Epoch, bool) {
	switch strings.ToLower(name) {
	case "", AppleEpoch.Name, "cocoa", "mac":
		return AppleEpoch, true
	case UnixEpoch.Name:
		return UnixEpoch, true
	default:
		return Epoch{}, false
	}
}

// Validate checks that the epoch's bounds make sense.
func (e Epoch) Validate() error {
	if e.Min.IsZero() || e.Max.IsZero() {
		return fmt.Errorf("epoch %q: date bounds are required", e.Name)
	}
	if !e.Max.After(e.Min) {
		return fmt.Errorf("epoch %q: max %s must be after min %s", e.Name,
			e.Max.Format(time.RFC3339), e.Min.Format(time.RFC3339))
	}
	return nil
}

// ToTime converts a stored epoch value to a UTC calendar time.
//
// Integers convert exactly. Floats keep their fractional seconds at
// nanosecond resolution. Numeric strings (from CSV/XLSX exports) are parsed.
// Range checks happen before any conversion to int64, so the whole signed
// domain of the source is handled without overflow.
//
// Returns an InvalidTimestamp error for NULL, non-numeric, non-finite, and
// out-of-range values. Out-of-range values are reported, never clamped.
func (e Epoch) ToTime(v record.Value) (time.Time, error) {
	if n, ok := v.(record.Int); ok {
		return e.fromInt(int64(n))
	}

	f, ok, err := record.Numeric(v)
	if err != nil {
		return time.Time{}, errs.InvalidTimestamp(strconv.Quote(record.Text(v)), err.Error())
	}
	if !ok {
		return time.Time{}, errs.InvalidTimestamp("NULL", "missing value")
	}
	return e.fromFloat(f)
}

func (e Epoch) fromInt(n int64) (time.Time, error) {
	// Compare in the source's own units so n+Offset is never computed out of range.
	lo := e.Min.Unix() - e.Offset
	hi := e.Max.Unix() - e.Offset
	if n < lo || n >= hi {
		return time.Time{}, e.outOfRange(strconv.FormatInt(n, 10))
	}
	return time.Unix(n+e.Offset, 0).UTC(), nil
}

func (e Epoch) fromFloat(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, errs.InvalidTimestamp(strconv.FormatFloat(f, 'g', -1, 64), "not a finite number")
	}

	lo := float64(e.Min.Unix() - e.Offset)
	hi := float64(e.Max.Unix() - e.Offset)
	if f < lo || f >= hi {
		return time.Time{}, e.outOfRange(strconv.FormatFloat(f, 'f', -1, 64))
	}

	// Split before adding the offset so the fraction keeps full precision.
	whole := math.Floor(f)
	nsec := math.Round((f - whole) * 1e9)
	sec := int64(whole)
	if nsec >= 1e9 {
		sec++
		nsec -= 1e9
	}

	t := time.Unix(sec+e.Offset, int64(nsec)).UTC()
	if !t.Before(e.Max) {
		// Rounding up the fraction can only land exactly on Max.
		return time.Time{}, e.outOfRange(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return t, nil
}

func (e Epoch) outOfRange(value string) *errs.Error {
	return errs.InvalidTimestamp(value, fmt.Sprintf("outside %s..%s",
		e.Min.Format(time.RFC3339), e.Max.Format(time.RFC3339)))
}

// FromTime converts a calendar time back to the stored epoch value. It is the
// inverse of ToTime for any value ToTime accepts.
func (e Epoch) FromTime(t time.Time) float64 {
	return float64(t.Unix()-e.Offset) + float64(t.Nanosecond())/1e9
}

// Speed converts meters per second to miles per hour.
//
// A NULL input stays NULL; it is never defaulted to zero. NaN and ±Inf are
// treated as unknown too. A negative input is converted as-is and reported as
// implausible so the report generators can decide how to show it.
func Speed(mps sql.NullFloat64) (mph sql.NullFloat64, implausible bool) {
	if !mps.Valid || math.IsNaN(mps.Float64) || math.IsInf(mps.Float64, 0) {
		return sql.NullFloat64{}, false
	}
	return sql.NullFloat64{Float64: mps.Float64 * MetersPerSecondToMPH, Valid: true}, mps.Float64 < 0
}
