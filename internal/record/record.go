package record

import (
	"database/sql"
	"math"
	"time"
)

// Flag names attached to a NormalizedRecord. Flags never remove a record.
const (
	FlagSpeedUnknown       = "speed_unknown"
	FlagSpeedImplausible   = "speed_implausible"
	FlagCoordinatesInvalid = "coordinates_invalid"
)

// Column names one passthrough metadata column, in source order.
type Column struct {
	Name string
}

// RawRecord is a single row as read from the source table.
type RawRecord struct {
	// Row is the 0-based position in the table's native row order.
	Row int

	// Timestamp is the proprietary epoch value exactly as stored.
	Timestamp Value

	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64

	// Speed is in meters per second. Invalid means the source marked it unknown.
	Speed sql.NullFloat64

	// Metadata holds the remaining columns, aligned with the source's metadata columns.
	Metadata []Value
}

// NormalizedRecord is the canonical, unit-converted form of one observation.
// Report generators must treat it as read-only.
type NormalizedRecord struct {
	Row int

	// Time is the calendar timestamp, always in UTC.
	Time time.Time

	// Epoch is the original proprietary timestamp, kept so the conversion can
	// be audited against the source.
	Epoch Value

	// SpeedMPH is in miles per hour. Invalid means unknown, never zero.
	SpeedMPH sql.NullFloat64

	// SpeedImplausible is set when the source speed was negative.
	SpeedImplausible bool

	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64

	// CoordinatesInvalid is set when either coordinate is missing, NaN, or
	// outside [-90, 90] / [-180, 180].
	CoordinatesInvalid bool

	Metadata []Value
}

// Flags lists the record's flags in a fixed order.
func (r NormalizedRecord) Flags() []string {
	var flags []string
	if !r.SpeedMPH.Valid {
		flags = append(flags, FlagSpeedUnknown)
	}
	if r.SpeedImplausible {
		flags = append(flags, FlagSpeedImplausible)
	}
	if r.CoordinatesInvalid {
		flags = append(flags, FlagCoordinatesInvalid)
	}
	return flags
}

// Flagged reports whether any flag is set.
func (r NormalizedRecord) Flagged() bool {
	return !r.SpeedMPH.Valid || r.SpeedImplausible || r.CoordinatesInvalid
}

// Plottable reports whether both coordinates are present and finite. A
// plottable record may still be flagged CoordinatesInvalid (e.g. latitude 200).
func (r NormalizedRecord) Plottable() bool {
	return r.Latitude.Valid && r.Longitude.Valid &&
		!math.IsNaN(r.Latitude.Float64) && !math.IsNaN(r.Longitude.Float64) &&
		!math.IsInf(r.Latitude.Float64, 0) && !math.IsInf(r.Longitude.Float64, 0)
}

// ValidCoordinates reports whether lat/lon are present and within range.
func ValidCoordinates(lat, lon sql.NullFloat64) bool {
	if !lat.Valid || !lon.Valid {
		return false
	}
	if math.IsNaN(lat.Float64) || math.IsNaN(lon.Float64) {
		return false
	}
	return lat.Float64 >= -90 && lat.Float64 <= 90 &&
		lon.Float64 >= -180 && lon.Float64 <= 180
}
