// Package record defines the data that flows through the location pipeline.
//
// A RawRecord is one row as the source adapter read it. A NormalizedRecord is
// the unit-converted form every report generator consumes, and a Sequence is
// the chronologically ordered, read-only collection of them.
//
// # Values
//
// Passthrough metadata keeps the cell types of the source (Null, String, Int,
// Float, Bytes) through the sealed Value interface, so a report can render
// them faithfully without guessing at types.
//
// # Canonical JSON
//
// MarshalCanonical serializes Values deterministically (sorted keys, NFC
// strings, shortest round-trip floats). Reports embed it so that two runs over
// the same source produce byte-identical artifacts.
package record
