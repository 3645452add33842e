package record

import (
	"slices"
	"strings"
	"time"
)

// Sequence is an immutable, chronologically ordered list of normalized records
// plus the metadata column layout they share.
//
// Once built it is safe to share between concurrent readers: nothing exposes
// the backing slice for mutation.
type Sequence struct {
	columns []Column
	records []NormalizedRecord
}

// NewSequence builds a Sequence from records that are already ordered.
// Both slices are copied.
func NewSequence(columns []Column, records []NormalizedRecord) *Sequence {
	return &Sequence{
		columns: slices.Clone(columns),
		records: slices.Clone(records),
	}
}

// Columns returns a copy of the metadata columns.
func (s *Sequence) Columns() []Column {
	if s == nil {
		return nil
	}
	return slices.Clone(s.columns)
}

// Len returns the number of records.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// At returns the i-th record. The record's Metadata slice is copied.
func (s *Sequence) At(i int) NormalizedRecord {
	r := s.records[i]
	r.Metadata = slices.Clone(r.Metadata)
	return r
}

// Each calls fn for every record in order until fn returns false.
func (s *Sequence) Each(fn func(i int, r NormalizedRecord) bool) {
	for i := 0; i < s.Len(); i++ {
		if !fn(i, s.At(i)) {
			return
		}
	}
}

// Records returns a copy of all records.
func (s *Sequence) Records() []NormalizedRecord {
	out := make([]NormalizedRecord, 0, s.Len())
	s.Each(func(_ int, r NormalizedRecord) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Span returns the first and last timestamps. ok is false for an empty sequence.
func (s *Sequence) Span() (first, last time.Time, ok bool) {
	if s.Len() == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.records[0].Time, s.records[len(s.records)-1].Time, true
}

// ColumnIndex returns the index of the named metadata column, or -1.
// Names match case-insensitively.
func (s *Sequence) ColumnIndex(name string) int {
	if s == nil {
		return -1
	}
	return slices.IndexFunc(s.columns, func(c Column) bool { return strings.EqualFold(c.Name, name) })
}
