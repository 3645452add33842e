package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/locmap/internal/record"
)

// dayLayouts are the accepted spellings of a calendar day.
var dayLayouts = []string{"2006-01-02", "01/02/2006"}

// ParseDay parses a calendar day as YYYY-MM-DD or MM/DD/YYYY, in UTC.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dayLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or MM/DD/YYYY", s)
}

// FilterDay returns the records of seq whose UTC calendar date is day, in
// their existing order, plus the number of records left out.
//
// This is an explicit selection requested by the user, not a cleanup step.
func FilterDay(seq *record.Sequence, day time.Time) (*record.Sequence, int) {
	y, m, d := day.Date()

	var kept []record.NormalizedRecord
	seq.Each(func(_ int, r record.NormalizedRecord) bool {
		ry, rm, rd := r.Time.UTC().Date()
		if ry == y && rm == m && rd == d {
			kept = append(kept, r)
		}
		return true
	})
	return record.NewSequence(seq.Columns(), kept), seq.Len() - len(kept)
}
