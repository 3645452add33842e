package pipeline

import "github.com/google/uuid"

// RunIDGenerator produces the identifier attached to a run's logs and summary.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run IDs.
//
// Run IDs never appear inside artifacts, so two runs over the same source
// still produce identical files.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
