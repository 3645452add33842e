package testutil

import "sync"

// FixedRunIDs returns predetermined run IDs in order, for deterministic
// summaries in tests. It implements pipeline.RunIDGenerator.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedRunIDs creates a generator that returns ids in order and then
// keeps returning the last one. With no ids it always returns "test-run".
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	if len(ids) == 0 {
		ids = []string{"test-run"}
	}
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next run ID.
func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.ids[g.idx]
	if g.idx < len(g.ids)-1 {
		g.idx++
	}
	return id
}
