package bulk

// RowResolution summarizes how one data row was resolved
type RowResolution struct {
	RowNumber int
	Succeeded bool
	Warnings  int
}

// CheckpointTracker collects rows resolved out of order and releases them only
// as an unbroken prefix following the last committed row.
type CheckpointTracker struct {
	committed int
	resolved  map[int]RowResolution
}

// NewCheckpointTracker starts tracking after the given committed row
func NewCheckpointTracker(lastProcessedRow int) *CheckpointTracker {
	return &CheckpointTracker{
		committed: lastProcessedRow,
		resolved:  make(map[int]RowResolution),
	}
}

// Resolve records a resolved row. Rows at or before the checkpoint are ignored.
func (t *CheckpointTracker) Resolve(r RowResolution) {
	if r.RowNumber <= t.committed {
		return
	}
	t.resolved[r.RowNumber] = r
}

// Drain removes and returns the contiguous run of rows after the checkpoint,
// advancing the checkpoint past them.
func (t *CheckpointTracker) Drain() []RowResolution {
	var prefix []RowResolution
	for {
		r, ok := t.resolved[t.committed+1]
		if !ok {
			return prefix
		}
		delete(t.resolved, r.RowNumber)
		prefix = append(prefix, r)
		t.committed++
	}
}

// Checkpoint returns the highest row for which all rows up to it were drained
func (t *CheckpointTracker) Checkpoint() int {
	return t.committed
}

// Pending returns the number of resolved rows held back by a gap
func (t *CheckpointTracker) Pending() int {
	return len(t.resolved)
}
