package importapp

import (
	"sort"

	"github.com/marketplace/backend/internal/domain/bulk"
)

// ErrorLog holds the entries of resolved rows until the checkpoint that covers
// them is committed, so entries are written in the same transaction as the
// counters they belong to.
type ErrorLog struct {
	pending map[int][]*bulk.RowError
}

// NewErrorLog creates an empty ErrorLog
func NewErrorLog() *ErrorLog {
	return &ErrorLog{pending: make(map[int][]*bulk.RowError)}
}

// Record buffers the entries of a resolved outcome
func (l *ErrorLog) Record(o RowOutcome) {
	if !o.Resolved() {
		return
	}
	if entries := o.RowErrors(); len(entries) > 0 {
		l.pending[o.RowNumber] = entries
	}
}

// Flush removes and returns the entries of the given rows in row order
func (l *ErrorLog) Flush(rows []bulk.RowResolution) []*bulk.RowError {
	numbers := make([]int, 0, len(rows))
	for _, r := range rows {
		if _, ok := l.pending[r.RowNumber]; ok {
			numbers = append(numbers, r.RowNumber)
		}
	}
	sort.Ints(numbers)

	var out []*bulk.RowError
	for _, n := range numbers {
		out = append(out, l.pending[n]...)
		delete(l.pending, n)
	}
	return out
}

// Len returns the number of rows with buffered entries
func (l *ErrorLog) Len() int {
	return len(l.pending)
}
