package policy

import (
	"cmp"
	"slices"

	"github.com/wolfeidau/seedkeeper"
)

// DefaultBatchSize is the maximum number of victims returned per evaluation.
const DefaultBatchSize = 5

// Retention decides which daemon items to evict when the working set
// exceeds Budget bytes.
type Retention struct {
	// Budget is the maximum aggregate size of all work items in bytes.
	Budget int64

	// BatchSize caps the victims returned per evaluation. Eviction converges
	// over several ticks rather than removing until under budget.
	BatchSize int
}

// Over reports whether items exceed the budget.
func (r Retention) Over(items []seedkeeper.WorkItem) bool {
	return seedkeeper.TotalSize(items) > r.Budget
}

// Victims returns the items to evict, ordered by fewest helper peers first
// and oldest first within equal peer counts. It returns nil when the working
// set fits the budget. The input slice is not modified.
func (r Retention) Victims(items []seedkeeper.WorkItem) []seedkeeper.WorkItem {
	if !r.Over(items) {
		return nil
	}

	batch := r.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	ordered := slices.Clone(items)
	slices.SortStableFunc(ordered, compareForEviction)

	return ordered[:min(batch, len(ordered))]
}

func compareForEviction(a, b seedkeeper.WorkItem) int {
	if c := cmp.Compare(a.HelperPeerCount, b.HelperPeerCount); c != 0 {
		return c
	}
	if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Hash, b.Hash)
}
