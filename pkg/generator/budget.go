package generator

import (
	"math"
	"sync"
)

// Budget is the per-run cost ceiling shared by every worker in a
// batch: min(runBudget, batchSize * perItemBudget). An item is
// charged only when its LLM call is actually attempted; a rate-limit
// response refunds the charge, since no real attempt completed.
type Budget struct {
	mu        sync.Mutex
	remaining float64
	perItem   float64
}

// NewBudget computes the batch ceiling. Non-positive inputs disable
// the corresponding bound.
func NewBudget(runBudget float64, batchSize int, perItemBudget float64) *Budget {
	total := runBudget
	if perItemBudget > 0 && batchSize > 0 {
		itemized := float64(batchSize) * perItemBudget
		if total <= 0 || itemized < total {
			total = itemized
		}
	}
	if total <= 0 {
		total = math.Inf(1)
	}
	return &Budget{remaining: total, perItem: perItemBudget}
}

// CanAfford reports whether the remaining budget covers one more
// per-item charge.
func (b *Budget) CanAfford() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining >= b.perItem
}

// TryCharge atomically checks affordability and deducts one per-item
// cost, so concurrent workers cannot both spend the last slot.
func (b *Budget) TryCharge() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining < b.perItem {
		return false
	}
	b.remaining -= b.perItem
	return true
}

// Refund returns one per-item cost, used when a charged attempt was
// rate-limited before the model did any work.
func (b *Budget) Refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining += b.perItem
}

// Remaining reports the budget left, for run-summary logging.
func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}
