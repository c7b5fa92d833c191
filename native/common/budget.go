package common

import "math"

// WorkBudget meters bounded best-effort passes such as the keeper crank's
// fee-settlement and liquidation scans. A zero limit means no work.
type WorkBudget struct {
	limit uint32
	used  uint32
}

// NewWorkBudget returns a budget allowing at most limit units of work.
func NewWorkBudget(limit uint32) *WorkBudget {
	return &WorkBudget{limit: limit}
}

// Spend consumes one unit and reports whether it was available.
func (b *WorkBudget) Spend() bool {
	if b == nil || b.used >= b.limit {
		return false
	}
	if b.used == math.MaxUint32 {
		return false
	}
	b.used++
	return true
}

// Used reports the units consumed so far.
func (b *WorkBudget) Used() uint32 {
	if b == nil {
		return 0
	}
	return b.used
}
