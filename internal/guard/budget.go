package guard

// budget.go implements the money side of the guardrail. Spend is admitted in
// two steps: a Reserve before the provider call sets the estimate aside, then
// either a Commit once the resource is billable or a Release if provisioning
// failed first. The invariant the rest of the system leans on: committed plus
// reserved never exceeds the limit, checked before any provider call is made.

import (
	"fmt"
	"sync"
)

var ErrBudgetExceeded = fmt.Errorf("session budget exceeded")

type Budget struct {
	mu        sync.Mutex
	limit     float64
	reserved  float64
	committed float64
}

func NewBudget(limit float64) *Budget {
	return &Budget{limit: limit}
}

// Reserve atomically sets aside 'estimate' dollars, failing with
// ErrBudgetExceeded if the estimate does not fit in what is left.
func (b *Budget) Reserve(estimate float64) (*Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	available := b.limit - b.committed - b.reserved
	if estimate > available {
		return nil, fmt.Errorf(
			"%w: requested $%.4f, available $%.4f of $%.4f",
			ErrBudgetExceeded, estimate, available, b.limit,
		)
	}
	b.reserved += estimate
	return &Reservation{budget: b, amount: estimate}, nil
}

// Accrued returns committed plus reserved spend.
func (b *Budget) Accrued() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed + b.reserved
}

// Committed returns the billable portion of the accrued spend.
func (b *Budget) Committed() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// Limit returns the budget ceiling.
func (b *Budget) Limit() float64 {
	return b.limit
}

// Reservation is one Reserve's claim on the budget. Exactly one of Commit or
// Release settles it; both are idempotent and calling either after the other
// is a no-op.
type Reservation struct {
	mu      sync.Mutex
	budget  *Budget
	amount  float64
	settled bool
}

// Amount returns the reserved estimate.
func (r *Reservation) Amount() float64 {
	return r.amount
}

// Commit marks the reserved funds as billable. The money stays accrued for
// the life of the session.
func (r *Reservation) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.budget.mu.Lock()
	defer r.budget.mu.Unlock()
	r.budget.reserved -= r.amount
	r.budget.committed += r.amount
}

// Release returns the reserved funds to the budget, for provisioning
// attempts that failed before the resource became billable.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.budget.mu.Lock()
	defer r.budget.mu.Unlock()
	r.budget.reserved -= r.amount
}
