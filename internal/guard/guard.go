// Package guard enforces a session's safety limits: a monetary budget with
// reserve-before-create semantics, a bounded pool of provisioning slots, and
// a process signal trap that tears down the active session's resources
// before the process exits.
//
// The budget and the slot pool are the admission gate for every provider
// create call. Nothing in this package talks to the provider; it only decides
// whether a caller may.
package guard

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrDeadlineExceeded wraps a context error whenever a wait was cut short by
// the session deadline.
var ErrDeadlineExceeded = fmt.Errorf("session deadline elapsed")

type Guard struct {
	budget *Budget
	slots  *semaphore.Weighted
	cap    int64
}

// New returns a Guard admitting at most 'maxConcurrent' in-flight resources
// and at most 'budgetUSD' of reserved-plus-committed spend.
func New(budgetUSD float64, maxConcurrent int) *Guard {
	return &Guard{
		budget: NewBudget(budgetUSD),
		slots:  semaphore.NewWeighted(int64(maxConcurrent)),
		cap:    int64(maxConcurrent),
	}
}

// Reserve sets aside 'estimate' dollars of budget ahead of a provider create
// call. See Budget.Reserve.
func (g *Guard) Reserve(estimate float64) (*Reservation, error) {
	return g.budget.Reserve(estimate)
}

// AcquireSlot blocks until a provisioning slot frees up or 'ctx' is done,
// whichever comes first.
func (g *Guard) AcquireSlot(ctx context.Context) error {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
	}
	return nil
}

// ReleaseSlot returns a slot acquired with AcquireSlot. Calling it without a
// matching acquire corrupts the pool, so every acquire must pair with exactly
// one release.
func (g *Guard) ReleaseSlot() {
	g.slots.Release(1)
}

// Budget exposes the underlying budget for accrual reporting.
func (g *Guard) Budget() *Budget {
	return g.budget
}

// Cap returns the concurrency limit the Guard was built with.
func (g *Guard) Cap() int {
	return int(g.cap)
}
