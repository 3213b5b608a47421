package guard_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sysadmin-ai/vmtest/internal/guard"
	"golang.org/x/sync/errgroup"
)

func TestGuard_AcquireSlot(t *testing.T) {
	g := guard.New(1.00, 2)

	require.NoError(t, g.AcquireSlot(t.Context()))
	require.NoError(t, g.AcquireSlot(t.Context()))

	// Pool is full; a short deadline must cut the wait instead of hanging.
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := g.AcquireSlot(ctx)
	require.ErrorIs(t, err, guard.ErrDeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A release unblocks the next acquire.
	g.ReleaseSlot()
	require.NoError(t, g.AcquireSlot(t.Context()))
}

func TestGuard_SlotBound(t *testing.T) {
	const cap = 3
	g := guard.New(1.00, cap)

	var current, peak atomic.Int32
	var eg errgroup.Group
	for range 24 {
		eg.Go(func() error {
			if err := g.AcquireSlot(t.Context()); err != nil {
				return err
			}
			defer g.ReleaseSlot()
			n := current.Add(1)
			defer current.Add(-1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.LessOrEqual(t, peak.Load(), int32(cap))
	require.Positive(t, peak.Load())
}

func TestGuard_Cap(t *testing.T) {
	g := guard.New(1.00, 6)
	require.Equal(t, 6, g.Cap())
}
