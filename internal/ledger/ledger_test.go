package ledger_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"golang.org/x/sync/errgroup"
)

func TestLedger_Register(t *testing.T) {
	l := ledger.New()

	require.NoError(t, l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet}))

	// A zero state is normalized to Requested.
	rec, ok := l.Get("vm-1")
	require.True(t, ok)
	require.Equal(t, ledger.StateRequested, rec.State)
	require.False(t, rec.CreatedAt.IsZero())

	err := l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet})
	require.ErrorIs(t, err, ledger.ErrDuplicateResource)
}

func TestLedger_MarkState(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet}))

	// Walk the full happy path.
	for _, next := range []ledger.State{
		ledger.StateProvisioning,
		ledger.StateActive,
		ledger.StateInUse,
		ledger.StateDestroying,
		ledger.StateDestroyed,
	} {
		require.NoError(t, l.MarkState("vm-1", next))
		rec, ok := l.Get("vm-1")
		require.True(t, ok)
		require.Equal(t, next, rec.State)
	}

	// Destroyed is terminal.
	err := l.MarkState("vm-1", ledger.StateDestroying)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	err = l.MarkState("no-such-id", ledger.StateProvisioning)
	require.ErrorIs(t, err, ledger.ErrUnknownResource)
}

func TestLedger_MarkStateIllegal(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet}))

	// Requested cannot skip straight to Active.
	err := l.MarkState("vm-1", ledger.StateActive)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	// The failed attempt must not have moved the record.
	rec, ok := l.Get("vm-1")
	require.True(t, ok)
	require.Equal(t, ledger.StateRequested, rec.State)
}

func TestLedger_Unregister(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet}))

	// Records leave the ledger only from Destroyed.
	err := l.Unregister("vm-1")
	require.ErrorIs(t, err, ledger.ErrNotDestroyed)

	require.NoError(t, l.MarkState("vm-1", ledger.StateDestroying))
	require.NoError(t, l.MarkState("vm-1", ledger.StateDestroyed))
	require.NoError(t, l.Unregister("vm-1"))

	_, ok := l.Get("vm-1")
	require.False(t, ok)

	err = l.Unregister("vm-1")
	require.ErrorIs(t, err, ledger.ErrUnknownResource)
}

func TestLedger_Setters(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet}))

	require.NoError(t, l.SetProviderID("vm-1", 424242))
	require.NoError(t, l.SetAddress("vm-1", "203.0.113.10"))

	rec, ok := l.Get("vm-1")
	require.True(t, ok)
	require.Equal(t, int64(424242), rec.ProviderID)
	require.Equal(t, "203.0.113.10", rec.PublicIP)

	require.ErrorIs(t, l.SetProviderID("nope", 1), ledger.ErrUnknownResource)
	require.ErrorIs(t, l.SetAddress("nope", "x"), ledger.ErrUnknownResource)
}

func TestLedger_Snapshot(t *testing.T) {
	l := ledger.New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Register out of creation order; Snapshot must return oldest first.
	require.NoError(t, l.Register(ledger.Record{ID: "vm-2", Kind: ledger.KindDroplet, CreatedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, l.Register(ledger.Record{ID: "key-1", Kind: ledger.KindKey, CreatedAt: base}))
	require.NoError(t, l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet, CreatedAt: base.Add(time.Minute)}))

	snap := l.Snapshot()
	ids := make([]string, len(snap))
	for i, rec := range snap {
		ids[i] = rec.ID
	}
	if diff := cmp.Diff([]string{"key-1", "vm-1", "vm-2"}, ids); diff != "" {
		t.Errorf("Snapshot() order mismatch (-want +got):\n%s", diff)
	}

	// Snapshots are copies, mutating one must not reach the ledger.
	snap[0].State = ledger.StateDestroyed
	rec, ok := l.Get("key-1")
	require.True(t, ok)
	require.Equal(t, ledger.StateRequested, rec.State)
}

func TestLedger_NonTerminal(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register(ledger.Record{ID: "vm-1", Kind: ledger.KindDroplet}))
	require.NoError(t, l.Register(ledger.Record{ID: "vm-2", Kind: ledger.KindDroplet}))
	require.NoError(t, l.Register(ledger.Record{ID: "vm-3", Kind: ledger.KindDroplet}))

	require.NoError(t, l.MarkState("vm-2", ledger.StateFailed))
	require.NoError(t, l.MarkState("vm-3", ledger.StateDestroying))
	require.NoError(t, l.MarkState("vm-3", ledger.StateDestroyed))

	left := l.NonTerminal()
	require.Len(t, left, 1)
	require.Equal(t, "vm-1", left[0].ID)
}

func TestLedger_Concurrency(t *testing.T) {
	l := ledger.New()
	const n = 200

	g := new(errgroup.Group)
	for i := range n {
		g.Go(func() error {
			id := fmt.Sprintf("vm-%d", i)
			if err := l.Register(ledger.Record{ID: id, Kind: ledger.KindDroplet}); err != nil {
				return err
			}
			if err := l.MarkState(id, ledger.StateProvisioning); err != nil {
				return err
			}
			return l.MarkState(id, ledger.StateActive)
		})
	}
	require.NoError(t, g.Wait())

	snap := l.Snapshot()
	require.Len(t, snap, n)
	for _, rec := range snap {
		require.Equal(t, ledger.StateActive, rec.State)
	}
}
