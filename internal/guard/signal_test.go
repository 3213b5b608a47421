package guard

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetActiveClearActive(t *testing.T) {
	noop := func(context.Context) error { return nil }

	SetActive("session-a", noop)
	t.Cleanup(func() { ClearActive("session-a") })

	// A stale session must not clear its successor's registration.
	ClearActive("session-b")
	id, cleanup := activeCleanup()
	require.Equal(t, "session-a", id)
	require.NotNil(t, cleanup)

	ClearActive("session-a")
	id, cleanup = activeCleanup()
	require.Empty(t, id)
	require.Nil(t, cleanup)
}

// testTrap returns a trap with the process-level seams replaced: signals are
// injected through the returned channel and exits land on 'exited'.
func testTrap(t *testing.T, hardTimeout time.Duration) (*Trap, chan<- os.Signal, <-chan int) {
	t.Helper()
	trap := NewTrap(hardTimeout)
	injected := make(chan os.Signal, 2)
	exited := make(chan int, 1)
	trap.notify = func(ch chan<- os.Signal) {
		go func() {
			for sig := range injected {
				ch <- sig
			}
		}()
	}
	trap.stop = func(chan<- os.Signal) {}
	trap.exit = func(code int) { exited <- code }
	return trap, injected, exited
}

func TestTrap_RunsCleanupOnce(t *testing.T) {
	var calls atomic.Int32
	SetActive("session-trap", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	t.Cleanup(func() { ClearActive("session-trap") })

	trap, signals, exited := testTrap(t, time.Second)
	stop := trap.Install(t.Context())
	defer stop()

	signals <- syscall.SIGINT
	// A second signal while the pass runs is ignored.
	signals <- syscall.SIGTERM

	select {
	case code := <-exited:
		require.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("trap never exited")
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestTrap_HardTimeout(t *testing.T) {
	sawDeadline := make(chan error, 1)
	SetActive("session-hung", func(ctx context.Context) error {
		// Simulate a hung provider call: block until the trap's own deadline
		// cuts us off.
		<-ctx.Done()
		sawDeadline <- ctx.Err()
		return ctx.Err()
	})
	t.Cleanup(func() { ClearActive("session-hung") })

	trap, signals, exited := testTrap(t, 50*time.Millisecond)
	stop := trap.Install(t.Context())
	defer stop()

	signals <- syscall.SIGTERM

	select {
	case code := <-exited:
		require.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("hard timeout did not force an exit")
	}
	require.ErrorIs(t, <-sawDeadline, context.DeadlineExceeded)
}

func TestTrap_NoActiveSession(t *testing.T) {
	trap, signals, exited := testTrap(t, time.Second)
	stop := trap.Install(t.Context())
	defer stop()

	signals <- syscall.SIGINT
	select {
	case code := <-exited:
		require.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("trap never exited")
	}
}
