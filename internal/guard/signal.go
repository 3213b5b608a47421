package guard

// signal.go holds the one piece of process-global state in the system: the
// session the signal trap acts on. Signal delivery is process-wide by nature
// and cannot be parameter-scoped, so SetActive/ClearActive bracket each
// session and the rest of the system never touches the global directly.

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
)

// CleanupFunc destroys everything the active session still owns. It must
// tolerate running concurrently with the session's own teardown.
type CleanupFunc func(ctx context.Context) error

var active struct {
	sync.Mutex
	id      string
	cleanup CleanupFunc
}

// SetActive registers 'cleanup' as the signal trap's target, replacing any
// previous registration.
func SetActive(id string, cleanup CleanupFunc) {
	active.Lock()
	defer active.Unlock()
	active.id = id
	active.cleanup = cleanup
}

// ClearActive drops the registration, but only while 'id' still owns it. The
// id check keeps a finished session from clobbering its successor.
func ClearActive(id string) {
	active.Lock()
	defer active.Unlock()
	if active.id != id {
		return
	}
	active.id = ""
	active.cleanup = nil
}

func activeCleanup() (string, CleanupFunc) {
	active.Lock()
	defer active.Unlock()
	return active.id, active.cleanup
}

// Trap runs a best-effort destroy-all pass over the active session when the
// process receives SIGINT or SIGTERM, then exits. The pass runs exactly
// once, bounded by a hard timeout so a hung provider call cannot hold the
// process hostage; further signals while it runs are ignored.
type Trap struct {
	hardTimeout time.Duration

	// Seams for tests. NewTrap wires the real implementations.
	notify func(chan<- os.Signal)
	stop   func(chan<- os.Signal)
	exit   func(int)

	fired atomic.Bool
}

func NewTrap(hardTimeout time.Duration) *Trap {
	return &Trap{
		hardTimeout: hardTimeout,
		notify: func(ch chan<- os.Signal) {
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		},
		stop: signal.Stop,
		exit: os.Exit,
	}
}

// Install begins listening for signals. The returned function releases the
// registration; it does not interrupt a cleanup pass already in flight.
func (t *Trap) Install(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 2)
	t.notify(ch)
	done := make(chan struct{})
	go t.run(ctx, ch, done)
	return func() {
		t.stop(ch)
		close(done)
	}
}

func (t *Trap) run(ctx context.Context, ch chan os.Signal, done chan struct{}) {
	select {
	case <-done:
		return
	case sig := <-ch:
		if !t.fired.CompareAndSwap(false, true) {
			return
		}
		t.handle(ctx, sig)
	}
}

func (t *Trap) handle(ctx context.Context, sig os.Signal) {
	log := clog.FromContext(ctx).With("signal", sig.String())
	id, cleanup := activeCleanup()
	if cleanup == nil {
		log.Info("signal received with no active session")
		t.exit(1)
		return
	}
	log.Warn("signal received, destroying all session resources", "session", id)
	// The session context is likely already cancelled by the same signal, so
	// the pass runs on a detached context with its own deadline.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.hardTimeout)
	defer cancel()
	if err := cleanup(cleanupCtx); err != nil {
		log.Error("emergency teardown left resources behind", "error", err)
		t.exit(1)
		return
	}
	log.Info("emergency teardown complete")
	t.exit(1)
}
