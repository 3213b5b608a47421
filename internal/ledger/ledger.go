// Package ledger tracks every cloud resource a session creates. It is the
// single source of truth for "what must be destroyed": records are registered
// before the provider call that creates them returns, and leave the ledger
// only once the provider has confirmed destruction.
//
// The ledger owns its records. Accessors hand out value copies, and the
// lifecycle state field is written only through 'MarkState', which enforces
// the transition table in state.go. All methods are safe for concurrent use.
package ledger

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Kind discriminates the two resource flavors a session creates.
type Kind string

const (
	KindDroplet Kind = "droplet"
	KindKey     Kind = "key"
)

var (
	ErrDuplicateResource = fmt.Errorf("resource id is already registered")
	ErrUnknownResource   = fmt.Errorf("resource id is not registered")
	ErrInvalidTransition = fmt.Errorf("illegal lifecycle transition")
	ErrNotDestroyed      = fmt.Errorf("resource has not been confirmed destroyed")
)

// Record is one tracked cloud resource.
//
// ProviderID is zero until the provider create call returns; a Failed record
// with a non-zero ProviderID is the signature of an orphan (the provider-side
// resource may have survived us). Private key material is deliberately not
// part of the record, only the fingerprint is.
type Record struct {
	ID          string
	Kind        Kind
	ProviderID  int64
	Name        string
	Region      string
	Size        string
	Image       string
	PublicIP    string
	HourlyRate  float64
	Fingerprint string
	CreatedAt   time.Time
	State       State
}

type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func New() *Ledger {
	return &Ledger{
		records: make(map[string]*Record),
	}
}

// Register adds 'rec' to the ledger. A zero State is normalized to
// 'StateRequested' and a zero CreatedAt to the current time.
func (l *Ledger) Register(rec Record) error {
	if rec.State == "" {
		rec.State = StateRequested
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, rec.ID)
	}
	l.records[rec.ID] = &rec
	return nil
}

// MarkState transitions the record 'id' to 'next' under the rules in
// state.go. This is the only lifecycle state mutator in the system.
func (l *Ledger) MarkState(id string, next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, exists := l.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	if !rec.State.CanTransition(next) {
		return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, id, rec.State, next)
	}
	rec.State = next
	return nil
}

// SetProviderID records the provider-assigned id once the create call has
// returned one.
func (l *Ledger) SetProviderID(id string, providerID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, exists := l.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	rec.ProviderID = providerID
	return nil
}

// SetAddress records the public address of a droplet once the provider
// reports it active.
func (l *Ledger) SetAddress(id, publicIP string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, exists := l.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	rec.PublicIP = publicIP
	return nil
}

// Get returns a copy of the record 'id'.
func (l *Ledger) Get(id string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, exists := l.records[id]
	if !exists {
		return Record{}, false
	}
	return *rec, true
}

// Unregister removes the record 'id'. Only records in 'StateDestroyed' may
// leave the ledger; everything else either still exists provider-side or is
// orphan evidence that must stay visible.
func (l *Ledger) Unregister(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, exists := l.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	if rec.State != StateDestroyed {
		return fmt.Errorf("%w: %s is %s", ErrNotDestroyed, id, rec.State)
	}
	delete(l.records, id)
	return nil
}

// Snapshot returns a copy of every record, oldest first (ties broken by id)
// so reports and teardown passes are deterministic.
func (l *Ledger) Snapshot() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// NonTerminal returns every record a teardown pass still has work to do on.
func (l *Ledger) NonTerminal() []Record {
	all := l.Snapshot()
	out := all[:0]
	for _, rec := range all {
		if !rec.State.Terminal() {
			out = append(out, rec)
		}
	}
	return out
}
