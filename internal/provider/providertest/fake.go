// Package providertest provides an in-memory provider.API with scriptable
// droplet statuses and injectable faults, so lifecycle and session tests run
// entirely without the network.
package providertest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/sysadmin-ai/vmtest/internal/provider"
)

type dropletState struct {
	d provider.Droplet
	// script is the sequence of statuses the next DropletStatus calls walk
	// through. A nil script means "active on first poll"; a drained script
	// stays wherever it left off.
	script []provider.Status
}

// Fake implements provider.API in memory. All methods are safe for
// concurrent use; fault queues are consumed one entry per call.
type Fake struct {
	mu sync.Mutex

	nextID   int64
	droplets map[int64]*dropletState
	keys     map[int64]*provider.Key

	defaultScript []provider.Status
	staticIP      string
	createErrs    []error
	keyCreateErrs []error
	statusErrs    map[int64][]error
	deleteErrs    map[int64][]error
	stickyDelete  map[int64]error
	listErr       error

	createCalls    int
	createSpecs    []provider.DropletSpec
	keyCreateCalls int
	statusCalls    map[int64]int
	deleteCalls    map[int64]int
}

var _ provider.API = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		nextID:       1000,
		droplets:     make(map[int64]*dropletState),
		keys:         make(map[int64]*provider.Key),
		statusErrs:   make(map[int64][]error),
		deleteErrs:   make(map[int64][]error),
		stickyDelete: make(map[int64]error),
		statusCalls:  make(map[int64]int),
		deleteCalls:  make(map[int64]int),
	}
}

// --- configuration ---

// SetDefaultStatusScript sets the status sequence every subsequently created
// droplet walks through, one entry per DropletStatus call.
func (f *Fake) SetDefaultStatusScript(statuses ...provider.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultScript = statuses
}

// SetPublicIP makes every droplet surface 'ip' once active, so session tests
// can point droplets at an in-process SSH server.
func (f *Fake) SetPublicIP(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staticIP = ip
}

// SetStatusScript replaces the remaining script of an existing droplet.
func (f *Fake) SetStatusScript(id int64, statuses ...provider.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.droplets[id]; ok {
		st.script = slices.Clone(statuses)
	}
}

// FailCreates queues errors for the next CreateDroplet calls; a nil entry
// lets that call through.
func (f *Fake) FailCreates(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErrs = append(f.createErrs, errs...)
}

// FailKeyCreates queues errors for the next CreateKey calls.
func (f *Fake) FailKeyCreates(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyCreateErrs = append(f.keyCreateErrs, errs...)
}

// FailStatus queues errors for the next DropletStatus calls on 'id'.
func (f *Fake) FailStatus(id int64, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErrs[id] = append(f.statusErrs[id], errs...)
}

// FailDeletes queues errors for the next delete calls on 'id' (droplet or
// key, ids are unique across both).
func (f *Fake) FailDeletes(id int64, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteErrs[id] = append(f.deleteErrs[id], errs...)
}

// AlwaysFailDelete makes every delete of 'id' fail with 'err', simulating a
// resource that refuses to die.
func (f *Fake) AlwaysFailDelete(id int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stickyDelete[id] = err
}

// FailLists makes the list calls fail with 'err' until cleared with nil.
func (f *Fake) FailLists(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// SeedDroplet plants an active droplet, for sweep tests that reconcile
// resources no live session knows about.
func (f *Fake) SeedDroplet(name string, tags ...string) provider.Droplet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	d := provider.Droplet{
		ID:       id,
		Name:     name,
		Status:   provider.StatusActive,
		PublicIP: fmt.Sprintf("192.0.2.%d", id%200+1),
		Tags:     tags,
	}
	f.droplets[id] = &dropletState{d: d, script: []provider.Status{}}
	return d
}

// SeedKey plants an uploaded key.
func (f *Fake) SeedKey(name string) provider.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	k := provider.Key{ID: id, Name: name, Fingerprint: fakeFingerprint(id)}
	f.keys[id] = &k
	return k
}

// --- provider.API ---

func (f *Fake) CreateDroplet(_ context.Context, spec provider.DropletSpec) (provider.Droplet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.createSpecs = append(f.createSpecs, spec)
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return provider.Droplet{}, err
		}
	}
	f.nextID++
	id := f.nextID
	st := &dropletState{
		d: provider.Droplet{
			ID:     id,
			Name:   spec.Name,
			Status: provider.StatusPending,
			Tags:   slices.Clone(spec.Tags),
		},
		script: slices.Clone(f.defaultScript),
	}
	f.droplets[id] = st
	return st.d, nil
}

func (f *Fake) DropletStatus(_ context.Context, id int64) (provider.Droplet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[id]++
	if errs := f.statusErrs[id]; len(errs) > 0 {
		err := errs[0]
		f.statusErrs[id] = errs[1:]
		if err != nil {
			return provider.Droplet{}, err
		}
	}
	st, ok := f.droplets[id]
	if !ok {
		return provider.Droplet{}, fmt.Errorf("%w: droplet %d", provider.ErrNotFound, id)
	}
	switch {
	case len(st.script) > 0:
		st.d.Status = st.script[0]
		st.script = st.script[1:]
	case st.script == nil:
		st.d.Status = provider.StatusActive
	}
	if st.d.Status == provider.StatusActive && st.d.PublicIP == "" {
		if f.staticIP != "" {
			st.d.PublicIP = f.staticIP
		} else {
			st.d.PublicIP = fmt.Sprintf("192.0.2.%d", id%200+1)
		}
	}
	return st.d, nil
}

func (f *Fake) DeleteDroplet(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls[id]++
	if err, ok := f.stickyDelete[id]; ok {
		return err
	}
	if errs := f.deleteErrs[id]; len(errs) > 0 {
		err := errs[0]
		f.deleteErrs[id] = errs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := f.droplets[id]; !ok {
		return fmt.Errorf("%w: droplet %d", provider.ErrNotFound, id)
	}
	delete(f.droplets, id)
	return nil
}

func (f *Fake) CreateKey(_ context.Context, name, publicKey string) (provider.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyCreateCalls++
	if len(f.keyCreateErrs) > 0 {
		err := f.keyCreateErrs[0]
		f.keyCreateErrs = f.keyCreateErrs[1:]
		if err != nil {
			return provider.Key{}, err
		}
	}
	if publicKey == "" {
		return provider.Key{}, fmt.Errorf("empty public key for %q", name)
	}
	f.nextID++
	id := f.nextID
	k := provider.Key{ID: id, Name: name, Fingerprint: fakeFingerprint(id)}
	f.keys[id] = &k
	return k, nil
}

func (f *Fake) DeleteKey(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls[id]++
	if err, ok := f.stickyDelete[id]; ok {
		return err
	}
	if errs := f.deleteErrs[id]; len(errs) > 0 {
		err := errs[0]
		f.deleteErrs[id] = errs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := f.keys[id]; !ok {
		return fmt.Errorf("%w: key %d", provider.ErrNotFound, id)
	}
	delete(f.keys, id)
	return nil
}

func (f *Fake) ListDropletsByTag(_ context.Context, tag string) ([]provider.Droplet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []provider.Droplet
	for _, st := range f.droplets {
		if slices.Contains(st.d.Tags, tag) {
			out = append(out, st.d)
		}
	}
	slices.SortFunc(out, func(a, b provider.Droplet) int { return int(a.ID - b.ID) })
	return out, nil
}

func (f *Fake) ListKeysByPrefix(_ context.Context, prefix string) ([]provider.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []provider.Key
	for _, k := range f.keys {
		if strings.HasPrefix(k.Name, prefix) {
			out = append(out, *k)
		}
	}
	slices.SortFunc(out, func(a, b provider.Key) int { return int(a.ID - b.ID) })
	return out, nil
}

// --- inspection ---

func (f *Fake) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// CreateSpecs returns every DropletSpec CreateDroplet has seen, refused
// creates included.
func (f *Fake) CreateSpecs() []provider.DropletSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.createSpecs)
}

func (f *Fake) KeyCreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keyCreateCalls
}

func (f *Fake) StatusCalls(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[id]
}

func (f *Fake) DeleteCalls(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls[id]
}

// Droplet returns the current provider-side state of 'id'.
func (f *Fake) Droplet(id int64) (provider.Droplet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.droplets[id]
	if !ok {
		return provider.Droplet{}, false
	}
	return st.d, true
}

// Droplets returns every droplet still alive provider-side, id order.
func (f *Fake) Droplets() []provider.Droplet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Droplet, 0, len(f.droplets))
	for _, st := range f.droplets {
		out = append(out, st.d)
	}
	slices.SortFunc(out, func(a, b provider.Droplet) int { return int(a.ID - b.ID) })
	return out
}

// Keys returns every key still alive provider-side, id order.
func (f *Fake) Keys() []provider.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Key, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, *k)
	}
	slices.SortFunc(out, func(a, b provider.Key) int { return int(a.ID - b.ID) })
	return out
}

func fakeFingerprint(id int64) string {
	return fmt.Sprintf("3b:16:bf:e4:8b:00:8b:b8:59:8c:a9:d3:f0:19:%02x:%02x",
		byte(id>>8), byte(id))
}
