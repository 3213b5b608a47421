// Package droplet drives ephemeral droplets and their session key through a
// strict lifecycle against the provider. Every resource is registered in the
// ledger before the provider sees it, every create is admitted by the guard,
// and teardown walks whatever the ledger holds regardless of how provisioning
// went.
package droplet

import (
	"fmt"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"github.com/sysadmin-ai/vmtest/internal/guard"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/retry"
)

// Config carries the per-session knobs of a Controller. Zero retry policies
// fall back to defaults tuned for droplet boot times.
type Config struct {
	// SessionID is the unique id of the owning session. Its first segment
	// lands in every resource name.
	SessionID string

	// Tag is applied to every created droplet and prefixes every key name,
	// so strays can be found without a ledger.
	Tag string

	Region string

	// BillingHorizon is how much droplet-time one reservation must cover,
	// normally the session time budget. Estimated cost = hourly rate *
	// horizon.
	BillingHorizon time.Duration

	CreatePolicy  retry.Policy
	PollPolicy    retry.Policy
	DestroyPolicy retry.Policy
}

// Controller owns the droplet and key lifecycle for one session. All methods
// are safe for concurrent use.
type Controller struct {
	api    provider.API
	ledger *ledger.Ledger
	guard  *guard.Guard

	sessionID string
	tag       string
	region    string
	billing   time.Duration

	createPolicy  retry.Policy
	pollPolicy    retry.Policy
	destroyPolicy retry.Policy

	mu           sync.Mutex
	reservations map[string]*guard.Reservation
	slots        map[string]struct{}

	// keyMu serializes EnsureKey so one session never uploads two keys.
	keyMu sync.Mutex
	key   *SessionKey
}

func NewController(api provider.API, l *ledger.Ledger, g *guard.Guard, cfg Config) *Controller {
	c := &Controller{
		api:           api,
		ledger:        l,
		guard:         g,
		sessionID:     cfg.SessionID,
		tag:           cfg.Tag,
		region:        cfg.Region,
		billing:       cfg.BillingHorizon,
		createPolicy:  cfg.CreatePolicy,
		pollPolicy:    cfg.PollPolicy,
		destroyPolicy: cfg.DestroyPolicy,
		reservations:  map[string]*guard.Reservation{},
		slots:         map[string]struct{}{},
	}

	if c.billing <= 0 {
		c.billing = time.Hour
	}
	if c.createPolicy.MaxAttempts == 0 && c.createPolicy.MaxElapsed == 0 {
		c.createPolicy = retry.Policy{MaxAttempts: 4, Base: 1 * time.Second, Cap: 10 * time.Second, Jitter: 0.3}
	}
	if c.pollPolicy.MaxAttempts == 0 && c.pollPolicy.MaxElapsed == 0 {
		c.pollPolicy = retry.Policy{Base: 2 * time.Second, Cap: 15 * time.Second, MaxElapsed: 5 * time.Minute}
	}
	if c.destroyPolicy.MaxAttempts == 0 && c.destroyPolicy.MaxElapsed == 0 {
		c.destroyPolicy = retry.Policy{MaxAttempts: 5, Base: 1 * time.Second, Cap: 10 * time.Second, Jitter: 0.3}
	}

	return c
}

// Ledger exposes the controller's ledger for reporting.
func (c *Controller) Ledger() *ledger.Ledger { return c.ledger }

// track takes ownership of a freshly acquired reservation and concurrency
// slot on behalf of record 'id'. settle is its inverse.
func (c *Controller) track(id string, res *guard.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservations[id] = res
	c.slots[id] = struct{}{}
}

// settle returns the record's slot to the guard and releases its reservation
// if it was never committed. Safe to call more than once per record.
func (c *Controller) settle(id string) {
	c.mu.Lock()
	res := c.reservations[id]
	delete(c.reservations, id)
	_, held := c.slots[id]
	delete(c.slots, id)
	c.mu.Unlock()

	if res != nil {
		res.Release()
	}
	if held {
		c.guard.ReleaseSlot()
	}
}

func (c *Controller) commit(id string) {
	c.mu.Lock()
	res := c.reservations[id]
	c.mu.Unlock()
	if res != nil {
		res.Commit()
	}
}

func (c *Controller) dropletName(label, recordID string) string {
	return fmt.Sprintf("%s-%s-%s-%s", c.tag, shortID(c.sessionID), slug.Make(label), shortID(recordID)[:4])
}

func (c *Controller) keyName() string {
	return fmt.Sprintf("%s-%s-key", c.tag, shortID(c.sessionID))
}

// shortID returns the first uuid segment, enough to tell sessions apart in a
// droplet listing.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
