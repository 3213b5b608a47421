// Package session orchestrates one test session end to end: guardrails,
// ledger, droplet lifecycle, SSH verification and the final teardown report.
// A Session is the only thing a command needs to hold; Close is safe to defer
// the moment Open returns, and runs the teardown pass no matter how the
// session went.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/sysadmin-ai/vmtest/internal/config"
	"github.com/sysadmin-ai/vmtest/internal/droplet"
	"github.com/sysadmin-ai/vmtest/internal/guard"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/retry"
)

const (
	// emergencyWindow bounds the signal trap's destroy-all pass.
	emergencyWindow = 2 * time.Minute

	// teardownWindow bounds Close's teardown pass. It runs on a context
	// detached from the session's, which is usually already cancelled or past
	// its deadline by the time Close runs.
	teardownWindow = 5 * time.Minute
)

// Policies bundles the retry policies a Session hands down to the droplet
// controller and the SSH dialer. Zero values pick each layer's defaults.
type Policies struct {
	Create  retry.Policy
	Poll    retry.Policy
	Destroy retry.Policy
	Dial    retry.Policy
}

// Option adjusts how Open builds a Session.
type Option func(*options)

type options struct {
	api      provider.API
	policies Policies
	sshPort  uint16
}

// WithAPI substitutes the provider client, for tests.
func WithAPI(api provider.API) Option {
	return func(o *options) { o.api = api }
}

// WithPolicies overrides the default retry policies.
func WithPolicies(p Policies) Option {
	return func(o *options) { o.policies = p }
}

// WithSSHPort overrides the SSH port dialed on every droplet. Zero means 22.
func WithSSHPort(port uint16) Option {
	return func(o *options) { o.sshPort = port }
}

// Session owns every cloud resource created between Open and Close.
type Session struct {
	id      string
	cfg     config.Config
	guard   *guard.Guard
	ledger  *ledger.Ledger
	ctl     *droplet.Controller
	key     *droplet.SessionKey
	pubLine string

	policies Policies
	sshPort  uint16
	started  time.Time
	stopTrap func()

	mu       sync.Mutex
	vms      []*VM
	reports  []*TargetReport
	closed   bool
	report   *Report
	closeErr error
}

// Open builds the session: guardrails from the config, a fresh ledger, the
// droplet controller, and the session SSH key uploaded to the provider. It
// registers the session with the signal trap so an interrupt destroys
// whatever exists; Close clears the registration.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.api == nil {
		o.api = provider.NewGodo(cfg.DigitalOceanToken)
	}

	id := uuid.NewString()
	log := clog.FromContext(ctx).With("session", id)

	g := guard.New(cfg.BudgetUSD, cfg.MaxDroplets)
	led := ledger.New()
	ctl := droplet.NewController(o.api, led, g, droplet.Config{
		SessionID:      id,
		Tag:            cfg.Tag,
		Region:         cfg.Region,
		BillingHorizon: billingHorizon(cfg.SessionTimeout()),
		CreatePolicy:   o.policies.Create,
		PollPolicy:     o.policies.Poll,
		DestroyPolicy:  o.policies.Destroy,
	})

	s := &Session{
		id:       id,
		cfg:      cfg,
		guard:    g,
		ledger:   led,
		ctl:      ctl,
		policies: o.policies,
		sshPort:  o.sshPort,
		started:  time.Now(),
	}

	// Resources may exist from here on, so the trap goes up before the first
	// provider call.
	guard.SetActive(id, ctl.TeardownAll)
	s.stopTrap = guard.NewTrap(emergencyWindow).Install(ctx)

	key, err := ctl.EnsureKey(ctx)
	if err != nil {
		s.stopTrap()
		guard.ClearActive(id)
		return nil, fmt.Errorf("opening session %s: %w", id, err)
	}
	s.key = key
	s.pubLine = string(ssh.MarshalAuthorizedKey(key.Signer.PublicKey()))

	log.Info("session open",
		"key", key.Name,
		"budget_usd", cfg.BudgetUSD,
		"max_droplets", cfg.MaxDroplets,
		"deadline", s.started.Add(cfg.SessionTimeout()).Format(time.RFC3339),
	)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Ledger exposes the session ledger for inspection.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// bound derives the per-call context every blocking operation runs under:
// whatever the caller passed, capped by the session deadline.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(ctx, s.started.Add(s.cfg.SessionTimeout()))
}

// billingHorizon is the droplet-time one reservation must cover. The provider
// bills by the hour, so sessions shorter than an hour still reserve a full
// one.
func billingHorizon(timeout time.Duration) time.Duration {
	if timeout < time.Hour {
		return time.Hour
	}
	return timeout
}

// Close destroys everything the session still owns and assembles the final
// report. It always runs the full teardown pass, on a context detached from
// 'ctx' so an elapsed session deadline cannot block cleanup. Subsequent calls
// return the same report.
func (s *Session) Close(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.closed {
		rep, err := s.report, s.closeErr
		s.mu.Unlock()
		return rep, err
	}
	s.closed = true
	vms := s.vms
	s.mu.Unlock()

	log := clog.FromContext(ctx).With("session", s.id)
	for _, vm := range vms {
		if vm.client != nil {
			_ = vm.client.Close()
		}
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownWindow)
	defer cancel()
	err := s.ctl.TeardownAll(tctx)

	s.stopTrap()
	guard.ClearActive(s.id)

	rep := s.buildReport(err)
	s.mu.Lock()
	s.report, s.closeErr = rep, err
	s.mu.Unlock()

	if err != nil {
		log.Error("session closed with teardown failures", "error", err)
	} else {
		log.Info("session closed", "wall_clock", rep.Wall.Round(time.Second), "spend_usd", rep.SpentUSD)
	}
	return rep, err
}
