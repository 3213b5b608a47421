package droplet

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/sysadmin-ai/vmtest/internal/droplet/pricelist"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/retry"
)

// ErrNeverActive reports a droplet the provider placed in an unrecoverable
// state before it ever reached active.
var ErrNeverActive = fmt.Errorf("droplet cannot become active")

// reapWindow bounds the destroy attempt for a droplet whose provisioning
// failed partway. Detached from the caller's context so a cancelled session
// still gets a real cleanup attempt.
const reapWindow = 45 * time.Second

// ProvisionSpec describes one droplet to create.
type ProvisionSpec struct {
	// Label names the droplet for humans. It is slugified into the droplet
	// name after the session tag.
	Label string

	Image    string
	Size     string
	KeyIDs   []int64
	UserData string
}

// Provision creates one droplet and blocks until the provider reports it
// active with a public address. The returned record is Active and owns a
// committed slice of the session budget.
//
// On any failure the record is driven to a safe end state before the error
// is returned: a droplet that was created provider-side is destroyed, and
// only if that destroy also fails does the record stay behind as a Failed
// entry carrying its provider id.
func (c *Controller) Provision(ctx context.Context, spec ProvisionSpec) (ledger.Record, error) {
	log := clog.FromContext(ctx).With("image", spec.Image, "size", spec.Size)

	rate, err := pricelist.Rate(spec.Size)
	if err != nil {
		return ledger.Record{}, err
	}
	estimate := rate * c.billing.Hours()

	// Admission happens before the provider hears anything: no budget or
	// slot, no API call.
	res, err := c.guard.Reserve(estimate)
	if err != nil {
		return ledger.Record{}, err
	}
	if err := c.guard.AcquireSlot(ctx); err != nil {
		res.Release()
		return ledger.Record{}, err
	}

	id := uuid.NewString()
	name := c.dropletName(spec.Label, id)
	log = log.With("name", name)

	if err := c.ledger.Register(ledger.Record{
		ID:         id,
		Kind:       ledger.KindDroplet,
		Name:       name,
		Region:     c.region,
		Size:       spec.Size,
		Image:      spec.Image,
		HourlyRate: rate,
		State:      ledger.StateRequested,
	}); err != nil {
		c.guard.ReleaseSlot()
		res.Release()
		return ledger.Record{}, err
	}
	c.track(id, res)

	log.Info("creating droplet", "estimated_cost", fmt.Sprintf("$%.4f", estimate))
	d, err := c.create(ctx, spec, name)
	if err != nil {
		// Nothing exists provider-side. The Failed record with a zero
		// provider id is the evidence.
		if merr := c.ledger.MarkState(id, ledger.StateFailed); merr != nil {
			log.Error("marking failed record", "error", merr)
		}
		c.settle(id)
		return ledger.Record{}, fmt.Errorf("creating droplet %q: %w", name, err)
	}

	if err := c.ledger.SetProviderID(id, d.ID); err != nil {
		log.Error("recording provider id", "error", err)
	}
	if err := c.ledger.MarkState(id, ledger.StateProvisioning); err != nil {
		log.Error("marking provisioning record", "error", err)
	}
	log.Info("droplet created, waiting for active", "provider_id", d.ID)

	active, err := c.waitActive(ctx, d.ID)
	if err != nil {
		return ledger.Record{}, c.reap(ctx, id, fmt.Errorf("waiting for droplet %q: %w", name, err))
	}

	if err := c.ledger.SetAddress(id, active.PublicIP); err != nil {
		log.Error("recording droplet address", "error", err)
	}
	if err := c.ledger.MarkState(id, ledger.StateActive); err != nil {
		log.Error("marking active record", "error", err)
	}
	c.commit(id)
	log.Info("droplet active", "provider_id", d.ID, "public_ip", active.PublicIP)

	rec, _ := c.ledger.Get(id)
	return rec, nil
}

// create issues the provider create call, retrying transient failures with
// jittered backoff. Permanent failures surface on the first attempt.
func (c *Controller) create(ctx context.Context, spec ProvisionSpec, name string) (provider.Droplet, error) {
	log := clog.FromContext(ctx)
	return retry.DoNotify(ctx, c.createPolicy, func() (provider.Droplet, error) {
		d, err := c.api.CreateDroplet(ctx, provider.DropletSpec{
			Name:     name,
			Region:   c.region,
			Size:     spec.Size,
			Image:    spec.Image,
			KeyIDs:   spec.KeyIDs,
			Tags:     []string{c.tag},
			UserData: spec.UserData,
		})
		if err != nil {
			if !provider.Transient(err) {
				return provider.Droplet{}, retry.Permanent(err)
			}
			return provider.Droplet{}, err
		}
		return d, nil
	}, func(err error, wait time.Duration) {
		log.Warn("droplet create failed, backing off", "name", name, "wait", wait, "error", err)
	})
}

// waitActive polls droplet status until the provider reports active with a
// public address. Pending droplets and transient API failures keep the loop
// going; an errored or archived droplet ends it immediately.
func (c *Controller) waitActive(ctx context.Context, providerID int64) (provider.Droplet, error) {
	log := clog.FromContext(ctx).With("provider_id", providerID)
	return retry.DoNotify(ctx, c.pollPolicy, func() (provider.Droplet, error) {
		d, err := c.api.DropletStatus(ctx, providerID)
		if err != nil {
			if !provider.Transient(err) {
				return provider.Droplet{}, retry.Permanent(err)
			}
			return provider.Droplet{}, err
		}
		switch d.Status {
		case provider.StatusActive:
			if d.PublicIP == "" {
				// Address assignment can lag the status flip.
				return provider.Droplet{}, fmt.Errorf("droplet %d active without a public address", providerID)
			}
			return d, nil
		case provider.StatusPending:
			return provider.Droplet{}, fmt.Errorf("droplet %d still pending", providerID)
		default:
			return provider.Droplet{}, retry.Permanent(fmt.Errorf("%w: droplet %d is %s", ErrNeverActive, providerID, d.Status))
		}
	}, func(err error, wait time.Duration) {
		log.Debug("droplet not ready, backing off", "wait", wait, "reason", err)
	})
}

// reap tears down a droplet whose provisioning failed after the provider
// created it, then settles its slot and reservation. The original cause is
// always part of the returned error.
func (c *Controller) reap(ctx context.Context, id string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reapWindow)
	defer cancel()

	if err := c.Release(ctx, id); err != nil {
		return fmt.Errorf("%w (cleanup also failed: %v)", cause, err)
	}
	return cause
}
