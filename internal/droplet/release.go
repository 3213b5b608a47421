package droplet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/retry"
)

// Release destroys the resource behind record 'id' and retires the record.
// It is idempotent: unknown ids, records already on their way down, and
// records already gone are all no-ops, and concurrent calls collapse to a
// single provider delete.
//
// A record that never got a provider id is retired without any provider
// call. If the provider delete cannot be confirmed the record is left in
// Failed with its provider id intact so teardown can report it as an orphan.
func (c *Controller) Release(ctx context.Context, id string) error {
	log := clog.FromContext(ctx)

	rec, ok := c.ledger.Get(id)
	if !ok {
		return nil
	}
	if rec.State == ledger.StateDestroying || rec.State.Terminal() {
		return nil
	}

	if err := c.ledger.MarkState(id, ledger.StateDestroying); err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			// Lost the race to another releaser.
			return nil
		}
		return err
	}

	if rec.ProviderID != 0 {
		log.Info("destroying resource", "kind", rec.Kind, "name", rec.Name, "provider_id", rec.ProviderID)
		if err := c.destroy(ctx, rec); err != nil {
			if merr := c.ledger.MarkState(id, ledger.StateFailed); merr != nil {
				log.Error("marking failed record", "error", merr)
			}
			c.settle(id)
			return fmt.Errorf("destroying %s %q (provider id %d): %w", rec.Kind, rec.Name, rec.ProviderID, err)
		}
	}

	if err := c.ledger.MarkState(id, ledger.StateDestroyed); err != nil {
		log.Error("marking destroyed record", "error", err)
	}
	if err := c.ledger.Unregister(id); err != nil {
		log.Error("unregistering destroyed record", "error", err)
	}
	c.settle(id)
	log.Info("resource destroyed", "kind", rec.Kind, "name", rec.Name)
	return nil
}

// destroy issues the provider delete for 'rec', retrying transient failures.
// A resource the provider no longer knows counts as destroyed.
func (c *Controller) destroy(ctx context.Context, rec ledger.Record) error {
	log := clog.FromContext(ctx)
	_, err := retry.DoNotify(ctx, c.destroyPolicy, func() (struct{}, error) {
		var err error
		switch rec.Kind {
		case ledger.KindKey:
			err = c.api.DeleteKey(ctx, rec.ProviderID)
		default:
			err = c.api.DeleteDroplet(ctx, rec.ProviderID)
		}
		switch {
		case err == nil, errors.Is(err, provider.ErrNotFound):
			return struct{}{}, nil
		case !provider.Transient(err):
			return struct{}{}, retry.Permanent(err)
		default:
			return struct{}{}, err
		}
	}, func(err error, wait time.Duration) {
		log.Warn("delete failed, backing off", "name", rec.Name, "wait", wait, "error", err)
	})
	return err
}
