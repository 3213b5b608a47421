package droplet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
)

// OrphanError reports resources whose destruction could not be confirmed.
// A record named here with a provider id is still alive provider-side and
// accruing cost, so callers must surface it louder than any other failure.
type OrphanError struct {
	Records []ledger.Record
}

func (e *OrphanError) Error() string {
	names := make([]string, 0, len(e.Records))
	for _, rec := range e.Records {
		names = append(names, fmt.Sprintf("%s %s (provider id %d)", rec.Kind, rec.Name, rec.ProviderID))
	}
	return fmt.Sprintf("%d resource(s) not confirmed destroyed, clean up manually: %s",
		len(e.Records), strings.Join(names, ", "))
}

// ProviderIDs lists the surviving provider ids, droplets and keys alike.
func (e *OrphanError) ProviderIDs() []int64 {
	ids := make([]int64, 0, len(e.Records))
	for _, rec := range e.Records {
		ids = append(ids, rec.ProviderID)
	}
	return ids
}

// TeardownAll releases every record the ledger still holds, droplets before
// keys so nothing references a key being deleted. One failure never stops
// the walk. If any resource survives, the returned error is an *OrphanError
// naming each one.
//
// Safe to call repeatedly and concurrently; the signal handler and the
// normal close path may both run it.
func (c *Controller) TeardownAll(ctx context.Context) error {
	log := clog.FromContext(ctx)

	recs := c.ledger.NonTerminal()
	if len(recs) > 0 {
		log.Info("tearing down session resources", "count", len(recs))
	}

	var errs error
	for _, kind := range []ledger.Kind{ledger.KindDroplet, ledger.KindKey} {
		for _, rec := range recs {
			if rec.Kind != kind {
				continue
			}
			if err := c.Release(ctx, rec.ID); err != nil {
				log.Error("resource survived teardown", "kind", rec.Kind, "name", rec.Name, "error", err)
				errs = errors.Join(errs, err)
			}
		}
	}

	if orphans := c.orphans(); len(orphans) > 0 {
		return &OrphanError{Records: orphans}
	}
	return errs
}

// orphans returns every record that still maps to a live provider resource:
// anything non-terminal, plus Failed records that carry a provider id.
func (c *Controller) orphans() []ledger.Record {
	var out []ledger.Record
	for _, rec := range c.ledger.Snapshot() {
		switch {
		case !rec.State.Terminal():
			out = append(out, rec)
		case rec.State == ledger.StateFailed && rec.ProviderID != 0:
			out = append(out, rec)
		}
	}
	return out
}
