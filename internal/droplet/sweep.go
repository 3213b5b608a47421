package droplet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/retry"
)

// SweepReport lists what a sweep found and what it could not remove.
type SweepReport struct {
	Droplets []provider.Droplet
	Keys     []provider.Key

	// Survivors names resources whose delete failed. Empty on a dry run.
	Survivors []string
}

// Empty reports whether the sweep found nothing to remove.
func (r SweepReport) Empty() bool {
	return len(r.Droplets) == 0 && len(r.Keys) == 0
}

// Sweep finds and destroys every provider resource left behind by earlier
// sessions: droplets carrying 'tag' and keys whose name starts with it. It
// needs no ledger, which is the point; it is the recovery path for exactly
// the runs whose ledger died with them.
//
// With dryRun set it only reports what it would destroy.
func Sweep(ctx context.Context, api provider.API, tag string, dryRun bool) (SweepReport, error) {
	log := clog.FromContext(ctx).With("tag", tag)

	var report SweepReport
	droplets, err := api.ListDropletsByTag(ctx, tag)
	if err != nil {
		return report, fmt.Errorf("listing droplets tagged %q: %w", tag, err)
	}
	keys, err := api.ListKeysByPrefix(ctx, tag+"-")
	if err != nil {
		return report, fmt.Errorf("listing keys prefixed %q: %w", tag+"-", err)
	}
	report.Droplets = droplets
	report.Keys = keys

	if report.Empty() {
		log.Info("nothing to sweep")
		return report, nil
	}
	if dryRun {
		log.Info("dry run, leaving resources in place", "droplets", len(droplets), "keys", len(keys))
		return report, nil
	}

	policy := retry.Policy{MaxAttempts: 5, Base: 1 * time.Second, Cap: 10 * time.Second, Jitter: 0.3}

	var errs error
	for _, d := range droplets {
		log.Info("sweeping droplet", "name", d.Name, "provider_id", d.ID)
		if err := sweepDelete(ctx, policy, func() error { return api.DeleteDroplet(ctx, d.ID) }); err != nil {
			report.Survivors = append(report.Survivors, fmt.Sprintf("droplet %s (%d)", d.Name, d.ID))
			errs = errors.Join(errs, fmt.Errorf("sweeping droplet %s (%d): %w", d.Name, d.ID, err))
		}
	}
	for _, k := range keys {
		log.Info("sweeping key", "name", k.Name, "provider_id", k.ID)
		if err := sweepDelete(ctx, policy, func() error { return api.DeleteKey(ctx, k.ID) }); err != nil {
			report.Survivors = append(report.Survivors, fmt.Sprintf("key %s (%d)", k.Name, k.ID))
			errs = errors.Join(errs, fmt.Errorf("sweeping key %s (%d): %w", k.Name, k.ID, err))
		}
	}
	return report, errs
}

func sweepDelete(ctx context.Context, policy retry.Policy, del func() error) error {
	_, err := retry.Do(ctx, policy, func() (struct{}, error) {
		err := del()
		switch {
		case err == nil, errors.Is(err, provider.ErrNotFound):
			return struct{}{}, nil
		case !provider.Transient(err):
			return struct{}{}, retry.Permanent(err)
		default:
			return struct{}{}, err
		}
	})
	return err
}
