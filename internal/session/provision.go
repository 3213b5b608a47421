package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sysadmin-ai/vmtest/internal/droplet"
	"github.com/sysadmin-ai/vmtest/internal/guard"
	"github.com/sysadmin-ai/vmtest/internal/images"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/o11y"
	"github.com/sysadmin-ai/vmtest/internal/sshconn"
)

// releaseWindow bounds the destroy pass on a droplet that came up but never
// answered SSH.
const releaseWindow = 45 * time.Second

// VM is one provisioned, reachable droplet.
type VM struct {
	Target images.Target
	Record ledger.Record

	client *sshconn.Client
	report *TargetReport
}

// Client returns the live SSH connection to the droplet.
func (vm *VM) Client() *sshconn.Client { return vm.client }

// Provision brings up one droplet per target and dials each until SSH
// answers. Targets fan out concurrently, bounded by the guardrail slots. A
// target that fails to come up is released and reported without disturbing
// its siblings; budget and deadline failures abort the whole group.
//
// The returned VMs are the targets that made it. The error, if any, is
// either the group-fatal failure or the joined per-target failures.
func (s *Session) Provision(ctx context.Context, targets []images.Target) ([]*VM, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	reports := make([]*TargetReport, len(targets))
	for i, target := range targets {
		reports[i] = &TargetReport{Label: target.Label}
	}
	s.mu.Lock()
	s.reports = append(s.reports, reports...)
	s.mu.Unlock()

	var (
		failMu   sync.Mutex
		failures []error
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.guard.Cap())
	for i, target := range targets {
		eg.Go(func() error {
			vm, err := s.provisionOne(egCtx, target, reports[i])
			if err == nil {
				s.mu.Lock()
				s.vms = append(s.vms, vm)
				s.mu.Unlock()
				return nil
			}
			reports[i].Error = err.Error()
			if fatal(egCtx, err) {
				return err
			}
			clog.FromContext(ctx).Warn("target failed, continuing with the rest",
				"image", target.Label, "error", err)
			failMu.Lock()
			failures = append(failures, fmt.Errorf("%s: %w", target.Label, err))
			failMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return s.liveVMs(), err
	}
	return s.liveVMs(), errors.Join(failures...)
}

// fatal reports whether 'err' must abort the sibling targets too. Budget
// exhaustion and the session deadline are unrecoverable for every target;
// anything else is local to one.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, guard.ErrBudgetExceeded) ||
		errors.Is(err, guard.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		ctx.Err() != nil
}

func (s *Session) provisionOne(ctx context.Context, target images.Target, report *TargetReport) (vm *VM, err error) {
	ctx, span := o11y.Tracer().Start(ctx, "provision", trace.WithAttributes(
		attribute.String(o11y.AttrSessionID, s.id),
		attribute.String(o11y.AttrImage, target.Label),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := clog.FromContext(ctx).With("session", s.id, "image", target.Label)

	rec, err := s.ctl.Provision(ctx, droplet.ProvisionSpec{
		Label:    target.Label,
		Image:    target.Slug,
		Size:     s.cfg.Size,
		KeyIDs:   []int64{s.key.ProviderID},
		UserData: cloudInit(s.cfg.SSHUser, s.pubLine),
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning: %w", err)
	}
	report.DropletName = rec.Name
	report.ProviderID = rec.ProviderID
	report.Provisioned = true

	client, err := sshconn.Connect(ctx, sshconn.Config{
		Host:   rec.PublicIP,
		Port:   s.sshPort,
		User:   s.cfg.SSHUser,
		Signer: s.key.Signer,
		Policy: s.policies.Dial,
	})
	if err != nil {
		// The droplet is up but unusable. Release it now rather than leave it
		// billing until Close, on a detached context in case the group is
		// already cancelled.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseWindow)
		defer cancel()
		if relErr := s.ctl.Release(relCtx, rec.ID); relErr != nil {
			log.Error("releasing unreachable droplet failed", "droplet", rec.Name, "error", relErr)
		}
		return nil, fmt.Errorf("connecting to %s at %s: %w", rec.Name, rec.PublicIP, err)
	}
	report.ConnectAttempts = len(client.Attempts())

	// Give cloud-init a chance to finish before any workload runs. Best
	// effort: images without cloud-init just fail the probe.
	if _, _, err := client.Exec(ctx, "cloud-init status --wait || true"); err != nil {
		log.Debug("cloud-init settle probe failed", "droplet", rec.Name, "error", err)
	}

	log.Info("droplet ready", "droplet", rec.Name, "ip", rec.PublicIP,
		"ssh_attempts", report.ConnectAttempts)
	return &VM{Target: target, Record: rec, client: client, report: report}, nil
}

// liveVMs snapshots the VM list.
func (s *Session) liveVMs() []*VM {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*VM, len(s.vms))
	copy(out, s.vms)
	return out
}

// cloudInit returns user data creating a passwordless-sudo login for
// non-root users. Root needs nothing: the provider installs the session key
// for root on its own.
func cloudInit(user, authorizedKey string) string {
	if user == "root" {
		return ""
	}
	return "#cloud-config\n" +
		"users:\n" +
		"  - name: " + user + "\n" +
		"    groups: sudo\n" +
		"    shell: /bin/bash\n" +
		"    sudo: " + strconv.Quote("ALL=(ALL) NOPASSWD:ALL") + "\n" +
		"    ssh_authorized_keys:\n" +
		"      - " + authorizedKey
}
