package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sysadmin-ai/vmtest/internal/images"
	"github.com/sysadmin-ai/vmtest/internal/o11y"
)

var ErrVerify = fmt.Errorf("verification failed")

// familyMarkers are the /etc/os-release substrings that identify a family.
var familyMarkers = map[images.Family][]string{
	images.FamilyDebian: {"debian", "ubuntu"},
	images.FamilyRHEL:   {"centos", "fedora", "almalinux", "rhel"},
}

// settledStates are the systemctl is-system-running answers a fresh droplet
// is allowed to give. "degraded" is common right after boot (one flaky unit)
// and not worth failing a target over.
var settledStates = []string{"running", "degraded", "starting"}

// Verify runs the built-in workloads against the droplet: shell access,
// OS-family identity, the family's package manager, and systemd health. The
// first failing workload fails the target. The whole pass is bounded by the
// session deadline, so a hung remote command cannot stall the run.
func (s *Session) Verify(ctx context.Context, vm *VM) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	ctx, span := o11y.Tracer().Start(ctx, "verify", trace.WithAttributes(
		attribute.String(o11y.AttrSessionID, s.id),
		attribute.String(o11y.AttrImage, vm.Target.Label),
		attribute.String(o11y.AttrDroplet, vm.Record.Name),
	))
	defer span.End()

	log := clog.FromContext(ctx).With("session", s.id, "droplet", vm.Record.Name, "image", vm.Target.Label)

	workloads := []struct {
		name string
		run  func(context.Context, *VM) error
	}{
		{"shell access", checkShell},
		{"os family", checkOSFamily},
		{"package manager", checkPackageManager},
		{"system state", checkSystemState},
	}
	for _, w := range workloads {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s on %s: %w", ErrVerify, w.name, vm.Record.Name, err)
		}
		if err := w.run(ctx, vm); err != nil {
			err = fmt.Errorf("%w: %s on %s: %w", ErrVerify, w.name, vm.Record.Name, err)
			vm.report.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, w.name)
			return err
		}
		span.AddEvent(w.name, trace.WithAttributes(attribute.String(o11y.AttrWorkload, w.name)))
		log.Debug("workload passed", "workload", w.name)
	}

	vm.report.Verified = true
	log.Info("droplet verified")
	return nil
}

func checkShell(ctx context.Context, vm *VM) error {
	stdout, _, err := vm.client.Exec(ctx, "uname -a")
	if err != nil {
		return err
	}
	if !strings.Contains(stdout, "Linux") {
		return fmt.Errorf("unexpected kernel banner %q", strings.TrimSpace(stdout))
	}
	return nil
}

func checkOSFamily(ctx context.Context, vm *VM) error {
	stdout, _, err := vm.client.Exec(ctx, "cat /etc/os-release")
	if err != nil {
		return err
	}
	markers, ok := familyMarkers[vm.Target.Family]
	if !ok {
		return fmt.Errorf("no markers known for family %q", vm.Target.Family)
	}
	release := strings.ToLower(stdout)
	for _, marker := range markers {
		if strings.Contains(release, marker) {
			return nil
		}
	}
	return fmt.Errorf("os-release carries no %s marker (wanted one of %s)",
		vm.Target.Family, strings.Join(markers, ", "))
}

func checkPackageManager(ctx context.Context, vm *VM) error {
	if _, _, err := vm.client.Exec(ctx, vm.Target.ProbeCommand()); err != nil {
		return err
	}
	return nil
}

// checkSystemState tolerates a non-zero exit as long as systemd names a state
// a fresh boot can legitimately be in; "degraded" exits 1.
func checkSystemState(ctx context.Context, vm *VM) error {
	stdout, _, err := vm.client.Exec(ctx, "systemctl is-system-running")
	if err == nil {
		return nil
	}
	if state := strings.TrimSpace(stdout); slices.Contains(settledStates, state) {
		return nil
	}
	return fmt.Errorf("system state %q: %w", strings.TrimSpace(stdout), err)
}
