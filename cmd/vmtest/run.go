package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sysadmin-ai/vmtest/internal/config"
	"github.com/sysadmin-ai/vmtest/internal/images"
	"github.com/sysadmin-ai/vmtest/internal/log"
	"github.com/sysadmin-ai/vmtest/internal/session"
)

var (
	runImages  []string
	skipVerify bool
)

// sessionOpts is a seam for tests.
var sessionOpts []session.Option

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision and verify the image matrix",
	Long: `Boot one droplet per image, wait for SSH on each, run the verification
workloads, and destroy everything. Exits non-zero unless every target
passed and nothing was left behind.`,
	RunE: doRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runImages, "images", nil, "image slugs to test (default: the whole support matrix)")
	runCmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "stop after SSH answers, skip the verification workloads")
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	targets, err := images.Pick(runImages)
	if err != nil {
		return err
	}
	targets, err = images.ApplySnapshots(targets, cfg.SnapshotFile)
	if err != nil {
		return err
	}

	return runSession(ctx, cfg, targets, skipVerify)
}

// runSession drives one provision/verify/teardown cycle and prints the
// report. Verification failures are contained per target; the exit status
// comes from the report and the teardown result.
func runSession(ctx context.Context, cfg config.Config, targets []images.Target, skipVerify bool) error {
	sess, err := session.Open(ctx, cfg, sessionOpts...)
	if err != nil {
		return err
	}

	ctx, closeLogs := log.SetupSessionLogging(ctx, logsDir, sess.ID())

	vms, err := sess.Provision(ctx, targets)
	if err != nil {
		clog.WarnContext(ctx, "provisioning finished with failures", "error", err.Error())
	}

	if !skipVerify {
		var eg errgroup.Group
		for _, vm := range vms {
			eg.Go(func() error {
				return sess.Verify(ctx, vm)
			})
		}
		if err := eg.Wait(); err != nil {
			clog.WarnContext(ctx, "verification finished with failures", "error", err.Error())
		}
	}

	report, closeErr := sess.Close(ctx)
	closeLogs()

	fmt.Fprint(os.Stdout, report.String())

	if closeErr != nil {
		return fmt.Errorf("teardown: %w", closeErr)
	}
	if !report.OK() {
		failed := 0
		for _, tr := range report.Targets {
			if !tr.Passed() {
				failed++
			}
		}
		return fmt.Errorf("%d of %d targets failed", failed, len(report.Targets))
	}
	return nil
}
