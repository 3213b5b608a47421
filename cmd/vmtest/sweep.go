package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sysadmin-ai/vmtest/internal/config"
	"github.com/sysadmin-ai/vmtest/internal/droplet"
	"github.com/sysadmin-ai/vmtest/internal/provider"
)

var (
	sweepTag    string
	sweepDryRun bool
	sweepForce  bool
)

// newAPI is a seam for tests.
var newAPI = provider.NewGodo

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Destroy droplets and keys leaked by earlier runs",
	Long: `Find every droplet carrying the harness tag and every key named after
it, ledger or no ledger, and destroy them. This is the recovery path for
runs that died before their own teardown.

Without --force the command only lists what it found and refuses to
destroy anything.`,
	RunE: doSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepTag, "tag", "", "tag to sweep (default: the configured tag)")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list matching resources and stop")
	sweepCmd.Flags().BoolVar(&sweepForce, "force", false, "destroy matching resources")
	sweepCmd.MarkFlagsMutuallyExclusive("dry-run", "force")
}

func doSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tag := sweepTag
	if tag == "" {
		tag = cfg.Tag
	}

	api := newAPI(cfg.DigitalOceanToken)

	report, sweepErr := droplet.Sweep(ctx, api, tag, !sweepForce)
	if sweepErr != nil && report.Empty() {
		return sweepErr
	}
	printSweep(report, tag)
	if sweepErr != nil {
		return sweepErr
	}

	if !sweepForce && !sweepDryRun && !report.Empty() {
		return errors.New("refusing to destroy anything without --force")
	}
	return nil
}

func printSweep(report droplet.SweepReport, tag string) {
	w := os.Stdout

	if report.Empty() {
		fmt.Fprintf(w, "nothing tagged %q to sweep\n", tag)
		return
	}

	verb := "destroyed"
	if !sweepForce {
		verb = "found"
	}
	fmt.Fprintf(w, "%s %d droplets and %d keys tagged %q:\n",
		verb, len(report.Droplets), len(report.Keys), tag)
	for _, d := range report.Droplets {
		fmt.Fprintf(w, "  droplet %s (provider id %d, %s)\n", d.Name, d.ID, d.Status)
	}
	for _, k := range report.Keys {
		fmt.Fprintf(w, "  key %s (provider id %d)\n", k.Name, k.ID)
	}
	for _, s := range report.Survivors {
		fmt.Fprintf(w, "  SURVIVED: %s\n", s)
	}
}
