package main

import (
	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/sysadmin-ai/vmtest/internal/config"
	"github.com/sysadmin-ai/vmtest/internal/droplet/pricelist"
	"github.com/sysadmin-ai/vmtest/internal/images"
)

var smokeImage string

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Provision, verify, and destroy a single droplet",
	Long: `Run the whole lifecycle against one image: boot a droplet, wait for
SSH, run the verification workloads, destroy it, and print the report.
The droplet uses the cheapest listed size regardless of VMTEST_SIZE, so a
smoke run can never cost more than the smallest slice.`,
	RunE: doSmoke,
}

func init() {
	smokeCmd.Flags().StringVar(&smokeImage, "image", "ubuntu-24-04-x64", "image slug or label to smoke test")
}

func doSmoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if size, rate := pricelist.Cheapest(); size != cfg.Size {
		clog.InfoContext(ctx, "pinning smoke run to the cheapest size",
			"size", size, "hourly_usd", rate, "configured", cfg.Size)
		cfg.Size = size
	}

	target, err := images.Lookup(smokeImage)
	if err != nil {
		return err
	}
	targets, err := images.ApplySnapshots([]images.Target{target}, cfg.SnapshotFile)
	if err != nil {
		return err
	}

	return runSession(ctx, cfg, targets, false)
}
