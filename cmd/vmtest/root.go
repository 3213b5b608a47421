package main

import (
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	logsDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vmtest",
	Short: "Ephemeral DigitalOcean droplet verification",
	Long: `vmtest boots real droplets from a support matrix of Linux images, waits
for SSH, runs a small set of verification workloads on each, and destroys
everything it created. Spend is capped by a budget and a droplet cap, runs
are capped by a deadline, and interrupted runs still tear down.

Configuration comes from VMTEST_* environment variables; the provider
token comes from DIGITALOCEAN_TOKEN.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			console.SetLevel(charmlog.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logsDir, "logs-dir", "", "directory for per-session debug logs (disabled when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(smokeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
}
