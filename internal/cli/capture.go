package cli

import (
	"github.com/spf13/cobra"

	"meramandi/internal/app"
)

var (
	captureDryRun  bool
	captureWorkers int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record a market snapshot for every active subscription filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Capture(cmd.Context(), app.CaptureOptions{
			DryRun:  captureDryRun,
			Workers: captureWorkers,
		})
	},
}

func init() {
	captureCmd.Flags().BoolVar(&captureDryRun, "dry-run", false, "Look up prices without writing snapshots")
	captureCmd.Flags().IntVar(&captureWorkers, "workers", 2, "Number of concurrent lookups")
}
