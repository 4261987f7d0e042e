package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meramandi/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportDistrict  string
	exportCommodity string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export snapshot history as CSV and/or PNG chart",
	Example: `  meramandi export --csv out/wheat.csv --district Ludhiana --commodity Wheat
  meramandi export --png out/ludhiana.png --district Ludhiana --from 2026-01-01`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseTimeFlag("from", exportFrom)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("to", exportTo)
		if err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), app.ExportOptions{
			From:      from,
			To:        to,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			District:  exportDistrict,
			Commodity: exportCommodity,
			MaxPoints: exportMaxPoints,
		})
	},
}

// parseTimeFlag accepts RFC3339 or a bare date, read as UTC midnight.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, value)
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVar(&exportFrom, "from", "", "Window start, inclusive (default 90 days before --to)")
	flags.StringVar(&exportTo, "to", "", "Window end, exclusive (default now)")
	flags.StringVar(&exportCSVPath, "csv", "", "Write snapshot rows to this CSV file")
	flags.StringVar(&exportPNGPath, "png", "", "Render a min/max/modal chart to this PNG file")
	flags.StringVar(&exportDistrict, "district", "", "Only export snapshots for this district (required for --png)")
	flags.StringVar(&exportCommodity, "commodity", "", "Only export snapshots for this commodity")
	flags.IntVar(&exportMaxPoints, "max-points", 0, "Downsample to at most this many rows (defaults to config)")
}
