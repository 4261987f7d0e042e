package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"meramandi/internal/app"
	"meramandi/internal/market"
)

var (
	previewState     string
	previewDistrict  string
	previewCommodity string
	previewMandi     string
	previewPhone     string
	previewSend      bool
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the reminder texts for a location and crop",
	RunE: func(cmd *cobra.Command, args []string) error {
		if previewState == "" || previewDistrict == "" {
			return errors.New("--state and --district must be provided")
		}
		return getApp().Preview(cmd.Context(), app.PreviewOptions{
			Filter: market.Filter{
				State:     previewState,
				District:  previewDistrict,
				Commodity: previewCommodity,
				Mandi:     previewMandi,
			},
			Phone: previewPhone,
			Send:  previewSend,
		})
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewState, "state", "", "State name")
	previewCmd.Flags().StringVar(&previewDistrict, "district", "", "District name")
	previewCmd.Flags().StringVar(&previewCommodity, "commodity", market.AllCommodities, "Commodity, or All Crops")
	previewCmd.Flags().StringVar(&previewMandi, "mandi", market.AllMandis, "Mandi, or All Mandis")
	previewCmd.Flags().StringVar(&previewPhone, "phone", "", "Destination phone number for --send")
	previewCmd.Flags().BoolVar(&previewSend, "send", false, "Send the texts as SMS")
}
