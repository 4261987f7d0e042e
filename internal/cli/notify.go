package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meramandi/internal/app"
)

var (
	notifyForce bool
	notifyAt    string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run a single reminder pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.NotifyOptions{Force: notifyForce}
		if notifyAt != "" {
			at, err := time.Parse(time.RFC3339, notifyAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			opts.At = &at
		}
		return getApp().Notify(cmd.Context(), opts)
	},
}

var testSMSPhone string

var testSMSCmd = &cobra.Command{
	Use:   "test-sms",
	Short: "Send the test SMS to a phone number",
	RunE: func(cmd *cobra.Command, args []string) error {
		if testSMSPhone == "" {
			return fmt.Errorf("--phone must be provided")
		}
		return getApp().TestSMS(cmd.Context(), testSMSPhone)
	},
}

func init() {
	notifyCmd.Flags().BoolVar(&notifyForce, "force", false, "Ignore schedules and the once-per-day rule")
	notifyCmd.Flags().StringVar(&notifyAt, "at", "", "Evaluate schedules at this time (RFC3339) instead of now")

	testSMSCmd.Flags().StringVar(&testSMSPhone, "phone", "", "Destination phone number")
}
