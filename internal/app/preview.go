package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"meramandi/internal/alerting"
	"meramandi/internal/service"
)

// Preview looks up live prices for a filter and prints the reminder texts a
// subscriber would receive. With Send set the texts go to opts.Phone.
func (a *App) Preview(ctx context.Context, opts PreviewOptions) error {
	if opts.Send && opts.Phone == "" {
		return errors.New("--phone is required with --send")
	}

	snapshots := service.NewSnapshots(a.newPriceFetcher(), nil, a.matcher(), a.aggregator(), a.Logger)
	summary, err := snapshots.Lookup(ctx, opts.Filter)
	if err != nil {
		return fmt.Errorf("lookup prices: %w", err)
	}

	messages := alerting.PriceMessages(opts.Filter.Commodity, opts.Filter.District, summary, nil)
	if err := printMessages(os.Stdout, messages); err != nil {
		return err
	}
	if !opts.Send {
		return nil
	}

	sender := a.newSender()
	to := alerting.NormalizePhone(opts.Phone)
	for _, body := range messages {
		err := sender.Send(ctx, to, body)
		a.Metrics.SMS(err)
		if err != nil {
			return err
		}
	}
	a.Logger.Info().Int("messages", len(messages)).Msg("preview sent")
	return nil
}

func printMessages(out io.Writer, messages []string) error {
	for i, m := range messages {
		if _, err := fmt.Fprintf(out, "%d. %s\n", i+1, m); err != nil {
			return err
		}
	}
	return nil
}
