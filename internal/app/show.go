package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"meramandi/internal/market"
)

// Show prints recent market snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show snapshots")
	if err != nil {
		return err
	}
	defer closeStore()

	snapshots, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeSnapshotTable(os.Stdout, snapshots)
}

func writeSnapshotTable(out io.Writer, snapshots []market.Snapshot) error {
	if len(snapshots) == 0 {
		_, err := fmt.Fprintln(out, "no snapshots found")
		return err
	}

	p := message.NewPrinter(language.English)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tState\tDistrict\tCommodity\tMandi\tMin\tMax\tModal")

	for _, s := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.FetchedAt.UTC().Format(time.RFC3339),
			sanitizeInline(s.State),
			sanitizeInline(s.District),
			sanitizeInline(market.CommodityLabel(s.Commodity)),
			sanitizeInline(s.Summary.MandiName),
			formatRupees(p, s.Summary.MinPrice),
			formatRupees(p, s.Summary.MaxPrice),
			formatRupees(p, s.Summary.ModalPrice),
		)
	}

	return writer.Flush()
}

// formatRupees renders a whole-rupee amount with thousands separators.
func formatRupees(p *message.Printer, d decimal.Decimal) string {
	return p.Sprintf("%d", d.Round(0).IntPart())
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
