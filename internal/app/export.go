package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"meramandi/internal/market"
)

const defaultExportWindow = 90 * 24 * time.Hour

// Export renders snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PNGPath != "" && opts.District == "" {
		return errors.New("--district is required for --png")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	snapshots = filterSnapshots(snapshots, opts.District, opts.Commodity)
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, chartTitle(opts), downsampled); err != nil {
			return err
		}
	}

	return nil
}

func filterSnapshots(snaps []market.Snapshot, district, commodity string) []market.Snapshot {
	if district == "" && commodity == "" {
		return snaps
	}
	out := snaps[:0:0]
	for _, s := range snaps {
		if district != "" && !strings.EqualFold(s.District, district) {
			continue
		}
		if commodity != "" && !strings.EqualFold(s.Commodity, commodity) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func downsampleSnapshots(snaps []market.Snapshot, max int) []market.Snapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]market.Snapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []market.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"fetched_at", "id", "state", "district", "commodity", "mandi", "min_price", "max_price", "modal_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range snaps {
		record := []string{
			s.FetchedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(s.ID, 10),
			s.State,
			s.District,
			s.Commodity,
			s.Summary.MandiName,
			s.Summary.MinPrice.StringFixed(2),
			s.Summary.MaxPrice.StringFixed(2),
			s.Summary.ModalPrice.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func chartTitle(opts ExportOptions) string {
	title := opts.District
	if opts.Commodity != "" {
		title = market.CommodityLabel(opts.Commodity) + " in " + title
	}
	return title
}

func writeSnapshotsPNG(path, title string, snaps []market.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(snaps) < 2 {
		return errors.New("at least two snapshots are needed to draw a chart")
	}

	x := make([]time.Time, len(snaps))
	minPrices := make([]float64, len(snaps))
	maxPrices := make([]float64, len(snaps))
	modal := make([]float64, len(snaps))

	for i, s := range snaps {
		x[i] = s.FetchedAt
		minPrices[i] = s.Summary.MinPrice.InexactFloat64()
		maxPrices[i] = s.Summary.MaxPrice.InexactFloat64()
		modal[i] = s.Summary.ModalPrice.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (Rs/quintal)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Min",
				XValues: x,
				YValues: minPrices,
			},
			chart.TimeSeries{
				Name:    "Max",
				XValues: x,
				YValues: maxPrices,
			},
			chart.TimeSeries{
				Name:    "Modal",
				XValues: x,
				YValues: modal,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
