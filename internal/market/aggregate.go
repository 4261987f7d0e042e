package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData indicates that no usable price data exists for a filter.
var ErrNoData = errors.New("market: no price data available")

// ModalPolicy selects how the modal price of a summary is derived.
type ModalPolicy string

const (
	// ModalMean averages the modal prices of all matches, rounded to an integer.
	ModalMean ModalPolicy = "mean"
	// ModalRepresentative takes the modal price of the record with the highest max price.
	ModalRepresentative ModalPolicy = "representative"
)

// ParseModalPolicy validates a configured policy name.
func ParseModalPolicy(v string) (ModalPolicy, error) {
	switch ModalPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", ModalMean:
		return ModalMean, nil
	case ModalRepresentative:
		return ModalRepresentative, nil
	default:
		return "", fmt.Errorf("unknown modal policy %q", v)
	}
}

// Summary is the aggregated view of a set of matching records.
type Summary struct {
	MinPrice   decimal.Decimal `json:"minPrice"`
	MaxPrice   decimal.Decimal `json:"maxPrice"`
	ModalPrice decimal.Decimal `json:"modalPrice"`
	MandiName  string          `json:"mandiName"`
}

// Valid reports whether the summary may be persisted or sent.
func (s Summary) Valid() bool {
	if strings.TrimSpace(s.MandiName) == "" {
		return false
	}
	if s.MinPrice.IsNegative() || s.MaxPrice.IsNegative() || s.ModalPrice.IsNegative() {
		return false
	}
	return s.MinPrice.LessThanOrEqual(s.MaxPrice)
}

// Aggregator reduces matched records into a Summary.
type Aggregator struct {
	Policy ModalPolicy
}

// Aggregate summarises matches. Records whose prices do not parse, or that
// carry no market name, are ignored. The boolean is false when nothing
// usable remains.
func (a Aggregator) Aggregate(matches []PriceRecord) (Summary, bool) {
	var (
		summary  Summary
		modalSum decimal.Decimal
		count    int64
		repModal decimal.Decimal
	)

	for _, r := range matches {
		p, err := r.Prices()
		if err != nil || strings.TrimSpace(r.Market) == "" {
			continue
		}
		if p.Min.GreaterThan(p.Max) {
			continue
		}

		if count == 0 {
			summary.MinPrice = p.Min
			summary.MaxPrice = p.Max
			summary.MandiName = r.Market
			repModal = p.Modal
		} else {
			if p.Min.LessThan(summary.MinPrice) {
				summary.MinPrice = p.Min
			}
			if p.Max.GreaterThan(summary.MaxPrice) {
				summary.MaxPrice = p.Max
				summary.MandiName = r.Market
				repModal = p.Modal
			}
		}
		modalSum = modalSum.Add(p.Modal)
		count++
	}

	if count == 0 {
		return Summary{}, false
	}

	switch a.Policy {
	case ModalRepresentative:
		summary.ModalPrice = repModal
	default:
		summary.ModalPrice = modalSum.Div(decimal.NewFromInt(count)).Round(0)
	}

	if !summary.Valid() {
		return Summary{}, false
	}
	return summary, true
}

// Snapshot is a summary captured for a filter at a point in time. It is the
// fallback used when live data is unavailable.
type Snapshot struct {
	ID        int64     `json:"id,omitempty"`
	State     string    `json:"state"`
	District  string    `json:"district"`
	Commodity string    `json:"commodity"`
	Summary   Summary   `json:"summary"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Valid reports whether the snapshot carries a usable summary.
func (s Snapshot) Valid() bool {
	return !s.FetchedAt.IsZero() && s.Summary.Valid()
}

// Covers reports whether the snapshot was captured for f's state, district
// and commodity. A commodity wildcard only covers, and is only covered by,
// another wildcard.
func (s Snapshot) Covers(f Filter) bool {
	if !strings.EqualFold(s.State, f.State) || !strings.EqualFold(s.District, f.District) {
		return false
	}
	sAll, fAll := IsAllCommodities(s.Commodity), IsAllCommodities(f.Commodity)
	if sAll || fAll {
		return sAll && fAll
	}
	return strings.EqualFold(s.Commodity, f.Commodity)
}
