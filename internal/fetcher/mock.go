package fetcher

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"meramandi/internal/market"
)

var mockRecords = []market.PriceRecord{
	{State: "Haryana", District: "Hisar", Market: "Adampur", Commodity: "Cotton", Variety: "American", MinPrice: "5800", MaxPrice: "6200", ModalPrice: "6000", ArrivalDate: "24/01/2026"},
	{State: "Haryana", District: "Hisar", Market: "Hisar", Commodity: "Wheat", Variety: "HD-2967", MinPrice: "2400", MaxPrice: "2500", ModalPrice: "2450", ArrivalDate: "24/01/2026"},
	{State: "Punjab", District: "Bathinda", Market: "Bathinda", Commodity: "Wheat", Variety: "Other", MinPrice: "2350", MaxPrice: "2450", ModalPrice: "2400", ArrivalDate: "24/01/2026"},
}

// Mock serves a fixed record set for development. It is only ever selected
// by configuration and is never used as a fallback for a failed live fetch.
type Mock struct {
	records []market.PriceRecord
	logger  zerolog.Logger
}

// NewMock builds a mock fetcher over records, or the built-in set when nil.
func NewMock(records []market.PriceRecord, logger zerolog.Logger) *Mock {
	if records == nil {
		records = mockRecords
	}
	return &Mock{records: records, logger: logger.With().Str("component", "mock_fetcher").Logger()}
}

// FetchPrices filters the mock set by state and district.
func (m *Mock) FetchPrices(ctx context.Context, q Query) ([]market.PriceRecord, error) {
	out := make([]market.PriceRecord, 0, len(m.records))
	for _, r := range m.records {
		if q.State != "" && !strings.EqualFold(r.State, q.State) {
			continue
		}
		if q.District != "" && !strings.EqualFold(r.District, q.District) {
			continue
		}
		out = append(out, r)
	}
	m.logger.Debug().Int("records", len(out)).Msg("serving mock mandi prices")
	return out, nil
}

var _ PriceFetcher = (*Mock)(nil)
