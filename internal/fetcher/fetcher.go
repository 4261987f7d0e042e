package fetcher

import (
	"context"
	"errors"
	"fmt"

	"meramandi/internal/market"
)

// ErrUpstreamUnavailable marks a price source that failed after all retries.
var ErrUpstreamUnavailable = errors.New("price source unavailable")

// Query narrows a price fetch. Empty fields fetch everything.
type Query struct {
	State    string
	District string
}

// PriceFetcher retrieves current mandi price records.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, q Query) ([]market.PriceRecord, error)
}

// UpstreamError describes a fetch that exhausted its retries.
type UpstreamError struct {
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("price source unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Err}
}
