package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meramandi/internal/market"
)

const (
	defaultGovBaseURL  = "https://api.data.gov.in"
	defaultGovResource = "9ef84268-d588-465a-a308-a864a43d0070"
	defaultGovLimit    = 2000
)

// GovAPIOptions parameterise the data.gov.in price fetcher.
type GovAPIOptions struct {
	BaseURL    string
	ResourceID string
	APIKey     string
	Limit      int
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	UserAgent  string
}

// GovAPI fetches daily mandi prices from the Open Government Data platform.
type GovAPI struct {
	opts    GovAPIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(result string)
}

// NewGovAPI constructs a data.gov.in fetcher.
func NewGovAPI(opts GovAPIOptions, logger zerolog.Logger) *GovAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultGovLimit
	}
	if opts.ResourceID == "" {
		opts.ResourceID = defaultGovResource
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGovBaseURL
	}

	return &GovAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "govapi_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		sleep:   sleepContext,
		observe: func(string) {},
	}
}

// OnResult registers a callback invoked with "ok" or "error" after each fetch.
func (g *GovAPI) OnResult(fn func(result string)) {
	if fn != nil {
		g.observe = fn
	}
}

// FetchPrices retrieves records, retrying with linear backoff. Exhausted
// retries yield an *UpstreamError; an empty result is not an error.
func (g *GovAPI) FetchPrices(ctx context.Context, q Query) ([]market.PriceRecord, error) {
	if g.opts.APIKey == "" {
		return nil, errors.New("data.gov.in api key not configured")
	}

	endpoint := g.endpoint(q)
	attempts := g.opts.Retries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * g.opts.Backoff
			g.logger.Debug().Int("attempt", attempt).Dur("backoff", delay).Msg("retrying price fetch")
			if err := g.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		records, retryable, err := g.fetchOnce(ctx, endpoint)
		if err == nil {
			g.logger.Debug().Int("records", len(records)).Str("state", q.State).Str("district", q.District).Msg("prices fetched")
			g.observe("ok")
			return records, nil
		}
		lastErr = err
		g.logger.Warn().Err(err).Int("attempt", attempt).Msg("price fetch failed")

		if ctx.Err() != nil {
			g.observe("error")
			return nil, ctx.Err()
		}
		if !retryable {
			g.observe("error")
			return nil, &UpstreamError{Attempts: attempt, Err: err}
		}
	}

	g.observe("error")
	return nil, &UpstreamError{Attempts: attempts, Err: lastErr}
}

func (g *GovAPI) endpoint(q Query) string {
	params := url.Values{}
	params.Set("api-key", g.opts.APIKey)
	params.Set("format", "json")
	params.Set("limit", fmt.Sprint(g.opts.Limit))
	if q.State != "" {
		params.Set("filters[state]", q.State)
	}
	if q.District != "" {
		params.Set("filters[district]", q.District)
	}
	return fmt.Sprintf("%s/resource/%s?%s", g.baseURL, g.opts.ResourceID, params.Encode())
}

func (g *GovAPI) fetchOnce(ctx context.Context, endpoint string) ([]market.PriceRecord, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, redactKey(err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "meramandi/1.0")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, true, redactKey(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, parseHTTPError(resp.StatusCode, payload)
	}

	var body govResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, true, fmt.Errorf("decode price response: %w", err)
	}
	if body.Records == nil {
		return []market.PriceRecord{}, false, nil
	}
	return body.Records, false, nil
}

// redactKey masks the api-key query parameter in the URL that net/http
// embeds in transport errors, so the key never reaches logs or run stats.
func redactKey(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return &url.Error{Op: uerr.Op, URL: redactURL(uerr.URL), Err: uerr.Err}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparsable url]"
	}
	q := u.Query()
	if q.Has("api-key") {
		q.Set("api-key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

type govResponse struct {
	Total   int                  `json:"total"`
	Count   int                  `json:"count"`
	Message string               `json:"message"`
	Records []market.PriceRecord `json:"records"`
}

func parseHTTPError(status int, payload []byte) error {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return fmt.Errorf("data.gov.in error (%d): %s", status, body.Message)
		}
		if body.Error != "" {
			return fmt.Errorf("data.gov.in error (%d): %s", status, body.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("data.gov.in error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("data.gov.in error (%d)", status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ PriceFetcher = (*GovAPI)(nil)
