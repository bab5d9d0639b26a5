// Package feed wraps the vendor's daily-price REST API. The client is
// constructed once and passed into every worker; transport failures surface
// as *FetchError so the pipeline can skip the symbol and continue the run.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	appconfig "barflow/config"
	"barflow/logger"
	"barflow/models"
)

// Client fetches raw daily observations and universe metadata from the
// vendor.
type Client interface {
	FetchDailySeries(ctx context.Context, symbol string, start time.Time) ([]models.RawObservation, error)
	ListUniverse(ctx context.Context) ([]models.UniverseEntry, error)
	TickerMetadata(ctx context.Context, symbol string) (models.UniverseEntry, error)
}

// FetchError is a transport or vendor failure scoped to one symbol. It is
// recoverable: the pipeline skips the symbol and records a warning.
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed: fetch %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RESTClient talks to the vendor's HTTP API with pooled connections, a
// client-side rate limiter and bounded retry.
type RESTClient struct {
	config     *appconfig.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	token      string
	log        *logger.Log
}

// NewRESTClient builds the client from vendor configuration.
func NewRESTClient(cfg *appconfig.Config) *RESTClient {
	pool := cfg.Vendor.ConnectionPool
	transport := &http.Transport{
		MaxIdleConns:       pool.MaxIdleConns,
		MaxConnsPerHost:    pool.MaxConnsPerHost,
		IdleConnTimeout:    pool.IdleConnTimeout,
		DisableCompression: false,
	}

	rps := cfg.Vendor.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Vendor.RateLimit.BurstSize
	if burst <= 0 {
		burst = rps
	}

	client := &RESTClient{
		config: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Vendor.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		baseURL: cfg.Vendor.BaseURL,
		token:   cfg.Vendor.Token,
		log:     logger.GetLogger(),
	}

	client.log.WithComponent("feed").WithFields(logger.Fields{
		"base_url":            cfg.Vendor.BaseURL,
		"requests_per_second": rps,
		"timeout":             cfg.Vendor.Timeout,
	}).Info("vendor client initialized")

	return client
}

type priceRow struct {
	Date         string  `json:"date"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       int64   `json:"volume"`
	SplitFactor  float64 `json:"splitFactor"`
	DividendCash float64 `json:"divCash"`
}

// FetchDailySeries returns the symbol's daily bars from start onward,
// ascending by date.
func (c *RESTClient) FetchDailySeries(ctx context.Context, symbol string, start time.Time) ([]models.RawObservation, error) {
	endpoint := fmt.Sprintf("%s/daily/%s/prices", c.baseURL, url.PathEscape(symbol))
	query := url.Values{
		"startDate": {start.Format("2006-01-02")},
		"format":    {"json"},
	}

	var rows []priceRow
	if err := c.getJSON(ctx, endpoint, query, &rows); err != nil {
		return nil, &FetchError{Symbol: symbol, Err: err}
	}

	out := make([]models.RawObservation, 0, len(rows))
	for _, r := range rows {
		date, err := parseVendorDate(r.Date)
		if err != nil {
			return nil, &FetchError{Symbol: symbol, Err: err}
		}
		out = append(out, models.RawObservation{
			Date:         date,
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			SplitFactor:  r.SplitFactor,
			DividendCash: r.DividendCash,
		})
	}
	return out, nil
}

type universeRow struct {
	Ticker    string `json:"ticker"`
	Exchange  string `json:"exchange"`
	AssetType string `json:"assetType"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ListUniverse returns the vendor's ticker listing filtered by the
// configured exchanges and asset types. Rows with unparsable listing windows
// are skipped, matching vendor metadata that is frequently incomplete.
func (c *RESTClient) ListUniverse(ctx context.Context) ([]models.UniverseEntry, error) {
	var rows []universeRow
	if err := c.getJSON(ctx, c.baseURL+"/tickers", url.Values{"format": {"json"}}, &rows); err != nil {
		return nil, fmt.Errorf("feed: list universe: %w", err)
	}

	exchanges := toSet(c.config.Universe.Exchanges)
	assetTypes := toSet(c.config.Universe.AssetTypes)

	out := make([]models.UniverseEntry, 0, len(rows))
	for _, r := range rows {
		if len(exchanges) > 0 {
			if _, ok := exchanges[r.Exchange]; !ok {
				continue
			}
		}
		if len(assetTypes) > 0 {
			if _, ok := assetTypes[r.AssetType]; !ok {
				continue
			}
		}
		start, err := parseVendorDate(r.StartDate)
		if err != nil {
			continue
		}
		end, err := parseVendorDate(r.EndDate)
		if err != nil {
			continue
		}
		out = append(out, models.UniverseEntry{
			Symbol:    r.Ticker,
			Exchange:  r.Exchange,
			StartDate: start,
			EndDate:   end,
		})
	}
	return out, nil
}

type metadataRow struct {
	Ticker    string `json:"ticker"`
	Exchange  string `json:"exchangeCode"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// TickerMetadata returns the currently-traded listing window for one symbol.
func (c *RESTClient) TickerMetadata(ctx context.Context, symbol string) (models.UniverseEntry, error) {
	endpoint := fmt.Sprintf("%s/daily/%s", c.baseURL, url.PathEscape(symbol))

	var row metadataRow
	if err := c.getJSON(ctx, endpoint, nil, &row); err != nil {
		return models.UniverseEntry{}, &FetchError{Symbol: symbol, Err: err}
	}
	start, err := parseVendorDate(row.StartDate)
	if err != nil {
		return models.UniverseEntry{}, &FetchError{Symbol: symbol, Err: err}
	}
	end, err := parseVendorDate(row.EndDate)
	if err != nil {
		return models.UniverseEntry{}, &FetchError{Symbol: symbol, Err: err}
	}
	return models.UniverseEntry{
		Symbol:    row.Ticker,
		Exchange:  row.Exchange,
		StartDate: start,
		EndDate:   end,
	}, nil
}

// getJSON performs a rate-limited GET with bounded retry and decodes the
// response body into v.
func (c *RESTClient) getJSON(ctx context.Context, endpoint string, query url.Values, v interface{}) error {
	retry := c.config.Vendor.Retry
	attempts := retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := retry.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, retryable, err := c.getOnce(ctx, endpoint, query)
		if err == nil {
			return json.Unmarshal(body, v)
		}
		lastErr = err
		if !retryable || attempt == attempts {
			break
		}

		c.log.WithComponent("feed").WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"backoff": delay,
		}).Warn("vendor request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= time.Duration(max(retry.BackoffMultiplier, 1))
		if retry.MaxDelay > 0 && delay > retry.MaxDelay {
			delay = retry.MaxDelay
		}
	}
	return lastErr
}

func (c *RESTClient) getOnce(ctx context.Context, endpoint string, query url.Values) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("vendor returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("vendor returned status %d", resp.StatusCode)
	}
}

// parseVendorDate accepts both plain dates and RFC3339 timestamps.
func parseVendorDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable vendor date %q", s)
	}
	return t.UTC().Truncate(24 * time.Hour), nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
