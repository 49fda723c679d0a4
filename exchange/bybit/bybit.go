// Package bybit implements the Bybit v5 REST market-data backend.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/clexe/sniper/core"

	"github.com/jpillora/backoff"
)

const (
	baseURL  = "https://api.bybit.com"
	category = "linear"

	klineLimit  = 100
	maxAttempts = 3
)

// intervals maps timeframe names to Bybit kline interval codes
var intervals = map[string]string{
	"M5": "5",
	"M15": "15",
	"M30": "30",
	"H1": "60",
	"H4": "240",
	"1D": "D",
	"1W": "W",
}

const defaultInterval = "15"

// Bybit is the REST backend client
type Bybit struct {
	baseURL string
	client  *http.Client
	log     core.Logger
}

// Option configures the Bybit client
type Option func(*Bybit)

// WithBaseURL overrides the API endpoint, used in tests
func WithBaseURL(u string) Option {
	return func(c *Bybit) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Bybit) {
		c.client = client
	}
}

// New creates a Bybit backend client. Market-data endpoints are public,
// so no credentials are required.
func New(log core.Logger, options ...Option) *Bybit {
	client := &Bybit{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.WithField("backend", "bybit"),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Interval returns the Bybit kline code for a timeframe
func Interval(timeframe string) string {
	if code, ok := intervals[timeframe]; ok {
		return code
	}
	return defaultInterval
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

type tickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// Candles fetches the most recent kline series for an instrument.
// Bybit returns bars newest first; the result is reversed to oldest
// first before returning.
func (c *Bybit) Candles(ctx context.Context, instrument, timeframe string) ([]core.Candle, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", instrument)
	query.Set("interval", Interval(timeframe))
	query.Set("limit", strconv.Itoa(klineLimit))

	var res klineResponse
	if err := c.get(ctx, "/v5/market/kline", query, &res); err != nil {
		return nil, err
	}
	if res.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline: %s", res.RetMsg)
	}
	if len(res.Result.List) == 0 {
		return nil, fmt.Errorf("bybit kline: empty response for %s", instrument)
	}

	rows := res.Result.List
	candles := make([]core.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		bar, err := parseKline(instrument, rows[i])
		if err != nil {
			return nil, err
		}
		candles = append(candles, bar)
	}

	return candles, nil
}

// LastPrice fetches the latest traded price for an instrument
func (c *Bybit) LastPrice(ctx context.Context, instrument string) (float64, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", instrument)

	var res tickerResponse
	if err := c.get(ctx, "/v5/market/tickers", query, &res); err != nil {
		return 0, err
	}
	if res.RetCode != 0 {
		return 0, fmt.Errorf("bybit tickers: %s", res.RetMsg)
	}
	if len(res.Result.List) == 0 {
		return 0, fmt.Errorf("bybit tickers: no data for %s", instrument)
	}

	price, err := strconv.ParseFloat(res.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit tickers: %w", err)
	}

	return price, nil
}

// get performs a GET request with retry on transport failures and 5xx
func (c *Bybit) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	// one backoff per request, fetches run concurrently
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.doOnce(ctx, endpoint, out)
		if lastErr == nil {
			return nil
		}
		c.log.WithError(lastErr).Debugf("bybit request retry %d", attempt+1)
	}

	return lastErr
}

func (c *Bybit) doOnce(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bybit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("bybit request: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bybit request: unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// parseKline decodes one Bybit kline row:
// [startTime, open, high, low, close, volume, turnover]
func parseKline(instrument string, row []string) (core.Candle, error) {
	if len(row) < 5 {
		return core.Candle{}, fmt.Errorf("bybit kline: short row for %s", instrument)
	}

	millis, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return core.Candle{}, fmt.Errorf("bybit kline time: %w", err)
	}

	values := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return core.Candle{}, fmt.Errorf("bybit kline price: %w", err)
		}
		values[i] = v
	}

	return core.Candle{
		Pair:  instrument,
		Time:  time.UnixMilli(millis).UTC(),
		Open:  values[0],
		High:  values[1],
		Low:   values[2],
		Close: values[3],
	}, nil
}
