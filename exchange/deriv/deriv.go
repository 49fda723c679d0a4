// Package deriv implements the Deriv websocket market-data backend.
// Each fetch opens a short-lived connection, performs the authorize
// handshake, issues a single request and closes.
package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clexe/sniper/core"

	"github.com/gorilla/websocket"
)

const (
	endpointFmt = "wss://ws.derivws.com/websockets/v3?app_id=%s"

	authTimeout    = 10 * time.Second
	candlesTimeout = 15 * time.Second
	tickTimeout    = 10 * time.Second

	// authorize acks can be interleaved with other frames, bound the scan
	maxAuthFrames = 5

	candleCount = 100
)

// symbolMap translates canonical instrument names to Deriv API symbols.
// Unmapped names pass through unchanged.
var symbolMap = map[string]string{
	"XAUUSD": "frxXAUUSD",
	"XAGUSD": "frxXAGUSD",
	"EURUSD": "frxEURUSD",
	"GBPUSD": "frxGBPUSD",
	"USDJPY": "frxUSDJPY",
	"AUDUSD": "frxAUDUSD",
	"NZDUSD": "frxNZDUSD",
	"USDCAD": "frxUSDCAD",
	"USDCHF": "frxUSDCHF",
	"EURGBP": "frxEURGBP",
	"EURJPY": "frxEURJPY",
	"GBPJPY": "frxGBPJPY",
	"CADJPY": "frxCADJPY",
	"CHFJPY": "frxCHFJPY",
	"EURAUD": "frxEURAUD",
	"EURCAD": "frxEURCAD",
	"EURCHF": "frxEURCHF",
	"EURNZD": "frxEURNZD",
	"GBPAUD": "frxGBPAUD",
	"GBPCAD": "frxGBPCAD",
	"GBPCHF": "frxGBPCHF",
	"GBPNZD": "frxGBPNZD",
	"NZDCAD": "frxNZDCAD",
	"NZDCHF": "frxNZDCHF",
	"NZDJPY": "frxNZDJPY",
	"AUDNZD": "frxAUDNZD",
	"AUDJPY": "frxAUDJPY",
	"V75":    "R_75",
	"V10":    "R_10",
	"V25":    "R_25",
	"V50":    "R_50",
	"V100":   "R_100",
	"V75_1S": "1HZ75V",
	"V10_1S": "1HZ10V",
	"V25_1S": "1HZ25V",
	"V50_1S": "1HZ50V",
	"V100_1S": "1HZ100V",
	"US30":   "frxUSOTC",
}

// granularity maps timeframe names to candle durations in seconds
var granularity = map[string]int{
	"M5": 300,
	"M15": 900,
	"M30": 1800,
	"H1": 3600,
	"H4": 14400,
	"1D": 86400,
	"1W": 604800,
}

const defaultGranularity = 900

// Deriv is the websocket backend client
type Deriv struct {
	appID    string
	token    string
	endpoint string
	dialer   *websocket.Dialer
	log      core.Logger
}

// Option configures the Deriv client
type Option func(*Deriv)

// WithDialer overrides the websocket dialer, used in tests
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Deriv) {
		c.dialer = d
	}
}

// WithEndpoint overrides the websocket URL, used in tests
func WithEndpoint(url string) Option {
	return func(c *Deriv) {
		c.endpoint = url
	}
}

// New creates a Deriv backend client
func New(appID, token string, log core.Logger, options ...Option) *Deriv {
	client := &Deriv{
		appID:    appID,
		token:    token,
		endpoint: fmt.Sprintf(endpointFmt, appID),
		dialer:   websocket.DefaultDialer,
		log:      log.WithField("backend", "deriv"),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// MapSymbol returns the Deriv API name for a canonical instrument
func MapSymbol(instrument string) string {
	if mapped, ok := symbolMap[instrument]; ok {
		return mapped
	}
	return instrument
}

// Granularity returns the candle duration in seconds for a timeframe
func Granularity(timeframe string) int {
	if g, ok := granularity[timeframe]; ok {
		return g
	}
	return defaultGranularity
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type frame struct {
	Authorize json.RawMessage `json:"authorize,omitempty"`
	Error     *apiError       `json:"error,omitempty"`
	Candles   []candle        `json:"candles,omitempty"`
	Tick      *tick           `json:"tick,omitempty"`
}

type candle struct {
	Epoch int64       `json:"epoch"`
	Open  json.Number `json:"open"`
	High  json.Number `json:"high"`
	Low   json.Number `json:"low"`
	Close json.Number `json:"close"`
}

type tick struct {
	Quote float64 `json:"quote"`
}

// Candles fetches the most recent candle series for an instrument,
// oldest first
func (c *Deriv) Candles(ctx context.Context, instrument, timeframe string) ([]core.Candle, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := c.authorize(ctx, conn); err != nil {
		return nil, err
	}

	request := map[string]any{
		"ticks_history":     MapSymbol(instrument),
		"adjust_start_time": 1,
		"count":             candleCount,
		"end":               "latest",
		"style":             "candles",
		"granularity":       Granularity(timeframe),
	}
	if err := conn.WriteJSON(request); err != nil {
		return nil, fmt.Errorf("deriv candles request: %w", err)
	}

	var res frame
	if err := readFrame(ctx, conn, candlesTimeout, &res); err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, fmt.Errorf("deriv candles: %s", res.Error.Message)
	}
	if len(res.Candles) == 0 {
		return nil, fmt.Errorf("deriv candles: empty response for %s", instrument)
	}

	candles := make([]core.Candle, 0, len(res.Candles))
	for _, raw := range res.Candles {
		bar, err := raw.toCandle(instrument)
		if err != nil {
			return nil, err
		}
		candles = append(candles, bar)
	}

	return candles, nil
}

// LastPrice fetches the latest tick quote for an instrument
func (c *Deriv) LastPrice(ctx context.Context, instrument string) (float64, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := c.authorize(ctx, conn); err != nil {
		return 0, err
	}

	request := map[string]any{
		"ticks":     MapSymbol(instrument),
		"subscribe": 0,
	}
	if err := conn.WriteJSON(request); err != nil {
		return 0, fmt.Errorf("deriv tick request: %w", err)
	}

	var res frame
	if err := readFrame(ctx, conn, tickTimeout, &res); err != nil {
		return 0, err
	}
	if res.Tick == nil {
		if res.Error != nil {
			return 0, fmt.Errorf("deriv tick: %s", res.Error.Message)
		}
		return 0, fmt.Errorf("deriv tick: no quote for %s", instrument)
	}

	return res.Tick.Quote, nil
}

func (c *Deriv) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("deriv dial: %w", err)
	}
	return conn, nil
}

// authorize sends the token and waits for the authorize ack, skipping
// unrelated frames up to maxAuthFrames
func (c *Deriv) authorize(ctx context.Context, conn *websocket.Conn) error {
	if err := conn.WriteJSON(map[string]any{"authorize": c.token}); err != nil {
		return fmt.Errorf("deriv authorize: %w", err)
	}

	for i := 0; i < maxAuthFrames; i++ {
		var res frame
		if err := readFrame(ctx, conn, authTimeout, &res); err != nil {
			return err
		}
		if res.Error != nil {
			return fmt.Errorf("deriv authorize: %s", res.Error.Message)
		}
		if len(res.Authorize) > 0 {
			return nil
		}
	}

	return fmt.Errorf("deriv authorize: no ack after %d frames", maxAuthFrames)
}

func readFrame(ctx context.Context, conn *websocket.Conn, timeout time.Duration, out *frame) error {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("deriv read: %w", err)
	}

	return json.Unmarshal(payload, out)
}

func (raw candle) toCandle(instrument string) (core.Candle, error) {
	open, err := raw.Open.Float64()
	if err != nil {
		return core.Candle{}, fmt.Errorf("deriv candle open: %w", err)
	}
	high, err := raw.High.Float64()
	if err != nil {
		return core.Candle{}, fmt.Errorf("deriv candle high: %w", err)
	}
	low, err := raw.Low.Float64()
	if err != nil {
		return core.Candle{}, fmt.Errorf("deriv candle low: %w", err)
	}
	closePrice, err := raw.Close.Float64()
	if err != nil {
		return core.Candle{}, fmt.Errorf("deriv candle close: %w", err)
	}

	return core.Candle{
		Pair:  instrument,
		Time:  time.Unix(raw.Epoch, 0).UTC(),
		Open:  open,
		High:  high,
		Low:   low,
		Close: closePrice,
	}, nil
}
