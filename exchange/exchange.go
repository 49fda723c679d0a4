// Package exchange routes market-data requests to the backend that
// serves each instrument and degrades fetch failures to empty results.
package exchange

import (
	"context"
	"sync"

	"github.com/clexe/sniper/core"
)

// Backend is a single market-data source
type Backend interface {
	Candles(ctx context.Context, instrument, timeframe string) ([]core.Candle, error)
	LastPrice(ctx context.Context, instrument string) (float64, error)
}

// Gateway implements core.Feeder over two backends. Instruments whose
// names match the Deriv keyword list are served by the websocket
// backend, everything else by the REST backend.
type Gateway struct {
	derivBackend Backend
	restBackend  Backend
	log          core.Logger
}

// NewGateway creates the routing feeder
func NewGateway(derivBackend, restBackend Backend, log core.Logger) *Gateway {
	return &Gateway{
		derivBackend: derivBackend,
		restBackend:  restBackend,
		log:          log.WithField("component", "gateway"),
	}
}

// IsDerivInstrument reports whether the instrument routes to the
// Deriv backend
func IsDerivInstrument(instrument string) bool {
	return core.ContainsAny(instrument, core.DerivKeywords)
}

func (g *Gateway) backendFor(instrument string) Backend {
	if IsDerivInstrument(instrument) {
		return g.derivBackend
	}
	return g.restBackend
}

// FetchSeries implements core.Feeder. Any backend failure is logged and
// degraded to an empty series so one broken instrument never poisons a
// scan cycle.
func (g *Gateway) FetchSeries(ctx context.Context, instrument, timeframe string) []core.Candle {
	symbol := core.NormalizeSymbol(instrument)

	candles, err := g.backendFor(symbol).Candles(ctx, symbol, timeframe)
	if err != nil {
		g.log.WithError(err).Warnf("fetch failed for %s %s", symbol, timeframe)
		return nil
	}

	return candles
}

// FetchSeriesParallel implements core.Feeder, fanning out one fetch per
// instrument
func (g *Gateway) FetchSeriesParallel(ctx context.Context, instruments []string, timeframe string) map[string][]core.Candle {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string][]core.Candle, len(instruments))
	)

	for _, instrument := range instruments {
		wg.Add(1)
		go func(instrument string) {
			defer wg.Done()
			series := g.FetchSeries(ctx, instrument, timeframe)
			mu.Lock()
			results[instrument] = series
			mu.Unlock()
		}(instrument)
	}

	wg.Wait()
	return results
}

// FetchLatestPrice implements core.Feeder
func (g *Gateway) FetchLatestPrice(ctx context.Context, instrument string) (float64, bool) {
	symbol := core.NormalizeSymbol(instrument)

	price, err := g.backendFor(symbol).LastPrice(ctx, symbol)
	if err != nil {
		g.log.WithError(err).Warnf("price fetch failed for %s", symbol)
		return 0, false
	}

	return price, true
}
