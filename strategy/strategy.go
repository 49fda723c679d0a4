// Package strategy implements the deterministic SMC signal detector:
// higher-timeframe bias, swing points, break of structure and fair
// value gap, combined into directional calls with risk-clamped levels.
package strategy

import (
	"strings"

	"github.com/clexe/sniper/core"
)

const (
	// minimum bar counts below which no signal is possible
	MinLowerBars  = 23
	MinHigherBars = 20

	biasLookback  = 20
	bosLookback   = 5
	swingStart    = 23 // swing window is bars [-23,-3)
	swingExclude  = 3
)

// FVG classifies the three-candle imbalance
type FVG int

const (
	FVGNone FVG = iota
	FVGBull
	FVGBear
)

// PipValue returns the per-instrument scaling factor converting a pips
// budget into a price distance. Crypto classes get magnitude-adjusted
// constants, keyword-matched classes map to 10, forex majors default
// to 10000.
func PipValue(instrument string) float64 {
	clean := strings.ToUpper(instrument)
	switch {
	case strings.Contains(clean, "BTC"):
		return 0.1
	case strings.Contains(clean, "ETH"):
		return 1
	case strings.Contains(clean, "SOL"):
		return 10
	case core.ContainsAny(clean, core.HighPipKeywords):
		return 10
	}
	return 10000
}

// Bias compares the latest higher-timeframe close to the close at the
// lookback offset. Returns BUY-side bias (BULL) as true, BEAR as false.
// The second return is false when there are not enough bars.
func Bias(higher []core.Candle) (bull, ok bool) {
	if len(higher) < biasLookback+1 {
		return false, false
	}
	closes := core.Closes(higher)
	return closes.Last(0) > closes.Last(biasLookback-1), true
}

// SwingPoints returns the swing high and swing low over the window of
// bars [-23,-3) from the end of the lower-timeframe series
func SwingPoints(lower []core.Candle) (swingHigh, swingLow float64, ok bool) {
	if len(lower) < swingStart {
		return 0, 0, false
	}
	segment := lower[len(lower)-swingStart : len(lower)-swingExclude]
	return core.Highs(segment).Max(), core.Lows(segment).Min(), true
}

// BreakOfStructure reports bullish and bearish BOS over the last 5
// closes. The two booleans are independent.
func BreakOfStructure(lower []core.Candle, swingHigh, swingLow float64) (bullish, bearish bool) {
	if len(lower) < bosLookback {
		return false, false
	}
	closes := core.Closes(lower).LastValues(bosLookback)
	return closes.Max() > swingHigh, closes.Min() < swingLow
}

// FairValueGap classifies the imbalance between the 3rd-from-last
// candle (c1) and the last candle (c3)
func FairValueGap(lower []core.Candle) FVG {
	if len(lower) < 3 {
		return FVGNone
	}
	c1 := lower[len(lower)-3]
	c3 := lower[len(lower)-1]
	if c3.Low > c1.High {
		return FVGBull
	}
	if c3.High < c1.Low {
		return FVGBear
	}
	return FVGNone
}

// stopLoss clamps the raw swing-based stop to at most maxRisk price
// distance from entry
func stopLoss(direction core.Direction, entry, rawStop, maxRisk float64) float64 {
	if direction == core.DirectionBuy {
		if entry-rawStop > maxRisk {
			return entry - maxRisk
		}
		return rawStop
	}
	if rawStop-entry > maxRisk {
		return entry + maxRisk
	}
	return rawStop
}

// Detect runs the full detection pipeline over a lower and higher
// timeframe series. It is pure and stateless; nil means no signal.
//
// The BUY branch is evaluated first and the SELL branch second; if the
// data satisfies both, the SELL result stands. This evaluation order is
// load-bearing and must not be reordered.
func Detect(lower, higher []core.Candle, instrument string, riskPips float64) *core.Signal {
	if len(lower) < MinLowerBars || len(higher) < MinHigherBars {
		return nil
	}

	bull, ok := Bias(higher)
	if !ok {
		return nil
	}

	swingHigh, swingLow, ok := SwingPoints(lower)
	if !ok {
		return nil
	}

	bullishBOS, bearishBOS := BreakOfStructure(lower, swingHigh, swingLow)
	fvg := FairValueGap(lower)
	lastClose := core.Closes(lower).Last(0)
	maxRisk := riskPips / PipValue(instrument)

	var signal *core.Signal

	if bull && bullishBOS && fvg == FVGBull {
		takeProfit := core.Highs(higher).Max()
		signal = &core.Signal{
			Direction:   core.DirectionBuy,
			LimitEntry:  swingHigh,
			LimitStop:   stopLoss(core.DirectionBuy, swingHigh, swingLow, maxRisk),
			MarketEntry: lastClose,
			MarketStop:  stopLoss(core.DirectionBuy, lastClose, swingLow, maxRisk),
			TakeProfit:  takeProfit,
		}
	}

	if !bull && bearishBOS && fvg == FVGBear {
		takeProfit := core.Lows(higher).Min()
		signal = &core.Signal{
			Direction:   core.DirectionSell,
			LimitEntry:  swingLow,
			LimitStop:   stopLoss(core.DirectionSell, swingLow, swingHigh, maxRisk),
			MarketEntry: lastClose,
			MarketStop:  stopLoss(core.DirectionSell, lastClose, swingHigh, maxRisk),
			TakeProfit:  takeProfit,
		}
	}

	return signal
}
