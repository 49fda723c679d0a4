package ledger

import (
	"context"
	"math"

	"github.com/clexe/sniper/core"
	"github.com/clexe/sniper/strategy"

	"github.com/samber/lo"
)

// Resolver settles open history rows against live prices. One price is
// fetched per distinct instrument per pass, and each row transitions at
// most once.
type Resolver struct {
	feeder  core.Feeder
	history core.HistoryStore
	log     core.Logger
}

// NewResolver creates an outcome resolver
func NewResolver(feeder core.Feeder, history core.HistoryStore, log core.Logger) *Resolver {
	return &Resolver{
		feeder:  feeder,
		history: history,
		log:     log.WithField("component", "resolver"),
	}
}

// Resolve runs one settlement pass over all OPEN entries. A missing
// price skips that instrument's entries without error.
func (r *Resolver) Resolve(ctx context.Context) {
	open, err := r.history.OpenEntries(ctx)
	if err != nil {
		r.log.WithError(err).Warn("could not load open entries")
		return
	}
	if len(open) == 0 {
		return
	}

	byInstrument := lo.GroupBy(open, func(entry core.LedgerEntry) string {
		return entry.Pair
	})

	for instrument, entries := range byInstrument {
		price, ok := r.feeder.FetchLatestPrice(ctx, instrument)
		if !ok {
			r.log.Debugf("no price for %s, skipping %d open entries", instrument, len(entries))
			continue
		}

		for _, entry := range entries {
			outcome, pnl := settle(entry, price)
			if outcome == core.OutcomeOpen {
				continue
			}

			if err := r.history.UpdateOutcome(ctx, entry.ID, outcome, price, pnl); err != nil {
				r.log.WithError(err).Warnf("could not settle entry %d", entry.ID)
				continue
			}
			r.log.Infof("entry %d %s %s settled %s at %.5f (%.1f pips)",
				entry.ID, entry.Pair, entry.Direction, outcome, price, pnl)
		}
	}
}

// settle evaluates one open row against a price. PnL is measured in
// pips from entry to the level that closed the trade.
func settle(entry core.LedgerEntry, price float64) (core.Outcome, float64) {
	pipValue := strategy.PipValue(entry.Pair)

	if entry.Direction == core.DirectionBuy {
		switch {
		case price >= entry.TakeProfit:
			return core.OutcomeWin, roundPips((entry.TakeProfit - entry.EntryPrice) * pipValue)
		case price <= entry.StopLoss:
			return core.OutcomeLoss, roundPips((entry.StopLoss - entry.EntryPrice) * pipValue)
		}
		return core.OutcomeOpen, 0
	}

	switch {
	case price <= entry.TakeProfit:
		return core.OutcomeWin, roundPips((entry.EntryPrice - entry.TakeProfit) * pipValue)
	case price >= entry.StopLoss:
		return core.OutcomeLoss, roundPips((entry.EntryPrice - entry.StopLoss) * pipValue)
	}
	return core.OutcomeOpen, 0
}

func roundPips(pips float64) float64 {
	return math.Round(pips*10) / 10
}
