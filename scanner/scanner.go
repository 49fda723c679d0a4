package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/clexe/sniper/core"
	"github.com/clexe/sniper/ledger"
	"github.com/clexe/sniper/strategy"
)

// Scanner runs the periodic scan-evaluate-dispatch-track cycle. It is
// the sole writer of the scan status flags; reads are lock-free.
type Scanner struct {
	feeder     core.Feeder
	recipients core.RecipientStore
	notifier   core.Notifier
	ledger     *ledger.Ledger
	resolver   *ledger.Resolver
	news       *NewsFilter
	settings   core.ScannerSettings
	log        core.Logger

	lastScan atomic.Int64
	scanning atomic.Bool
}

// New creates the scan scheduler
func New(feeder core.Feeder, recipients core.RecipientStore, notifier core.Notifier,
	signalLedger *ledger.Ledger, resolver *ledger.Resolver, news *NewsFilter,
	settings core.ScannerSettings, log core.Logger) *Scanner {
	return &Scanner{
		feeder:     feeder,
		recipients: recipients,
		notifier:   notifier,
		ledger:     signalLedger,
		resolver:   resolver,
		news:       news,
		settings:   settings,
		log:        log.WithField("component", "scanner"),
	}
}

// Status accessors, read by the /status command at any time
// ---------------------------------------------------------

// LastScan returns when the last cycle started
func (s *Scanner) LastScan() time.Time {
	return time.Unix(s.lastScan.Load(), 0)
}

// IsScanning reports whether a cycle is in flight
func (s *Scanner) IsScanning() bool {
	return s.scanning.Load()
}

// Interval returns the configured cycle interval
func (s *Scanner) Interval() time.Duration {
	return s.settings.Interval
}

// Run drives scan cycles until the context is canceled. A failed cycle
// sleeps the shorter error interval and resumes; the loop never
// terminates on its own.
func (s *Scanner) Run(ctx context.Context) {
	s.ledger.Load(ctx)

	for {
		sleep := s.settings.Interval
		if err := s.safeCycle(ctx); err != nil {
			s.log.WithError(err).Error("scan cycle failed")
			sleep = s.settings.ErrorInterval
		}

		select {
		case <-ctx.Done():
			s.log.Info("scanner stopped")
			return
		case <-time.After(sleep):
		}
	}
}

// safeCycle converts panics anywhere inside a cycle into errors so the
// loop always survives
func (s *Scanner) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return s.cycle(ctx)
}

// timeframePair groups recipients that share a detector evaluation
type timeframePair struct {
	lower  string
	higher string
}

// recipientEntry carries one recipient through a cycle
type recipientEntry struct {
	id     int64
	config core.RecipientConfig
}

func (s *Scanner) cycle(ctx context.Context) error {
	s.scanning.Store(true)
	defer s.scanning.Store(false)

	now := time.Now()
	s.lastScan.Store(now.Unix())

	recipients, err := s.recipients.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	s.ledger.ExpireStale(s.settings.SentTTL, now)
	s.ledger.PurgeDurable(ctx)
	s.resolver.Resolve(ctx)

	instrumentMap := s.buildInstrumentMap(recipients, now)
	if len(instrumentMap) > 0 {
		s.log.Infof("scanning %d unique instruments for %d recipients",
			len(instrumentMap), len(recipients))
	}

	active := s.filterActive(ctx, instrumentMap, now)
	if len(active) == 0 {
		return nil
	}

	data := s.fetchAll(ctx, active, instrumentMap)

	for _, instrument := range active {
		s.evaluateInstrument(ctx, instrument, instrumentMap[instrument], data, now)
	}

	return nil
}

// buildInstrumentMap maps each eligible instrument to the recipients
// watching it, filtered by session and known-symbol validity
func (s *Scanner) buildInstrumentMap(recipients map[int64]core.RecipientConfig, now time.Time) map[string][]recipientEntry {
	instrumentMap := make(map[string][]recipientEntry)
	for id, config := range recipients {
		if !InSession(config.Session, now) {
			continue
		}
		for _, pair := range config.Pairs {
			instrument := core.NormalizeSymbol(pair)
			if instrument == "" || !core.IsKnownSymbol(instrument) {
				continue
			}
			instrumentMap[instrument] = append(instrumentMap[instrument], recipientEntry{id: id, config: config})
		}
	}
	return instrumentMap
}

// filterActive drops instruments that are outside market hours or
// inside a news blackout window
func (s *Scanner) filterActive(ctx context.Context, instrumentMap map[string][]recipientEntry, now time.Time) []string {
	active := make([]string, 0, len(instrumentMap))
	for instrument := range instrumentMap {
		if !IsMarketOpen(instrument, now) {
			continue
		}
		if s.news.Blackout(ctx, instrument, now) {
			continue
		}
		active = append(active, instrument)
	}
	return active
}

// fetchAll issues one parallel batch per distinct timeframe covering
// every (instrument, timeframe) pair any recipient needs
func (s *Scanner) fetchAll(ctx context.Context, active []string, instrumentMap map[string][]recipientEntry) map[string]map[string][]core.Candle {
	needed := make(map[string]map[string]bool)
	add := func(timeframe, instrument string) {
		if needed[timeframe] == nil {
			needed[timeframe] = make(map[string]bool)
		}
		needed[timeframe][instrument] = true
	}

	for _, instrument := range active {
		for _, entry := range instrumentMap[instrument] {
			add(entry.config.Timeframe, instrument)
			add(entry.config.HigherTF, instrument)
		}
	}

	data := make(map[string]map[string][]core.Candle, len(needed))
	for timeframe, instruments := range needed {
		batch := make([]string, 0, len(instruments))
		for instrument := range instruments {
			batch = append(batch, instrument)
		}
		data[timeframe] = s.feeder.FetchSeriesParallel(ctx, batch, timeframe)
	}
	return data
}

// evaluateInstrument runs one detector evaluation per timeframe group
// and dispatches to every recipient that passes dedup
func (s *Scanner) evaluateInstrument(ctx context.Context, instrument string,
	watchers []recipientEntry, data map[string]map[string][]core.Candle, now time.Time) {

	groups := make(map[timeframePair][]recipientEntry)
	for _, entry := range watchers {
		key := timeframePair{lower: entry.config.Timeframe, higher: entry.config.HigherTF}
		groups[key] = append(groups[key], entry)
	}

	recorded := make(map[core.Direction]bool)

	for timeframes, group := range groups {
		lower := data[timeframes.lower][instrument]
		higher := data[timeframes.higher][instrument]

		// the group shares one evaluation and the first member's budget
		riskPips := group[0].config.RiskPips
		signal := strategy.Detect(lower, higher, instrument, riskPips)
		if signal == nil {
			continue
		}

		for _, entry := range group {
			s.dispatch(ctx, instrument, signal, entry, recorded, now)
		}
	}
}

// dispatch sends one notification and updates dedup plus the durable
// history. Delivery failures never abort the cycle.
func (s *Scanner) dispatch(ctx context.Context, instrument string, signal *core.Signal,
	entry recipientEntry, recorded map[core.Direction]bool, now time.Time) {

	key := ledger.Key(entry.id, instrument)
	cooldown := time.Duration(entry.config.Cooldown) * time.Minute
	if !s.ledger.ShouldSend(key, signal.Direction, cooldown, now) {
		return
	}

	mode := entry.config.Mode
	message := FormatSignal(signal, instrument, mode)

	if err := s.notifier.Send(ctx, entry.id, message); err != nil {
		if errors.Is(err, core.ErrRecipientUnreachable) {
			s.log.Infof("recipient %d unreachable, deactivating", entry.id)
			if err := s.recipients.Deactivate(ctx, entry.id); err != nil {
				s.log.WithError(err).Warnf("could not deactivate %d", entry.id)
			}
			return
		}
		s.log.WithError(err).Warnf("failed to send signal to %d", entry.id)
		return
	}

	s.ledger.RecordSent(key, signal.Entry(mode), signal.Direction, now)

	// one durable row per (instrument, direction) per cycle
	if !recorded[signal.Direction] {
		s.ledger.RecordEntry(ctx, instrument, signal.Direction, mode,
			signal.Entry(mode), signal.TakeProfit, signal.Stop(mode))
		recorded[signal.Direction] = true
	}

	s.log.Infof("sent %s %s (%s) to %d", signal.Direction, instrument, mode, entry.id)
}
