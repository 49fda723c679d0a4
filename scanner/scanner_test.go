package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clexe/sniper/core"
	"github.com/clexe/sniper/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// test doubles
// ------------

type stubLogger struct{}

func (stubLogger) WithField(string, any) core.Logger     { return stubLogger{} }
func (stubLogger) WithFields(map[string]any) core.Logger { return stubLogger{} }
func (stubLogger) WithError(error) core.Logger           { return stubLogger{} }
func (stubLogger) Print(...any)                          {}
func (stubLogger) Trace(...any)                          {}
func (stubLogger) Debug(...any)                          {}
func (stubLogger) Info(...any)                           {}
func (stubLogger) Warn(...any)                           {}
func (stubLogger) Error(...any)                          {}
func (stubLogger) Fatal(...any)                          {}
func (stubLogger) Panic(...any)                          {}
func (stubLogger) Printf(string, ...any)                 {}
func (stubLogger) Tracef(string, ...any)                 {}
func (stubLogger) Debugf(string, ...any)                 {}
func (stubLogger) Infof(string, ...any)                  {}
func (stubLogger) Warnf(string, ...any)                  {}
func (stubLogger) Errorf(string, ...any)                 {}
func (stubLogger) Fatalf(string, ...any)                 {}
func (stubLogger) Panicf(string, ...any)                 {}
func (stubLogger) SetLevel(core.Level)                   {}
func (stubLogger) GetLevel() core.Level                  { return core.InfoLevel }

func testLogger() core.Logger { return stubLogger{} }

type stubFeeder struct {
	series map[string]map[string][]core.Candle // timeframe -> instrument -> candles
	prices map[string]float64
}

func (f *stubFeeder) FetchSeries(_ context.Context, instrument, timeframe string) []core.Candle {
	return f.series[timeframe][instrument]
}

func (f *stubFeeder) FetchSeriesParallel(ctx context.Context, instruments []string, timeframe string) map[string][]core.Candle {
	out := make(map[string][]core.Candle, len(instruments))
	for _, instrument := range instruments {
		out[instrument] = f.FetchSeries(ctx, instrument, timeframe)
	}
	return out
}

func (f *stubFeeder) FetchLatestPrice(_ context.Context, instrument string) (float64, bool) {
	price, ok := f.prices[instrument]
	return price, ok
}

type stubRecipients struct {
	mu          sync.Mutex
	configs     map[int64]core.RecipientConfig
	deactivated []int64
}

func (s *stubRecipients) LoadAll(context.Context) (map[int64]core.RecipientConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]core.RecipientConfig, len(s.configs))
	for id, config := range s.configs {
		out[id] = config
	}
	return out, nil
}

func (s *stubRecipients) Get(_ context.Context, id int64) (core.RecipientConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	config, ok := s.configs[id]
	if !ok {
		return core.RecipientConfig{}, fmt.Errorf("recipient %d not found", id)
	}
	return config, nil
}

func (s *stubRecipients) Save(_ context.Context, id int64, config core.RecipientConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[id] = config
	return nil
}

func (s *stubRecipients) Deactivate(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, id)
	s.deactivated = append(s.deactivated, id)
	return nil
}

func (s *stubRecipients) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.configs), nil
}

type sentMessage struct {
	recipientID int64
	text        string
}

type stubNotifier struct {
	mu          sync.Mutex
	sent        []sentMessage
	unreachable map[int64]bool
}

func (n *stubNotifier) Send(_ context.Context, recipientID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unreachable[recipientID] {
		return fmt.Errorf("%w: %d", core.ErrRecipientUnreachable, recipientID)
	}
	n.sent = append(n.sent, sentMessage{recipientID: recipientID, text: text})
	return nil
}

type stubSentStore struct {
	mu      sync.Mutex
	records map[string]core.SentRecord
}

func newStubSentStore() *stubSentStore {
	return &stubSentStore{records: make(map[string]core.SentRecord)}
}

func (s *stubSentStore) Load(context.Context) (map[string]core.SentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.SentRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *stubSentStore) Persist(_ context.Context, key string, record core.SentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	return nil
}

func (s *stubSentStore) PurgeOld(context.Context) (int, error) { return 0, nil }

type stubHistoryStore struct {
	mu      sync.Mutex
	entries []core.LedgerEntry
	nextID  int64
}

func (s *stubHistoryStore) InsertEntry(_ context.Context, entry *core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *stubHistoryStore) OpenEntries(context.Context) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []core.LedgerEntry
	for _, e := range s.entries {
		if e.Outcome == core.OutcomeOpen {
			open = append(open, e)
		}
	}
	return open, nil
}

func (s *stubHistoryStore) UpdateOutcome(_ context.Context, id int64, outcome core.Outcome, closePrice, pnlPips float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Outcome = outcome
			s.entries[i].ClosePrice = closePrice
			s.entries[i].PnLPips = pnlPips
		}
	}
	return nil
}

func (s *stubHistoryStore) Stats(context.Context, time.Duration) (core.HistoryStats, error) {
	return core.HistoryStats{}, nil
}

func (s *stubHistoryStore) Recent(context.Context, int) ([]core.LedgerEntry, error) {
	return nil, nil
}

func (s *stubHistoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fixtures
// --------

func buySeries() (lower, higher []core.Candle) {
	higher = make([]core.Candle, 25)
	price := 1.0
	for i := range higher {
		higher[i] = core.Candle{Open: price, High: price + 0.0016, Low: price - 0.0004, Close: price + 0.0012}
		price += 0.002
	}

	base := [4]float64{1.0, 1.02, 0.98, 1.01}
	bars := make([][4]float64, 0, 25)
	for i := 0; i < 20; i++ {
		bars = append(bars, base)
	}
	bars = append(bars,
		[4]float64{1.01, 1.035, 1.005, 1.03},
		[4]float64{1.03, 1.04, 1.025, 1.035},
		[4]float64{1.035, 1.045, 1.03, 1.04},
		[4]float64{1.04, 1.05, 1.035, 1.045},
		[4]float64{1.045, 1.06, 1.046, 1.055},
	)
	lower = make([]core.Candle, len(bars))
	for i, b := range bars {
		lower[i] = core.Candle{Open: b[0], High: b[1], Low: b[2], Close: b[3]}
	}
	return lower, higher
}

type harness struct {
	scanner    *Scanner
	feeder     *stubFeeder
	recipients *stubRecipients
	notifier   *stubNotifier
	history    *stubHistoryStore
	ledger     *ledger.Ledger
}

func newHarness(configs map[int64]core.RecipientConfig) *harness {
	lower, higher := buySeries()

	// V75 trades around the clock, so these fixtures are immune to the
	// weekly market-hours schedule no matter when the tests run
	feeder := &stubFeeder{
		series: map[string]map[string][]core.Candle{
			"M15": {"V75": lower},
			"1D":  {"V75": higher},
		},
		prices: map[string]float64{},
	}
	recipients := &stubRecipients{configs: configs}
	notifier := &stubNotifier{unreachable: map[int64]bool{}}
	history := &stubHistoryStore{}

	signalLedger := ledger.New(newStubSentStore(), history, testLogger())
	resolver := ledger.NewResolver(feeder, history, testLogger())
	news := NewNewsFilter(core.NewsSettings{Enabled: false}, testLogger())

	settings := core.ScannerSettings{
		Interval:      time.Minute,
		ErrorInterval: 10 * time.Second,
		SentTTL:       2 * time.Hour,
		ThrottleRate:  25,
	}

	return &harness{
		scanner:    New(feeder, recipients, notifier, signalLedger, resolver, news, settings, testLogger()),
		feeder:     feeder,
		recipients: recipients,
		notifier:   notifier,
		history:    history,
		ledger:     signalLedger,
	}
}

func watcherConfig(pairs ...string) core.RecipientConfig {
	config := core.DefaultRecipientConfig()
	config.Pairs = pairs
	return config
}

// tests
// -----

func TestCycleDispatchesSignal(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("V75"),
	})

	require.NoError(t, h.scanner.cycle(context.Background()))

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, int64(100), h.notifier.sent[0].recipientID)
	assert.Contains(t, h.notifier.sent[0].text, "SMC SIGNAL")
	assert.Contains(t, h.notifier.sent[0].text, "V75")

	// one OPEN history row was appended
	assert.Equal(t, 1, h.history.count())
}

func TestCycleCooldownSuppressesRepeat(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("V75"),
	})

	require.NoError(t, h.scanner.cycle(context.Background()))
	require.NoError(t, h.scanner.cycle(context.Background()))

	assert.Len(t, h.notifier.sent, 1, "same signal within cooldown must not repeat")
}

func TestCycleSharedEvaluationSingleHistoryRow(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("V75"),
		200: watcherConfig("V75"),
	})

	require.NoError(t, h.scanner.cycle(context.Background()))

	// both recipients notified, but history gets one row per
	// (instrument, direction)
	assert.Len(t, h.notifier.sent, 2)
	assert.Equal(t, 1, h.history.count())
}

func TestCycleDeactivatesUnreachableRecipient(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("V75"),
		200: watcherConfig("V75"),
	})
	h.notifier.unreachable[100] = true

	require.NoError(t, h.scanner.cycle(context.Background()))

	assert.Contains(t, h.recipients.deactivated, int64(100))
	// the reachable recipient still got the signal
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, int64(200), h.notifier.sent[0].recipientID)
}

func TestCycleSkipsUnknownSymbols(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("NOPE123", "V75"),
	})

	require.NoError(t, h.scanner.cycle(context.Background()))

	require.Len(t, h.notifier.sent, 1)
	assert.Contains(t, h.notifier.sent[0].text, "V75")
}

func TestCycleEmptyFetchProducesNoSignal(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("V75"),
	})
	h.feeder.series = map[string]map[string][]core.Candle{}

	require.NoError(t, h.scanner.cycle(context.Background()))
	assert.Empty(t, h.notifier.sent)
}

func TestSafeCycleRecoversPanic(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("V75"),
	})
	h.scanner.feeder = nil // nil interface dereference inside fetchAll

	err := h.scanner.safeCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle panic")
}

func TestStatusAccessors(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{})

	assert.False(t, h.scanner.IsScanning())
	require.NoError(t, h.scanner.cycle(context.Background()))
	assert.False(t, h.scanner.IsScanning())
	assert.WithinDuration(t, time.Now(), h.scanner.LastScan(), 5*time.Second)
	assert.Equal(t, time.Minute, h.scanner.Interval())
}

func TestSessionFilterExcludesRecipients(t *testing.T) {
	config := watcherConfig("EURUSD")
	config.Session = core.SessionLondon

	h := newHarness(map[int64]core.RecipientConfig{100: config})

	now := utc(2026, 8, 26, 3, 0) // 03:00 UTC, outside London hours
	instrumentMap := h.scanner.buildInstrumentMap(map[int64]core.RecipientConfig{100: config}, now)
	assert.Empty(t, instrumentMap)

	during := utc(2026, 8, 26, 10, 0)
	instrumentMap = h.scanner.buildInstrumentMap(map[int64]core.RecipientConfig{100: config}, during)
	assert.Len(t, instrumentMap["EURUSD"], 1)
}

func TestDirectionFlipBypassesCooldown(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{
		100: watcherConfig("V75"),
	})

	require.NoError(t, h.scanner.cycle(context.Background()))
	require.Len(t, h.notifier.sent, 1)

	// ledger-level check: a SELL for the same key passes immediately
	key := ledger.Key(100, "V75")
	assert.False(t, h.ledger.ShouldSend(key, core.DirectionBuy, time.Hour, time.Now()))
	assert.True(t, h.ledger.ShouldSend(key, core.DirectionSell, time.Hour, time.Now()))
}

var errBoom = errors.New("boom")

type failingRecipients struct{ stubRecipients }

func (*failingRecipients) LoadAll(context.Context) (map[int64]core.RecipientConfig, error) {
	return nil, errBoom
}

func TestCycleFailsWhenRecipientsUnavailable(t *testing.T) {
	h := newHarness(map[int64]core.RecipientConfig{})
	h.scanner.recipients = &failingRecipients{}

	err := h.scanner.cycle(context.Background())
	assert.ErrorIs(t, err, errBoom)
}
