package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clexe/sniper/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSentStore struct {
	mu      sync.Mutex
	records map[string]core.SentRecord
	loadErr error
}

func newFakeSentStore() *fakeSentStore {
	return &fakeSentStore{records: make(map[string]core.SentRecord)}
}

func (s *fakeSentStore) Load(context.Context) (map[string]core.SentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]core.SentRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *fakeSentStore) Persist(_ context.Context, key string, record core.SentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	return nil
}

func (s *fakeSentStore) PurgeOld(context.Context) (int, error) {
	return 0, nil
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	entries []core.LedgerEntry
	nextID  int64
}

func (s *fakeHistoryStore) InsertEntry(_ context.Context, entry *core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *fakeHistoryStore) OpenEntries(context.Context) ([]core.LedgerEntry, error) {
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

func (s *fakeHistoryStore) UpdateOutcome(_ context.Context, id int64, outcome core.Outcome, closePrice, pnlPips float64) error {
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

func (s *fakeHistoryStore) Stats(context.Context, time.Duration) (core.HistoryStats, error) {
	return core.HistoryStats{}, nil
}

func (s *fakeHistoryStore) Recent(context.Context, int) ([]core.LedgerEntry, error) {
	return nil, nil
}

type fakeFeeder struct {
	prices map[string]float64
	calls  map[string]int
}

func (f *fakeFeeder) FetchSeries(context.Context, string, string) []core.Candle {
	return nil
}

func (f *fakeFeeder) FetchSeriesParallel(context.Context, []string, string) map[string][]core.Candle {
	return nil
}

func (f *fakeFeeder) FetchLatestPrice(_ context.Context, instrument string) (float64, bool) {
	if f.calls != nil {
		f.calls[instrument]++
	}
	price, ok := f.prices[instrument]
	return price, ok
}

type nopLogger struct{}

func (nopLogger) WithField(string, any) core.Logger      { return nopLogger{} }
func (nopLogger) WithFields(map[string]any) core.Logger  { return nopLogger{} }
func (nopLogger) WithError(error) core.Logger            { return nopLogger{} }
func (nopLogger) Print(...any)                           {}
func (nopLogger) Trace(...any)                           {}
func (nopLogger) Debug(...any)                           {}
func (nopLogger) Info(...any)                            {}
func (nopLogger) Warn(...any)                            {}
func (nopLogger) Error(...any)                           {}
func (nopLogger) Fatal(...any)                           {}
func (nopLogger) Panic(...any)                           {}
func (nopLogger) Printf(string, ...any)                  {}
func (nopLogger) Tracef(string, ...any)                  {}
func (nopLogger) Debugf(string, ...any)                  {}
func (nopLogger) Infof(string, ...any)                   {}
func (nopLogger) Warnf(string, ...any)                   {}
func (nopLogger) Errorf(string, ...any)                  {}
func (nopLogger) Fatalf(string, ...any)                  {}
func (nopLogger) Panicf(string, ...any)                  {}
func (nopLogger) SetLevel(core.Level)                    {}
func (nopLogger) GetLevel() core.Level                   { return core.InfoLevel }

func TestKey(t *testing.T) {
	assert.Equal(t, "42_XAUUSD", Key(42, "XAUUSD"))
}

func TestShouldSend(t *testing.T) {
	now := time.Now()
	cooldown := time.Hour

	t.Run("fresh key", func(t *testing.T) {
		l := New(newFakeSentStore(), &fakeHistoryStore{}, nopLogger{})
		assert.True(t, l.ShouldSend("1_EURUSD", core.DirectionBuy, cooldown, now))
	})

	t.Run("suppressed within cooldown", func(t *testing.T) {
		l := New(newFakeSentStore(), &fakeHistoryStore{}, nopLogger{})
		l.RecordSent("1_EURUSD", 1.1, core.DirectionBuy, now)
		assert.False(t, l.ShouldSend("1_EURUSD", core.DirectionBuy, cooldown, now.Add(time.Minute)))
	})

	t.Run("direction flip bypasses cooldown", func(t *testing.T) {
		l := New(newFakeSentStore(), &fakeHistoryStore{}, nopLogger{})
		l.RecordSent("1_EURUSD", 1.1, core.DirectionBuy, now)
		assert.True(t, l.ShouldSend("1_EURUSD", core.DirectionSell, cooldown, now.Add(time.Minute)))
	})

	t.Run("cooldown elapsed", func(t *testing.T) {
		l := New(newFakeSentStore(), &fakeHistoryStore{}, nopLogger{})
		l.RecordSent("1_EURUSD", 1.1, core.DirectionBuy, now)
		assert.True(t, l.ShouldSend("1_EURUSD", core.DirectionBuy, cooldown, now.Add(cooldown+time.Second)))
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := New(newFakeSentStore(), &fakeHistoryStore{}, nopLogger{})
		l.RecordSent("1_EURUSD", 1.1, core.DirectionBuy, now)
		assert.True(t, l.ShouldSend("2_EURUSD", core.DirectionBuy, cooldown, now))
		assert.True(t, l.ShouldSend("1_XAUUSD", core.DirectionBuy, cooldown, now))
	})
}

func TestExpireStale(t *testing.T) {
	now := time.Now()
	ttl := 2 * time.Hour

	l := New(newFakeSentStore(), &fakeHistoryStore{}, nopLogger{})
	l.RecordSent("1_EURUSD", 1.1, core.DirectionBuy, now.Add(-3*time.Hour))
	l.RecordSent("1_XAUUSD", 2400, core.DirectionSell, now.Add(-time.Hour))
	l.RecordSent("2_BTCUSD", 64000, core.DirectionBuy, now)

	removed := l.ExpireStale(ttl, now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, l.Size())

	// expired record must not suppress a later equivalent signal
	assert.True(t, l.ShouldSend("1_EURUSD", core.DirectionBuy, time.Hour, now))
}

func TestLoadRestoresRecords(t *testing.T) {
	store := newFakeSentStore()
	store.records["1_EURUSD"] = core.SentRecord{
		Price: 1.1, Direction: core.DirectionBuy, Time: time.Now(),
	}

	l := New(store, &fakeHistoryStore{}, nopLogger{})
	l.Load(context.Background())

	assert.Equal(t, 1, l.Size())
	assert.False(t, l.ShouldSend("1_EURUSD", core.DirectionBuy, time.Hour, time.Now()))
}

func TestRecordEntryAppendsOpenRow(t *testing.T) {
	history := &fakeHistoryStore{}
	l := New(newFakeSentStore(), history, nopLogger{})

	l.RecordEntry(context.Background(), "EURUSD", core.DirectionBuy, core.ModeMarket, 1.1, 1.15, 1.095)
	l.RecordEntry(context.Background(), "EURUSD", core.DirectionBuy, core.ModeMarket, 1.1, 1.15, 1.095)

	open, err := history.OpenEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 2, "history is append-only, never upserted")
	assert.Equal(t, core.OutcomeOpen, open[0].Outcome)
	assert.Equal(t, "EURUSD", open[0].Pair)
}

func TestResolver(t *testing.T) {
	insert := func(history *fakeHistoryStore, pair string, direction core.Direction, entry, tp, sl float64) int64 {
		row := &core.LedgerEntry{
			Pair: pair, Direction: direction, Mode: core.ModeMarket,
			EntryPrice: entry, TakeProfit: tp, StopLoss: sl,
			Outcome: core.OutcomeOpen, CreatedAt: time.Now(),
		}
		_ = history.InsertEntry(context.Background(), row)
		return row.ID
	}

	find := func(history *fakeHistoryStore, id int64) core.LedgerEntry {
		for _, e := range history.entries {
			if e.ID == id {
				return e
			}
		}
		t.Fatalf("entry %d not found", id)
		return core.LedgerEntry{}
	}

	t.Run("buy win at take profit", func(t *testing.T) {
		history := &fakeHistoryStore{}
		id := insert(history, "EURUSD", core.DirectionBuy, 100, 110, 95)
		feeder := &fakeFeeder{prices: map[string]float64{"EURUSD": 110}}

		NewResolver(feeder, history, nopLogger{}).Resolve(context.Background())

		entry := find(history, id)
		assert.Equal(t, core.OutcomeWin, entry.Outcome)
		assert.Equal(t, 110.0, entry.ClosePrice)
		assert.Equal(t, (110.0-100.0)*10000, entry.PnLPips)
	})

	t.Run("buy loss at stop", func(t *testing.T) {
		history := &fakeHistoryStore{}
		id := insert(history, "EURUSD", core.DirectionBuy, 100, 110, 95)
		feeder := &fakeFeeder{prices: map[string]float64{"EURUSD": 94}}

		NewResolver(feeder, history, nopLogger{}).Resolve(context.Background())

		entry := find(history, id)
		assert.Equal(t, core.OutcomeLoss, entry.Outcome)
		assert.Equal(t, (95.0-100.0)*10000, entry.PnLPips)
	})

	t.Run("stays open between levels", func(t *testing.T) {
		history := &fakeHistoryStore{}
		id := insert(history, "EURUSD", core.DirectionBuy, 100, 110, 95)
		feeder := &fakeFeeder{prices: map[string]float64{"EURUSD": 105}}

		NewResolver(feeder, history, nopLogger{}).Resolve(context.Background())

		assert.Equal(t, core.OutcomeOpen, find(history, id).Outcome)
	})

	t.Run("sell win and loss", func(t *testing.T) {
		history := &fakeHistoryStore{}
		winID := insert(history, "XAUUSD", core.DirectionSell, 2400, 2380, 2410)
		lossID := insert(history, "USDJPY", core.DirectionSell, 150, 148, 151)
		feeder := &fakeFeeder{prices: map[string]float64{"XAUUSD": 2379, "USDJPY": 151.5}}

		NewResolver(feeder, history, nopLogger{}).Resolve(context.Background())

		win := find(history, winID)
		assert.Equal(t, core.OutcomeWin, win.Outcome)
		assert.Equal(t, (2400.0-2380.0)*10, win.PnLPips)

		loss := find(history, lossID)
		assert.Equal(t, core.OutcomeLoss, loss.Outcome)
		assert.Equal(t, (150.0-151.0)*10, loss.PnLPips)
	})

	t.Run("one price fetch per instrument", func(t *testing.T) {
		history := &fakeHistoryStore{}
		insert(history, "EURUSD", core.DirectionBuy, 100, 110, 95)
		insert(history, "EURUSD", core.DirectionSell, 100, 90, 105)
		insert(history, "EURUSD", core.DirectionBuy, 101, 111, 96)
		feeder := &fakeFeeder{
			prices: map[string]float64{"EURUSD": 105},
			calls:  map[string]int{},
		}

		NewResolver(feeder, history, nopLogger{}).Resolve(context.Background())

		assert.Equal(t, 1, feeder.calls["EURUSD"])
	})

	t.Run("missing price skips without error", func(t *testing.T) {
		history := &fakeHistoryStore{}
		id := insert(history, "EURUSD", core.DirectionBuy, 100, 110, 95)
		feeder := &fakeFeeder{prices: map[string]float64{}}

		NewResolver(feeder, history, nopLogger{}).Resolve(context.Background())

		assert.Equal(t, core.OutcomeOpen, find(history, id).Outcome)
	})

	t.Run("terminal entries are not revisited", func(t *testing.T) {
		history := &fakeHistoryStore{}
		id := insert(history, "EURUSD", core.DirectionBuy, 100, 110, 95)
		feeder := &fakeFeeder{prices: map[string]float64{"EURUSD": 110}, calls: map[string]int{}}

		resolver := NewResolver(feeder, history, nopLogger{})
		resolver.Resolve(context.Background())
		resolver.Resolve(context.Background())

		entry := find(history, id)
		assert.Equal(t, core.OutcomeWin, entry.Outcome)
		// second pass found no open entries, so no further fetches
		assert.Equal(t, 1, feeder.calls["EURUSD"])
	})
}
