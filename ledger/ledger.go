// Package ledger owns the notification dedup state and the durable
// signal history. The in-memory sent map is authoritative for the
// running cycle; durable persistence is best effort.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clexe/sniper/core"
)

// Ledger tracks what was sent to whom and appends history rows for
// dispatched signals. Safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	sent      map[string]core.SentRecord
	sentStore core.SentStore
	history   core.HistoryStore
	log       core.Logger
}

// New creates a Ledger backed by the given stores
func New(sentStore core.SentStore, history core.HistoryStore, log core.Logger) *Ledger {
	return &Ledger{
		sent:      make(map[string]core.SentRecord),
		sentStore: sentStore,
		history:   history,
		log:       log.WithField("component", "ledger"),
	}
}

// Key builds the dedup key for a (recipient, instrument) pair
func Key(recipientID int64, instrument string) string {
	return fmt.Sprintf("%d_%s", recipientID, instrument)
}

// Load restores sent records persisted by a previous run. Failures are
// logged and leave the ledger empty.
func (l *Ledger) Load(ctx context.Context) {
	records, err := l.sentStore.Load(ctx)
	if err != nil {
		l.log.WithError(err).Warn("could not restore sent records")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, record := range records {
		l.sent[key] = record
	}

	l.log.Infof("restored %d sent records", len(records))
}

// ShouldSend reports whether a candidate signal passes dedup: true when
// no prior record exists for the key, when the direction flipped, or
// when the cooldown has elapsed since the prior dispatch.
func (l *Ledger) ShouldSend(key string, direction core.Direction, cooldown time.Duration, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.sent[key]
	if !ok {
		return true
	}

	elapsed := now.Sub(last.Time) > cooldown
	directionChanged := last.Direction != direction
	return elapsed || directionChanged
}

// RecordSent upserts the in-memory record and persists it
// asynchronously. A persistence failure never blocks or aborts the
// dispatch path.
func (l *Ledger) RecordSent(key string, price float64, direction core.Direction, now time.Time) {
	record := core.SentRecord{Price: price, Direction: direction, Time: now}

	l.mu.Lock()
	l.sent[key] = record
	l.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.sentStore.Persist(ctx, key, record); err != nil {
			l.log.WithError(err).Warnf("could not persist sent record %s", key)
		}
	}()
}

// ExpireStale removes in-memory records older than the TTL and returns
// how many were dropped
func (l *Ledger) ExpireStale(ttl time.Duration, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, record := range l.sent {
		if now.Sub(record.Time) > ttl {
			delete(l.sent, key)
			removed++
		}
	}

	if removed > 0 {
		l.log.Infof("expired %d stale sent records", removed)
	}
	return removed
}

// PurgeDurable drops old rows from the durable sent store
func (l *Ledger) PurgeDurable(ctx context.Context) {
	if _, err := l.sentStore.PurgeOld(ctx); err != nil {
		l.log.WithError(err).Warn("could not purge durable sent records")
	}
}

// RecordEntry appends a new OPEN history row. History is append-only;
// rows are settled later by the resolver, never rewritten here.
func (l *Ledger) RecordEntry(ctx context.Context, instrument string, direction core.Direction,
	mode core.Mode, entry, takeProfit, stopLoss float64) {
	row := &core.LedgerEntry{
		Pair:       instrument,
		Direction:  direction,
		Mode:       mode,
		EntryPrice: entry,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		Outcome:    core.OutcomeOpen,
		CreatedAt:  time.Now().UTC(),
	}

	if err := l.history.InsertEntry(ctx, row); err != nil {
		l.log.WithError(err).Warnf("could not record history entry for %s", instrument)
	}
}

// Size returns the number of in-memory sent records
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}
