package core

import (
	"context"
	"time"
)

// Feeder is the uniform market-data gateway. Implementations route each
// instrument to the correct backend and always degrade fetch failures to
// empty results rather than returning transport errors.
type Feeder interface {
	// FetchSeries returns the recent candle series for an instrument on a
	// timeframe, oldest first. Empty on any failure.
	FetchSeries(ctx context.Context, instrument, timeframe string) []Candle

	// FetchSeriesParallel fetches several instruments concurrently for one
	// timeframe. A failed fetch degrades to an empty series for that
	// instrument and never aborts the sibling fetches.
	FetchSeriesParallel(ctx context.Context, instruments []string, timeframe string) map[string][]Candle

	// FetchLatestPrice returns the last traded price for an instrument.
	// The boolean is false when no price could be obtained.
	FetchLatestPrice(ctx context.Context, instrument string) (float64, bool)
}

// Notifier is the outbound delivery transport. Send returns
// ErrRecipientUnreachable (possibly wrapped) when the recipient can no
// longer be messaged and should be deactivated.
type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string) error
}

// RecipientStore persists recipient configurations. The scanner treats
// configs as read-only; only the command layer mutates them.
type RecipientStore interface {
	LoadAll(ctx context.Context) (map[int64]RecipientConfig, error)
	Get(ctx context.Context, id int64) (RecipientConfig, error)
	Save(ctx context.Context, id int64, config RecipientConfig) error
	Deactivate(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// HistoryStore is the durable, append-only signal ledger. Entries are
// inserted once and settled exactly once by the outcome resolver.
type HistoryStore interface {
	InsertEntry(ctx context.Context, entry *LedgerEntry) error
	OpenEntries(ctx context.Context) ([]LedgerEntry, error)
	UpdateOutcome(ctx context.Context, id int64, outcome Outcome, closePrice, pnlPips float64) error
	Stats(ctx context.Context, window time.Duration) (HistoryStats, error)
	Recent(ctx context.Context, limit int) ([]LedgerEntry, error)
}

// SentStore persists dedup state so cooldowns survive restarts.
// Persistence is best effort; the in-memory map stays authoritative
// for the current cycle.
type SentStore interface {
	Load(ctx context.Context) (map[string]SentRecord, error)
	Persist(ctx context.Context, key string, record SentRecord) error
	PurgeOld(ctx context.Context) (int, error)
}
