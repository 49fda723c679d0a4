package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/clexe/sniper/core"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// HistorySQL implements core.HistoryStore on a GORM-backed SQLite table
type HistorySQL struct {
	db *gorm.DB
}

// NewHistoryStore migrates and wraps the signal history table
func NewHistoryStore(db *gorm.DB) (*HistorySQL, error) {
	if err := db.AutoMigrate(&core.LedgerEntry{}); err != nil {
		return nil, fmt.Errorf("failed to run history migrations: %w", err)
	}
	return &HistorySQL{db: db}, nil
}

// InsertEntry appends one history row and fills in its generated ID
func (s *HistorySQL) InsertEntry(ctx context.Context, entry *core.LedgerEntry) error {
	tx := s.db.WithContext(ctx)
	if result := tx.Create(entry); result.Error != nil {
		return fmt.Errorf("failed to insert history entry: %w", result.Error)
	}
	return nil
}

// OpenEntries returns every row still awaiting settlement
func (s *HistorySQL) OpenEntries(ctx context.Context) ([]core.LedgerEntry, error) {
	var entries []core.LedgerEntry
	tx := s.db.WithContext(ctx)
	if result := tx.Where("outcome = ?", core.OutcomeOpen).Find(&entries); result.Error != nil {
		return nil, fmt.Errorf("failed to load open entries: %w", result.Error)
	}
	return entries, nil
}

// UpdateOutcome settles one row to a terminal outcome. Rows transition
// once; the close timestamp marks when the resolver saw the price.
func (s *HistorySQL) UpdateOutcome(ctx context.Context, id int64, outcome core.Outcome, closePrice, pnlPips float64) error {
	now := time.Now().UTC()
	tx := s.db.WithContext(ctx)
	result := tx.Model(&core.LedgerEntry{}).Where("id = ?", id).Updates(map[string]any{
		"outcome":     outcome,
		"close_price": closePrice,
		"pnl_pips":    pnlPips,
		"closed_at":   &now,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to settle entry %d: %w", id, result.Error)
	}
	return nil
}

// Stats aggregates performance over the trailing window. The math runs
// in memory; the window rarely holds more than a few hundred rows.
func (s *HistorySQL) Stats(ctx context.Context, window time.Duration) (core.HistoryStats, error) {
	since := time.Now().UTC().Add(-window)

	var entries []core.LedgerEntry
	tx := s.db.WithContext(ctx)
	if result := tx.Where("created_at >= ?", since).Find(&entries); result.Error != nil {
		return core.HistoryStats{}, fmt.Errorf("failed to load history window: %w", result.Error)
	}

	wins := lo.CountBy(entries, func(e core.LedgerEntry) bool { return e.Outcome == core.OutcomeWin })
	losses := lo.CountBy(entries, func(e core.LedgerEntry) bool { return e.Outcome == core.OutcomeLoss })

	stats := core.HistoryStats{
		Total:  len(entries),
		Wins:   wins,
		Losses: losses,
		Open:   len(entries) - wins - losses,
		TotalPips: lo.SumBy(entries, func(e core.LedgerEntry) float64 {
			return e.PnLPips
		}),
	}

	if closed := wins + losses; closed > 0 {
		stats.WinRate = float64(wins) / float64(closed) * 100
		stats.AvgPips = stats.TotalPips / float64(closed)
	}
	return stats, nil
}

// Recent returns the newest rows, most recent first
func (s *HistorySQL) Recent(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	var entries []core.LedgerEntry
	tx := s.db.WithContext(ctx)
	if result := tx.Order("created_at DESC").Limit(limit).Find(&entries); result.Error != nil {
		return nil, fmt.Errorf("failed to load recent entries: %w", result.Error)
	}
	return entries, nil
}
