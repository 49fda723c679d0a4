package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clexe/sniper/core"

	"github.com/tidwall/buntdb"
)

// DefaultSentRetention is how long a persisted sent record stays
// meaningful across restarts. Anything older than the longest plausible
// cooldown is dead weight.
const DefaultSentRetention = 4 * time.Hour

// SentBunt implements core.SentStore on BuntDB. Values are JSON-encoded
// records keyed by the dedup key.
type SentBunt struct {
	db        *buntdb.DB
	retention time.Duration
}

// SentOption customizes the sent store
type SentOption func(*SentBunt)

// WithRetention overrides the record retention window
func WithRetention(retention time.Duration) SentOption {
	return func(s *SentBunt) {
		s.retention = retention
	}
}

// NewSentFromFile creates a file-backed sent store
func NewSentFromFile(file string, options ...SentOption) (*SentBunt, error) {
	return newSentStore(file, options...)
}

// NewSentFromMemory creates an in-memory sent store, used in tests
func NewSentFromMemory(options ...SentOption) (*SentBunt, error) {
	return newSentStore(":memory:", options...)
}

func newSentStore(sourceFile string, options ...SentOption) (*SentBunt, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.EverySecond}); err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	store := &SentBunt{db: db, retention: DefaultSentRetention}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

// Load restores records still inside the retention window. Rows that
// fail to decode are skipped, not fatal.
func (s *SentBunt) Load(_ context.Context) (map[string]core.SentRecord, error) {
	cutoff := time.Now().Add(-s.retention)
	records := make(map[string]core.SentRecord)

	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			var record core.SentRecord
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				return true
			}
			if record.Time.After(cutoff) {
				records[key] = record
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load sent records: %w", err)
	}
	return records, nil
}

// Persist upserts one record
func (s *SentBunt) Persist(_ context.Context, key string, record core.SentRecord) error {
	content, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal sent record: %w", err)
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(key, string(content), nil); err != nil {
			return fmt.Errorf("failed to store sent record: %w", err)
		}
		return nil
	})
}

// PurgeOld deletes records older than the retention window and returns
// how many were removed
func (s *SentBunt) PurgeOld(_ context.Context) (int, error) {
	cutoff := time.Now().Add(-s.retention)

	var stale []string
	err := s.db.Update(func(tx *buntdb.Tx) error {
		err := tx.Ascend("", func(key, value string) bool {
			var record core.SentRecord
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				stale = append(stale, key)
				return true
			}
			if !record.Time.After(cutoff) {
				stale = append(stale, key)
			}
			return true
		})
		if err != nil {
			return err
		}

		for _, key := range stale {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return fmt.Errorf("failed to delete sent record %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge sent records: %w", err)
	}
	return len(stale), nil
}

// Close closes the underlying database
func (s *SentBunt) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
