package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clexe/sniper/core"

	"gorm.io/gorm"
)

// recipientRow is the persisted shape of one recipient. Preferences are
// stored as a JSON blob so new config fields never need a migration;
// missing fields fall back to defaults on load.
type recipientRow struct {
	UserID   int64  `gorm:"primaryKey;column:user_id"`
	Settings string `gorm:"column:settings"`
	IsActive bool   `gorm:"column:is_active"`
	JoinedAt time.Time
}

func (recipientRow) TableName() string { return "recipients" }

// RecipientSQL implements core.RecipientStore on a GORM-backed SQLite table
type RecipientSQL struct {
	db *gorm.DB
}

// NewRecipientStore migrates and wraps the recipients table
func NewRecipientStore(db *gorm.DB) (*RecipientSQL, error) {
	if err := db.AutoMigrate(&recipientRow{}); err != nil {
		return nil, fmt.Errorf("failed to run recipient migrations: %w", err)
	}
	return &RecipientSQL{db: db}, nil
}

// LoadAll returns the configs of every active recipient
func (s *RecipientSQL) LoadAll(ctx context.Context) (map[int64]core.RecipientConfig, error) {
	var rows []recipientRow
	tx := s.db.WithContext(ctx)
	if result := tx.Where("is_active = ?", true).Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", result.Error)
	}

	out := make(map[int64]core.RecipientConfig, len(rows))
	for _, row := range rows {
		out[row.UserID] = decodeConfig(row.Settings)
	}
	return out, nil
}

// Get returns one recipient's config, defaults-merged. A deactivated or
// unknown recipient is an error.
func (s *RecipientSQL) Get(ctx context.Context, id int64) (core.RecipientConfig, error) {
	var row recipientRow
	tx := s.db.WithContext(ctx)
	if result := tx.Where("user_id = ? AND is_active = ?", id, true).First(&row); result.Error != nil {
		return core.RecipientConfig{}, fmt.Errorf("recipient %d not found: %w", id, result.Error)
	}
	return decodeConfig(row.Settings), nil
}

// Save upserts a recipient config and (re)activates the recipient
func (s *RecipientSQL) Save(ctx context.Context, id int64, config core.RecipientConfig) error {
	content, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx := s.db.WithContext(ctx)

	var existing recipientRow
	result := tx.Where("user_id = ?", id).First(&existing)
	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to load recipient %d: %w", id, result.Error)
		}
		row := recipientRow{
			UserID:   id,
			Settings: string(content),
			IsActive: true,
			JoinedAt: time.Now().UTC(),
		}
		if result := tx.Create(&row); result.Error != nil {
			return fmt.Errorf("failed to create recipient %d: %w", id, result.Error)
		}
		return nil
	}

	existing.Settings = string(content)
	existing.IsActive = true
	if result := tx.Save(&existing); result.Error != nil {
		return fmt.Errorf("failed to update recipient %d: %w", id, result.Error)
	}
	return nil
}

// Deactivate flags a recipient so the scanner stops dispatching to them.
// The row and its settings survive for a later /start.
func (s *RecipientSQL) Deactivate(ctx context.Context, id int64) error {
	tx := s.db.WithContext(ctx)
	result := tx.Model(&recipientRow{}).Where("user_id = ?", id).Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate recipient %d: %w", id, result.Error)
	}
	return nil
}

// Count returns the number of active recipients
func (s *RecipientSQL) Count(ctx context.Context) (int, error) {
	var count int64
	tx := s.db.WithContext(ctx)
	if result := tx.Model(&recipientRow{}).Where("is_active = ?", true).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", result.Error)
	}
	return int(count), nil
}

// decodeConfig unmarshals a settings blob over the defaults, so fields
// absent from older rows keep their default values
func decodeConfig(blob string) core.RecipientConfig {
	config := core.DefaultRecipientConfig()
	if blob == "" {
		return config
	}
	if err := json.Unmarshal([]byte(blob), &config); err != nil {
		return core.DefaultRecipientConfig()
	}
	return config
}
