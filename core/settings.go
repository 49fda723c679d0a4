package core

import (
	"time"
)

// Session represents a recipient-configured trading session window
type Session string

// Trading session constants
const (
	SessionLondon Session = "LONDON"
	SessionNY     Session = "NY"
	SessionBoth   Session = "BOTH"
)

// Valid values for recipient preferences. Free-form strings are rejected
// at the command boundary against these sets.
var (
	ValidSessions   = []Session{SessionLondon, SessionNY, SessionBoth}
	ValidModes      = []Mode{ModeMarket, ModeLimit}
	ValidTimeframes = []string{"M5", "M15", "M30", "H1"}
	ValidHigherTFs  = []string{"H4", "1D", "1W"}
)

// RecipientConfig holds the per-recipient scanning preferences.
// It is owned and mutated by the command layer; the scanner only reads it.
type RecipientConfig struct {
	Pairs     []string `json:"pairs"`
	Session   Session  `json:"session"`
	Mode      Mode     `json:"mode"`
	Timeframe string   `json:"timeframe"`
	HigherTF  string   `json:"higher_tf"`
	RiskPips  float64  `json:"risk_pips"`
	Cooldown  int      `json:"cooldown"` // minutes
}

// DefaultRecipientConfig returns the settings applied to new recipients
// and merged under any partially saved settings.
func DefaultRecipientConfig() RecipientConfig {
	return RecipientConfig{
		Pairs:     []string{"XAUUSD", "BTCUSD", "V75"},
		Session:   SessionBoth,
		Mode:      ModeMarket,
		Timeframe: "M15",
		HigherTF:  "1D",
		RiskPips:  50,
		Cooldown:  60,
	}
}

// TelegramSettings holds credentials for the Telegram transport
type TelegramSettings struct {
	Token   string
	AdminID int64
}

// DerivSettings holds credentials for the Deriv websocket backend
type DerivSettings struct {
	AppID string
	Token string
}

// BybitSettings holds credentials for the Bybit REST backend
type BybitSettings struct {
	APIKey    string
	APISecret string
}

// StorageSettings holds the durable store locations
type StorageSettings struct {
	DatabasePath string
	SentDBPath   string
}

// ScannerSettings holds the scheduler tuning knobs
type ScannerSettings struct {
	Interval      time.Duration // sleep between scan cycles
	ErrorInterval time.Duration // sleep after a failed cycle
	SentTTL       time.Duration // in-memory sent record lifetime
	ThrottleRate  float64       // outbound messages per second
}

// NewsSettings controls the calendar blackout filter
type NewsSettings struct {
	Enabled  bool
	CacheTTL time.Duration
	Blackout time.Duration
	Impacts  []string
}

// Settings aggregates the application configuration
type Settings struct {
	Telegram TelegramSettings
	Deriv    DerivSettings
	Bybit    BybitSettings
	Storage  StorageSettings
	Scanner  ScannerSettings
	News     NewsSettings
}

// DefaultSettings returns the baseline application configuration
func DefaultSettings() Settings {
	return Settings{
		Storage: StorageSettings{
			DatabasePath: "sniper.db",
			SentDBPath:   "sent.db",
		},
		Scanner: ScannerSettings{
			Interval:      60 * time.Second,
			ErrorInterval: 10 * time.Second,
			SentTTL:       2 * time.Hour,
			ThrottleRate:  25, // Telegram allows ~30 msg/s, leave margin
		},
		News: NewsSettings{
			Enabled:  true,
			CacheTTL: time.Hour,
			Blackout: 30 * time.Minute,
			Impacts:  []string{"High", "Medium"},
		},
	}
}
