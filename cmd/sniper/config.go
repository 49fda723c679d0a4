package main

import (
	"fmt"
	"os"
	"time"

	"github.com/clexe/sniper/core"

	"github.com/spf13/viper"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// loadSettings builds the application settings from environment
// variables, optionally layered over a config file. Durations accept
// extended forms like "1d" and "2h30m".
func loadSettings(configPath string) (*core.Settings, error) {
	v := viper.New()
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	}

	settings := core.DefaultSettings()

	v.SetDefault("DATABASE_PATH", settings.Storage.DatabasePath)
	v.SetDefault("SENT_DB_PATH", settings.Storage.SentDBPath)
	v.SetDefault("THROTTLE_RATE", settings.Scanner.ThrottleRate)
	v.SetDefault("NEWS_ENABLED", settings.News.Enabled)
	v.SetDefault("NEWS_IMPACTS", settings.News.Impacts)

	settings.Telegram = core.TelegramSettings{
		Token:   v.GetString("TELEGRAM_TOKEN"),
		AdminID: v.GetInt64("TELEGRAM_ADMIN_ID"),
	}
	settings.Deriv = core.DerivSettings{
		AppID: v.GetString("DERIV_APP_ID"),
		Token: v.GetString("DERIV_TOKEN"),
	}
	settings.Bybit = core.BybitSettings{
		APIKey:    v.GetString("BYBIT_API_KEY"),
		APISecret: v.GetString("BYBIT_API_SECRET"),
	}
	settings.Storage = core.StorageSettings{
		DatabasePath: v.GetString("DATABASE_PATH"),
		SentDBPath:   v.GetString("SENT_DB_PATH"),
	}
	settings.Scanner.ThrottleRate = v.GetFloat64("THROTTLE_RATE")
	settings.News.Enabled = v.GetBool("NEWS_ENABLED")
	settings.News.Impacts = v.GetStringSlice("NEWS_IMPACTS")

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SCAN_INTERVAL", &settings.Scanner.Interval},
		{"SCAN_ERROR_INTERVAL", &settings.Scanner.ErrorInterval},
		{"SENT_TTL", &settings.Scanner.SentTTL},
		{"NEWS_CACHE_TTL", &settings.News.CacheTTL},
		{"NEWS_BLACKOUT", &settings.News.Blackout},
	}
	for _, d := range durations {
		raw := v.GetString(d.key)
		if raw == "" {
			continue
		}
		parsed, err := str2duration.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if settings.Telegram.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if settings.Deriv.AppID == "" {
		return nil, fmt.Errorf("DERIV_APP_ID is required")
	}

	return &settings, nil
}
