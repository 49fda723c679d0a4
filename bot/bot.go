// Package bot assembles the application: market-data backends, durable
// stores, the Telegram transport and the scan scheduler.
package bot

import (
	"context"
	"fmt"

	"github.com/clexe/sniper/core"
	"github.com/clexe/sniper/exchange"
	"github.com/clexe/sniper/exchange/bybit"
	"github.com/clexe/sniper/exchange/deriv"
	"github.com/clexe/sniper/ledger"
	"github.com/clexe/sniper/notification"
	"github.com/clexe/sniper/scanner"
	"github.com/clexe/sniper/storage"
)

// Sniper owns the assembled components and their lifecycle
type Sniper struct {
	settings *core.Settings
	log      core.Logger

	feeder     core.Feeder
	recipients core.RecipientStore
	history    core.HistoryStore
	sentStore  core.SentStore
	telegram   *notification.Telegram
	scanner    *scanner.Scanner
}

// Option is a function that customizes the bot, mostly for tests
type Option func(*Sniper)

// WithFeeder overrides the market-data gateway
func WithFeeder(feeder core.Feeder) Option {
	return func(s *Sniper) { s.feeder = feeder }
}

// WithRecipientStore overrides the recipient store
func WithRecipientStore(store core.RecipientStore) Option {
	return func(s *Sniper) { s.recipients = store }
}

// WithHistoryStore overrides the signal history store
func WithHistoryStore(store core.HistoryStore) Option {
	return func(s *Sniper) { s.history = store }
}

// WithSentStore overrides the dedup persistence store
func WithSentStore(store core.SentStore) Option {
	return func(s *Sniper) { s.sentStore = store }
}

// NewBot wires every component from the settings. Components injected
// through options are kept; everything else is built with defaults.
func NewBot(settings *core.Settings, log core.Logger, options ...Option) (*Sniper, error) {
	bot := &Sniper{
		settings: settings,
		log:      log,
	}

	for _, option := range options {
		option(bot)
	}

	if bot.feeder == nil {
		derivBackend := deriv.New(settings.Deriv.AppID, settings.Deriv.Token, log)
		restBackend := bybit.New(log)
		bot.feeder = exchange.NewGateway(derivBackend, restBackend, log)
	}

	if err := initializeStorage(bot); err != nil {
		return nil, err
	}

	telegram, err := notification.NewTelegram(bot.recipients, bot.history, settings, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram: %w", err)
	}
	bot.telegram = telegram

	signalLedger := ledger.New(bot.sentStore, bot.history, log)
	resolver := ledger.NewResolver(bot.feeder, bot.history, log)
	news := scanner.NewNewsFilter(settings.News, log)

	bot.scanner = scanner.New(bot.feeder, bot.recipients, bot.telegram,
		signalLedger, resolver, news, settings.Scanner, log)
	bot.telegram.SetStatus(bot.scanner)

	return bot, nil
}

// initializeStorage opens the durable stores not provided via options
func initializeStorage(bot *Sniper) error {
	needsSQL := bot.recipients == nil || bot.history == nil
	if needsSQL {
		db, err := storage.OpenSQLite(bot.settings.Storage.DatabasePath, storage.DefaultConfig())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		if bot.recipients == nil {
			recipients, err := storage.NewRecipientStore(db)
			if err != nil {
				return err
			}
			bot.recipients = recipients
		}

		if bot.history == nil {
			history, err := storage.NewHistoryStore(db)
			if err != nil {
				return err
			}
			bot.history = history
		}
	}

	if bot.sentStore == nil {
		sent, err := storage.NewSentFromFile(bot.settings.Storage.SentDBPath)
		if err != nil {
			return fmt.Errorf("failed to open sent store: %w", err)
		}
		bot.sentStore = sent
	}

	return nil
}

// Scanner returns the scan scheduler
func (s *Sniper) Scanner() *scanner.Scanner {
	return s.scanner
}

// Run starts the Telegram poller and drives scan cycles until the
// context is canceled
func (s *Sniper) Run(ctx context.Context) error {
	s.telegram.Start()
	defer s.telegram.Stop()

	s.log.Info("sniper started")
	s.scanner.Run(ctx)
	return nil
}
