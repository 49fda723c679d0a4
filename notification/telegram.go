// Package notification implements the Telegram delivery transport and
// the conversational command layer for recipient configuration.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clexe/sniper/core"

	tb "gopkg.in/tucnak/telebot.v2"
)

const pollingTimeout = 10 * time.Second

// ScannerStatus exposes the scan loop state to the /status command.
// Reads are approximate; the scheduler is the sole writer.
type ScannerStatus interface {
	LastScan() time.Time
	IsScanning() bool
	Interval() time.Duration
}

// Telegram implements core.Notifier and hosts the command handlers.
// Every outbound message passes through the shared throttle.
type Telegram struct {
	settings    *core.Settings
	recipients  core.RecipientStore
	history     core.HistoryStore
	throttle    *Throttle
	status      ScannerStatus
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	log         core.Logger

	mu        sync.Mutex
	textState map[int64]string // recipient id -> pending input flow
}

// Option is a function that configures a telegram instance
type Option func(telegram *Telegram)

// WithClient overrides the bot client, used in tests
func WithClient(client *tb.Bot) Option {
	return func(t *Telegram) {
		t.client = client
	}
}

// NewTelegram creates and initializes the Telegram service
func NewTelegram(recipients core.RecipientStore, history core.HistoryStore,
	settings *core.Settings, log core.Logger, options ...Option) (*Telegram, error) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	setupKeyboard(menu)

	bot := &Telegram{
		settings:    settings,
		recipients:  recipients,
		history:     history,
		throttle:    NewThrottle(settings.Scanner.ThrottleRate),
		defaultMenu: menu,
		log:         log.WithField("component", "telegram"),
		textState:   make(map[int64]string),
	}

	for _, option := range options {
		option(bot)
	}

	if bot.client == nil {
		client, err := tb.NewBot(tb.Settings{
			ParseMode: tb.ModeMarkdown,
			Token:     settings.Telegram.Token,
			Poller:    &tb.LongPoller{Timeout: pollingTimeout},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		bot.client = client
	}

	if err := setupCommands(bot.client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	registerHandlers(bot.client, bot)

	return bot, nil
}

// SetStatus wires the scan status reporter once the scheduler exists
func (t *Telegram) SetStatus(status ScannerStatus) {
	t.status = status
}

// setupKeyboard configures the reply keyboard layout
func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		addBtn     = menu.Text("add")
		removeBtn  = menu.Text("remove")
		pairsBtn   = menu.Text("pairs")
		modeBtn    = menu.Text("/mode")
		statusBtn  = menu.Text("status")
		sessionBtn = menu.Text("setsession")
		statsBtn   = menu.Text("stats")
		historyBtn = menu.Text("history")
		helpBtn    = menu.Text("help")
	)

	menu.Reply(
		menu.Row(addBtn, removeBtn, pairsBtn),
		menu.Row(modeBtn, statusBtn, sessionBtn),
		menu.Row(statsBtn, historyBtn, helpBtn),
	)
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/start", Description: "Initialize and show the menu"},
		{Text: "/mode", Description: "Toggle LIMIT/MARKET execution"},
		{Text: "/settf", Description: "Set entry timeframe (M5/M15/M30/H1)"},
		{Text: "/sethtf", Description: "Set higher timeframe (H4/1D/1W)"},
		{Text: "/setrisk", Description: "Set max risk in pips (10-200)"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *Telegram) {
	client.Handle("/start", bot.StartHandle)
	client.Handle("/mode", bot.ModeHandle)
	client.Handle("/settf", bot.SetTimeframeHandle)
	client.Handle("/sethtf", bot.SetHigherTFHandle)
	client.Handle("/setrisk", bot.SetRiskHandle)
	client.Handle("/broadcast", bot.BroadcastHandle)
	client.Handle("/users", bot.UsersHandle)
	client.Handle(tb.OnText, bot.TextHandle)
}

// Start begins long polling for commands
func (t *Telegram) Start() {
	go t.client.Start()
	t.log.Info("telegram command handler started")
}

// Stop shuts the poller down
func (t *Telegram) Stop() {
	t.client.Stop()
}

// Send implements core.Notifier. It acquires a throttle token first and
// maps blocked/deleted recipients to core.ErrRecipientUnreachable.
func (t *Telegram) Send(ctx context.Context, recipientID int64, text string) error {
	if err := t.throttle.Acquire(ctx); err != nil {
		return err
	}

	_, err := t.client.Send(&tb.User{ID: recipientID}, text)
	if err == nil {
		return nil
	}

	if errors.Is(err, tb.ErrBlockedByUser) ||
		errors.Is(err, tb.ErrChatNotFound) ||
		errors.Is(err, tb.ErrUserIsDeactivated) {
		return fmt.Errorf("%w: %d", core.ErrRecipientUnreachable, recipientID)
	}

	return err
}

// Command handlers
// ---------------

// StartHandle initializes the recipient and shows the menu
func (t *Telegram) StartHandle(m *tb.Message) {
	t.configFor(m.Chat.ID)
	t.reply(m,
		"*Sniper* - SMC Trading Signals\n\n"+
			"Use the menu below to configure your watchlist and preferences.",
		t.defaultMenu)
}

// ModeHandle toggles between MARKET and LIMIT execution
func (t *Telegram) ModeHandle(m *tb.Message) {
	config := t.configFor(m.Chat.ID)

	if config.Mode == core.ModeMarket {
		config.Mode = core.ModeLimit
	} else {
		config.Mode = core.ModeMarket
	}
	t.saveConfig(m.Chat.ID, config)

	t.reply(m, fmt.Sprintf(
		"*Mode Updated:* %s\n\nLIMIT = Pending Orders (Retest)\nMARKET = Instant Execution",
		config.Mode))
}

// SetTimeframeHandle sets the entry timeframe
func (t *Telegram) SetTimeframeHandle(m *tb.Message) {
	config := t.configFor(m.Chat.ID)

	arg := commandArg(m.Text)
	if arg == "" {
		t.reply(m, fmt.Sprintf(
			"Current timeframe: *%s*\nUsage: `/settf M5` or `/settf M15` or `/settf M30` or `/settf H1`",
			config.Timeframe))
		return
	}

	tf := strings.ToUpper(arg)
	if !contains(core.ValidTimeframes, tf) {
		t.reply(m, "Invalid timeframe. Choose: "+strings.Join(core.ValidTimeframes, ", "))
		return
	}

	config.Timeframe = tf
	t.saveConfig(m.Chat.ID, config)
	t.reply(m, fmt.Sprintf("Entry timeframe set to: *%s*", tf))
}

// SetHigherTFHandle sets the higher timeframe
func (t *Telegram) SetHigherTFHandle(m *tb.Message) {
	config := t.configFor(m.Chat.ID)

	arg := commandArg(m.Text)
	if arg == "" {
		t.reply(m, fmt.Sprintf(
			"Current higher TF: *%s*\nUsage: `/sethtf H4` or `/sethtf 1D` or `/sethtf 1W`",
			config.HigherTF))
		return
	}

	tf := strings.ToUpper(arg)
	if !contains(core.ValidHigherTFs, tf) {
		t.reply(m, "Invalid higher timeframe. Choose: "+strings.Join(core.ValidHigherTFs, ", "))
		return
	}

	config.HigherTF = tf
	t.saveConfig(m.Chat.ID, config)
	t.reply(m, fmt.Sprintf("Higher timeframe set to: *%s*", tf))
}

// SetRiskHandle sets the risk budget in pips
func (t *Telegram) SetRiskHandle(m *tb.Message) {
	config := t.configFor(m.Chat.ID)

	arg := commandArg(m.Text)
	if arg == "" {
		t.reply(m, fmt.Sprintf(
			"Current max risk: *%.0f pips*\nUsage: `/setrisk 30` (range: 10-200)",
			config.RiskPips))
		return
	}

	pips, err := strconv.Atoi(arg)
	if err != nil {
		t.reply(m, "Please enter a number. Usage: `/setrisk 30`")
		return
	}
	if pips < 10 || pips > 200 {
		t.reply(m, "Risk must be between 10 and 200 pips.")
		return
	}

	config.RiskPips = float64(pips)
	t.saveConfig(m.Chat.ID, config)
	t.reply(m, fmt.Sprintf("Max risk set to: *%d pips*", pips))
}

// BroadcastHandle sends an admin announcement to every recipient
func (t *Telegram) BroadcastHandle(m *tb.Message) {
	if m.Sender == nil || m.Sender.ID != t.settings.Telegram.AdminID {
		return
	}

	text := commandArg(m.Text)
	if text == "" {
		t.reply(m, "Usage: /broadcast <message>")
		return
	}

	all, err := t.recipients.LoadAll(context.Background())
	if err != nil {
		t.log.WithError(err).Error("broadcast: could not load recipients")
		return
	}

	sent, failed := 0, 0
	for id := range all {
		err := t.Send(context.Background(), id, "*ANNOUNCEMENT*\n\n"+text)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, core.ErrRecipientUnreachable):
			if err := t.recipients.Deactivate(context.Background(), id); err != nil {
				t.log.WithError(err).Warnf("could not deactivate %d", id)
			}
			failed++
		default:
			t.log.WithError(err).Warnf("broadcast failed for %d", id)
			failed++
		}
	}

	t.reply(m, fmt.Sprintf("Broadcast done. Sent: %d, Failed: %d", sent, failed))
}

// UsersHandle shows admin-only recipient and performance counters
func (t *Telegram) UsersHandle(m *tb.Message) {
	if m.Sender == nil || m.Sender.ID != t.settings.Telegram.AdminID {
		return
	}

	all, err := t.recipients.LoadAll(context.Background())
	if err != nil {
		t.log.WithError(err).Error("users: could not load recipients")
		return
	}

	activePairs := 0
	for _, config := range all {
		activePairs += len(config.Pairs)
	}

	message := fmt.Sprintf("Users: `%d` | Pairs: `%d`", len(all), activePairs)
	if stats, err := t.history.Stats(context.Background(), 30*24*time.Hour); err == nil && stats.Total > 0 {
		message += fmt.Sprintf(
			"\nSignals: %d (W:%d L:%d O:%d)\nWin Rate: %.1f%% | P&L: %.1f pips",
			stats.Total, stats.Wins, stats.Losses, stats.Open, stats.WinRate, stats.TotalPips)
	}

	t.reply(m, message)
}

// TextHandle drives the keyboard menu and multi-step input flows
func (t *Telegram) TextHandle(m *tb.Message) {
	text := strings.ToLower(strings.TrimSpace(m.Text))
	state := t.takeState(m.Chat.ID)

	switch {
	case text == "status":
		t.statusReply(m)
	case text == "add":
		t.setState(m.Chat.ID, "add")
		t.reply(m, "Enter symbol to add (e.g. XAUUSD):")
	case text == "remove":
		config := t.configFor(m.Chat.ID)
		if len(config.Pairs) == 0 {
			t.reply(m, "Your watchlist is empty.")
			return
		}
		t.setState(m.Chat.ID, "remove")
		t.reply(m, "Symbol to remove:\nCurrent: "+strings.Join(config.Pairs, ", "))
	case text == "pairs":
		config := t.configFor(m.Chat.ID)
		if len(config.Pairs) == 0 {
			t.reply(m, "Watchlist is empty. Use 'add' to add symbols.")
			return
		}
		t.reply(m, "Watchlist: "+strings.Join(config.Pairs, ", "))
	case text == "setsession":
		t.setState(m.Chat.ID, "session")
		t.reply(m, "Enter session: LONDON, NY, or BOTH")
	case text == "stats":
		t.statsReply(m)
	case text == "history":
		t.historyReply(m)
	case text == "help":
		t.helpReply(m)
	case state == "add":
		t.addPairs(m)
	case state == "remove":
		t.removePair(m)
	case state == "session":
		t.setSession(m)
	}
}

// Menu replies
// ------------

func (t *Telegram) statusReply(m *tb.Message) {
	config := t.configFor(m.Chat.ID)

	scanner := "UNKNOWN"
	if t.status != nil {
		if t.status.IsScanning() {
			scanner = "SCANNING"
		} else {
			elapsed := time.Since(t.status.LastScan())
			remaining := t.status.Interval() - elapsed
			if remaining < 0 {
				remaining = 0
			}
			scanner = fmt.Sprintf("IDLE (%ds)", int(remaining.Seconds()))
		}
	}

	t.reply(m, fmt.Sprintf(
		"*Status*\nMode: *%s*\nEntry TF: *%s*\nHigher TF: *%s*\nRisk: *%.0f pips*\nPairs: %d\nSession: %s\nScanner: %s",
		config.Mode, config.Timeframe, config.HigherTF, config.RiskPips,
		len(config.Pairs), config.Session, scanner))
}

func (t *Telegram) statsReply(m *tb.Message) {
	stats, err := t.history.Stats(context.Background(), 30*24*time.Hour)
	if err != nil || stats.Total == 0 {
		t.reply(m, "No signal data yet. Signals will be tracked automatically.")
		return
	}
	t.reply(m, formatStats(stats))
}

func (t *Telegram) historyReply(m *tb.Message) {
	entries, err := t.history.Recent(context.Background(), 10)
	if err != nil || len(entries) == 0 {
		t.reply(m, "No signal history yet.")
		return
	}
	t.reply(m, formatHistory(entries))
}

func (t *Telegram) helpReply(m *tb.Message) {
	t.reply(m,
		"*Commands:*\n"+
			"/mode - Toggle Limit/Market\n"+
			"/settf - Set entry timeframe (M5/M15/M30/H1)\n"+
			"/sethtf - Set higher timeframe (H4/1D/1W)\n"+
			"/setrisk - Set max risk in pips\n\n"+
			"*Menu:*\n"+
			"add - Add pair to watchlist\n"+
			"remove - Remove pair\n"+
			"pairs - View watchlist\n"+
			"setsession - Set trading session\n"+
			"status - Check bot status\n"+
			"stats - View signal performance\n"+
			"history - Recent signal log")
}

// Input flows
// -----------

// addPairs accepts one or more symbols separated by spaces, commas or
// newlines, validating each against the known-symbol registry
func (t *Telegram) addPairs(m *tb.Message) {
	config := t.configFor(m.Chat.ID)

	raw := strings.NewReplacer(",", " ", "\n", " ").Replace(m.Text)
	var added, skipped []string
	for _, field := range strings.Fields(raw) {
		symbol := core.NormalizeSymbol(field)
		if symbol == "" {
			continue
		}
		switch {
		case contains(config.Pairs, symbol):
			skipped = append(skipped, symbol+" (already added)")
		case !core.IsKnownSymbol(symbol):
			skipped = append(skipped, symbol+" (unknown)")
		default:
			config.Pairs = append(config.Pairs, symbol)
			added = append(added, symbol)
		}
	}

	if len(added) > 0 {
		t.saveConfig(m.Chat.ID, config)
	}

	var parts []string
	if len(added) > 0 {
		parts = append(parts, "Added: "+strings.Join(added, ", "))
	}
	if len(skipped) > 0 {
		parts = append(parts, "Skipped: "+strings.Join(skipped, ", "))
	}
	if len(parts) == 0 {
		t.reply(m, "No valid symbols provided. Use standard symbols like XAUUSD, BTCUSD, V75, etc.")
		return
	}
	t.reply(m, strings.Join(parts, "\n"))
}

func (t *Telegram) removePair(m *tb.Message) {
	config := t.configFor(m.Chat.ID)
	symbol := core.NormalizeSymbol(m.Text)

	idx := -1
	for i, pair := range config.Pairs {
		if pair == symbol {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.reply(m, symbol+" not found in your watchlist.")
		return
	}

	config.Pairs = append(config.Pairs[:idx], config.Pairs[idx+1:]...)
	t.saveConfig(m.Chat.ID, config)
	t.reply(m, symbol+" removed.")
}

func (t *Telegram) setSession(m *tb.Message) {
	session := core.Session(strings.ToUpper(strings.TrimSpace(m.Text)))

	valid := false
	for _, s := range core.ValidSessions {
		if s == session {
			valid = true
			break
		}
	}
	if !valid {
		t.reply(m, "Invalid session. Choose: LONDON, NY, BOTH")
		return
	}

	config := t.configFor(m.Chat.ID)
	config.Session = session
	t.saveConfig(m.Chat.ID, config)
	t.reply(m, "Session set to: "+string(session))
}

// Helpers
// -------

func (t *Telegram) reply(m *tb.Message, text string, options ...any) {
	if _, err := t.client.Send(m.Chat, text, options...); err != nil {
		t.log.WithError(err).Error("failed to send reply")
	}
}

// configFor loads the recipient config, creating defaults on first
// contact
func (t *Telegram) configFor(id int64) core.RecipientConfig {
	config, err := t.recipients.Get(context.Background(), id)
	if err != nil {
		config = core.DefaultRecipientConfig()
		t.saveConfig(id, config)
	}
	return config
}

func (t *Telegram) saveConfig(id int64, config core.RecipientConfig) {
	if err := t.recipients.Save(context.Background(), id, config); err != nil {
		t.log.WithError(err).Errorf("could not save config for %d", id)
	}
}

func (t *Telegram) setState(id int64, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.textState[id] = state
}

// takeState reads and clears the pending input flow for a chat
func (t *Telegram) takeState(id int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.textState[id]
	delete(t.textState, id)
	return state
}

func commandArg(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return strings.Join(fields[1:], " ")
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
