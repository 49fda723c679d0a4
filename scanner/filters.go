// Package scanner drives the scan-evaluate-dispatch-track loop and its
// eligibility filters: trading session, weekly market hours and the
// economic-calendar news blackout.
package scanner

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/clexe/sniper/core"
)

// InSession reports whether the time falls inside a recipient's
// configured session window (UTC hours, inclusive)
func InSession(session core.Session, now time.Time) bool {
	hour := now.UTC().Hour()
	switch session {
	case core.SessionLondon:
		return hour >= 8 && hour <= 16
	case core.SessionNY:
		return hour >= 13 && hour <= 21
	}
	return true // BOTH
}

// IsMarketOpen applies the weekly forex schedule: closed from Friday
// 21:00 UTC through Sunday 21:00 UTC. Always-open instrument classes
// bypass the schedule entirely.
func IsMarketOpen(instrument string, now time.Time) bool {
	clean := strings.ToUpper(instrument)
	if core.ContainsAny(clean, core.AlwaysOpenKeywords) {
		return true
	}

	utc := now.UTC()
	weekday := utc.Weekday()
	hour := utc.Hour()

	switch {
	case weekday == time.Friday && hour >= 21:
		return false
	case weekday == time.Saturday:
		return false
	case weekday == time.Sunday && hour < 21:
		return false
	}
	return true
}

const newsCalendarURL = "https://nfs.faireconomy.media/ff_calendar_thisweek.xml"

// newsEvent is one scheduled calendar event after parsing
type newsEvent struct {
	Currency string
	Time     time.Time
}

type calendarXML struct {
	Events []struct {
		Country string `xml:"country"`
		Impact  string `xml:"impact"`
		Date    string `xml:"date"`
		Time    string `xml:"time"`
	} `xml:"event"`
}

// NewsFilter caches high/medium-impact calendar events and reports
// blackout windows around them. The cache refreshes lazily on a fixed
// TTL; a refresh failure keeps the previous cache.
type NewsFilter struct {
	settings core.NewsSettings
	client   *http.Client
	url      string
	log      core.Logger

	mu        sync.Mutex
	events    []newsEvent
	lastFetch time.Time
}

// NewsOption configures a NewsFilter
type NewsOption func(*NewsFilter)

// WithNewsURL overrides the calendar endpoint, used in tests
func WithNewsURL(url string) NewsOption {
	return func(f *NewsFilter) {
		f.url = url
	}
}

// NewNewsFilter creates the calendar blackout filter
func NewNewsFilter(settings core.NewsSettings, log core.Logger, options ...NewsOption) *NewsFilter {
	f := &NewsFilter{
		settings: settings,
		client:   &http.Client{Timeout: 10 * time.Second},
		url:      newsCalendarURL,
		log:      log.WithField("component", "news"),
	}

	for _, option := range options {
		option(f)
	}

	return f
}

// Blackout reports whether the instrument is inside the blackout window
// of any cached impactful event for one of its implied currencies.
// Disabled filters never report a blackout.
func (f *NewsFilter) Blackout(ctx context.Context, instrument string, now time.Time) bool {
	if !f.settings.Enabled {
		return false
	}

	f.refresh(ctx, now)

	currencies := impliedCurrencies(instrument)
	if len(currencies) == 0 {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, event := range f.events {
		if !currencies[event.Currency] {
			continue
		}
		diff := event.Time.Sub(now)
		if diff >= -f.settings.Blackout && diff <= f.settings.Blackout {
			return true
		}
	}
	return false
}

// impliedCurrencies extracts the currency codes an instrument exposes
// to calendar risk. Gold is treated as a USD instrument.
func impliedCurrencies(instrument string) map[string]bool {
	clean := strings.ToUpper(instrument)
	currencies := make(map[string]bool)
	for _, code := range []string{"USD", "EUR", "GBP", "JPY", "AUD", "NZD", "CAD", "CHF"} {
		if strings.Contains(clean, code) {
			currencies[code] = true
		}
	}
	if strings.Contains(clean, "XAU") {
		currencies["USD"] = true
	}
	return currencies
}

// refresh re-fetches the calendar when the cache TTL has expired
func (f *NewsFilter) refresh(ctx context.Context, now time.Time) {
	f.mu.Lock()
	if now.Sub(f.lastFetch) < f.settings.CacheTTL {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	events, err := f.fetch(ctx)
	if err != nil {
		f.log.WithError(err).Warn("news fetch failed, keeping cached events")
		return
	}

	f.mu.Lock()
	f.events = events
	f.lastFetch = now
	f.mu.Unlock()

	f.log.Infof("fetched %d news events", len(events))
}

func (f *NewsFilter) fetch(ctx context.Context) ([]newsEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news request: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return f.parse(body)
}

// parse decodes the weekly calendar XML, keeping only impactful events
// with a concrete clock time
func (f *NewsFilter) parse(body []byte) ([]newsEvent, error) {
	var calendar calendarXML
	if err := xml.Unmarshal(body, &calendar); err != nil {
		return nil, fmt.Errorf("news parse: %w", err)
	}

	impacts := make(map[string]bool, len(f.settings.Impacts))
	for _, impact := range f.settings.Impacts {
		impacts[impact] = true
	}

	var events []newsEvent
	for _, raw := range calendar.Events {
		if !impacts[raw.Impact] {
			continue
		}

		timeStr := strings.TrimSpace(raw.Time)
		if !strings.Contains(timeStr, "am") && !strings.Contains(timeStr, "pm") {
			// all-day and tentative entries carry no clock time
			continue
		}

		when, err := parseEventTime(strings.TrimSpace(raw.Date), timeStr)
		if err != nil {
			f.log.Warnf("unparseable news date: %s %s", raw.Date, timeStr)
			continue
		}

		events = append(events, newsEvent{Currency: raw.Country, Time: when})
	}

	return events, nil
}

func parseEventTime(date, clock string) (time.Time, error) {
	combined := date + " " + clock
	for _, layout := range []string{"01-02-2006 3:04pm", "2006-01-02 3:04pm"} {
		if when, err := time.Parse(layout, combined); err == nil {
			return when, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matched %q", combined)
}
