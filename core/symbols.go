package core

import (
	"strings"

	"github.com/StudioSol/set"
)

// KnownSymbols is the registry of instruments the scanner accepts.
// Watchlist entries are normalized and validated against it before
// any fetch or map lookup.
var KnownSymbols = set.NewLinkedHashSetString(
	// Forex
	"XAUUSD", "XAGUSD", "EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "NZDUSD", "USDCAD", "USDCHF",
	"EURGBP", "EURJPY", "GBPJPY", "AUDCAD", "AUDCHF", "CADJPY", "CHFJPY",
	"EURAUD", "EURCAD", "EURCHF", "EURNZD", "GBPAUD", "GBPCAD", "GBPCHF", "GBPNZD",
	"NZDCAD", "NZDCHF", "NZDJPY", "AUDNZD", "AUDJPY",
	// Crypto
	"BTCUSD", "ETHUSD", "SOLUSD", "BTCUSDT", "ETHUSDT", "SOLUSDT",
	// Indices
	"US30", "NAS100", "GER40", "UK100", "US500",
	// Volatility indices
	"V75", "V10", "V25", "V50", "V100",
	"V75_1S", "V10_1S", "V25_1S", "V50_1S", "V100_1S",
	// Boom & Crash
	"BOOM300", "BOOM500", "BOOM1000", "CRASH300", "CRASH500", "CRASH1000",
	// Others
	"STEP_INDEX", "R_10", "R_25", "R_50", "R_75", "R_100",
	"1HZ10V", "1HZ25V", "1HZ50V", "1HZ75V", "1HZ100V",
	"JUMP10", "JUMP25", "JUMP50", "JUMP75", "JUMP100",
)

// DerivKeywords routes instruments to the Deriv backend: a symbol
// containing any of these substrings is fetched over the websocket API,
// everything else goes to the REST backend.
var DerivKeywords = []string{
	"XAU", "XAG", "EUR", "GBP", "JPY", "AUD", "CAD", "NZD", "CHF",
	"R_", "V75", "V10", "V25", "V50", "V100",
	"1S", "1HZ", "FRX", "US30", "NAS", "GER", "UK100",
	"BOOM", "CRASH", "STEP", "JUMP",
}

// AlwaysOpenKeywords marks instrument classes that trade around the clock
// and bypass the weekly market-hours schedule.
var AlwaysOpenKeywords = []string{
	"BTC", "ETH", "SOL", "USDT", "R_",
	"V75", "V10", "V25", "V50", "V100",
	"1HZ", "BOOM", "CRASH", "JUMP", "STEP",
}

// HighPipKeywords maps an instrument class to a pip value of 10 for
// risk-distance conversion.
var HighPipKeywords = []string{
	"JPY", "V75", "V10", "V25", "V50", "V100",
	"R_", "BOOM", "CRASH", "STEP", "JUMP", "1HZ",
	"XAU", "XAG", "US30", "NAS", "GER", "US500", "UK100",
}

// NormalizeSymbol canonicalizes an instrument name: uppercased with
// slashes and surrounding whitespace stripped. Idempotent, applied
// before every lookup.
func NormalizeSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "/", "")
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsKnownSymbol reports whether the normalized instrument is supported
func IsKnownSymbol(symbol string) bool {
	return KnownSymbols.InArray(NormalizeSymbol(symbol))
}

// ContainsAny reports whether the symbol contains any of the keywords
func ContainsAny(symbol string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(symbol, k) {
			return true
		}
	}
	return false
}
