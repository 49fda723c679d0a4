package scanner

import (
	"fmt"
	"math"

	"github.com/clexe/sniper/core"
)

// FormatSignal renders the notification text for a signal in the
// recipient's execution mode: direction, mode label, levels at five
// decimals and the reward:risk ratio.
func FormatSignal(signal *core.Signal, instrument string, mode core.Mode) string {
	entry := signal.Entry(mode)
	stop := signal.Stop(mode)

	emoji := "🚨"
	if mode == core.ModeLimit {
		emoji = "🎯"
	}

	risk := math.Abs(entry - stop)
	reward := math.Abs(signal.TakeProfit - entry)
	ratio := "N/A"
	if risk > 0 {
		ratio = fmt.Sprintf("%.1f", reward/risk)
	}

	return fmt.Sprintf(
		"%s *SMC SIGNAL (%s)*\n"+
			"Symbol: `%s`\n"+
			"Action: *%s %s*\n"+
			"Entry: `%.5f`\n"+
			"TP: `%.5f` | SL: `%.5f`\n"+
			"R:R = *1:%s*",
		emoji, mode, instrument, signal.Direction, mode,
		entry, signal.TakeProfit, stop, ratio)
}
