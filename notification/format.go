package notification

import (
	"fmt"
	"strings"

	"github.com/clexe/sniper/core"

	"github.com/olekukonko/tablewriter"
)

// formatStats renders the 30-day performance summary
func formatStats(stats core.HistoryStats) string {
	closed := stats.Wins + stats.Losses
	return fmt.Sprintf(
		"*Signal Performance (30d)*\n\n"+
			"Total Signals: %d\n"+
			"Open: %d\n"+
			"Closed: %d\n"+
			"Wins: %d | Losses: %d\n"+
			"Win Rate: *%.1f%%*\n"+
			"Total P&L: *%.1f pips*\n"+
			"Avg P&L: %.1f pips/trade",
		stats.Total, stats.Open, closed, stats.Wins, stats.Losses,
		stats.WinRate, stats.TotalPips, stats.AvgPips)
}

// formatHistory renders recent entries as a monospace table
func formatHistory(entries []core.LedgerEntry) string {
	var sb strings.Builder

	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Date", "Dir", "Pair", "Result", "Pips"})
	table.SetBorder(false)
	table.SetColumnSeparator(" ")

	for _, entry := range entries {
		result := string(entry.Outcome)
		pips := "open"
		if entry.Outcome != core.OutcomeOpen {
			pips = fmt.Sprintf("%+.1f", entry.PnLPips)
		}
		table.Append([]string{
			entry.CreatedAt.Format("01-02 15:04"),
			string(entry.Direction),
			entry.Pair,
			result,
			pips,
		})
	}
	table.Render()

	return "*Recent Signals*\n```\n" + sb.String() + "```"
}
