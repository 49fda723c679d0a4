package core

import (
	"time"
)

// Direction represents the directional call of a signal (BUY or SELL)
type Direction string

// Mode represents the execution mode a recipient receives levels for
type Mode string

// Outcome represents the tracked result of a dispatched signal
type Outcome string

// Signal direction constants
const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Execution mode constants
const (
	ModeMarket Mode = "MARKET"
	ModeLimit  Mode = "LIMIT"
)

// Signal outcome constants
const (
	OutcomeOpen Outcome = "OPEN"
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
)

// Signal is a candidate directional call produced by the detector for a
// single (instrument, lower timeframe, higher timeframe) triple.
// It is immutable once produced; a later scan either reproduces an
// equivalent signal or a different one, never an update.
type Signal struct {
	Direction   Direction
	LimitEntry  float64
	LimitStop   float64
	MarketEntry float64
	MarketStop  float64
	TakeProfit  float64
}

// Entry returns the entry price for the given execution mode
func (s Signal) Entry(mode Mode) float64 {
	if mode == ModeLimit {
		return s.LimitEntry
	}
	return s.MarketEntry
}

// Stop returns the stop-loss price for the given execution mode
func (s Signal) Stop(mode Mode) float64 {
	if mode == ModeLimit {
		return s.LimitStop
	}
	return s.MarketStop
}

// SentRecord tracks the last notification dispatched for a
// (recipient, instrument) key, used for dedup and cooldown.
type SentRecord struct {
	Price     float64   `json:"price"`
	Direction Direction `json:"direction"`
	Time      time.Time `json:"time"`
}

// LedgerEntry is a durable row of the signal history table. One entry is
// appended per (instrument, direction) discovered in a scan cycle, and
// mutated exactly once when the resolver settles it to a terminal outcome.
type LedgerEntry struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	Pair       string    `json:"pair" gorm:"column:pair;index"`
	Direction  Direction `json:"direction" gorm:"column:direction"`
	Mode       Mode      `json:"mode" gorm:"column:mode"`
	EntryPrice float64   `json:"entry_price" gorm:"column:entry_price"`
	TakeProfit float64   `json:"tp_price" gorm:"column:tp_price"`
	StopLoss   float64   `json:"sl_price" gorm:"column:sl_price"`

	Outcome    Outcome    `json:"outcome" gorm:"column:outcome;index"`
	ClosePrice float64    `json:"close_price" gorm:"column:close_price"`
	PnLPips    float64    `json:"pnl_pips" gorm:"column:pnl_pips"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at"`
	ClosedAt   *time.Time `json:"closed_at" gorm:"column:closed_at"`
}

// HistoryStats aggregates signal history performance over a window
type HistoryStats struct {
	Total     int
	Wins      int
	Losses    int
	Open      int
	WinRate   float64
	TotalPips float64
	AvgPips   float64
}
