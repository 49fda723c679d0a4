package core

import (
	"strconv"
	"time"
)

// Candle represents a single OHLC bar for an instrument.
// Series of candles are always ordered oldest first.
type Candle struct {
	Pair  string
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// IsEmpty checks if the candle contains no significant data
func (c Candle) IsEmpty() bool {
	return c.Pair == "" && c.Open == 0 && c.Close == 0
}

// ToSlice converts a candle to a string slice for serialization
// with the specified decimal precision
func (c Candle) ToSlice(precision int) []string {
	return []string{
		strconv.FormatInt(c.Time.Unix(), 10),
		strconv.FormatFloat(c.Open, 'f', precision, 64),
		strconv.FormatFloat(c.High, 'f', precision, 64),
		strconv.FormatFloat(c.Low, 'f', precision, 64),
		strconv.FormatFloat(c.Close, 'f', precision, 64),
	}
}

// Opens extracts the open prices of a candle series, oldest first
func Opens(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = c.Open
	}
	return out
}

// Highs extracts the high prices of a candle series, oldest first
func Highs(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low prices of a candle series, oldest first
func Lows(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Closes extracts the close prices of a candle series, oldest first
func Closes(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
