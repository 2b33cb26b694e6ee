package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle single OHLCV candlestick, most-recent-last in sequences.
type Candle struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// Closes extracts closing prices as float64 for the indicator pipeline.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

// SignalState holds the indicator snapshot for one evaluation cycle.
// Recomputed every cycle, never persisted.
type SignalState struct {
	Pair         Pair
	RSI          float64
	MACDHist     float64
	MACDHistPrev float64
	// MACDAvailable is false when there was enough history for RSI but not
	// for MACD; entry decisions then fall back to RSI alone.
	MACDAvailable bool
	Time          time.Time
}
