// Package indicators provides the technical indicators used for entries
// (RSI with Wilder smoothing, MACD histogram).
package indicators

import (
	"errors"
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

// ErrInsufficientData is returned when the candle history is shorter than an
// indicator requires. Callers skip the cycle and retry on the next poll.
var ErrInsufficientData = errors.New("insufficient candle data")

const macdMinPoints = 35 // slow EMA (26) + signal EMA (9) warmup

// RSI computes the Relative Strength Index over the full close history using
// Wilder's smoothing: the first average gain/loss is a simple mean over
// `period` deltas, every later one is (avg*(period-1) + delta) / period.
// Re-deriving from the same candle history always reproduces the same value,
// which keeps trading decisions stable across restarts.
func RSI(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("rsi period must be >= 1, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("%w: rsi(%d) needs %d closes, got %d",
			ErrInsufficientData, period, period+1, len(closes))
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		var g, l float64
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// MACDHist returns the last two MACD histogram values (hist = macd - signal)
// using the standard 12/26/9 parameters. The caller compares them to detect a
// rising histogram.
func MACDHist(closes []float64) (last, prev float64, err error) {
	if len(closes) < macdMinPoints {
		return 0, 0, fmt.Errorf("%w: macd needs %d closes, got %d",
			ErrInsufficientData, macdMinPoints, len(closes))
	}

	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(helper.SliceToChan(closes))

	// drain both channels concurrently to avoid blocking the producer
	var signalLine []float64
	done := make(chan struct{})
	go func() {
		signalLine = helper.ChanToSlice(signalChan)
		close(done)
	}()
	macdLine := helper.ChanToSlice(macdChan)
	<-done

	// the signal line warms up later than the macd line; align tails
	n := len(macdLine)
	if len(signalLine) < n {
		n = len(signalLine)
	}
	if n < 2 {
		return 0, 0, fmt.Errorf("%w: macd produced %d aligned points", ErrInsufficientData, n)
	}
	macdLine = macdLine[len(macdLine)-n:]
	signalLine = signalLine[len(signalLine)-n:]

	last = macdLine[n-1] - signalLine[n-1]
	prev = macdLine[n-2] - signalLine[n-2]
	return last, prev, nil
}
