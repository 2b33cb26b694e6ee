package signal

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"swingbot/internal/domain"
	"swingbot/pkg/indicators"
)

// Evaluator computes entry signals from closed candles. The primary trigger
// is RSI dropping below the configured threshold; when enough history exists
// the MACD histogram acts as confirmation, requiring downside momentum to be
// fading (histogram rising) before a new cycle may start.
type Evaluator struct {
	rsiPeriod    int
	rsiThreshold float64
	logger       *zap.Logger
}

func NewEvaluator(rsiPeriod int, rsiThreshold float64, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		rsiPeriod:    rsiPeriod,
		rsiThreshold: rsiThreshold,
		logger:       logger,
	}
}

// Evaluate computes indicator state from the candle history. Candles must be
// ordered oldest first and contain only closed candles. Returns
// indicators.ErrInsufficientData when history is too short for RSI.
func (e *Evaluator) Evaluate(pair domain.Pair, candles []domain.Candle) (domain.SignalState, error) {
	if len(candles) == 0 {
		return domain.SignalState{}, errors.New("no candles")
	}

	closes := domain.Closes(candles)

	rsi, err := indicators.RSI(closes, e.rsiPeriod)
	if err != nil {
		return domain.SignalState{}, errors.Wrapf(err, "rsi for %s", pair.String())
	}

	state := domain.SignalState{
		Pair: pair,
		RSI:  rsi,
		Time: candles[len(candles)-1].CloseTime,
	}

	// MACD confirmation is best effort: on short history trade on RSI alone
	hist, prev, err := indicators.MACDHist(closes)
	if err == nil {
		state.MACDHist = hist
		state.MACDHistPrev = prev
		state.MACDAvailable = true
	} else if !errors.Is(err, indicators.ErrInsufficientData) {
		return domain.SignalState{}, errors.Wrapf(err, "macd for %s", pair.String())
	}

	return state, nil
}

// Entry reports whether the state warrants starting a new accumulation cycle.
func (e *Evaluator) Entry(s domain.SignalState) bool {
	if s.RSI >= e.rsiThreshold {
		return false
	}
	if s.MACDAvailable && s.MACDHist <= s.MACDHistPrev {
		e.logger.Debug("entry suppressed by macd",
			zap.String("pair", s.Pair.String()),
			zap.Float64("rsi", s.RSI),
			zap.Float64("macd_hist", s.MACDHist),
			zap.Float64("macd_hist_prev", s.MACDHistPrev))
		return false
	}
	return true
}
