package exits

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"swingbot/internal/domain"
)

// Target is one take-profit level: sell Fraction of the cycle's bought size
// once price reaches OffsetPercent above the average entry.
type Target struct {
	OffsetPercent float64
	Fraction      float64
}

// Config holds the exit rules for one symbol. StopPrice is an absolute
// level; StopPercent is a percent below average entry. At most one of the
// two is set, zero values disable the stop.
type Config struct {
	Targets     []Target
	StopPrice   decimal.Decimal
	StopPercent float64
}

// Evaluator decides when to place exit orders. It only appends pending
// records to the symbol state; submission is the reconciler's job.
type Evaluator struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Evaluator, error) {
	for i, t := range cfg.Targets {
		if t.OffsetPercent <= 0 || t.Fraction <= 0 || t.Fraction > 1 {
			return nil, errors.Errorf("take profit target %d: offset must be > 0 and fraction in (0, 1]", i)
		}
		if i > 0 && t.OffsetPercent <= cfg.Targets[i-1].OffsetPercent {
			return nil, errors.Errorf("take profit targets must be in ascending offset order")
		}
	}
	return &Evaluator{cfg: cfg, logger: logger}, nil
}

// Targets returns the number of configured take-profit levels.
func (e *Evaluator) Targets() int { return len(e.cfg.Targets) }

// Evaluate checks the current price against the unfired exits and appends
// pending sell records to st.Orders. Each target and the stop fire at most
// once per cycle. Returns true when the stop fired, which obliges the caller
// to cancel the remaining buy rungs.
func (e *Evaluator) Evaluate(st *domain.SymbolState, price decimal.Decimal) bool {
	if st.Position.Flat() || st.CycleID == "" {
		return false
	}
	avg := st.Position.AvgEntryPrice
	hundred := decimal.NewFromInt(100)

	if st.Exit.StopFired {
		// the position is being torn down; no further targets, but buy
		// fills that raced the ladder cancellation still need selling
		e.SweepResidue(st)
		return false
	}

	if level, ok := e.stopLevel(avg); ok && price.LessThan(level) {
		size := e.available(st)
		if size.IsPositive() {
			clientID := domain.ClientOrderID(st.Pair.Symbol(), st.CycleID, domain.OrderKindStop, 0)
			st.Orders[clientID] = &domain.OrderRecord{
				ClientID:  clientID,
				Kind:      domain.OrderKindStop,
				Side:      domain.SideSell,
				Type:      domain.OrderTypeMarket,
				Size:      size,
				Status:    domain.OrderStatusPending,
				UpdatedAt: time.Now(),
			}
		}
		st.Exit.StopFired = true
		e.logger.Warn("stop fired",
			zap.String("pair", st.Pair.String()),
			zap.String("price", price.String()),
			zap.String("stop_level", level.String()),
			zap.String("size", size.String()))
		return true
	}

	for i, t := range e.cfg.Targets {
		if st.Exit.TargetFired(i) {
			continue
		}
		targetPrice := avg.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(t.OffsetPercent).Div(hundred)))
		if price.LessThan(targetPrice) {
			break // targets ascend, nothing further can be reached
		}

		size := decimal.NewFromFloat(t.Fraction).Mul(st.Position.BoughtSize)
		if avail := e.available(st); size.GreaterThan(avail) {
			size = avail
		}
		if !size.IsPositive() {
			continue
		}

		clientID := domain.ClientOrderID(st.Pair.Symbol(), st.CycleID, domain.OrderKindTakeProfit, i)
		st.Orders[clientID] = &domain.OrderRecord{
			ClientID:  clientID,
			Kind:      domain.OrderKindTakeProfit,
			Index:     i,
			Side:      domain.SideSell,
			Type:      domain.OrderTypeLimit,
			Price:     targetPrice,
			Size:      size,
			Status:    domain.OrderStatusPending,
			UpdatedAt: time.Now(),
		}
		st.Exit.MarkTargetFired(i)
		e.logger.Info("take profit fired",
			zap.String("pair", st.Pair.String()),
			zap.Int("target", i),
			zap.String("price", targetPrice.String()),
			zap.String("size", size.String()))
	}

	return false
}

// SweepResidue sells whatever part of the position the stop order does not
// cover. The stop sell is sized before the remaining buy rungs are cancelled,
// and a cancel can race a fill, so the position may grow after the stop
// fired. While the stop order is still pending its size is simply grown;
// once it is on the exchange a follow-up market sell goes out under the next
// stop index, so the id stays deterministic. Idempotent, a no-op when the
// whole position is already committed to sell orders.
func (e *Evaluator) SweepResidue(st *domain.SymbolState) {
	if !st.Exit.StopFired || st.Position.Flat() {
		return
	}
	residue := e.available(st)
	if !residue.IsPositive() {
		return
	}

	next := 0
	for _, o := range st.Orders {
		if o.Kind != domain.OrderKindStop {
			continue
		}
		if o.Status == domain.OrderStatusPending {
			o.Size = o.Size.Add(residue)
			o.UpdatedAt = time.Now()
			return
		}
		if o.Index >= next {
			next = o.Index + 1
		}
	}

	clientID := domain.ClientOrderID(st.Pair.Symbol(), st.CycleID, domain.OrderKindStop, next)
	st.Orders[clientID] = &domain.OrderRecord{
		ClientID:  clientID,
		Kind:      domain.OrderKindStop,
		Index:     next,
		Side:      domain.SideSell,
		Type:      domain.OrderTypeMarket,
		Size:      residue,
		Status:    domain.OrderStatusPending,
		UpdatedAt: time.Now(),
	}
	e.logger.Warn("selling residue left after stop",
		zap.String("pair", st.Pair.String()),
		zap.String("size", residue.String()),
		zap.Int("stop_index", next))
}

func (e *Evaluator) stopLevel(avg decimal.Decimal) (decimal.Decimal, bool) {
	if e.cfg.StopPrice.IsPositive() {
		return e.cfg.StopPrice, true
	}
	if e.cfg.StopPercent > 0 && avg.IsPositive() {
		hundred := decimal.NewFromInt(100)
		return avg.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(e.cfg.StopPercent).Div(hundred))), true
	}
	return decimal.Zero, false
}

// available is the position size not yet committed to unfilled sell orders.
func (e *Evaluator) available(st *domain.SymbolState) decimal.Decimal {
	committed := decimal.Zero
	for _, o := range st.Orders {
		if o.Side != domain.SideSell || o.Status.Terminal() {
			continue
		}
		committed = committed.Add(o.Size.Sub(o.Filled))
	}
	return st.Position.Size.Sub(committed)
}
