package planner

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"swingbot/internal/domain"
)

// Config describes how to lay out the DCA ladder for one symbol. Either the
// explicit offsets/sizes pair is set, or the generator triple (RungCount,
// SpacingPercent, BudgetUSD) is.
type Config struct {
	OffsetsPercent []float64 // percent below anchor per rung, e.g. [1, 3, 5]
	SizesUSD       []float64 // quote to spend per rung, same length as offsets
	RungCount      int
	SpacingPercent float64
	BudgetUSD      float64
	MinNotionalUSD float64
}

// Planner lays out ladder plans. Stateless; the cycle identity lives in
// SymbolState.
type Planner struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Planner, error) {
	if len(cfg.OffsetsPercent) > 0 {
		if len(cfg.OffsetsPercent) != len(cfg.SizesUSD) {
			return nil, errors.Errorf("ladder offsets (%d) and sizes (%d) must have equal length",
				len(cfg.OffsetsPercent), len(cfg.SizesUSD))
		}
		for i, off := range cfg.OffsetsPercent {
			if off <= 0 || off >= 100 {
				return nil, errors.Errorf("ladder offset %d: %.2f%% must be in (0, 100), the rung price goes non-positive otherwise", i, off)
			}
		}
	} else {
		if cfg.RungCount <= 0 || cfg.SpacingPercent <= 0 || cfg.BudgetUSD <= 0 {
			return nil, errors.New("ladder needs explicit offsets/sizes or rung_count+spacing_percent+budget_usd")
		}
		if cfg.SpacingPercent*float64(cfg.RungCount) >= 100 {
			return nil, errors.Errorf("ladder spacing %.2f%% over %d rungs reaches 100%% below anchor",
				cfg.SpacingPercent, cfg.RungCount)
		}
	}
	return &Planner{cfg: cfg, logger: logger}, nil
}

// Plan returns the ladder for the current cycle. An active cycle always gets
// its stored plan back untouched: the ladder is fixed once any rung has been
// placed. With no active cycle, a fresh plan is laid out against the anchor
// price with a newly generated cycle id. The caller must persist the returned
// plan before submitting anything from it.
func (p *Planner) Plan(st *domain.SymbolState, anchor decimal.Decimal, now time.Time) (*domain.LadderPlan, error) {
	if st.CycleActive() {
		return st.Plan, nil
	}
	if anchor.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Errorf("non-positive anchor price %s", anchor.String())
	}

	offsets, sizes := p.layout()
	sizes = mergeBelowMin(sizes, p.cfg.MinNotionalUSD)
	if sizes == nil {
		p.logger.Warn("every ladder rung below min notional, skipping cycle",
			zap.String("pair", st.Pair.String()),
			zap.Float64("min_notional_usd", p.cfg.MinNotionalUSD))
		return nil, nil
	}

	cycleID := uuid.NewString()
	plan := &domain.LadderPlan{
		CycleID:     cycleID,
		AnchorPrice: anchor,
		CreatedAt:   now,
	}

	hundred := decimal.NewFromInt(100)
	for i := range offsets {
		if sizes[i] == 0 {
			continue // merged away
		}
		off := decimal.NewFromFloat(offsets[i])
		price := anchor.Mul(decimal.NewFromInt(1).Sub(off.Div(hundred)))
		size := decimal.NewFromFloat(sizes[i]).DivRound(price, 8)
		plan.Rungs = append(plan.Rungs, domain.Rung{
			Index:    i,
			Price:    price,
			Size:     size,
			ClientID: domain.ClientOrderID(st.Pair.Symbol(), cycleID, domain.OrderKindRung, i),
		})
	}

	p.logger.Info("ladder planned",
		zap.String("pair", st.Pair.String()),
		zap.String("cycle_id", cycleID),
		zap.String("anchor", anchor.String()),
		zap.Int("rungs", len(plan.Rungs)))

	return plan, nil
}

func (p *Planner) layout() (offsets, sizes []float64) {
	if len(p.cfg.OffsetsPercent) > 0 {
		offsets = append(offsets, p.cfg.OffsetsPercent...)
		sizes = append(sizes, p.cfg.SizesUSD...)
		return offsets, sizes
	}
	per := p.cfg.BudgetUSD / float64(p.cfg.RungCount)
	for i := 0; i < p.cfg.RungCount; i++ {
		offsets = append(offsets, p.cfg.SpacingPercent*float64(i+1))
		sizes = append(sizes, per)
	}
	return offsets, sizes
}

// mergeBelowMin folds rungs whose quote size is under the exchange minimum
// into the nearest rung that clears it, preferring the closer index and the
// earlier rung on ties. Merged slots are zeroed, not removed, so rung indexes
// stay stable. Returns nil when no rung clears the minimum.
func mergeBelowMin(sizes []float64, minNotional float64) []float64 {
	if minNotional <= 0 {
		return sizes
	}

	out := append([]float64(nil), sizes...)
	anyAbove := false
	for _, s := range out {
		if s >= minNotional {
			anyAbove = true
			break
		}
	}
	if !anyAbove {
		return nil
	}

	for i, s := range out {
		if s == 0 || s >= minNotional {
			continue
		}
		target := -1
		for j := range out {
			if j == i || out[j] < minNotional {
				continue
			}
			if target == -1 || abs(j-i) < abs(target-i) {
				target = j
			}
		}
		out[target] += s
		out[i] = 0
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
