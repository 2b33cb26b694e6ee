package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ConsistencyError signals a divergence between local state and
// exchange-reported reality that must not be papered over, e.g. a sell fill
// exceeding the tracked position size. The symbol's cycle is halted until an
// operator intervenes.
type ConsistencyError struct {
	Symbol string
	Msg    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error for %s: %s", e.Symbol, e.Msg)
}

// PositionState is the authoritative cost-basis ledger for one symbol.
// AvgEntryPrice is zero (undefined) whenever Size is zero.
type PositionState struct {
	Size          decimal.Decimal `json:"size"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	// BoughtSize is the cumulative buy volume of the current cycle; take
	// profit targets are sized as fractions of it.
	BoughtSize decimal.Decimal `json:"bought_size"`
	// Realized accumulates realized P&L (quote units) for the current cycle.
	Realized decimal.Decimal `json:"realized"`
}

// ApplyFill folds one confirmed fill into the position. For buys the average
// entry is recomputed as the size-weighted mean; for sells the size decreases
// and realized P&L accrues at (price - avg_entry) * size, average unchanged.
// Returns the realized P&L delta of this fill (zero for buys).
func (p *PositionState) ApplyFill(symbol string, f Fill) (decimal.Decimal, error) {
	if f.Size.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("fill size must be positive, got %s", f.Size.String())
	}

	switch f.Side {
	case SideBuy:
		newSize := p.Size.Add(f.Size)
		weighted := p.AvgEntryPrice.Mul(p.Size).Add(f.Price.Mul(f.Size))
		p.AvgEntryPrice = weighted.Div(newSize)
		p.Size = newSize
		p.BoughtSize = p.BoughtSize.Add(f.Size)
		return decimal.Zero, nil

	case SideSell:
		if f.Size.GreaterThan(p.Size) {
			return decimal.Zero, &ConsistencyError{
				Symbol: symbol,
				Msg: fmt.Sprintf("sell fill %s exceeds tracked size %s (order %s)",
					f.Size.String(), p.Size.String(), f.ClientID),
			}
		}
		realized := f.Price.Sub(p.AvgEntryPrice).Mul(f.Size)
		p.Size = p.Size.Sub(f.Size)
		p.Realized = p.Realized.Add(realized)
		if p.Size.IsZero() {
			p.AvgEntryPrice = decimal.Zero
		}
		return realized, nil

	default:
		return decimal.Zero, fmt.Errorf("unknown fill side %q", f.Side)
	}
}

// Flat reports whether the position is closed.
func (p *PositionState) Flat() bool {
	return p.Size.IsZero()
}

// UnrealizedUSD returns mark-to-market P&L at the given price.
func (p *PositionState) UnrealizedUSD(price decimal.Decimal) decimal.Decimal {
	if p.Flat() {
		return decimal.Zero
	}
	return price.Sub(p.AvgEntryPrice).Mul(p.Size)
}
