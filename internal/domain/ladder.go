package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rung is one planned limit buy within a DCA ladder.
type Rung struct {
	Index    int             `json:"index"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"` // base units
	ClientID string          `json:"client_id"`
}

// LadderPlan is the target set of DCA buy orders for one position cycle.
// Generated fresh while the ladder is inactive, held fixed once any rung is
// placed until the cycle ends.
type LadderPlan struct {
	CycleID     string          `json:"cycle_id"`
	AnchorPrice decimal.Decimal `json:"anchor_price"`
	CreatedAt   time.Time       `json:"created_at"`
	Rungs       []Rung          `json:"rungs"`
}

// NotionalUSD returns price*size for a rung.
func (r Rung) NotionalUSD() decimal.Decimal {
	return r.Price.Mul(r.Size)
}
