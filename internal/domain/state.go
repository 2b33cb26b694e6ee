package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CyclePhase is the per-symbol position state machine:
// Idle → Accumulating → Holding → Exiting → Idle.
type CyclePhase string

const (
	PhaseIdle         CyclePhase = "idle"
	PhaseAccumulating CyclePhase = "accumulating"
	PhaseHolding      CyclePhase = "holding"
	PhaseExiting      CyclePhase = "exiting"
)

// SymbolState is the durable per-symbol record: everything needed to survive
// a restart without duplicating orders or losing cost basis. SignalState and
// pre-fill ladder plans are deliberately absent, they are recomputed.
type SymbolState struct {
	Pair       Pair                    `json:"pair"`
	Phase      CyclePhase              `json:"phase"`
	CycleID    string                  `json:"cycle_id,omitempty"`
	CycleStart time.Time               `json:"cycle_start,omitempty"`
	Plan       *LadderPlan             `json:"plan,omitempty"`
	Orders     map[string]*OrderRecord `json:"orders"`
	Position   PositionState           `json:"position"`
	Exit       ExitState               `json:"exit"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// NewSymbolState returns an idle state for the pair.
func NewSymbolState(pair Pair) *SymbolState {
	return &SymbolState{
		Pair:   pair,
		Phase:  PhaseIdle,
		Orders: make(map[string]*OrderRecord),
		Position: PositionState{
			Size:          decimal.Zero,
			AvgEntryPrice: decimal.Zero,
			BoughtSize:    decimal.Zero,
			Realized:      decimal.Zero,
		},
	}
}

// CycleActive reports whether a position cycle is in progress: either a
// ladder has been placed or the position is non-zero.
func (s *SymbolState) CycleActive() bool {
	return s.Phase != PhaseIdle
}

// OpenBuyOrders returns the buy orders still live on the exchange.
func (s *SymbolState) OpenBuyOrders() []*OrderRecord {
	var out []*OrderRecord
	for _, o := range s.Orders {
		if o.Side != SideBuy {
			continue
		}
		switch o.Status {
		case OrderStatusOpen, OrderStatusPartiallyFilled:
			out = append(out, o)
		}
	}
	return out
}

// ResetCycle clears cycle-scoped state after the position returns to zero.
func (s *SymbolState) ResetCycle() {
	s.Phase = PhaseIdle
	s.CycleID = ""
	s.CycleStart = time.Time{}
	s.Plan = nil
	s.Orders = make(map[string]*OrderRecord)
	s.Position = PositionState{
		Size:          decimal.Zero,
		AvgEntryPrice: decimal.Zero,
		BoughtSize:    decimal.Zero,
		Realized:      decimal.Zero,
	}
	s.Exit = ExitState{}
}

// BeginCycle installs a freshly planned ladder and advances the state machine
// out of Idle. The plan's cycle id must be persisted before any submission.
func (s *SymbolState) BeginCycle(plan *LadderPlan, targets int) {
	s.Phase = PhaseAccumulating
	s.CycleID = plan.CycleID
	s.CycleStart = plan.CreatedAt
	s.Plan = plan
	s.Exit = NewExitState(targets)
}

// AdvancePhase recomputes the phase from current orders and position. Called
// once per cycle after fills and exits are applied.
func (s *SymbolState) AdvancePhase() {
	if s.Phase == PhaseIdle {
		return
	}
	if s.Position.Flat() && s.settled() {
		s.ResetCycle()
		return
	}
	for _, o := range s.Orders {
		if o.Side == SideSell && !o.Status.Terminal() && o.Status != OrderStatusPending {
			s.Phase = PhaseExiting
			return
		}
	}
	if len(s.OpenBuyOrders()) > 0 {
		s.Phase = PhaseAccumulating
		return
	}
	if !s.Position.Flat() {
		s.Phase = PhaseHolding
	}
}

// settled reports whether every order of the cycle reached a terminal state.
// An empty order set is not settled: the ladder has not been submitted yet.
func (s *SymbolState) settled() bool {
	if len(s.Orders) == 0 {
		return false
	}
	for _, o := range s.Orders {
		if !o.Status.Terminal() {
			return false
		}
	}
	return true
}
