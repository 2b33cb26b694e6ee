package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testPlan(pair Pair) *LadderPlan {
	plan := &LadderPlan{
		CycleID:     "cycle-1",
		AnchorPrice: decimal.NewFromInt(100),
		CreatedAt:   time.Now(),
	}
	for i, offset := range []string{"99", "97", "95"} {
		price := decimal.RequireFromString(offset)
		plan.Rungs = append(plan.Rungs, Rung{
			Index:    i,
			Price:    price,
			Size:     decimal.NewFromInt(1),
			ClientID: ClientOrderID(pair.Symbol(), plan.CycleID, OrderKindRung, i),
		})
	}
	return plan
}

func TestClientOrderIDDeterministic(t *testing.T) {
	a := ClientOrderID("BTCUSDT", "cycle-1", OrderKindRung, 0)
	b := ClientOrderID("BTCUSDT", "cycle-1", OrderKindRung, 0)
	require.Equal(t, a, b)
	require.True(t, len(a) == len("sw-")+16)

	// any input change produces a different id
	require.NotEqual(t, a, ClientOrderID("BTCUSDT", "cycle-1", OrderKindRung, 1))
	require.NotEqual(t, a, ClientOrderID("BTCUSDT", "cycle-2", OrderKindRung, 0))
	require.NotEqual(t, a, ClientOrderID("ETHUSDT", "cycle-1", OrderKindRung, 0))
	require.NotEqual(t, a, ClientOrderID("BTCUSDT", "cycle-1", OrderKindTakeProfit, 0))
}

func TestPhaseTransitions(t *testing.T) {
	pair := Pair{From: "BTC", To: "USDT"}
	st := NewSymbolState(pair)
	require.Equal(t, PhaseIdle, st.Phase)
	require.False(t, st.CycleActive())

	st.BeginCycle(testPlan(pair), 2)
	require.Equal(t, PhaseAccumulating, st.Phase)
	require.True(t, st.CycleActive())
	require.Len(t, st.Exit.FiredTargets, 2)

	// open buy rung keeps the phase at accumulating
	rung := st.Plan.Rungs[0]
	st.Orders[rung.ClientID] = &OrderRecord{
		ClientID: rung.ClientID,
		Kind:     OrderKindRung,
		Side:     SideBuy,
		Type:     OrderTypeLimit,
		Price:    rung.Price,
		Size:     rung.Size,
		Status:   OrderStatusOpen,
	}
	st.AdvancePhase()
	require.Equal(t, PhaseAccumulating, st.Phase)

	// rung fills, position opens, no open buys left: holding
	st.Orders[rung.ClientID].Status = OrderStatusFilled
	st.Orders[rung.ClientID].Filled = rung.Size
	_, err := st.Position.ApplyFill(pair.Symbol(), Fill{
		ClientID: rung.ClientID, Side: SideBuy, Price: rung.Price, Size: rung.Size,
	})
	require.NoError(t, err)
	st.AdvancePhase()
	require.Equal(t, PhaseHolding, st.Phase)

	// live sell order: exiting
	sellID := ClientOrderID(pair.Symbol(), st.CycleID, OrderKindTakeProfit, 0)
	st.Orders[sellID] = &OrderRecord{
		ClientID: sellID,
		Kind:     OrderKindTakeProfit,
		Side:     SideSell,
		Type:     OrderTypeLimit,
		Price:    decimal.NewFromInt(105),
		Size:     rung.Size,
		Status:   OrderStatusOpen,
	}
	st.AdvancePhase()
	require.Equal(t, PhaseExiting, st.Phase)

	// sell fills flat with all orders terminal: cycle resets to idle
	st.Orders[sellID].Status = OrderStatusFilled
	st.Orders[sellID].Filled = rung.Size
	_, err = st.Position.ApplyFill(pair.Symbol(), Fill{
		ClientID: sellID, Side: SideSell, Price: decimal.NewFromInt(105), Size: rung.Size,
	})
	require.NoError(t, err)
	st.AdvancePhase()
	require.Equal(t, PhaseIdle, st.Phase)
	require.Empty(t, st.CycleID)
	require.Nil(t, st.Plan)
	require.Empty(t, st.Orders)
}

func TestAdvancePhaseNotSettledBeforeSubmission(t *testing.T) {
	pair := Pair{From: "BTC", To: "USDT"}
	st := NewSymbolState(pair)
	st.BeginCycle(testPlan(pair), 1)

	// flat position with no orders submitted yet must stay in the cycle
	st.AdvancePhase()
	require.True(t, st.CycleActive())
}

func TestAdvancePhaseAllRungsRejected(t *testing.T) {
	pair := Pair{From: "BTC", To: "USDT"}
	st := NewSymbolState(pair)
	plan := testPlan(pair)
	st.BeginCycle(plan, 1)

	for _, rung := range plan.Rungs {
		st.Orders[rung.ClientID] = &OrderRecord{
			ClientID: rung.ClientID,
			Side:     SideBuy,
			Status:   OrderStatusRejected,
		}
	}

	// nothing bought and nothing can fill anymore: cycle ends
	st.AdvancePhase()
	require.Equal(t, PhaseIdle, st.Phase)
}
