package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func buyFill(price, size string) Fill {
	return Fill{
		Side:  SideBuy,
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
		Time:  time.Now(),
	}
}

func sellFill(price, size string) Fill {
	return Fill{
		Side:  SideSell,
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
		Time:  time.Now(),
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	p := PositionState{}

	fills := []Fill{
		buyFill("100", "1"),
		buyFill("97", "0.5"),
		buyFill("95", "2"),
	}
	for _, f := range fills {
		_, err := p.ApplyFill("BTCUSDT", f)
		require.NoError(t, err)
	}

	// naive size-weighted mean over all buy fills
	totalCost := decimal.Zero
	totalSize := decimal.Zero
	for _, f := range fills {
		totalCost = totalCost.Add(f.Price.Mul(f.Size))
		totalSize = totalSize.Add(f.Size)
	}
	want := totalCost.Div(totalSize)

	require.True(t, p.AvgEntryPrice.Equal(want),
		"avg %s, want %s", p.AvgEntryPrice, want)
	require.True(t, p.Size.Equal(totalSize))
	require.True(t, p.BoughtSize.Equal(totalSize))
}

func TestApplyFillSellRealizes(t *testing.T) {
	p := PositionState{}

	_, err := p.ApplyFill("BTCUSDT", buyFill("100", "2"))
	require.NoError(t, err)

	realized, err := p.ApplyFill("BTCUSDT", sellFill("110", "1"))
	require.NoError(t, err)
	require.True(t, realized.Equal(decimal.NewFromInt(10)), "realized %s", realized)
	require.True(t, p.Size.Equal(decimal.NewFromInt(1)))
	// average entry unchanged by a partial sell
	require.True(t, p.AvgEntryPrice.Equal(decimal.NewFromInt(100)))

	realized, err = p.ApplyFill("BTCUSDT", sellFill("90", "1"))
	require.NoError(t, err)
	require.True(t, realized.Equal(decimal.NewFromInt(-10)))
	require.True(t, p.Flat())
	// flat position has no defined entry price
	require.True(t, p.AvgEntryPrice.IsZero())
	require.True(t, p.Realized.Equal(decimal.Zero), "net realized %s", p.Realized)
}

func TestApplyFillSellExceedsSize(t *testing.T) {
	p := PositionState{}

	_, err := p.ApplyFill("BTCUSDT", buyFill("100", "1"))
	require.NoError(t, err)

	_, err = p.ApplyFill("BTCUSDT", sellFill("110", "1.5"))
	var consistency *ConsistencyError
	require.ErrorAs(t, err, &consistency)
	require.Equal(t, "BTCUSDT", consistency.Symbol)

	// position untouched by the rejected fill
	require.True(t, p.Size.Equal(decimal.NewFromInt(1)))
}

func TestApplyFillRejectsNonPositive(t *testing.T) {
	p := PositionState{}
	_, err := p.ApplyFill("BTCUSDT", buyFill("100", "0"))
	require.Error(t, err)
}

func TestUnrealizedUSD(t *testing.T) {
	p := PositionState{}
	_, err := p.ApplyFill("BTCUSDT", buyFill("100", "2"))
	require.NoError(t, err)

	u := p.UnrealizedUSD(decimal.NewFromInt(105))
	require.True(t, u.Equal(decimal.NewFromInt(10)), "unrealized %s", u)

	flat := PositionState{}
	require.True(t, flat.UnrealizedUSD(decimal.NewFromInt(105)).IsZero())
}
