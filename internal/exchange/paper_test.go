package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"swingbot/internal/domain"
)

// stubMarket serves a scripted price feed.
type stubMarket struct {
	price decimal.Decimal
}

func (s *stubMarket) Candles(context.Context, domain.Pair, string, int) ([]domain.Candle, error) {
	return []domain.Candle{{Close: s.price}}, nil
}

func (s *stubMarket) Price(context.Context, domain.Pair) (decimal.Decimal, error) {
	return s.price, nil
}

func (s *stubMarket) CreateOrder(context.Context, OrderRequest) (OrderInfo, error) {
	panic("paper must never forward orders to the market feed")
}

func (s *stubMarket) CancelOrder(context.Context, domain.Pair, string) error {
	panic("paper must never forward cancels to the market feed")
}

func (s *stubMarket) OpenOrders(context.Context, domain.Pair) ([]OrderInfo, error) {
	return nil, nil
}

func (s *stubMarket) OrderStatus(context.Context, domain.Pair, string) (OrderInfo, error) {
	return OrderInfo{}, ErrOrderNotFound
}

var paperPair = domain.Pair{From: "BTC", To: "USDT"}

func limitBuy(clientID string, price int64) OrderRequest {
	return OrderRequest{
		Pair:     paperPair,
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Price:    decimal.NewFromInt(price),
		Size:     decimal.NewFromInt(1),
		ClientID: clientID,
	}
}

func TestPaperLimitBuyFillsWhenPriceCrosses(t *testing.T) {
	market := &stubMarket{price: decimal.NewFromInt(100)}
	paper := NewPaper(market, zap.NewNop())
	ctx := context.Background()

	info, err := paper.CreateOrder(ctx, limitBuy("buy-1", 95))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, info.Status)

	// price holds above the limit
	_, err = paper.Price(ctx, paperPair)
	require.NoError(t, err)
	info, err = paper.OrderStatus(ctx, paperPair, "buy-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, info.Status)

	// price crosses, the order fills at its limit
	market.price = decimal.NewFromInt(94)
	_, err = paper.Price(ctx, paperPair)
	require.NoError(t, err)
	info, err = paper.OrderStatus(ctx, paperPair, "buy-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, info.Status)
	require.True(t, info.Filled.Equal(decimal.NewFromInt(1)))
	require.True(t, info.AvgFillPrice.Equal(decimal.NewFromInt(95)))
}

func TestPaperLimitSellFillsAboveLimit(t *testing.T) {
	market := &stubMarket{price: decimal.NewFromInt(100)}
	paper := NewPaper(market, zap.NewNop())
	ctx := context.Background()

	_, err := paper.CreateOrder(ctx, OrderRequest{
		Pair:     paperPair,
		Side:     domain.SideSell,
		Type:     domain.OrderTypeLimit,
		Price:    decimal.NewFromInt(106),
		Size:     decimal.NewFromInt(1),
		ClientID: "sell-1",
	})
	require.NoError(t, err)

	market.price = decimal.NewFromInt(107)
	_, err = paper.Candles(ctx, paperPair, "1h", 1)
	require.NoError(t, err)

	info, err := paper.OrderStatus(ctx, paperPair, "sell-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, info.Status)
	require.True(t, info.AvgFillPrice.Equal(decimal.NewFromInt(106)))
}

func TestPaperOpenOrdersExcludesFilled(t *testing.T) {
	market := &stubMarket{price: decimal.NewFromInt(100)}
	paper := NewPaper(market, zap.NewNop())
	ctx := context.Background()

	_, err := paper.CreateOrder(ctx, limitBuy("buy-1", 95))
	require.NoError(t, err)
	_, err = paper.CreateOrder(ctx, limitBuy("buy-2", 90))
	require.NoError(t, err)

	open, err := paper.OpenOrders(ctx, paperPair)
	require.NoError(t, err)
	require.Len(t, open, 2)

	// the first order fills, only the second still rests on the book
	market.price = decimal.NewFromInt(94)
	_, err = paper.Price(ctx, paperPair)
	require.NoError(t, err)

	open, err = paper.OpenOrders(ctx, paperPair)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "buy-2", open[0].ClientID)

	// a filled order never fills again on a later settle pass
	info, err := paper.OrderStatus(ctx, paperPair, "buy-1")
	require.NoError(t, err)
	require.True(t, info.Filled.Equal(decimal.NewFromInt(1)))
	market.price = decimal.NewFromInt(80)
	_, err = paper.Price(ctx, paperPair)
	require.NoError(t, err)
	info, err = paper.OrderStatus(ctx, paperPair, "buy-1")
	require.NoError(t, err)
	require.True(t, info.Filled.Equal(decimal.NewFromInt(1)))
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	market := &stubMarket{price: decimal.NewFromInt(88)}
	paper := NewPaper(market, zap.NewNop())

	info, err := paper.CreateOrder(context.Background(), OrderRequest{
		Pair:     paperPair,
		Side:     domain.SideSell,
		Type:     domain.OrderTypeMarket,
		Size:     decimal.NewFromInt(2),
		ClientID: "stop-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, info.Status)
	require.True(t, info.Filled.Equal(decimal.NewFromInt(2)))
	require.True(t, info.AvgFillPrice.Equal(decimal.NewFromInt(88)))
}

func TestPaperDedupsClientID(t *testing.T) {
	market := &stubMarket{price: decimal.NewFromInt(100)}
	paper := NewPaper(market, zap.NewNop())
	ctx := context.Background()

	first, err := paper.CreateOrder(ctx, limitBuy("dup", 95))
	require.NoError(t, err)

	// retry with the same id returns the original order unchanged
	second, err := paper.CreateOrder(ctx, limitBuy("dup", 80))
	require.NoError(t, err)
	require.Equal(t, first.ExchangeID, second.ExchangeID)
	require.True(t, second.Price.Equal(decimal.NewFromInt(95)))

	open, err := paper.OpenOrders(ctx, paperPair)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestPaperCancelIdempotent(t *testing.T) {
	market := &stubMarket{price: decimal.NewFromInt(100)}
	paper := NewPaper(market, zap.NewNop())
	ctx := context.Background()

	_, err := paper.CreateOrder(ctx, limitBuy("c-1", 95))
	require.NoError(t, err)

	require.NoError(t, paper.CancelOrder(ctx, paperPair, "c-1"))
	require.NoError(t, paper.CancelOrder(ctx, paperPair, "c-1"))
	require.NoError(t, paper.CancelOrder(ctx, paperPair, "never-existed"))

	info, err := paper.OrderStatus(ctx, paperPair, "c-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, info.Status)

	// a cancelled order never fills, even when price crosses later
	market.price = decimal.NewFromInt(90)
	_, err = paper.Price(ctx, paperPair)
	require.NoError(t, err)
	info, err = paper.OrderStatus(ctx, paperPair, "c-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, info.Status)
}

func TestErrorKindClassification(t *testing.T) {
	transient := NewError(KindRateLimited, "create_order", context.DeadlineExceeded)
	require.True(t, IsTransient(transient))

	permanent := NewError(KindInsufficientFunds, "create_order", ErrOrderNotFound)
	require.False(t, IsTransient(permanent))
	kind, ok := KindOf(permanent)
	require.True(t, ok)
	require.Equal(t, KindInsufficientFunds, kind)

	// unclassified errors are never retried
	require.False(t, IsTransient(context.DeadlineExceeded))
	_, ok = KindOf(context.DeadlineExceeded)
	require.False(t, ok)
}
