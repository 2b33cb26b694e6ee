package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"swingbot/internal/domain"
)

// Bybit implements Exchange for Bybit spot via the V5 API.
type Bybit struct {
	client  *bybit.Client
	limiter *rate.Limiter
}

// NewBybit creates the adapter. See NewBinance for limiter semantics.
func NewBybit(client *bybit.Client, limiter *rate.Limiter) *Bybit {
	return &Bybit{client: client, limiter: limiter}
}

func (b *Bybit) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// bybitInterval converts timeframes like "1h" to bybit kline interval codes.
// Bybit expresses sub-day intervals in minutes: "1", "15", "60", "240".
func bybitInterval(timeframe string) (bybit.Interval, error) {
	switch timeframe {
	case "1m", "3m", "5m", "15m", "30m":
		return bybit.Interval(strings.TrimSuffix(timeframe, "m")), nil
	case "1h":
		return bybit.Interval("60"), nil
	case "2h":
		return bybit.Interval("120"), nil
	case "4h":
		return bybit.Interval("240"), nil
	case "1d":
		return bybit.Interval("D"), nil
	case "1w":
		return bybit.Interval("W"), nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q for bybit", timeframe)
	}
}

func (b *Bybit) Candles(ctx context.Context, pair domain.Pair, timeframe string, limit int) ([]domain.Candle, error) {
	if err := b.wait(ctx); err != nil {
		return nil, NewError(KindNetwork, "candles", err)
	}

	interval, err := bybitInterval(timeframe)
	if err != nil {
		return nil, NewError(KindInvalidOrder, "candles", err)
	}

	res, err := b.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Interval: interval,
		Limit:    &limit,
	})
	if err != nil {
		return nil, classifyBybit("candles", err)
	}

	// bybit returns most-recent-first; the core expects most-recent-last
	list := res.Result.List
	out := make([]domain.Candle, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		c, err := parseBybitKline(list[i])
		if err != nil {
			return nil, NewError(KindInvalidOrder, "candles", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseBybitKline(k bybit.V5GetKlineItem) (domain.Candle, error) {
	startMs, err := strconv.ParseInt(k.StartTime, 10, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return domain.Candle{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return domain.Candle{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return domain.Candle{}, err
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return domain.Candle{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return domain.Candle{}, err
	}

	// bybit reports only the candle open time
	openTime := time.UnixMilli(startMs)
	return domain.Candle{
		OpenTime:  openTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: openTime,
	}, nil
}

func (b *Bybit) Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	if err := b.wait(ctx); err != nil {
		return decimal.Zero, NewError(KindNetwork, "price", err)
	}

	symbol := bybit.SymbolV5(pair.Symbol())
	res, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Zero, classifyBybit("price", err)
	}
	if len(res.Result.Spot.List) == 0 {
		return decimal.Zero, NewError(KindNetwork, "price", fmt.Errorf("empty ticker for %s", pair.String()))
	}
	price, err := decimal.NewFromString(res.Result.Spot.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, NewError(KindNetwork, "price", err)
	}
	return price, nil
}

func (b *Bybit) CreateOrder(ctx context.Context, req OrderRequest) (OrderInfo, error) {
	if err := b.wait(ctx); err != nil {
		return OrderInfo{}, NewError(KindNetwork, "create_order", err)
	}

	param := bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(req.Pair.Symbol()),
		Side:        bybitSide(req.Side),
		OrderType:   bybit.OrderTypeMarket,
		Qty:         req.Size.String(),
		OrderLinkID: &req.ClientID,
	}
	if req.Type == domain.OrderTypeLimit {
		price := req.Price.String()
		param.OrderType = bybit.OrderTypeLimit
		param.Price = &price
	}

	res, err := b.client.V5().Order().CreateOrder(param)
	if err != nil {
		return OrderInfo{}, classifyBybit("create_order", err)
	}

	return OrderInfo{
		ClientID:   req.ClientID,
		ExchangeID: res.Result.OrderID,
		Side:       req.Side,
		Status:     domain.OrderStatusOpen,
		Price:      req.Price,
		Size:       req.Size,
	}, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, pair domain.Pair, clientID string) error {
	if err := b.wait(ctx); err != nil {
		return NewError(KindNetwork, "cancel_order", err)
	}

	_, err := b.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(pair.Symbol()),
		OrderLinkID: &clientID,
	})
	if err != nil {
		// order already filled/cancelled or never existed: cancel is a no-op
		if isBybitOrderGone(err) {
			return nil
		}
		return classifyBybit("cancel_order", err)
	}
	return nil
}

func (b *Bybit) OpenOrders(ctx context.Context, pair domain.Pair) ([]OrderInfo, error) {
	if err := b.wait(ctx); err != nil {
		return nil, NewError(KindNetwork, "open_orders", err)
	}

	symbol := bybit.SymbolV5(pair.Symbol())
	res, err := b.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return nil, classifyBybit("open_orders", err)
	}

	out := make([]OrderInfo, 0, len(res.Result.List))
	for _, o := range res.Result.List {
		info, err := bybitOrderInfo(o)
		if err != nil {
			return nil, NewError(KindInvalidOrder, "open_orders", err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (b *Bybit) OrderStatus(ctx context.Context, pair domain.Pair, clientID string) (OrderInfo, error) {
	if err := b.wait(ctx); err != nil {
		return OrderInfo{}, NewError(KindNetwork, "order_status", err)
	}

	symbol := bybit.SymbolV5(pair.Symbol())

	// open orders first, then history for terminal orders
	res, err := b.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      &symbol,
		OrderLinkID: &clientID,
	})
	if err != nil {
		return OrderInfo{}, classifyBybit("order_status", err)
	}
	if len(res.Result.List) > 0 {
		return bybitOrderInfo(res.Result.List[0])
	}

	hist, err := b.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      &symbol,
		OrderLinkID: &clientID,
	})
	if err != nil {
		return OrderInfo{}, classifyBybit("order_status", err)
	}
	if len(hist.Result.List) == 0 {
		return OrderInfo{}, ErrOrderNotFound
	}
	return bybitOrderInfo(hist.Result.List[0])
}

func bybitOrderInfo(o bybit.V5GetOrder) (OrderInfo, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return OrderInfo{}, err
	}
	size, err := decimal.NewFromString(o.Qty)
	if err != nil {
		return OrderInfo{}, err
	}
	filled := decimal.Zero
	if o.CumExecQty != "" {
		if filled, err = decimal.NewFromString(o.CumExecQty); err != nil {
			return OrderInfo{}, err
		}
	}
	avg := decimal.Zero
	if o.AvgPrice != "" {
		if avg, err = decimal.NewFromString(o.AvgPrice); err != nil {
			avg = decimal.Zero
		}
	}

	side := domain.SideBuy
	if o.Side == bybit.SideSell {
		side = domain.SideSell
	}

	return OrderInfo{
		ClientID:     o.OrderLinkID,
		ExchangeID:   o.OrderID,
		Side:         side,
		Status:       bybitStatus(o.OrderStatus, filled),
		Price:        price,
		Size:         size,
		Filled:       filled,
		AvgFillPrice: avg,
	}, nil
}

func bybitSide(s domain.Side) bybit.Side {
	if s == domain.SideSell {
		return bybit.SideSell
	}
	return bybit.SideBuy
}

func bybitStatus(s bybit.OrderStatus, filled decimal.Decimal) domain.OrderStatus {
	switch s {
	case bybit.OrderStatusNew, bybit.OrderStatusCreated:
		return domain.OrderStatusOpen
	case bybit.OrderStatusPartiallyFilled:
		return domain.OrderStatusPartiallyFilled
	case bybit.OrderStatusFilled:
		return domain.OrderStatusFilled
	case bybit.OrderStatusCancelled, bybit.OrderStatusDeactivated:
		return domain.OrderStatusCancelled
	case bybit.OrderStatusRejected:
		return domain.OrderStatusRejected
	default:
		if filled.GreaterThan(decimal.Zero) {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusOpen
	}
}

func isBybitOrderGone(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order does not exist") ||
		strings.Contains(msg, "order not exists") ||
		strings.Contains(msg, "110001") // bybit ret code: order not found
}

// classifyBybit maps V5 API errors onto the closed kind set. The SDK exposes
// failures as plain errors with the ret code in the message, so matching is
// textual. Unknown errors default to transient, same reasoning as binance.
func classifyBybit(op string, err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "10006"):
		return NewError(KindRateLimited, op, err)
	case strings.Contains(msg, "insufficient") || strings.Contains(msg, "170131"):
		return NewError(KindInsufficientFunds, op, err)
	case strings.Contains(msg, "notional") || strings.Contains(msg, "170136") ||
		strings.Contains(msg, "order value") && strings.Contains(msg, "lower limit"):
		return NewError(KindMinNotional, op, err)
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "parameter"):
		return NewError(KindInvalidOrder, op, err)
	default:
		return NewError(KindNetwork, op, err)
	}
}
