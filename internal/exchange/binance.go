package exchange

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"swingbot/internal/domain"
)

// Binance implements Exchange for Binance spot.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
}

// NewBinance creates the adapter. The limiter is the process-wide token
// bucket shared by all symbols; nil disables limiting (tests).
func NewBinance(client *binance.Client, limiter *rate.Limiter) *Binance {
	return &Binance{client: client, limiter: limiter}
}

func (b *Binance) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

func (b *Binance) Candles(ctx context.Context, pair domain.Pair, timeframe string, limit int) ([]domain.Candle, error) {
	if err := b.wait(ctx); err != nil {
		return nil, NewError(KindNetwork, "candles", err)
	}

	klines, err := b.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("candles", err)
	}

	out := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseKline(k)
		if err != nil {
			return nil, NewError(KindInvalidOrder, "candles", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseKline(k *binance.Kline) (domain.Candle, error) {
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

	return domain.Candle{
		OpenTime:  time.Unix(0, k.OpenTime*int64(time.Millisecond)),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: time.Unix(0, k.CloseTime*int64(time.Millisecond)),
	}, nil
}

func (b *Binance) Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	if err := b.wait(ctx); err != nil {
		return decimal.Zero, NewError(KindNetwork, "price", err)
	}

	prices, err := b.client.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Zero, classify("price", err)
	}
	if len(prices) == 0 {
		return decimal.Zero, NewError(KindNetwork, "price", errors.New("empty price response"))
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, NewError(KindNetwork, "price", err)
	}
	return price, nil
}

func (b *Binance) CreateOrder(ctx context.Context, req OrderRequest) (OrderInfo, error) {
	if err := b.wait(ctx); err != nil {
		return OrderInfo{}, NewError(KindNetwork, "create_order", err)
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Pair.Symbol()).
		Side(binanceSide(req.Side)).
		Quantity(req.Size.String()).
		NewClientOrderID(req.ClientID)

	switch req.Type {
	case domain.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.Price.String())
	case domain.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return OrderInfo{}, classify("create_order", err)
	}

	return OrderInfo{
		ClientID:   req.ClientID,
		ExchangeID: strconv.FormatInt(res.OrderID, 10),
		Side:       req.Side,
		Status:     binanceStatus(res.Status, decimal.Zero),
		Price:      req.Price,
		Size:       req.Size,
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, pair domain.Pair, clientID string) error {
	if err := b.wait(ctx); err != nil {
		return NewError(KindNetwork, "cancel_order", err)
	}

	_, err := b.client.NewCancelOrderService().
		Symbol(pair.Symbol()).
		OrigClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		// -2011: unknown order, already filled or cancelled, cancel is a no-op
		if errors.As(err, &apiErr) && apiErr.Code == -2011 {
			return nil
		}
		return classify("cancel_order", err)
	}
	return nil
}

func (b *Binance) OpenOrders(ctx context.Context, pair domain.Pair) ([]OrderInfo, error) {
	if err := b.wait(ctx); err != nil {
		return nil, NewError(KindNetwork, "open_orders", err)
	}

	orders, err := b.client.NewListOpenOrdersService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, classify("open_orders", err)
	}

	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		info, err := binanceOrderInfo(o)
		if err != nil {
			return nil, NewError(KindInvalidOrder, "open_orders", err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (b *Binance) OrderStatus(ctx context.Context, pair domain.Pair, clientID string) (OrderInfo, error) {
	if err := b.wait(ctx); err != nil {
		return OrderInfo{}, NewError(KindNetwork, "order_status", err)
	}

	order, err := b.client.NewGetOrderService().
		Symbol(pair.Symbol()).
		OrigClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2013 {
			return OrderInfo{}, ErrOrderNotFound
		}
		return OrderInfo{}, classify("order_status", err)
	}
	return binanceOrderInfo(order)
}

func binanceOrderInfo(o *binance.Order) (OrderInfo, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return OrderInfo{}, err
	}
	size, err := decimal.NewFromString(o.OrigQuantity)
	if err != nil {
		return OrderInfo{}, err
	}
	filled, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return OrderInfo{}, err
	}

	avg := decimal.Zero
	if filled.GreaterThan(decimal.Zero) {
		cumQuote, err := decimal.NewFromString(o.CummulativeQuoteQuantity)
		if err == nil && cumQuote.GreaterThan(decimal.Zero) {
			avg = cumQuote.Div(filled)
		} else {
			avg = price
		}
	}

	side := domain.SideBuy
	if o.Side == binance.SideTypeSell {
		side = domain.SideSell
	}

	return OrderInfo{
		ClientID:     o.ClientOrderID,
		ExchangeID:   strconv.FormatInt(o.OrderID, 10),
		Side:         side,
		Status:       binanceStatus(o.Status, filled),
		Price:        price,
		Size:         size,
		Filled:       filled,
		AvgFillPrice: avg,
	}, nil
}

func binanceSide(s domain.Side) binance.SideType {
	if s == domain.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func binanceStatus(s binance.OrderStatusType, filled decimal.Decimal) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePendingCancel:
		return domain.OrderStatusOpen
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return domain.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	default:
		if filled.GreaterThan(decimal.Zero) {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusOpen
	}
}

// classify maps a binance SDK error into the closed kind set. Unknown API
// codes default to transient: duplicate submissions are already prevented by
// client order ids, so an extra retry is safe while a missed retry is not.
func classify(op string, err error) *Error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return NewError(KindNetwork, op, err)
	}

	msg := strings.ToUpper(apiErr.Message)
	switch apiErr.Code {
	case -1003, -1015:
		return NewError(KindRateLimited, op, err)
	case -2010:
		switch {
		case strings.Contains(msg, "INSUFFICIENT"):
			return NewError(KindInsufficientFunds, op, err)
		case strings.Contains(msg, "NOTIONAL"):
			return NewError(KindMinNotional, op, err)
		default:
			return NewError(KindInvalidOrder, op, err)
		}
	case -1013:
		if strings.Contains(msg, "NOTIONAL") {
			return NewError(KindMinNotional, op, err)
		}
		return NewError(KindInvalidOrder, op, err)
	case -1100, -1102, -1104, -1106, -1111, -1121, -2011, -2013:
		return NewError(KindInvalidOrder, op, err)
	default:
		return NewError(KindNetwork, op, err)
	}
}
