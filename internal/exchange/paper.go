package exchange

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"swingbot/internal/domain"
)

// Paper wraps a real exchange for market data while simulating order
// execution in memory. Limit orders fill when the observed price crosses
// the limit, market orders fill immediately at the current price. Used for
// dry runs against live data without touching real balances.
type Paper struct {
	market Exchange
	logger *zap.Logger

	mu     sync.Mutex
	orders map[string]*OrderInfo
}

func NewPaper(market Exchange, logger *zap.Logger) *Paper {
	return &Paper{
		market: market,
		logger: logger,
		orders: make(map[string]*OrderInfo),
	}
}

func (p *Paper) Candles(ctx context.Context, pair domain.Pair, timeframe string, limit int) ([]domain.Candle, error) {
	candles, err := p.market.Candles(ctx, pair, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		p.settle(candles[len(candles)-1].Close)
	}
	return candles, nil
}

func (p *Paper) Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	price, err := p.market.Price(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	p.settle(price)
	return price, nil
}

func (p *Paper) CreateOrder(ctx context.Context, req OrderRequest) (OrderInfo, error) {
	price := req.Price
	if req.Type == domain.OrderTypeMarket {
		var err error
		price, err = p.market.Price(ctx, req.Pair)
		if err != nil {
			return OrderInfo{}, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// same client id twice is the caller retrying, not a new order
	if existing, ok := p.orders[req.ClientID]; ok {
		return *existing, nil
	}

	info := &OrderInfo{
		ClientID:   req.ClientID,
		ExchangeID: "paper-" + req.ClientID,
		Side:       req.Side,
		Status:     domain.OrderStatusOpen,
		Price:      price,
		Size:       req.Size,
	}
	if req.Type == domain.OrderTypeMarket {
		info.Status = domain.OrderStatusFilled
		info.Filled = req.Size
		info.AvgFillPrice = price
	}
	p.orders[req.ClientID] = info

	p.logger.Info("paper order accepted",
		zap.String("client_id", req.ClientID),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.String("price", price.String()),
		zap.String("size", req.Size.String()))

	return *info, nil
}

func (p *Paper) CancelOrder(ctx context.Context, pair domain.Pair, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[clientID]
	if !ok || o.Status.Terminal() {
		return nil
	}
	o.Status = domain.OrderStatusCancelled
	p.logger.Info("paper order cancelled", zap.String("client_id", clientID))
	return nil
}

func (p *Paper) OpenOrders(ctx context.Context, pair domain.Pair) ([]OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []OrderInfo
	for _, o := range p.orders {
		if o.Status.Live() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (p *Paper) OrderStatus(ctx context.Context, pair domain.Pair, clientID string) (OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[clientID]
	if !ok {
		return OrderInfo{}, ErrOrderNotFound
	}
	return *o, nil
}

// settle fills open limit orders the given price has crossed: buys at or
// below the price limit, sells at or above it. Fills execute at the limit
// price, which is the optimistic bound a resting order would get.
func (p *Paper) settle(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range p.orders {
		if !o.Status.Live() {
			continue
		}
		crossed := (o.Side == domain.SideBuy && price.LessThanOrEqual(o.Price)) ||
			(o.Side == domain.SideSell && price.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		o.Status = domain.OrderStatusFilled
		o.Filled = o.Size
		o.AvgFillPrice = o.Price
		p.logger.Info("paper order filled",
			zap.String("client_id", o.ClientID),
			zap.String("side", string(o.Side)),
			zap.String("price", o.Price.String()))
	}
}
