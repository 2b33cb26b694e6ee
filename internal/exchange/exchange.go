// Package exchange defines the boundary to the spot exchange: the operations
// the trading core consumes and a closed error-kind taxonomy mapped once at
// this boundary, so the core never inspects SDK-specific error types.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"swingbot/internal/domain"
)

// ErrOrderNotFound is returned by OrderStatus when the exchange has no order
// for the given client id.
var ErrOrderNotFound = errors.New("order not found")

// Kind classifies exchange failures. Network and RateLimited are transient
// and retried with backoff; the rest are permanent and never retried.
type Kind int

const (
	KindNetwork Kind = iota
	KindRateLimited
	KindInsufficientFunds
	KindMinNotional
	KindInvalidOrder
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindMinNotional:
		return "min_notional"
	case KindInvalidOrder:
		return "invalid_order"
	default:
		return "unknown"
	}
}

// Transient reports whether an error of this kind may succeed on retry.
func (k Kind) Transient() bool {
	return k == KindNetwork || k == KindRateLimited
}

// Error is a classified exchange failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors are
// not retried: everything crossing the exchange boundary is classified by the
// adapter, so an unclassified error is a programming error surfacing.
func IsTransient(err error) bool {
	var ex *Error
	if errors.As(err, &ex) {
		return ex.Kind.Transient()
	}
	return false
}

// KindOf extracts the kind from a classified error.
func KindOf(err error) (Kind, bool) {
	var ex *Error
	if errors.As(err, &ex) {
		return ex.Kind, true
	}
	return 0, false
}

// OrderRequest describes one order to create. ClientID is mandatory: it is
// the idempotency key for the whole submission path.
type OrderRequest struct {
	Pair     domain.Pair
	Side     domain.Side
	Type     domain.OrderType
	Price    decimal.Decimal // ignored for market orders
	Size     decimal.Decimal // base units
	ClientID string
}

// OrderInfo is the exchange-reported view of an order.
type OrderInfo struct {
	ClientID   string
	ExchangeID string
	Side       domain.Side
	Status     domain.OrderStatus
	Price      decimal.Decimal
	Size       decimal.Decimal
	Filled     decimal.Decimal
	// AvgFillPrice is the volume-weighted fill price; zero until something
	// filled. For market orders this is the only meaningful price.
	AvgFillPrice decimal.Decimal
}

// Exchange is the remote order-book/account service. Every call carries a
// context with the caller's timeout and goes through the shared rate-limit
// token bucket.
type Exchange interface {
	Candles(ctx context.Context, pair domain.Pair, timeframe string, limit int) ([]domain.Candle, error)
	Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderInfo, error)
	// CancelOrder is idempotent: cancelling an order that is already filled,
	// cancelled or unknown returns nil.
	CancelOrder(ctx context.Context, pair domain.Pair, clientID string) error
	OpenOrders(ctx context.Context, pair domain.Pair) ([]OrderInfo, error)
	OrderStatus(ctx context.Context, pair domain.Pair, clientID string) (OrderInfo, error)
}
