package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType supported order types. Spot only, no derivatives.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderKind records what role an order plays in the position cycle.
type OrderKind string

const (
	OrderKindRung       OrderKind = "rung"
	OrderKindTakeProfit OrderKind = "take_profit"
	OrderKindStop       OrderKind = "stop"
)

// OrderStatus lifecycle states of an order record.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Live reports whether the order is resting on the exchange and can still
// change: open or partially filled, not yet terminal.
func (s OrderStatus) Live() bool {
	switch s {
	case OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// OrderRecord is the local ledger entry for one intended order.
// ClientID is generated deterministically (see ClientOrderID) so that
// resubmitting after an ambiguous failure cannot create a second order.
type OrderRecord struct {
	ClientID   string          `json:"client_id"`
	ExchangeID string          `json:"exchange_id,omitempty"`
	Kind       OrderKind       `json:"kind"`
	Index      int             `json:"index"`
	Side       Side            `json:"side"`
	Type       OrderType       `json:"type"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Filled     decimal.Decimal `json:"filled"`
	Status     OrderStatus     `json:"status"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Fill is one confirmed execution (or partial execution) of an order.
type Fill struct {
	ClientID string
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	Time     time.Time
}

// ClientOrderID derives a deterministic client order id from the symbol, the
// cycle id and the order's role within the cycle. Replanning after a crash
// reproduces identical ids, which is what makes submission idempotent.
func ClientOrderID(symbol, cycleID string, kind OrderKind, index int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", symbol, cycleID, kind, index)))
	return "sw-" + hex.EncodeToString(sum[:])[:16]
}
