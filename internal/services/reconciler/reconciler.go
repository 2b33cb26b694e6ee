// Package reconciler converges exchange order state to the locally intended
// plan. It owns every CreateOrder/CancelOrder call in the system and enforces
// the exactly-once submission discipline built on deterministic client ids.
package reconciler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"swingbot/internal/domain"
	"swingbot/internal/exchange"
	"swingbot/internal/metrics"
	"swingbot/pkg/retrier"
)

// Store persists symbol state. Order records must hit the store before their
// fills are applied anywhere, so a crash between the two replays safely.
type Store interface {
	Save(st *domain.SymbolState) error
}

type Reconciler struct {
	ex     exchange.Exchange
	store  Store
	retr   *retrier.Retrier
	logger *zap.Logger
}

func New(ex exchange.Exchange, store Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		ex:    ex,
		store: store,
		retr: retrier.New(
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithMaxInterval(10*time.Second),
			retrier.WithMaxRetries(4),
			retrier.WithRetryIf(exchange.IsTransient),
		),
		logger: logger,
	}
}

// SyncOrders submits every intended order that is not yet live: ladder rungs
// from the plan plus any pending exit orders already recorded. Permanent
// failures mark the record rejected and the remaining orders proceed.
func (r *Reconciler) SyncOrders(ctx context.Context, st *domain.SymbolState) error {
	if st.Plan != nil {
		for _, rung := range st.Plan.Rungs {
			if _, ok := st.Orders[rung.ClientID]; ok {
				continue
			}
			st.Orders[rung.ClientID] = &domain.OrderRecord{
				ClientID:  rung.ClientID,
				Kind:      domain.OrderKindRung,
				Index:     rung.Index,
				Side:      domain.SideBuy,
				Type:      domain.OrderTypeLimit,
				Price:     rung.Price,
				Size:      rung.Size,
				Status:    domain.OrderStatusPending,
				UpdatedAt: time.Now(),
			}
		}
	}

	for _, rec := range st.Orders {
		if rec.Status != domain.OrderStatusPending {
			continue
		}
		if err := r.submit(ctx, st, rec); err != nil {
			return err
		}
	}
	return nil
}

// submit places one pending order. The exchange is queried by client id first:
// a previous run may have placed the order and crashed before recording the
// acknowledgement, and not every venue dedups client ids server side.
func (r *Reconciler) submit(ctx context.Context, st *domain.SymbolState, rec *domain.OrderRecord) error {
	existing, err := r.lookup(ctx, st.Pair, rec.ClientID)
	if err != nil {
		return err
	}
	if existing != nil {
		r.logger.Info("adopting order already on exchange",
			zap.String("pair", st.Pair.String()),
			zap.String("client_id", rec.ClientID),
			zap.String("status", string(existing.Status)))
		r.adopt(rec, existing)
		return r.persist(st)
	}

	info, err := retrier.DoWithData(r.retr, ctx, func(ctx context.Context) (exchange.OrderInfo, error) {
		return r.ex.CreateOrder(ctx, exchange.OrderRequest{
			Pair:     st.Pair,
			Side:     rec.Side,
			Type:     rec.Type,
			Price:    rec.Price,
			Size:     rec.Size,
			ClientID: rec.ClientID,
		})
	})
	if err != nil {
		if kind, ok := exchange.KindOf(err); ok && !kind.Transient() {
			r.logger.Warn("order rejected by exchange",
				zap.String("pair", st.Pair.String()),
				zap.String("client_id", rec.ClientID),
				zap.String("kind", kind.String()),
				zap.Error(err))
			rec.Status = domain.OrderStatusRejected
			rec.UpdatedAt = time.Now()
			metrics.OrderOutcome(st.Pair.Symbol(), string(rec.Side), "rejected")
			return r.persist(st)
		}
		return errors.Wrapf(err, "submit %s", rec.ClientID)
	}

	rec.ExchangeID = info.ExchangeID
	rec.Status = info.Status
	rec.UpdatedAt = time.Now()
	metrics.OrderOutcome(st.Pair.Symbol(), string(rec.Side), "submitted")
	r.logger.Info("order submitted",
		zap.String("pair", st.Pair.String()),
		zap.String("client_id", rec.ClientID),
		zap.String("kind", string(rec.Kind)),
		zap.String("side", string(rec.Side)),
		zap.String("price", rec.Price.String()),
		zap.String("size", rec.Size.String()))
	return r.persist(st)
}

// PollFills queries every live order and returns the fill deltas observed
// since the last poll. Records are persisted before the fills are returned,
// so the caller applies them to a position whose order ledger already agrees.
func (r *Reconciler) PollFills(ctx context.Context, st *domain.SymbolState) ([]domain.Fill, error) {
	var fills []domain.Fill
	changed := false

	for _, rec := range st.Orders {
		if skipPoll(rec) {
			continue
		}

		info, err := r.lookup(ctx, st.Pair, rec.ClientID)
		if err != nil {
			return nil, err
		}
		if info == nil {
			// submitted but unknown to the exchange, leave for Recover
			r.logger.Warn("live order missing on exchange",
				zap.String("pair", st.Pair.String()),
				zap.String("client_id", rec.ClientID))
			continue
		}

		delta := info.Filled.Sub(rec.Filled)
		if delta.IsPositive() {
			price := info.AvgFillPrice
			if price.IsZero() {
				price = rec.Price
			}
			fills = append(fills, domain.Fill{
				ClientID: rec.ClientID,
				Side:     rec.Side,
				Price:    price,
				Size:     delta,
				Time:     time.Now(),
			})
			rec.Filled = info.Filled
			changed = true
		}
		if info.Status != rec.Status {
			rec.Status = info.Status
			rec.UpdatedAt = time.Now()
			changed = true
		}
	}

	if changed {
		if err := r.persist(st); err != nil {
			return nil, err
		}
	}
	return fills, nil
}

// CancelOpenBuys cancels every live buy order of the cycle. Used when the
// stop fires: the position is being exited, no further accumulation. Cancel
// is idempotent at the exchange boundary. A cancel can race a fill, so each
// cancelled order gets a final status lookup and any fill observed there is
// returned for the position tracker.
func (r *Reconciler) CancelOpenBuys(ctx context.Context, st *domain.SymbolState) ([]domain.Fill, error) {
	var fills []domain.Fill

	for _, rec := range st.OpenBuyOrders() {
		err := r.retr.Do(ctx, func(ctx context.Context) error {
			return r.ex.CancelOrder(ctx, st.Pair, rec.ClientID)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "cancel %s", rec.ClientID)
		}

		info, err := r.lookup(ctx, st.Pair, rec.ClientID)
		if err != nil {
			return nil, err
		}
		if info != nil {
			delta := info.Filled.Sub(rec.Filled)
			if delta.IsPositive() {
				price := info.AvgFillPrice
				if price.IsZero() {
					price = rec.Price
				}
				fills = append(fills, domain.Fill{
					ClientID: rec.ClientID,
					Side:     rec.Side,
					Price:    price,
					Size:     delta,
					Time:     time.Now(),
				})
				rec.Filled = info.Filled
			}
			rec.Status = info.Status
		}
		if !rec.Status.Terminal() {
			rec.Status = domain.OrderStatusCancelled
		}
		rec.UpdatedAt = time.Now()
		metrics.OrderOutcome(st.Pair.Symbol(), string(rec.Side), "cancelled")
		r.logger.Info("buy rung cancelled",
			zap.String("pair", st.Pair.String()),
			zap.String("client_id", rec.ClientID),
			zap.String("final_status", string(rec.Status)))
	}

	if err := r.persist(st); err != nil {
		return nil, err
	}
	return fills, nil
}

// Recover reconciles stored state against the exchange after a restart.
// Orders recorded live are re-queried; orders recorded pending go back
// through the normal submission path on the next SyncOrders. Returns fill
// deltas that happened while the process was down.
func (r *Reconciler) Recover(ctx context.Context, st *domain.SymbolState) ([]domain.Fill, error) {
	var fills []domain.Fill

	for _, rec := range st.Orders {
		// pending records go back through submission; rejected ones never
		// reached the venue. Everything else is re-queried, including
		// cancelled orders, whose fills may have raced the cancel before
		// the crash.
		if rec.Status == domain.OrderStatusPending || rec.Status == domain.OrderStatusRejected {
			continue
		}
		if rec.Status == domain.OrderStatusFilled && !rec.Filled.LessThan(rec.Size) {
			continue
		}

		info, err := r.lookup(ctx, st.Pair, rec.ClientID)
		if err != nil {
			return nil, err
		}
		if info == nil {
			// recorded as submitted but the exchange never saw it: the crash
			// happened between the ack write and the actual placement, or
			// history has expired. Treat as cancelled, the planner will not
			// resubmit a terminal id.
			r.logger.Warn("recorded order unknown to exchange, marking cancelled",
				zap.String("pair", st.Pair.String()),
				zap.String("client_id", rec.ClientID))
			rec.Status = domain.OrderStatusCancelled
			rec.UpdatedAt = time.Now()
			continue
		}

		if rec.Status == domain.OrderStatusCancelled && info.Filled.GreaterThan(rec.Filled) {
			return nil, &domain.ConsistencyError{
				Symbol: st.Pair.Symbol(),
				Msg:    "order " + rec.ClientID + " cancelled locally but filled on exchange",
			}
		}

		delta := info.Filled.Sub(rec.Filled)
		if delta.IsPositive() {
			price := info.AvgFillPrice
			if price.IsZero() {
				price = rec.Price
			}
			fills = append(fills, domain.Fill{
				ClientID: rec.ClientID,
				Side:     rec.Side,
				Price:    price,
				Size:     delta,
				Time:     time.Now(),
			})
			rec.Filled = info.Filled
		}
		rec.Status = info.Status
		rec.UpdatedAt = time.Now()
	}

	if err := r.persist(st); err != nil {
		return nil, err
	}

	r.logger.Info("startup reconciliation done",
		zap.String("pair", st.Pair.String()),
		zap.Int("recovered_fills", len(fills)))
	return fills, nil
}

// lookup fetches the exchange view of a client id, nil when the exchange has
// no such order. Transient failures are retried.
func (r *Reconciler) lookup(ctx context.Context, pair domain.Pair, clientID string) (*exchange.OrderInfo, error) {
	info, err := retrier.DoWithData(r.retr, ctx, func(ctx context.Context) (exchange.OrderInfo, error) {
		return r.ex.OrderStatus(ctx, pair, clientID)
	})
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "order status %s", clientID)
	}
	return &info, nil
}

// skipPoll reports whether an order record needs no status lookup: not yet
// submitted, or settled with every fill already accounted for. An order whose
// recorded status is filled but whose recorded fills lag behind its size (a
// market order acked already-filled, or an adopted order) still gets polled
// so the outstanding delta reaches the position.
func skipPoll(rec *domain.OrderRecord) bool {
	if rec.Status == domain.OrderStatusPending {
		return true
	}
	if !rec.Status.Terminal() {
		return false
	}
	return rec.Status != domain.OrderStatusFilled || !rec.Filled.LessThan(rec.Size)
}

// adopt takes over an order found on the exchange under our client id. Filled
// is deliberately left untouched: the next poll emits the delta as a fill.
func (r *Reconciler) adopt(rec *domain.OrderRecord, info *exchange.OrderInfo) {
	rec.ExchangeID = info.ExchangeID
	rec.Status = info.Status
	rec.UpdatedAt = time.Now()
}

func (r *Reconciler) persist(st *domain.SymbolState) error {
	st.UpdatedAt = time.Now()
	return r.store.Save(st)
}
