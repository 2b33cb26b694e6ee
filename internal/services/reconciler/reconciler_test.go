package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"swingbot/internal/domain"
	"swingbot/internal/exchange"
)

// fakeExchange is a scripted in-memory venue. Orders are keyed by client id
// and CreateOrder failures are injectable per id.
type fakeExchange struct {
	orders       map[string]*exchange.OrderInfo
	createErrs   map[string]error
	createCalls  map[string]int
	cancelCalls  map[string]int
	cancelFilled map[string]decimal.Decimal // fill applied at cancel time
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		orders:       make(map[string]*exchange.OrderInfo),
		createErrs:   make(map[string]error),
		createCalls:  make(map[string]int),
		cancelCalls:  make(map[string]int),
		cancelFilled: make(map[string]decimal.Decimal),
	}
}

func (f *fakeExchange) Candles(context.Context, domain.Pair, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func (f *fakeExchange) Price(context.Context, domain.Pair) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderInfo, error) {
	f.createCalls[req.ClientID]++
	if err := f.createErrs[req.ClientID]; err != nil {
		return exchange.OrderInfo{}, err
	}
	info := &exchange.OrderInfo{
		ClientID:   req.ClientID,
		ExchangeID: "ex-" + req.ClientID,
		Side:       req.Side,
		Status:     domain.OrderStatusOpen,
		Price:      req.Price,
		Size:       req.Size,
		Filled:     decimal.Zero,
	}
	if req.Type == domain.OrderTypeMarket {
		info.Status = domain.OrderStatusFilled
		info.Filled = req.Size
		info.AvgFillPrice = decimal.NewFromInt(90)
	}
	f.orders[req.ClientID] = info
	return *info, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ domain.Pair, clientID string) error {
	f.cancelCalls[clientID]++
	info, ok := f.orders[clientID]
	if !ok {
		return nil
	}
	if filled, ok := f.cancelFilled[clientID]; ok {
		info.Filled = filled
		info.AvgFillPrice = info.Price
	}
	if info.Status == domain.OrderStatusOpen || info.Status == domain.OrderStatusPartiallyFilled {
		info.Status = domain.OrderStatusCancelled
	}
	return nil
}

func (f *fakeExchange) OpenOrders(context.Context, domain.Pair) ([]exchange.OrderInfo, error) {
	var out []exchange.OrderInfo
	for _, o := range f.orders {
		if o.Status == domain.OrderStatusOpen || o.Status == domain.OrderStatusPartiallyFilled {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeExchange) OrderStatus(_ context.Context, _ domain.Pair, clientID string) (exchange.OrderInfo, error) {
	info, ok := f.orders[clientID]
	if !ok {
		return exchange.OrderInfo{}, exchange.NewError(exchange.KindInvalidOrder, "order_status", exchange.ErrOrderNotFound)
	}
	return *info, nil
}

// fill moves an order to the given filled size on the fake venue.
func (f *fakeExchange) fill(clientID string, filled decimal.Decimal, done bool) {
	info := f.orders[clientID]
	info.Filled = filled
	info.AvgFillPrice = info.Price
	if done {
		info.Status = domain.OrderStatusFilled
	} else {
		info.Status = domain.OrderStatusPartiallyFilled
	}
}

// memStore keeps the last saved state and a save counter.
type memStore struct {
	saved int
	last  *domain.SymbolState
}

func (m *memStore) Save(st *domain.SymbolState) error {
	m.saved++
	m.last = st
	return nil
}

func testState() *domain.SymbolState {
	pair := domain.Pair{From: "BTC", To: "USDT"}
	st := domain.NewSymbolState(pair)
	cycleID := "cycle-test"
	plan := &domain.LadderPlan{
		CycleID:     cycleID,
		AnchorPrice: decimal.NewFromInt(100),
		CreatedAt:   time.Now(),
	}
	for i, off := range []int64{99, 97, 95} {
		plan.Rungs = append(plan.Rungs, domain.Rung{
			Index:    i,
			Price:    decimal.NewFromInt(off),
			Size:     decimal.NewFromInt(1),
			ClientID: domain.ClientOrderID(pair.Symbol(), cycleID, domain.OrderKindRung, i),
		})
	}
	st.BeginCycle(plan, 1)
	return st
}

func TestSyncOrdersSubmitsOncePerClientID(t *testing.T) {
	fake := newFakeExchange()
	store := &memStore{}
	rec := New(fake, store, zap.NewNop())
	st := testState()
	ctx := context.Background()

	require.NoError(t, rec.SyncOrders(ctx, st))
	require.NoError(t, rec.SyncOrders(ctx, st))
	require.NoError(t, rec.SyncOrders(ctx, st))

	require.Len(t, fake.orders, 3)
	for _, rung := range st.Plan.Rungs {
		require.Equal(t, 1, fake.createCalls[rung.ClientID], "rung %d", rung.Index)
		require.Equal(t, domain.OrderStatusOpen, st.Orders[rung.ClientID].Status)
		require.Equal(t, "ex-"+rung.ClientID, st.Orders[rung.ClientID].ExchangeID)
	}
	require.Positive(t, store.saved)
}

func TestSyncOrdersAdoptsExistingOrder(t *testing.T) {
	fake := newFakeExchange()
	rec := New(fake, &memStore{}, zap.NewNop())
	st := testState()
	ctx := context.Background()

	// a previous run placed rung 0 and crashed before recording the ack
	first := st.Plan.Rungs[0]
	fake.orders[first.ClientID] = &exchange.OrderInfo{
		ClientID:   first.ClientID,
		ExchangeID: "ex-older",
		Side:       domain.SideBuy,
		Status:     domain.OrderStatusPartiallyFilled,
		Price:      first.Price,
		Size:       first.Size,
		Filled:     decimal.RequireFromString("0.4"),
	}

	require.NoError(t, rec.SyncOrders(ctx, st))

	require.Zero(t, fake.createCalls[first.ClientID], "adopted order must not be re-created")
	got := st.Orders[first.ClientID]
	require.Equal(t, "ex-older", got.ExchangeID)
	require.Equal(t, domain.OrderStatusPartiallyFilled, got.Status)
	// the other two rungs went through the normal path
	require.Equal(t, 1, fake.createCalls[st.Plan.Rungs[1].ClientID])
	require.Equal(t, 1, fake.createCalls[st.Plan.Rungs[2].ClientID])

	// the adopted order's pre-existing fill surfaces on the next poll
	fills, err := rec.PollFills(ctx, st)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, first.ClientID, fills[0].ClientID)
	require.True(t, fills[0].Size.Equal(decimal.RequireFromString("0.4")))
	require.True(t, got.Filled.Equal(decimal.RequireFromString("0.4")))
}

func TestSyncOrdersPermanentErrorRejectsOnlyThatRung(t *testing.T) {
	fake := newFakeExchange()
	rec := New(fake, &memStore{}, zap.NewNop())
	st := testState()
	ctx := context.Background()

	bad := st.Plan.Rungs[1].ClientID
	fake.createErrs[bad] = exchange.NewError(exchange.KindInsufficientFunds, "create_order", errors.New("balance too low"))

	require.NoError(t, rec.SyncOrders(ctx, st))

	require.Equal(t, domain.OrderStatusRejected, st.Orders[bad].Status)
	require.Equal(t, 1, fake.createCalls[bad], "permanent errors are not retried")
	require.Equal(t, domain.OrderStatusOpen, st.Orders[st.Plan.Rungs[0].ClientID].Status)
	require.Equal(t, domain.OrderStatusOpen, st.Orders[st.Plan.Rungs[2].ClientID].Status)

	// the rejected id stays terminal on later passes
	require.NoError(t, rec.SyncOrders(ctx, st))
	require.Equal(t, 1, fake.createCalls[bad])
}

// ordersOutcomeCount sums the swingbot_orders_total series for one outcome
// across the default registry.
func ordersOutcomeCount(t *testing.T, outcome string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != "swingbot_orders_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestOrderOutcomesCounted(t *testing.T) {
	fake := newFakeExchange()
	rec := New(fake, &memStore{}, zap.NewNop())
	st := testState()
	ctx := context.Background()

	bad := st.Plan.Rungs[2].ClientID
	fake.createErrs[bad] = exchange.NewError(exchange.KindInsufficientFunds, "create_order", errors.New("balance too low"))

	submitted := ordersOutcomeCount(t, "submitted")
	rejected := ordersOutcomeCount(t, "rejected")
	cancelled := ordersOutcomeCount(t, "cancelled")

	require.NoError(t, rec.SyncOrders(ctx, st))
	require.Equal(t, submitted+2, ordersOutcomeCount(t, "submitted"))
	require.Equal(t, rejected+1, ordersOutcomeCount(t, "rejected"))

	_, err := rec.CancelOpenBuys(ctx, st)
	require.NoError(t, err)
	require.Equal(t, cancelled+2, ordersOutcomeCount(t, "cancelled"))
}

func TestPollFillsEmitsDeltasOnce(t *testing.T) {
	fake := newFakeExchange()
	store := &memStore{}
	rec := New(fake, store, zap.NewNop())
	st := testState()
	ctx := context.Background()

	require.NoError(t, rec.SyncOrders(ctx, st))
	first := st.Plan.Rungs[0]
	fake.fill(first.ClientID, decimal.RequireFromString("0.6"), false)

	fills, err := rec.PollFills(ctx, st)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, first.ClientID, fills[0].ClientID)
	require.Equal(t, domain.SideBuy, fills[0].Side)
	require.True(t, fills[0].Size.Equal(decimal.RequireFromString("0.6")))
	require.True(t, fills[0].Price.Equal(first.Price))

	// no change on the venue, no delta
	fills, err = rec.PollFills(ctx, st)
	require.NoError(t, err)
	require.Empty(t, fills)

	// completion reports only the remainder
	fake.fill(first.ClientID, decimal.NewFromInt(1), true)
	fills, err = rec.PollFills(ctx, st)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.True(t, fills[0].Size.Equal(decimal.RequireFromString("0.4")))
	require.Equal(t, domain.OrderStatusFilled, st.Orders[first.ClientID].Status)
}

func TestPollFillsCapturesImmediateMarketFill(t *testing.T) {
	fake := newFakeExchange()
	rec := New(fake, &memStore{}, zap.NewNop())
	st := testState()
	ctx := context.Background()

	// a stop: pending market sell, acked already filled by the venue
	clientID := domain.ClientOrderID(st.Pair.Symbol(), st.CycleID, domain.OrderKindStop, 0)
	st.Orders[clientID] = &domain.OrderRecord{
		ClientID: clientID,
		Kind:     domain.OrderKindStop,
		Side:     domain.SideSell,
		Type:     domain.OrderTypeMarket,
		Size:     decimal.NewFromInt(2),
		Status:   domain.OrderStatusPending,
	}
	require.NoError(t, rec.SyncOrders(ctx, st))
	require.Equal(t, domain.OrderStatusFilled, st.Orders[clientID].Status)

	fills, err := rec.PollFills(ctx, st)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, clientID, fills[0].ClientID)
	require.True(t, fills[0].Size.Equal(decimal.NewFromInt(2)))
	require.True(t, fills[0].Price.Equal(decimal.NewFromInt(90)), "fill uses the venue's average price")

	// the delta is emitted exactly once
	fills, err = rec.PollFills(ctx, st)
	require.NoError(t, err)
	require.Empty(t, fills)
}

func TestCancelOpenBuysEmitsRaceFill(t *testing.T) {
	fake := newFakeExchange()
	rec := New(fake, &memStore{}, zap.NewNop())
	st := testState()
	ctx := context.Background()

	require.NoError(t, rec.SyncOrders(ctx, st))
	// rung 1 catches a fill in the cancel race
	raced := st.Plan.Rungs[1]
	fake.cancelFilled[raced.ClientID] = decimal.RequireFromString("0.3")

	fills, err := rec.CancelOpenBuys(ctx, st)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, raced.ClientID, fills[0].ClientID)
	require.True(t, fills[0].Size.Equal(decimal.RequireFromString("0.3")))

	for _, rung := range st.Plan.Rungs {
		require.Equal(t, domain.OrderStatusCancelled, st.Orders[rung.ClientID].Status)
		require.Equal(t, 1, fake.cancelCalls[rung.ClientID])
	}
}

func TestRecoverAppliesOfflineFills(t *testing.T) {
	fake := newFakeExchange()
	store := &memStore{}
	rec := New(fake, store, zap.NewNop())
	st := testState()
	ctx := context.Background()

	require.NoError(t, rec.SyncOrders(ctx, st))
	first := st.Plan.Rungs[0]
	second := st.Plan.Rungs[1]

	// while the process was down: rung 0 filled, rung 1 vanished from history
	fake.fill(first.ClientID, decimal.NewFromInt(1), true)
	delete(fake.orders, second.ClientID)

	fills, err := rec.Recover(ctx, st)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, first.ClientID, fills[0].ClientID)
	require.True(t, fills[0].Size.Equal(decimal.NewFromInt(1)))

	require.Equal(t, domain.OrderStatusFilled, st.Orders[first.ClientID].Status)
	require.Equal(t, domain.OrderStatusCancelled, st.Orders[second.ClientID].Status)
	require.Equal(t, domain.OrderStatusOpen, st.Orders[st.Plan.Rungs[2].ClientID].Status)
}

func TestRecoverFlagsCancelledButFilled(t *testing.T) {
	fake := newFakeExchange()
	rec := New(fake, &memStore{}, zap.NewNop())
	st := testState()
	ctx := context.Background()

	require.NoError(t, rec.SyncOrders(ctx, st))
	first := st.Plan.Rungs[0]
	st.Orders[first.ClientID].Status = domain.OrderStatusCancelled
	fake.fill(first.ClientID, decimal.RequireFromString("0.5"), false)

	_, err := rec.Recover(ctx, st)
	var cerr *domain.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "BTCUSDT", cerr.Symbol)
}

func TestRecoverRestartReproducesState(t *testing.T) {
	fake := newFakeExchange()
	store := &memStore{}
	rec := New(fake, store, zap.NewNop())
	st := testState()
	ctx := context.Background()

	require.NoError(t, rec.SyncOrders(ctx, st))
	first := st.Plan.Rungs[0]
	fake.fill(first.ClientID, decimal.RequireFromString("0.7"), false)

	fills, err := rec.PollFills(ctx, st)
	require.NoError(t, err)
	require.Len(t, fills, 1)

	// restart against the same venue: nothing new happened offline, so
	// recovery must emit no fills and leave the ledger unchanged
	rec2 := New(fake, store, zap.NewNop())
	fills, err = rec2.Recover(ctx, st)
	require.NoError(t, err)
	require.Empty(t, fills)
	require.True(t, st.Orders[first.ClientID].Filled.Equal(decimal.RequireFromString("0.7")))
	require.Equal(t, domain.OrderStatusPartiallyFilled, st.Orders[first.ClientID].Status)
}
