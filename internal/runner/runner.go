// Package runner drives the per-symbol trading loop: one poll cycle fetches
// market data, evaluates the entry signal, converges orders, applies fills
// and exits, then persists and publishes status. Symbols run independently;
// the only shared pieces are the exchange rate limiter and the stores.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"swingbot/config"
	"swingbot/internal/domain"
	"swingbot/internal/exchange"
	"swingbot/internal/metrics"
	"swingbot/internal/notify"
	"swingbot/internal/services/exits"
	"swingbot/internal/services/planner"
	"swingbot/internal/services/reconciler"
	"swingbot/internal/services/signal"
	"swingbot/internal/storage/symbolstate"
	"swingbot/internal/storage/tradelog"
	"swingbot/internal/web"
)

const maxConcurrentSymbols = 8

// SymbolRunner owns the full pipeline for one trading pair.
type SymbolRunner struct {
	cfg      config.SymbolConfig
	ex       exchange.Exchange
	signals  *signal.Evaluator
	planner  *planner.Planner
	rec      *reconciler.Reconciler
	exits    *exits.Evaluator
	store    *symbolstate.WALStore
	trades   *tradelog.WALStore
	notifier notify.Notifier
	board    *web.Board
	state    *domain.SymbolState
	lookback int
	logger   *zap.Logger
}

// NewSymbolRunner wires the pipeline for one pair, reusing persisted state
// when the store has any.
func NewSymbolRunner(
	cfg config.SymbolConfig,
	lookback int,
	ex exchange.Exchange,
	store *symbolstate.WALStore,
	trades *tradelog.WALStore,
	notifier notify.Notifier,
	board *web.Board,
	persisted map[string]*domain.SymbolState,
	logger *zap.Logger,
) (*SymbolRunner, error) {
	logger = logger.With(zap.String("pair", cfg.Pair.String()))

	pl, err := planner.New(planner.Config{
		OffsetsPercent: cfg.OffsetsPercent,
		SizesUSD:       cfg.SizesUSD,
		RungCount:      cfg.RungCount,
		SpacingPercent: cfg.SpacingPercent,
		BudgetUSD:      cfg.BudgetUSD,
		MinNotionalUSD: cfg.MinNotionalUSD,
	}, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "planner for %s", cfg.Pair.String())
	}

	exitTargets := make([]exits.Target, 0, len(cfg.TakeProfits))
	for _, tp := range cfg.TakeProfits {
		exitTargets = append(exitTargets, exits.Target{
			OffsetPercent: tp.OffsetPercent,
			Fraction:      tp.Fraction,
		})
	}
	ev, err := exits.New(exits.Config{
		Targets:     exitTargets,
		StopPrice:   cfg.StopPrice,
		StopPercent: cfg.StopPercent,
	}, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "exits for %s", cfg.Pair.String())
	}

	st, ok := persisted[cfg.Pair.Symbol()]
	if !ok {
		st = domain.NewSymbolState(cfg.Pair)
	} else {
		logger.Info("resuming persisted state",
			zap.String("phase", string(st.Phase)),
			zap.String("cycle_id", st.CycleID),
			zap.Int("orders", len(st.Orders)))
	}

	return &SymbolRunner{
		cfg:      cfg,
		ex:       ex,
		signals:  signal.NewEvaluator(cfg.RSIPeriod, cfg.RSIThreshold, logger),
		planner:  pl,
		rec:      reconciler.New(ex, store, logger),
		exits:    ev,
		store:    store,
		trades:   trades,
		notifier: notifier,
		board:    board,
		state:    st,
		lookback: lookback,
		logger:   logger,
	}, nil
}

// Recover reconciles persisted orders against the exchange before the first
// cycle, applying any fills that happened while the process was down.
func (r *SymbolRunner) Recover(ctx context.Context) error {
	fills, err := r.rec.Recover(ctx, r.state)
	if err != nil {
		return err
	}
	if err := r.applyFills(fills); err != nil {
		return err
	}
	r.state.AdvancePhase()
	return r.store.Save(r.state)
}

// Cycle runs one full poll iteration.
func (r *SymbolRunner) Cycle(ctx context.Context) error {
	candles, err := r.ex.Candles(ctx, r.cfg.Pair, r.cfg.Timeframe, r.lookback)
	if err != nil {
		return errors.Wrap(err, "fetch candles")
	}
	price, err := r.ex.Price(ctx, r.cfg.Pair)
	if err != nil {
		return errors.Wrap(err, "fetch price")
	}

	if !r.state.CycleActive() {
		if err := r.maybeEnter(candles, price); err != nil {
			return err
		}
	}

	if err := r.rec.SyncOrders(ctx, r.state); err != nil {
		return err
	}

	fills, err := r.rec.PollFills(ctx, r.state)
	if err != nil {
		return err
	}
	if err := r.applyFills(fills); err != nil {
		return err
	}

	if stopFired := r.exits.Evaluate(r.state, price); stopFired {
		r.notifier.Notify(fmt.Sprintf("%s: stop fired at %s, exiting position",
			r.cfg.Pair.String(), price.String()))
		cancelFills, err := r.rec.CancelOpenBuys(ctx, r.state)
		if err != nil {
			return err
		}
		if err := r.applyFills(cancelFills); err != nil {
			return err
		}
		// fills raced into the cancel grow the position past the stop size
		r.exits.SweepResidue(r.state)
	}

	// exit evaluation may have appended pending sell orders
	if err := r.rec.SyncOrders(ctx, r.state); err != nil {
		return err
	}

	r.state.AdvancePhase()
	if err := r.store.Save(r.state); err != nil {
		return err
	}

	r.publish(price)
	metrics.CycleDone(r.cfg.Pair.Symbol())
	return nil
}

// maybeEnter starts a new cycle when the entry signal fires. The plan with
// its cycle id is persisted before any order goes out, so a crash between
// persist and submit replans with identical client ids.
func (r *SymbolRunner) maybeEnter(candles []domain.Candle, price decimal.Decimal) error {
	sig, err := r.signals.Evaluate(r.cfg.Pair, candles)
	if err != nil {
		r.logger.Debug("signal unavailable", zap.Error(err))
		return nil
	}
	if !r.signals.Entry(sig) {
		return nil
	}

	plan, err := r.planner.Plan(r.state, price, time.Now())
	if err != nil {
		return errors.Wrap(err, "plan ladder")
	}
	if plan == nil || len(plan.Rungs) == 0 {
		return nil
	}

	r.state.BeginCycle(plan, r.exits.Targets())
	if err := r.store.Save(r.state); err != nil {
		return err
	}

	r.notifier.Notify(fmt.Sprintf("%s: entry signal (RSI %.1f), ladder of %d rungs planned at anchor %s",
		r.cfg.Pair.String(), sig.RSI, len(plan.Rungs), price.String()))
	return nil
}

func (r *SymbolRunner) applyFills(fills []domain.Fill) error {
	for _, f := range fills {
		realized, err := r.state.Position.ApplyFill(r.cfg.Pair.Symbol(), f)
		if err != nil {
			return err
		}

		metrics.OrderOutcome(r.cfg.Pair.Symbol(), string(f.Side), "filled")
		r.logger.Info("fill applied",
			zap.String("client_id", f.ClientID),
			zap.String("side", string(f.Side)),
			zap.String("price", f.Price.String()),
			zap.String("size", f.Size.String()),
			zap.String("avg_entry", r.state.Position.AvgEntryPrice.String()),
			zap.String("position", r.state.Position.Size.String()))

		if f.Side == domain.SideSell {
			if err := r.trades.Append(tradelog.Record{
				Time:     f.Time,
				Symbol:   r.cfg.Pair.Symbol(),
				Side:     f.Side,
				Price:    f.Price,
				Size:     f.Size,
				Realized: realized,
			}); err != nil {
				return symbolstate.PersistenceError{Op: "trade log", Err: err}
			}
			r.notifier.Notify(fmt.Sprintf("%s: sold %s @ %s, realized %s USD",
				r.cfg.Pair.String(), f.Size.String(), f.Price.String(), realized.StringFixed(2)))
		}
	}
	return nil
}

func (r *SymbolRunner) publish(price decimal.Decimal) {
	pos := r.state.Position
	unrealized := pos.UnrealizedUSD(price)

	unrealizedPct := 0.0
	if !pos.Flat() && pos.AvgEntryPrice.IsPositive() {
		unrealizedPct = price.Sub(pos.AvgEntryPrice).
			Div(pos.AvgEntryPrice).
			Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	r.board.Update(web.SymbolStatus{
		Symbol:        r.cfg.Pair.Symbol(),
		Phase:         string(r.state.Phase),
		Price:         price.InexactFloat64(),
		AvgEntry:      pos.AvgEntryPrice.InexactFloat64(),
		Position:      pos.Size.InexactFloat64(),
		UnrealizedUSD: unrealized.InexactFloat64(),
		UnrealizedPct: unrealizedPct,
	})
	metrics.SetPosition(r.cfg.Pair.Symbol(), pos.Size.InexactFloat64())
}

// Runner fans the symbol loops out and owns the daily summary.
type Runner struct {
	cfg      *config.Config
	symbols  []*SymbolRunner
	trades   *tradelog.WALStore
	notifier notify.Notifier
	board    *web.Board
	logger   *zap.Logger
}

func New(cfg *config.Config, symbols []*SymbolRunner, trades *tradelog.WALStore,
	notifier notify.Notifier, board *web.Board, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		symbols:  symbols,
		trades:   trades,
		notifier: notifier,
		board:    board,
		logger:   logger,
	}
}

// Run polls every symbol until ctx is cancelled. Each symbol recovers its
// own state before its first cycle; a recovery or consistency failure halts
// that symbol only. A PersistenceError anywhere aborts the whole process.
// In --once mode each symbol runs a single cycle and Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.refreshRealized()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSymbols)

	for _, sr := range r.symbols {
		sr := sr
		g.Go(func() error {
			return r.runSymbol(ctx, sr)
		})
	}

	if !r.cfg.Once {
		g.Go(func() error {
			r.dailySummaryLoop(ctx)
			return nil
		})
	}

	return g.Wait()
}

func (r *Runner) runSymbol(ctx context.Context, sr *SymbolRunner) error {
	if err := sr.Recover(ctx); err != nil {
		var persistence symbolstate.PersistenceError
		if errors.As(err, &persistence) {
			return errors.Wrapf(err, "recover %s", sr.cfg.Pair.String())
		}
		sr.logger.Error("symbol halted on recovery error", zap.Error(err))
		r.notifier.Notify(fmt.Sprintf("%s HALTED: recovery failed: %v",
			sr.cfg.Pair.String(), err))
		return nil
	}
	r.refreshRealized()

	cycle := func() error {
		err := sr.Cycle(ctx)
		if err == nil {
			r.refreshRealized()
			return nil
		}

		var consistency *domain.ConsistencyError
		if errors.As(err, &consistency) {
			sr.logger.Error("symbol halted on consistency error", zap.Error(err))
			r.notifier.Notify(fmt.Sprintf("%s HALTED: %s", sr.cfg.Pair.String(), consistency.Msg))
			return err
		}
		var persistence symbolstate.PersistenceError
		if errors.As(err, &persistence) {
			return err
		}

		metrics.CycleError(sr.cfg.Pair.Symbol())
		sr.logger.Error("cycle failed", zap.Error(err))
		return nil
	}

	if r.cfg.Once {
		err := cycle()
		var persistence symbolstate.PersistenceError
		if errors.As(err, &persistence) {
			return err
		}
		return nil
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	sr.logger.Info("trading loop started", zap.Duration("poll_interval", r.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			sr.logger.Info("trading loop stopped")
			return nil
		case <-ticker.C:
			if err := cycle(); err != nil {
				var persistence symbolstate.PersistenceError
				if errors.As(err, &persistence) {
					return err
				}
				// consistency error: halt this symbol, keep the rest running
				return nil
			}
		}
	}
}

func (r *Runner) refreshRealized() {
	realized, err := r.trades.RealizedToday(r.cfg.Timezone)
	if err != nil {
		r.logger.Warn("realized pnl read failed", zap.Error(err))
		return
	}
	usd := realized.InexactFloat64()
	r.board.SetRealized(usd)
	metrics.SetRealizedToday(usd)
}

// dailySummaryLoop sends the P&L summary at the configured local hour, at
// most once per day, surviving restarts via the trade log marker.
func (r *Runner) dailySummaryLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().In(r.cfg.Timezone)
			if now.Hour() != r.cfg.DailySummaryHour {
				continue
			}
			date := now.Format("2006-01-02")
			sent, err := r.trades.SummarySentOn(date)
			if err != nil {
				r.logger.Warn("summary marker read failed", zap.Error(err))
				continue
			}
			if sent {
				continue
			}

			realized, err := r.trades.RealizedToday(r.cfg.Timezone)
			if err != nil {
				r.logger.Warn("realized pnl read failed", zap.Error(err))
				continue
			}
			r.notifier.Notify(fmt.Sprintf("Daily summary %s: realized P&L %s USD",
				date, realized.StringFixed(2)))
			if err := r.trades.MarkSummarySent(date); err != nil {
				r.logger.Warn("summary marker write failed", zap.Error(err))
			}
		}
	}
}
