// Command swingbot runs the RSI swing-trading bot: per-symbol DCA ladders
// entered on oversold RSI, staged take-profit and stop exits, durable
// restart-safe order state.
//
// Usage:
//
//	swingbot --config config.yaml
//	swingbot --config config.yaml --dry-run
//	swingbot --setup
//
// Required environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"swingbot/config"
	"swingbot/internal/clients"
	"swingbot/internal/exchange"
	"swingbot/internal/notify"
	"swingbot/internal/runner"
	"swingbot/internal/setup"
	"swingbot/internal/storage/symbolstate"
	"swingbot/internal/storage/tradelog"
	"swingbot/internal/web"
)

// requests per second against the exchange REST API, shared by all symbols
const (
	apiRatePerSec = 10
	apiRateBurst  = 20
)

func main() {
	cfg, runSetup, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}
	if runSetup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ex, err := buildExchange(cfg, logger)
	if err != nil {
		logger.Fatal("exchange init failed", zap.Error(err))
	}

	stateStore, err := symbolstate.NewWALStore(filepath.Join(cfg.StateDir, "state"))
	if err != nil {
		logger.Fatal("state store init failed", zap.Error(err))
	}
	defer stateStore.Close()

	trades, err := tradelog.NewWALStore(filepath.Join(cfg.StateDir, "trades"))
	if err != nil {
		logger.Fatal("trade log init failed", zap.Error(err))
	}
	defer trades.Close()

	notifier := buildNotifier(cfg, logger)
	board := web.NewBoard()

	persisted, err := stateStore.LoadAll()
	if err != nil {
		logger.Fatal("state load failed", zap.Error(err))
	}

	symbols := make([]*runner.SymbolRunner, 0, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		sr, err := runner.NewSymbolRunner(sc, cfg.LookbackCandles, ex, stateStore, trades, notifier, board, persisted, logger)
		if err != nil {
			logger.Fatal("symbol init failed", zap.String("pair", sc.Pair.String()), zap.Error(err))
		}
		symbols = append(symbols, sr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return web.NewServer(cfg.ListenAddr, board).Start(ctx)
	})

	bot := runner.New(cfg, symbols, trades, notifier, board, logger)
	g.Go(func() error {
		defer stop() // --once: bring the web server down with the run loop
		return bot.Run(ctx)
	})

	logger.Info("swingbot started",
		zap.String("platform", cfg.Platform),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Int("symbols", len(cfg.Symbols)),
		zap.String("listen", cfg.ListenAddr))

	if err := g.Wait(); err != nil {
		logger.Fatal("stopped with error", zap.Error(err))
	}
	logger.Info("stopped")
}

func buildExchange(cfg *config.Config, logger *zap.Logger) (exchange.Exchange, error) {
	limiter := rate.NewLimiter(rate.Limit(apiRatePerSec), apiRateBurst)

	var ex exchange.Exchange
	switch cfg.Platform {
	case "binance":
		apiKey, apiSecret, err := creds("BINANCE_API_KEY", "BINANCE_API_SECRET", cfg.DryRun)
		if err != nil {
			return nil, err
		}
		ex = exchange.NewBinance(clients.NewBinanceClient(apiKey, apiSecret), limiter)
	case "bybit":
		apiKey, apiSecret, err := creds("BYBIT_API_KEY", "BYBIT_API_SECRET", cfg.DryRun)
		if err != nil {
			return nil, err
		}
		ex = exchange.NewBybit(clients.NewBybitClient(apiKey, apiSecret), limiter)
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}

	if cfg.DryRun {
		ex = exchange.NewPaper(ex, logger)
	}
	return ex, nil
}

// creds reads the API key pair from the environment. Dry runs only read
// public market data, so missing keys are fine there.
func creds(keyEnv, secretEnv string, dryRun bool) (string, string, error) {
	apiKey, apiSecret := os.Getenv(keyEnv), os.Getenv(secretEnv)
	if !dryRun && (apiKey == "" || apiSecret == "") {
		return "", "", fmt.Errorf("%s and %s environment variables must be set", keyEnv, secretEnv)
	}
	return apiKey, apiSecret, nil
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return notify.Noop{}
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
	if err != nil {
		logger.Warn("telegram init failed, notifications disabled", zap.Error(err))
		return notify.Noop{}
	}
	return tg
}
