package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"swingbot/internal/domain"
)

const (
	defaultRSIPeriod    = 14
	defaultRSIThreshold = 38.0
	defaultPollSeconds  = 60
	defaultLookback     = 200
	defaultMinNotional  = 10.0
	defaultListenAddr   = ":8080"
	defaultStateDir     = "./wal"
	defaultSummaryHour  = 21
)

// TakeProfit is one exit target.
type TakeProfit struct {
	OffsetPercent float64 `yaml:"offset_percent"`
	Fraction      float64 `yaml:"fraction"`
}

// SymbolConfig is the per-symbol trading configuration.
type SymbolConfig struct {
	Pair           domain.Pair
	Timeframe      string
	RSIPeriod      int
	RSIThreshold   float64
	OffsetsPercent []float64
	SizesUSD       []float64
	RungCount      int
	SpacingPercent float64
	BudgetUSD      float64
	MinNotionalUSD float64
	TakeProfits    []TakeProfit
	StopPrice      decimal.Decimal
	StopPercent    float64
}

// Telegram holds notifier credentials; zero value disables notifications.
type Telegram struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// Config is the full bot configuration.
type Config struct {
	Platform         string
	DryRun           bool
	Once             bool
	PollInterval     time.Duration
	LookbackCandles  int
	StateDir         string
	ListenAddr       string
	Telegram         Telegram
	DailySummaryHour int
	Timezone         *time.Location
	Symbols          []SymbolConfig
}

type SymbolTmp struct {
	Pair           string       `yaml:"pair"`
	Timeframe      string       `yaml:"timeframe"`
	RSIPeriod      int          `yaml:"rsi_period,omitempty"`
	RSIThreshold   float64      `yaml:"rsi_threshold,omitempty"`
	OffsetsPercent []float64    `yaml:"ladder_offsets_percent,omitempty"`
	SizesUSD       []float64    `yaml:"ladder_sizes_usd,omitempty"`
	RungCount      int          `yaml:"ladder_rung_count,omitempty"`
	SpacingPercent float64      `yaml:"ladder_spacing_percent,omitempty"`
	BudgetUSD      float64      `yaml:"ladder_budget_usd,omitempty"`
	MinNotionalUSD float64      `yaml:"min_notional_usd,omitempty"`
	TakeProfits    []TakeProfit `yaml:"take_profits"`
	StopPrice      string       `yaml:"stop_price,omitempty"`
	StopPercent    float64      `yaml:"stop_percent,omitempty"`
}

type ConfigTmp struct {
	Platform         string      `yaml:"platform"`
	DryRun           bool        `yaml:"dry_run,omitempty"`
	PollSeconds      int         `yaml:"poll_seconds,omitempty"`
	LookbackCandles  int         `yaml:"lookback_candles,omitempty"`
	StateDir         string      `yaml:"state_dir,omitempty"`
	ListenAddr       string      `yaml:"listen_addr,omitempty"`
	Telegram         Telegram    `yaml:"telegram,omitempty"`
	DailySummaryHour *int        `yaml:"daily_summary_hour,omitempty"`
	Timezone         string      `yaml:"timezone,omitempty"`
	Symbols          []SymbolTmp `yaml:"symbols"`
}

// Get parses flags and loads the yaml config. Flags override the file for
// the run modes (--dry-run, --once) and the symbol subset.
func Get() (*Config, bool, error) {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	setup := flag.Bool("setup", false, "run the interactive setup wizard and exit")
	dryRun := flag.Bool("dry-run", false, "paper trading against live market data")
	once := flag.Bool("once", false, "run a single poll cycle per symbol and exit")
	symbols := flag.String("symbols", "", "comma-separated subset of configured pairs, example: BTC_USDT,ETH_USDT")
	listen := flag.String("listen", "", "status server address, overrides config")
	flag.Parse()

	if *setup {
		return &Config{}, true, nil
	}

	cfg, err := load(*configPath)
	if err != nil {
		return nil, false, err
	}

	if *dryRun {
		cfg.DryRun = true
	}
	cfg.Once = *once
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *symbols != "" {
		if err := cfg.filterSymbols(*symbols); err != nil {
			return nil, false, err
		}
	}

	return cfg, false, nil
}

func load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if tmp.Platform != "binance" && tmp.Platform != "bybit" {
		return nil, fmt.Errorf("unsupported platform %q, expected binance or bybit", tmp.Platform)
	}
	if len(tmp.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}

	cfg := &Config{
		Platform:         tmp.Platform,
		DryRun:           tmp.DryRun,
		PollInterval:     time.Duration(orDefaultInt(tmp.PollSeconds, defaultPollSeconds)) * time.Second,
		LookbackCandles:  orDefaultInt(tmp.LookbackCandles, defaultLookback),
		StateDir:         orDefaultStr(tmp.StateDir, defaultStateDir),
		ListenAddr:       orDefaultStr(tmp.ListenAddr, defaultListenAddr),
		Telegram:         tmp.Telegram,
		DailySummaryHour: defaultSummaryHour,
		Timezone:         time.UTC,
	}
	if tmp.DailySummaryHour != nil {
		if *tmp.DailySummaryHour < 0 || *tmp.DailySummaryHour > 23 {
			return nil, fmt.Errorf("daily_summary_hour must be 0..23, got %d", *tmp.DailySummaryHour)
		}
		cfg.DailySummaryHour = *tmp.DailySummaryHour
	}
	if tmp.Timezone != "" {
		loc, err := time.LoadLocation(tmp.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tmp.Timezone, err)
		}
		cfg.Timezone = loc
	}

	for i, s := range tmp.Symbols {
		sym, err := parseSymbol(s)
		if err != nil {
			return nil, fmt.Errorf("symbol %d: %w", i, err)
		}
		cfg.Symbols = append(cfg.Symbols, sym)
	}

	return cfg, nil
}

func parseSymbol(s SymbolTmp) (SymbolConfig, error) {
	pair, err := domain.PairFromString(s.Pair)
	if err != nil {
		return SymbolConfig{}, fmt.Errorf("incorrect 'pair' param: %w", err)
	}
	if s.Timeframe == "" {
		return SymbolConfig{}, fmt.Errorf("timeframe is required for %s", s.Pair)
	}
	if len(s.OffsetsPercent) != len(s.SizesUSD) {
		return SymbolConfig{}, fmt.Errorf("ladder_offsets_percent and ladder_sizes_usd must have equal length for %s", s.Pair)
	}
	if len(s.OffsetsPercent) == 0 && s.RungCount == 0 {
		return SymbolConfig{}, fmt.Errorf("ladder config missing for %s: set explicit offsets/sizes or rung_count", s.Pair)
	}
	for i, off := range s.OffsetsPercent {
		if off <= 0 || off >= 100 {
			return SymbolConfig{}, fmt.Errorf("ladder offset %d for %s must be in (0, 100), got %g", i, s.Pair, off)
		}
	}
	if len(s.OffsetsPercent) == 0 && s.SpacingPercent*float64(s.RungCount) >= 100 {
		return SymbolConfig{}, fmt.Errorf("ladder spacing %g%% over %d rungs reaches 100%% below anchor for %s", s.SpacingPercent, s.RungCount, s.Pair)
	}
	if len(s.TakeProfits) == 0 {
		return SymbolConfig{}, fmt.Errorf("at least one take profit target is required for %s", s.Pair)
	}

	out := SymbolConfig{
		Pair:           pair,
		Timeframe:      s.Timeframe,
		RSIPeriod:      orDefaultInt(s.RSIPeriod, defaultRSIPeriod),
		RSIThreshold:   s.RSIThreshold,
		OffsetsPercent: s.OffsetsPercent,
		SizesUSD:       s.SizesUSD,
		RungCount:      s.RungCount,
		SpacingPercent: s.SpacingPercent,
		BudgetUSD:      s.BudgetUSD,
		MinNotionalUSD: s.MinNotionalUSD,
		TakeProfits:    s.TakeProfits,
		StopPercent:    s.StopPercent,
	}
	if out.RSIThreshold == 0 {
		out.RSIThreshold = defaultRSIThreshold
	}
	if out.MinNotionalUSD == 0 {
		out.MinNotionalUSD = defaultMinNotional
	}
	if s.StopPrice != "" {
		out.StopPrice, err = decimal.NewFromString(s.StopPrice)
		if err != nil {
			return SymbolConfig{}, fmt.Errorf("incorrect 'stop_price' param for %s: %w", s.Pair, err)
		}
	}
	if out.StopPrice.IsPositive() && out.StopPercent > 0 {
		return SymbolConfig{}, fmt.Errorf("set either stop_price or stop_percent for %s, not both", s.Pair)
	}
	return out, nil
}

func (c *Config) filterSymbols(list string) error {
	want := make(map[string]bool)
	for _, s := range strings.Split(list, ",") {
		want[strings.TrimSpace(s)] = true
	}

	var kept []SymbolConfig
	for _, s := range c.Symbols {
		if want[s.Pair.String()] {
			kept = append(kept, s)
			delete(want, s.Pair.String())
		}
	}
	for missing := range want {
		return fmt.Errorf("pair %s from --symbols is not in the config", missing)
	}
	if len(kept) == 0 {
		return fmt.Errorf("--symbols matched nothing")
	}
	c.Symbols = kept
	return nil
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
