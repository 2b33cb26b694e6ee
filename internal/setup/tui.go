package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
	"swingbot/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard and writes config.gen.yaml.
func RunTUI() error {
	var (
		platform     string
		pair         string
		timeframe    string
		pollSeconds  string
		rsiThreshold string
		offsetsStr   string
		sizesStr     string
		tpStr        string
		stopPercent  string
		dryRun       bool
		confirm      bool
	)

	// defaults
	timeframe = "1h"
	pollSeconds = "60"
	rsiThreshold = "38"
	offsetsStr = "1, 3, 5"
	sizesStr = "40, 30, 30"
	tpStr = "6:0.5, 11:0.5"
	stopPercent = "12"

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SWINGBOT CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("RSI swing trading with a DCA ladder.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PLATFORM"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange Platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&platform),
			huh.NewConfirm().
				Title("Dry run (paper trading)?").
				Value(&dryRun),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SWINGBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: ASSET"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("Must contain underscore (e.g. BTC_USDT)").
				Value(&pair).
				Validate(func(s string) error {
					if !strings.Contains(s, "_") {
						return fmt.Errorf("invalid format: must be BASE_QUOTE (e.g. BTC_USDT)")
					}
					return nil
				}),
			huh.NewInput().
				Title("Timeframe").
				Description("Candle interval for RSI (e.g. 1h, 4h)").
				Value(&timeframe),
			huh.NewInput().
				Title("Poll Interval Seconds").
				Value(&pollSeconds).
				Validate(validatePositiveInt),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SWINGBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: ENTRY AND LADDER"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("RSI Entry Threshold").
				Description("Start a cycle when RSI drops below this (e.g. 38)").
				Value(&rsiThreshold).
				Validate(validateFloat),
			huh.NewInput().
				Title("Ladder Offsets %").
				Description("Percent below anchor per rung, comma separated (e.g. 1, 3, 5)").
				Value(&offsetsStr).
				Validate(validateFloatList),
			huh.NewInput().
				Title("Ladder Sizes USD").
				Description("Quote spent per rung, same count as offsets (e.g. 40, 30, 30)").
				Value(&sizesStr).
				Validate(validateFloatList),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SWINGBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: EXITS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Take Profit Targets").
				Description("offset%:fraction pairs (e.g. 6:0.5, 11:0.5)").
				Value(&tpStr).
				Validate(func(s string) error {
					_, err := parseTakeProfits(s)
					return err
				}),
			huh.NewInput().
				Title("Stop %").
				Description("Percent below average entry (empty disables the stop)").
				Value(&stopPercent),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SWINGBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Platform: %s\nDry run: %v\nPair: %s\nTimeframe: %s\nRSI threshold: %s\nLadder: %s%% -> %s USD\nTake profits: %s\nStop: %s%%\n",
		platform, dryRun, pair, timeframe, rsiThreshold, offsetsStr, sizesStr, tpStr, stopPercent,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	poll, _ := strconv.Atoi(strings.TrimSpace(pollSeconds))
	threshold, _ := strconv.ParseFloat(strings.TrimSpace(rsiThreshold), 64)
	takeProfits, _ := parseTakeProfits(tpStr)

	sym := config.SymbolTmp{
		Pair:           pair,
		Timeframe:      timeframe,
		RSIThreshold:   threshold,
		OffsetsPercent: parseFloatList(offsetsStr),
		SizesUSD:       parseFloatList(sizesStr),
		TakeProfits:    takeProfits,
	}
	if sp := strings.TrimSpace(stopPercent); sp != "" {
		sym.StopPercent, _ = strconv.ParseFloat(sp, 64)
	}

	cfgTmp := config.ConfigTmp{
		Platform:    platform,
		DryRun:      dryRun,
		PollSeconds: poll,
		Symbols:     []config.SymbolTmp{sym},
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\nConfiguration saved to %s\nRun: swingbot --config %s", filename, filename)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateFloat(s string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return fmt.Errorf("must be a number")
	}
	return nil
}

func validateFloatList(s string) error {
	for _, part := range strings.Split(s, ",") {
		if _, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err != nil {
			return fmt.Errorf("must be comma-separated numbers")
		}
	}
	return nil
}

func parseFloatList(s string) []float64 {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

func parseTakeProfits(s string) ([]config.TakeProfit, error) {
	var out []config.TakeProfit
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("expected offset:fraction pairs")
		}
		offset, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad offset %q", fields[0])
		}
		fraction, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad fraction %q", fields[1])
		}
		if fraction <= 0 || fraction > 1 {
			return nil, fmt.Errorf("fraction must be in (0, 1]")
		}
		out = append(out, config.TakeProfit{OffsetPercent: offset, Fraction: fraction})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one target required")
	}
	return out, nil
}
