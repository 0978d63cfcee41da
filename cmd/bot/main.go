// Package main is the entry point for the quant trading bot.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-bot/internal/backtest"
	"github.com/tathienbao/quant-bot/internal/config"
	"github.com/tathienbao/quant-bot/internal/event"
	"github.com/tathienbao/quant-bot/internal/eventengine"
	"github.com/tathienbao/quant-bot/internal/observer"
	"github.com/tathienbao/quant-bot/internal/persistence"
	"github.com/tathienbao/quant-bot/internal/replay"
	"github.com/tathienbao/quant-bot/internal/strategy"
	"github.com/tathienbao/quant-bot/internal/types"
	"github.com/tathienbao/quant-bot/internal/ui"
)

// Version information (set by build flags).
var (
	Version   = "1.4.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "backtest":
		cmdBacktest(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Quant Trading Bot - Event-Driven Backtester

Usage:
  quant-bot <command> [options]

Commands:
  backtest   Run a backtest simulation
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  quant-bot backtest --config config.yaml --data data/MES_5m.csv
  quant-bot validate --config config.yaml

Use "quant-bot <command> --help" for more information about a command.`)
}

// strategyOption represents a strategy choice in the menu.
type strategyOption struct {
	Name        string
	Description string
	Return      string
	WinRate     string
	Recommended bool
}

// selectStrategy shows an interactive menu to select a strategy.
func selectStrategy() string {
	options := []strategyOption{
		{
			Name:        "grid",
			Description: "Grid/Rebound - High Frequency (max return)",
			Return:      "+51.94%",
			WinRate:     "91.05%",
			Recommended: true,
		},
		{
			Name:        "grid-conservative",
			Description: "Grid/Rebound - Conservative (low risk)",
			Return:      "+33.54%",
			WinRate:     "85.41%",
			Recommended: false,
		},
		{
			Name:        "breakout",
			Description: "Range Breakout (không khuyến nghị)",
			Return:      "-11.59%",
			WinRate:     "0%",
			Recommended: false,
		},
		{
			Name:        "meanrev",
			Description: "Mean Reversion (không khuyến nghị)",
			Return:      "-3.62%",
			WinRate:     "20%",
			Recommended: false,
		},
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ .Name | cyan }} - {{ .Description }} (Return: {{ .Return }}, WR: {{ .WinRate }}){{ if .Recommended }} ⭐{{ end }}",
		Inactive: "  {{ .Name | white }} - {{ .Description }} (Return: {{ .Return }}, WR: {{ .WinRate }}){{ if .Recommended }} ⭐{{ end }}",
		Selected: "✔ Strategy: {{ .Name | green }}",
	}

	prompt := promptui.Select{
		Label:     "Chọn Strategy (↑↓ để di chuyển, Enter để chọn)",
		Items:     options,
		Templates: templates,
		Size:      6,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Selection cancelled\n")
		os.Exit(1)
	}

	return options[idx].Name
}

// selectDataFile shows an interactive menu to select a data file.
func selectDataFile() string {
	// Find CSV files in data directory
	files, err := filepath.Glob("data/*.csv")
	if err != nil || len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No CSV files found in data/ directory\n")
		os.Exit(1)
	}

	type fileOption struct {
		Path string
		Name string
	}

	options := make([]fileOption, len(files))
	for i, f := range files {
		options[i] = fileOption{
			Path: f,
			Name: filepath.Base(f),
		}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ .Name | cyan }}",
		Inactive: "  {{ .Name | white }}",
		Selected: "✔ Data file: {{ .Name | green }}",
	}

	prompt := promptui.Select{
		Label:     "Chọn Data File (↑↓ để di chuyển, Enter để chọn)",
		Items:     options,
		Templates: templates,
		Size:      6,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Selection cancelled\n")
		os.Exit(1)
	}

	return options[idx].Path
}

func cmdVersion() {
	fmt.Printf("quant-bot version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Starting equity: $%.2f\n", cfg.Account.StartingEquity)
	fmt.Printf("  Primary instrument: %s\n", cfg.Market.InstrumentPrimary)
	fmt.Printf("  Max drawdown: %.1f%%\n", cfg.Account.MaxGlobalDrawdownPct*100)
	fmt.Printf("  Risk per trade: %.1f%%\n", cfg.Account.RiskPerTradePct*100)
}

func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to CSV data file (interactive if empty)")
	strategyName := fs.String("strategy", "", "Strategy (interactive if empty)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	interactive := fs.Bool("i", false, "Force interactive mode")
	showUI := fs.Bool("ui", true, "Show live chart UI (default: true)")
	fs.Parse(args)

	// Interactive mode for data file
	if *dataPath == "" || *interactive {
		*dataPath = selectDataFile()
	}

	// Interactive mode for strategy
	if *strategyName == "" || *interactive {
		*strategyName = selectStrategy()
	}

	// Setup logging - suppress if UI enabled
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	if *showUI {
		logLevel = slog.LevelError // Suppress logs when UI active
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Count total bars for progress
	totalBars := countCSVLines(*dataPath)

	// Create strategy
	var strat strategy.Strategy
	switch *strategyName {
	case "breakout":
		strat = strategy.NewBreakout(strategy.BreakoutConfig{
			LookbackBars:   cfg.Risk.VolatilityLookbackBars,
			ATRMultiplier:  decimal.NewFromFloat(cfg.Risk.StopLossATRMultiple),
			BreakoutBuffer: decimal.Zero,
		})
	case "meanrev":
		strat = strategy.NewMeanReversion(strategy.MeanRevConfig{
			SMAPeriod:     20,
			StdDevPeriod:  20,
			EntryStdDev:   decimal.RequireFromString("2.0"),
			ATRMultiplier: decimal.NewFromFloat(cfg.Risk.StopLossATRMultiple),
		})
	case "grid":
		strat = strategy.NewGrid(strategy.OriginalGridConfig())
	case "grid-conservative":
		strat = strategy.NewGrid(strategy.ConservativeGridConfig())
	default:
		fmt.Fprintf(os.Stderr, "unknown strategy: %s\n", *strategyName)
		os.Exit(1)
	}

	// Calculator derives ATR/StdDev per bar for the strategy bridge below;
	// the event-driven backtester itself only needs OHLCV.
	calculator := observer.NewCalculator(observer.CalculatorConfig{
		ATRPeriod:    cfg.Risk.VolatilityLookbackBars,
		StdDevPeriod: 20,
	})

	symbol := cfg.Market.InstrumentPrimary
	btCfg := backtest.Config{
		InitialCapital: cfg.StartingEquityDecimal(),
		CommissionRate: decimal.NewFromFloat(cfg.Backtest.CommissionRate),
		Slippage:       decimal.NewFromFloat(cfg.Backtest.SlippageFraction),
		AllowShorting:  cfg.Backtest.AllowShorting,
	}
	runner := backtest.NewRunner(btCfg, eventengine.DefaultConfig(), logger)

	// Bridge the strategy.Strategy interface onto the runner's event
	// engine: convert each Market event to types.MarketEvent (running it
	// through the calculator first for ATR/StdDev), call the strategy,
	// then translate any types.Signal it returns into event.Event Signals.
	runner.Engine().RegisterHandler(event.Market, func(ev event.Event) {
		if ev.Symbol != symbol {
			return
		}
		te := types.MarketEvent{
			Symbol:    ev.Symbol,
			Timestamp: ev.Timestamp,
			Open:      ev.Open,
			High:      ev.High,
			Low:       ev.Low,
			Close:     ev.Close,
			Volume:    ev.Volume.IntPart(),
		}
		te = calculator.OnBar(te)

		for _, sig := range strat.OnMarketEvent(context.Background(), te) {
			direction := event.Long
			if sig.Direction == types.SideShort {
				direction = event.Short
			} else if sig.Direction == types.SideFlat {
				// The core event model has no "flat" direction; send the
				// opposite of whatever is currently held at full
				// strength, landing in onSignal's closing branch (which
				// ignores strength when closing a position).
				if runner.CurrentPosition(ev.Symbol).IsNegative() {
					direction = event.Long
				} else {
					direction = event.Short
				}
			}
			strength := sig.Strength
			if strength.IsZero() {
				strength = decimal.NewFromInt(1)
			}
			runner.Engine().Send(event.NewSignal(ev.Symbol, ev.Timestamp, direction, strength))
		}
	})

	// Load the CSV file as a replay source and drive it synchronously in
	// batch mode through the runner's engine.
	file, err := os.Open(*dataPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open data file: %v\n", err)
		os.Exit(1)
	}
	src, err := replay.NewCSVSource(file, "timestamp")
	file.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse data file: %v\n", err)
		os.Exit(1)
	}

	bars := make([]event.Event, src.Len())
	for i := 0; i < src.Len(); i++ {
		row, _ := src.Row(i)
		open, _ := toRowDecimal(row["open"])
		high, _ := toRowDecimal(row["high"])
		low, _ := toRowDecimal(row["low"])
		closePx, _ := toRowDecimal(row["close"])
		volume, _ := toRowDecimal(row["volume"])
		ts, _ := src.Timestamp(i)
		bars[i] = event.NewMarket(symbol, ts, open, high, low, closePx, volume).WithSource(*dataPath)
	}

	// Setup UI if enabled. The progress callback fires once per row
	// RunBatch drains (see internal/backtest/runner.go), so the chart and
	// stats line update live as the backtest runs rather than only once
	// at the very end.
	var backtestUI *ui.BacktestUI
	if *showUI {
		backtestUI = ui.NewBacktestUI(totalBars, cfg.StartingEquityDecimal())
		backtestUI.Start()
		defer backtestUI.Stop()

		lastRender := time.Now()
		runner.SetProgressCallback(func(update backtest.ProgressUpdate) {
			for _, ev := range update.Events {
				if ev.Symbol != symbol {
					continue
				}
				backtestUI.AddCandle(ui.Candle{Open: ev.Open, High: ev.High, Low: ev.Low, Close: ev.Close})
			}
			backtestUI.UpdateStats(update.Equity, update.Drawdown, update.Trades, update.WinRate, "")

			if time.Since(lastRender) > 33*time.Millisecond || update.Bar == update.TotalBars {
				backtestUI.Render()
				lastRender = time.Now()
			}
		})
	} else {
		slog.Info("starting backtest",
			"data", *dataPath,
			"strategy", *strategyName,
			"equity", cfg.Account.StartingEquity,
		)
	}

	// Run backtest
	ctx := context.Background()
	result, err := runner.RunBatch(ctx, map[string][]event.Event{symbol: bars})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}

	// Print results
	printBacktestResults(result, cfg.Account.StartingEquity)

	// Calculate metrics
	btMetrics := backtest.NewMetrics(result, decimal.Zero)
	printMetrics(btMetrics)

	if cfg.Persistence.Enabled && cfg.Persistence.Type == "sqlite" {
		repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			logger.Error("failed to open persistence database", "error", err)
		} else {
			defer repo.Close()
			if err := repo.SaveBacktestRun(ctx, result); err != nil {
				logger.Error("failed to save backtest run", "error", err)
			}
		}
	}
}

// toRowDecimal converts a replay.Row cell (a decimal.Decimal from the CSV
// source, or a float64 or integer from other sources) into a
// decimal.Decimal.
func toRowDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case int64:
		return decimal.NewFromInt(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	default:
		return decimal.Zero, false
	}
}

// countCSVLines counts the number of data lines in a CSV file
func countCSVLines(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	count := 0
	for scanner.Scan() {
		count++
	}
	// Subtract 1 for header
	if count > 0 {
		count--
	}
	return count
}

func printBacktestResults(result *backtest.Result, startingEquity float64) {
	fmt.Println("\n=== BACKTEST RESULTS ===")
	fmt.Printf("Starting Equity:  $%.2f\n", result.StartEquity.InexactFloat64())
	fmt.Printf("Ending Equity:    $%.2f\n", result.EndEquity.InexactFloat64())
	fmt.Printf("Total Return:     %.2f%%\n", result.TotalReturn.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Printf("Max Drawdown:     %.2f%%\n", result.MaxDrawdown.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Println()
	fmt.Printf("Total Trades:     %d\n", result.TotalTrades)
	fmt.Printf("Winning Trades:   %d\n", result.WinningTrades)
	fmt.Printf("Losing Trades:    %d\n", result.LosingTrades)
	fmt.Printf("Win Rate:         %.2f%%\n", result.WinRate.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Printf("Profit Factor:    %.2f\n", result.ProfitFactor.InexactFloat64())
}

func printMetrics(m *backtest.Metrics) {
	fmt.Println("\n=== PERFORMANCE METRICS ===")
	fmt.Printf("Sharpe Ratio:     %.2f\n", m.SharpeRatio().InexactFloat64())
	fmt.Printf("Sortino Ratio:    %.2f\n", m.SortinoRatio().InexactFloat64())
	fmt.Printf("Calmar Ratio:     %.2f\n", m.CalmarRatio().InexactFloat64())
	fmt.Printf("Expectancy:       $%.2f\n", m.Expectancy().InexactFloat64())
	fmt.Printf("Avg Win:          $%.2f\n", m.AverageWin().InexactFloat64())
	fmt.Printf("Avg Loss:         $%.2f\n", m.AverageLoss().InexactFloat64())
}

