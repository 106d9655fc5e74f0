// Command replay runs the Wyckoff detection engine over historical bars.
//
// Usage (CSV mode):
//
//	go run ./cmd/replay --csv data.csv --symbol AAPL --timeframe 1d
//
// Usage (API mode):
//
//	go run ./cmd/replay --api-url http://localhost:8000 \
//	    --symbol AAPL --timeframe 1h --start 2024-01-01 --end 2024-06-01
//
// Add --serve :8080 to expose the monitoring API and Prometheus metrics
// after the replay, or --db to persist campaigns and signals to Postgres.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketstruct/wyckoff/pkg/api"
	"github.com/marketstruct/wyckoff/pkg/campaign"
	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/engine"
	"github.com/marketstruct/wyckoff/pkg/feed"
	"github.com/marketstruct/wyckoff/pkg/metrics"
	"github.com/marketstruct/wyckoff/pkg/persistence"
	"github.com/marketstruct/wyckoff/pkg/pipeline"
	"github.com/marketstruct/wyckoff/pkg/types"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default: built-in defaults)")
	symbol := flag.String("symbol", "", "Ticker symbol (required)")
	timeframe := flag.String("timeframe", "1d", "Bar timeframe: 1m, 5m, 15m, 1h, 1d")
	equity := flag.Float64("equity", 100_000, "Account equity for position sizing")
	outputFile := flag.String("output", "", "Path for signals CSV (default: stdout)")
	serveAddr := flag.String("serve", "", "Serve monitoring API + metrics on this address after replay (e.g. :8080)")

	// Data source: CSV file
	csvFile := flag.String("csv", "", "Path to CSV file with OHLCV data")

	// Data source: bar API
	apiURL := flag.String("api-url", envOrDefault("BAR_API_URL", ""), "Bar API base URL (e.g. http://localhost:8000)")
	startDate := flag.String("start", "", "Start date for API mode (ISO format)")
	endDate := flag.String("end", "", "End date for API mode (ISO format)")
	apiTimeout := flag.Duration("api-timeout", 30*time.Second, "Timeout per API request")

	// Persistence
	dbConn := flag.String("db", envOrDefault("DATABASE_URL", ""), "Postgres connection string (empty disables persistence)")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "Error: --symbol is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bars, err := loadBars(ctx, logger, *csvFile, *apiURL, *symbol, *timeframe, *startDate, *endDate, *apiTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bars: %v\n", err)
		os.Exit(1)
	}
	logger.Info("Loaded bars", "symbol", *symbol, "timeframe", *timeframe, "count", len(bars))

	if cfg.Session.Enabled {
		openAt, closeAt, err := cfg.Session.Bounds()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error in session config: %v\n", err)
			os.Exit(1)
		}
		before := len(bars)
		bars = feed.FilterSession(bars, openAt, closeAt)
		logger.Info("Session filter applied",
			"open", cfg.Session.Open,
			"close", cfg.Session.Close,
			"kept", len(bars),
			"dropped", before-len(bars),
		)
	}

	recorder := metrics.New()
	book := campaign.NewBook(cfg, logger, version)
	eng := engine.New(cfg, *symbol, *timeframe, book, logger, recorder)
	eng.SetAccount(pipeline.Account{Equity: *equity})

	start := time.Now()
	results := make([]*engine.BarResult, 0, len(bars))
	for _, bar := range bars {
		if ctx.Err() != nil {
			logger.Error("Replay stopped", "bars_processed", len(results), "err", ctx.Err())
			break
		}
		barStart := time.Now()
		res, err := eng.ProcessBar(bar)
		if err != nil {
			logger.Error("Replay stopped", "bars_processed", len(results), "err", err)
			os.Exit(1)
		}
		recorder.ObserveBarDuration(time.Since(barStart).Seconds())
		results = append(results, res)
	}

	var events []types.PatternEvent
	var signals []types.TradeSignal
	campaignSeen := map[string]bool{}
	for _, res := range results {
		events = append(events, res.Patterns...)
		signals = append(signals, res.Signals...)
		for _, c := range res.Campaigns {
			campaignSeen[c.ID] = true
		}
		for _, c := range res.Expired {
			campaignSeen[c.ID] = true
		}
	}

	approved := 0
	for _, s := range signals {
		if s.Approved {
			approved++
		}
	}
	logger.Info("Replay complete",
		"bars", len(results),
		"patterns", len(events),
		"campaigns", len(campaignSeen),
		"signals", len(signals),
		"approved", approved,
		"elapsed", time.Since(start),
	)

	if err := writeSignalsCSV(*outputFile, signals); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing signals: %v\n", err)
		os.Exit(1)
	}

	if *dbConn != "" {
		if err := persist(ctx, logger, *dbConn, book, signals); err != nil {
			fmt.Fprintf(os.Stderr, "Error persisting results: %v\n", err)
			os.Exit(1)
		}
	}

	if *serveAddr != "" {
		serve(ctx, logger, *serveAddr, book)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// loadBars picks the data source from the flag combination.
func loadBars(
	ctx context.Context,
	logger *slog.Logger,
	csvFile, apiURL, symbol, timeframe, startDate, endDate string,
	timeout time.Duration,
) ([]types.Bar, error) {
	var provider feed.Provider
	switch {
	case csvFile != "" && apiURL != "":
		return nil, fmt.Errorf("specify either --csv or --api-url, not both")
	case csvFile != "":
		provider = &feed.CSVSource{Path: csvFile}
	case apiURL != "":
		if startDate == "" || endDate == "" {
			return nil, fmt.Errorf("--start and --end are required when using --api-url")
		}
		provider = feed.NewClient(apiURL, &feed.ClientConfig{
			Timeout:     timeout,
			Logger:      logger,
			EnableCache: true,
		})
	default:
		return nil, fmt.Errorf("must specify --csv or --api-url for data source")
	}

	var start, end time.Time
	var err error
	if startDate != "" {
		if start, err = time.Parse("2006-01-02", startDate); err != nil {
			return nil, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if endDate != "" {
		if end, err = time.Parse("2006-01-02", endDate); err != nil {
			return nil, fmt.Errorf("invalid --end: %w", err)
		}
	}

	bars, err := provider.Bars(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s/%s", symbol, timeframe)
	}
	return bars, nil
}

func writeSignalsCSV(path string, signals []types.TradeSignal) error {
	var w *csv.Writer
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = csv.NewWriter(f)
	} else {
		w = csv.NewWriter(os.Stdout)
	}
	defer w.Flush()

	w.Write([]string{
		"timestamp", "symbol", "timeframe", "pattern", "campaign_id",
		"entry", "stop", "target", "confidence", "risk_pct", "r_multiple",
		"shares", "approved", "rejection_stage", "rejection_reason",
	})
	for _, s := range signals {
		w.Write([]string{
			s.Timestamp.UTC().Format(time.RFC3339),
			s.Symbol,
			s.Timeframe,
			string(s.Kind),
			s.CampaignID,
			fmt.Sprintf("%.6f", s.Entry),
			fmt.Sprintf("%.6f", s.Stop),
			fmt.Sprintf("%.6f", s.Target),
			fmt.Sprintf("%.2f", s.Confidence),
			fmt.Sprintf("%.6f", s.RiskPct),
			fmt.Sprintf("%.2f", s.RMultiple),
			strconv.Itoa(s.Shares),
			strconv.FormatBool(s.Approved),
			s.RejectionStage,
			s.RejectionReason,
		})
	}
	return w.Error()
}

// persist writes final campaign snapshots and all signals to Postgres.
func persist(ctx context.Context, logger *slog.Logger, connStr string, book *campaign.Book, signals []types.TradeSignal) error {
	client, err := persistence.NewClient(ctx, connStr, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer client.Close()

	var campaignRecords []persistence.CampaignRecord
	for _, c := range book.List("", "", 0) {
		campaignRecords = append(campaignRecords, persistence.CampaignToRecord(c))
	}
	signalRecords := make([]persistence.SignalRecord, len(signals))
	for i, s := range signals {
		signalRecords[i] = persistence.SignalToRecord(s)
	}

	campaignCount, signalCount, err := client.Persist(ctx, campaignRecords, signalRecords)
	if err != nil {
		return err
	}
	logger.Info("Persisted replay output", "campaigns", campaignCount, "signals", signalCount)
	return nil
}

// serve blocks on the monitoring API until the context is cancelled.
func serve(ctx context.Context, logger *slog.Logger, addr string, book *campaign.Book) {
	mux := http.NewServeMux()
	api.NewServer(book, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("Serving monitoring API", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("API server failed", "err", err)
	}
}

// envOrDefault returns the value of an environment variable,
// or the given default if the variable is unset or empty.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
