// Command exchangesim is the composition root (A5): it wires the clock,
// broadcast bus, progress registry, Mongo-backed store, accounts/orders/
// matcher/replay/sessions services, and the HTTP/WebSocket transport
// layer into one process, and exposes an ingest subcommand for one-shot
// historical-data backfills. Grounded on the teacher's cmd/feedsim/main.go
// for signal handling and graceful HTTP shutdown, restructured around
// spf13/cobra subcommands instead of a single main() the way the teacher's
// internal/config.Load used bare stdlib flag.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/uri157/exchange-simulator/internal/accounts"
	"github.com/uri157/exchange-simulator/internal/broadcast"
	"github.com/uri157/exchange-simulator/internal/clock"
	"github.com/uri157/exchange-simulator/internal/core"
	"github.com/uri157/exchange-simulator/internal/ingest"
	"github.com/uri157/exchange-simulator/internal/matcher"
	"github.com/uri157/exchange-simulator/internal/orders"
	"github.com/uri157/exchange-simulator/internal/progress"
	"github.com/uri157/exchange-simulator/internal/replay"
	"github.com/uri157/exchange-simulator/internal/sessions"
	"github.com/uri157/exchange-simulator/internal/store"
	"github.com/uri157/exchange-simulator/internal/transport"
)

type rootFlags struct {
	mongoURI     string
	host         string
	port         int
	defaultSpeed float64
	quoteAsset   string
	initBalance  float64
	makerBps     float64
	takerBps     float64
	partialFills bool

	ingestBaseURL string
	archiveDir    string
	s3Bucket      string
}

func main() {
	var f rootFlags

	root := &cobra.Command{
		Use:   "exchangesim",
		Short: "Historical-market exchange simulator",
	}
	root.PersistentFlags().StringVar(&f.mongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/exchangesim"), "MongoDB connection URI")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	serveCmd.Flags().StringVar(&f.host, "host", envStr("EXCHANGESIM_HOST", "0.0.0.0"), "Listen host")
	serveCmd.Flags().IntVar(&f.port, "port", envInt("EXCHANGESIM_PORT", 8200), "Listen port")
	serveCmd.Flags().Float64Var(&f.defaultSpeed, "default-speed", 1.0, "Default clock speed for new sessions' SetSpeed base")
	serveCmd.Flags().StringVar(&f.quoteAsset, "default-quote", "USDT", "Fallback quote asset for symbols not in the common-quote table")
	serveCmd.Flags().Float64Var(&f.initBalance, "initial-balance", 10000, "Initial quote-asset balance for a new session account")
	serveCmd.Flags().Float64Var(&f.makerBps, "maker-bps", 8, "Maker fee in basis points")
	serveCmd.Flags().Float64Var(&f.takerBps, "taker-bps", 10, "Taker fee in basis points")
	serveCmd.Flags().BoolVar(&f.partialFills, "partial-fills", true, "Allow the matcher to partially fill resting orders")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create MongoDB indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), f)
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest [symbol] [interval] [startMs] [endMs]",
		Short: "Backfill historical klines and agg trades for one symbol",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), f, args)
		},
	}
	ingestCmd.Flags().StringVar(&f.ingestBaseURL, "source", envStr("INGEST_SOURCE_URL", "https://api.binance.com"), "Base URL of the upstream market-data REST API")
	ingestCmd.Flags().StringVar(&f.archiveDir, "archive-dir", envStr("INGEST_ARCHIVE_DIR", ""), "Directory to archive raw fetched pages (empty disables archival)")
	ingestCmd.Flags().StringVar(&f.s3Bucket, "s3-bucket", envStr("INGEST_S3_BUCKET", ""), "S3 bucket for archived pages (empty disables S3 upload)")

	var seedRNG int64
	seedCmd := &cobra.Command{
		Use:   "seed [symbol] [interval] [startMs] [endMs]",
		Short: "Write a deterministic synthetic GBM candle series, for local dev/tests without an upstream",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), f, args, seedRNG)
		},
	}
	seedCmd.Flags().Int64Var(&seedRNG, "seed", 1, "PRNG seed, for reproducible runs")

	root.AddCommand(serveCmd, migrateCmd, ingestCmd, seedCmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("exchangesim: %v", err)
	}
}

func runMigrate(ctx context.Context, f rootFlags) error {
	st, err := store.Connect(ctx, f.mongoURI)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer st.Close(context.Background())
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Println("exchangesim: indexes ensured")
	return nil
}

func runServe(ctx context.Context, f rootFlags) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("exchangesim: starting")

	st, err := store.Connect(ctx, f.mongoURI)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer st.Close(context.Background())
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	marketStore := store.NewMarketStore(st.DB())
	tradesStore := store.NewAggTradesStore(st.DB())
	sessionsRepo := store.NewSessionsRepo(st.DB())

	clk := clock.New(f.defaultSpeed)
	bus := broadcast.New(1024)
	acctSvc := accounts.NewService(accounts.NewRepo(), f.quoteAsset, f.initBalance)
	ordersRepo := orders.NewRepo()

	matcherCfg := matcher.Config{MakerBps: f.makerBps, TakerBps: f.takerBps, PartialFills: f.partialFills, DefaultQuote: f.quoteAsset}
	m := matcher.New(matcherCfg, ordersRepo, acctSvc)

	replayEngine := replay.New(marketStore, tradesStore, clk, sessionsRepo, bus, m)
	ordersSvc := orders.NewService(ordersRepo, sessionsRepo, acctSvc, replayEngine, clk)
	sessionsSvc := sessions.NewService(sessionsRepo, clk, replayEngine, bus)

	srv := transport.NewServer(sessionsSvc, ordersSvc, bus)
	mux := http.NewServeMux()
	srv.Register(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	addr := fmt.Sprintf("%s:%d", f.host, f.port)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("exchangesim: listening on http://%s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("exchangesim: stopped")
	return nil
}

func runIngest(ctx context.Context, f rootFlags, args []string) error {
	symbol, interval, startStr, endStr := args[0], args[1], args[2], args[3]
	start, err := parseTimestamp(startStr)
	if err != nil {
		return fmt.Errorf("invalid startMs: %w", err)
	}
	end, err := parseTimestamp(endStr)
	if err != nil {
		return fmt.Errorf("invalid endMs: %w", err)
	}

	st, err := store.Connect(ctx, f.mongoURI)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer st.Close(context.Background())

	marketStore := store.NewMarketStore(st.DB())
	tradesStore := store.NewAggTradesStore(st.DB())
	datasetsRepo := store.NewDatasetRepo(st.DB())

	var s3Client *s3.Client
	if f.s3Bucket != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		s3Client = s3.NewFromConfig(awsCfg)
	}
	archiver := ingest.NewArchiver(f.archiveDir, s3Client, f.s3Bucket)
	client := ingest.NewClient(f.ingestBaseURL)
	pipeline := ingest.NewPipeline(client, marketStore, tradesStore, datasetsRepo, archiver)

	registry := progress.New(200)

	klineMeta, err := pipeline.RegisterDataset(ctx, symbol, interval, start, end)
	if err != nil {
		return fmt.Errorf("register kline dataset: %w", err)
	}
	klineSink := registry.StartIngest(klineMeta.ID, core.DatasetRegistered)
	if err := pipeline.IngestKlines(ctx, klineMeta, klineSink); err != nil {
		return fmt.Errorf("ingest klines: %w", err)
	}
	log.Printf("exchangesim: klines for %s %s [%d,%d) ready", symbol, interval, start, end)

	tradeMeta, err := pipeline.RegisterDataset(ctx, symbol, "", start, end)
	if err != nil {
		return fmt.Errorf("register agg-trades dataset: %w", err)
	}
	tradeSink := registry.StartIngest(tradeMeta.ID, core.DatasetRegistered)
	if err := pipeline.IngestAggTrades(ctx, tradeMeta, tradeSink); err != nil {
		return fmt.Errorf("ingest agg trades: %w", err)
	}
	log.Printf("exchangesim: agg trades for %s [%d,%d) ready", symbol, start, end)
	return nil
}

func runSeed(ctx context.Context, f rootFlags, args []string, seed int64) error {
	tickerSymbol, interval, startStr, endStr := args[0], args[1], args[2], args[3]
	start, err := parseTimestamp(startStr)
	if err != nil {
		return fmt.Errorf("invalid startMs: %w", err)
	}
	end, err := parseTimestamp(endStr)
	if err != nil {
		return fmt.Errorf("invalid endMs: %w", err)
	}

	st, err := store.Connect(ctx, f.mongoURI)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer st.Close(context.Background())
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	marketStore := store.NewMarketStore(st.DB())
	if err := ingest.SeedSyntheticKlines(ctx, marketStore, tickerSymbol, interval, start, end, seed); err != nil {
		return fmt.Errorf("seed synthetic klines: %w", err)
	}
	log.Printf("exchangesim: seeded synthetic %s %s [%d,%d) with seed=%d", tickerSymbol, interval, start, end, seed)
	return nil
}

func parseTimestamp(s string) (core.TimestampMs, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	return core.TimestampMs(n), err
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
