package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StockMesh/internal/aggregator"
	"StockMesh/internal/books"
	"StockMesh/internal/clock"
	"StockMesh/internal/config"
	"StockMesh/internal/event"
	"StockMesh/internal/journal"
	"StockMesh/internal/observability"
	"StockMesh/internal/priceview"
	"StockMesh/internal/pubsub"
	"StockMesh/internal/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var log zerolog.Logger
	if cfg.LogFile != "" {
		log = observability.NewFileLogger("stockmesh", cfg.LogFile)
	} else {
		log = observability.NewLogger("stockmesh")
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = event.AvailableTickerSymbols
	}
	log.Info().Strs("symbols", cfg.Symbols).Str("storage", cfg.Storage).Str("transport", cfg.Transport).Msg("StockMesh starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Storage ---
	var store journal.Store
	switch cfg.Storage {
	case "postgres":
		pg, err := journal.OpenPostgres(cfg.PostgresURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer pg.Close()
		log.Info().Msg("Postgres connected")

		migrator := journal.NewMigrator(pg.DB(), cfg.MigrationsDir, log)
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		log.Info().Msg("migrations applied")
		store = pg
	case "memory":
		store = journal.NewMemoryStore()
		log.Info().Msg("using in-memory journal")
	default:
		log.Fatal().Str("storage", cfg.Storage).Msg("unknown storage backend")
	}

	// --- Transport ---
	var (
		tradePub pubsub.TradeEventPublisher
		priceBus pubsub.PriceUpdateBus
	)
	switch cfg.Transport {
	case "nats":
		nc, err := pubsub.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		log.Info().Msg("NATS connected")

		bus := pubsub.NewNATSBus(nc, log)
		defer bus.Close()
		tradePub = bus
		priceBus = bus
	case "memory":
		bus := pubsub.NewInMemoryBus(log)
		tradePub = bus
		priceBus = bus
		log.Info().Msg("using in-memory pub/sub")
	default:
		log.Fatal().Str("transport", cfg.Transport).Msg("unknown transport backend")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	clk := clock.SystemClock{}
	ids := clock.UUIDOrderIDGenerator{}

	// --- Services ---
	bookSvc := books.NewBookService(cfg.Symbols, store, tradePub, clk, log, metrics)
	for _, sym := range cfg.Symbols {
		w, err := bookSvc.Worker(sym)
		if err != nil {
			log.Fatal().Err(err).Msg("book worker lookup")
		}
		w.SetSnapshotInterval(cfg.BookSnapshotInterval)
	}

	aggSvc := aggregator.NewService(cfg.Symbols, store, priceBus, clk, log, metrics)
	aggSvc.SetPublishInterval(cfg.PublishInterval)

	resolve := func(ctx context.Context, symbol string) (priceview.AggregatorRef, error) {
		h, err := aggSvc.Resolve(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	viewSvc := priceview.NewService(cfg.Symbols, resolve, priceBus, clk, log, metrics)

	feed := server.NewFeedHub(priceBus, cfg.Symbols, log)

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, bookSvc, aggSvc, viewSvc, feed, healthChecker, clk, ids, log, metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, healthChecker, log)

	// --- Goroutine inventory ---
	errChan := make(chan error, 8)

	// 1. Order book workers. The dedicated done channel lets shutdown wait
	// for the final book snapshots before storage is closed.
	bookDone := make(chan error, 1)
	go func() {
		err := bookSvc.Run(ctx)
		bookDone <- err
		errChan <- fmt.Errorf("book service: %w", err)
	}()

	// 2. Match aggregation workers
	go func() {
		errChan <- fmt.Errorf("aggregator service: %w", aggSvc.Run(ctx))
	}()

	// 3. Price view workers
	go func() {
		errChan <- fmt.Errorf("price view service: %w", viewSvc.Run(ctx))
	}()

	// 4. WebSocket feed hub
	go func() {
		errChan <- fmt.Errorf("feed hub: %w", feed.Run(ctx))
	}()

	// 5. HTTP API
	go func() {
		errChan <- fmt.Errorf("http server: %w", httpServer.Run(ctx))
	}()

	// 6. gRPC health/reflection
	go func() {
		errChan <- fmt.Errorf("grpc server: %w", grpcServer.Run(ctx))
	}()

	// 7. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// Give the aggregator supervisors a beat to register their handles
	// before declaring readiness.
	time.Sleep(100 * time.Millisecond)
	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("StockMesh ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()

	// Wait for the book workers to flush their final snapshots before the
	// deferred storage close runs.
	select {
	case <-bookDone:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("timed out waiting for book workers to stop")
	}

	log.Info().Msg("StockMesh shutdown complete")
}
