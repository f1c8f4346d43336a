package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/config"
	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/engine"
	"github.com/quantex/exchange/internal/feed"
	"github.com/quantex/exchange/internal/handler"
	"github.com/quantex/exchange/internal/ledger"
	"github.com/quantex/exchange/internal/risk"
	"github.com/quantex/exchange/internal/service"
	"github.com/quantex/exchange/internal/store"
	"github.com/quantex/exchange/internal/stream"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Stores.
	orderStore := store.NewOrderStore()
	fillStore := store.NewFillStore()

	// Domain.
	registry := domain.NewInstrumentRegistry()
	seedInstruments(registry, cfg)

	// Ledger and price feed (in-memory reference implementations).
	balances := ledger.NewMemoryLedger()
	prices := feed.NewMemoryFeed()

	// Risk.
	calc := risk.NewCalculator(registry)
	positions := risk.NewManager(registry, balances, calc)

	// Engine.
	books := engine.NewBookManager()
	matcher := engine.NewMatcher(books, registry, orderStore, fillStore, positions, balances, prices, logger)

	// Event stream.
	hub := stream.NewHub()
	events := stream.NewPublisher(hub)

	// Services.
	expiryMgr := engine.NewExpiryManager(cfg.ExpirationInterval, books, balances, nil)
	orderSvc := service.NewOrderService(
		matcher, expiryMgr, registry, orderStore, fillStore,
		positions, calc, balances, prices, events, logger,
	)
	expiryMgr.SetDispatcher(orderSvc)
	marketSvc := service.NewMarketService(books, registry, prices, fillStore)
	positionSvc := service.NewPositionService(positions, prices, events, logger)

	// Price updates drive stop triggers and the liquidation sweep.
	// Trades publish to the feed only after the book lock is released,
	// so listeners may safely re-enter the matching domain.
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prices.Subscribe(func(u feed.Update) {
		orderSvc.Trigger().OnPrice(rootCtx, u.Symbol, u.LastPrice)
		positionSvc.Sweep(rootCtx, u.Symbol, u.MarkPrice)
	})

	// Router.
	router := handler.NewRouter(orderSvc, marketSvc, positionSvc, balances, hub, logger)

	// Start the expiration sweeper.
	expiryMgr.Start(rootCtx)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, drain TWAP loops, cancel
	// background goroutines.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	orderSvc.TWAP().Close()
	cancel()

	logger.Info("server stopped")
}

// seedInstruments registers the default instrument catalog. A real
// deployment would load this from an admin surface; the defaults cover
// the usual perpetual majors.
func seedInstruments(registry *domain.InstrumentRegistry, cfg *config.Config) {
	tiers := []domain.MarginTier{
		{NotionalCap: decimal.NewFromInt(50_000), Rate: decimal.RequireFromString("0.005")},
		{NotionalCap: decimal.NewFromInt(250_000), Rate: decimal.RequireFromString("0.01")},
		{NotionalCap: decimal.Zero, Rate: decimal.RequireFromString("0.025")},
	}
	allModes := []domain.TradeMode{
		domain.ModeSpot, domain.ModeMargin, domain.ModeFutures,
	}

	registry.Register(&domain.Instrument{
		Symbol:           "BTC-USDT",
		BaseAsset:        "BTC",
		QuoteAsset:       "USDT",
		TickSize:         decimal.RequireFromString("0.1"),
		LotSize:          decimal.RequireFromString("0.0001"),
		MinQuantity:      decimal.RequireFromString("0.0001"),
		MinNotional:      decimal.NewFromInt(10),
		MaxLeverage:      decimal.NewFromInt(100),
		MaintenanceTiers: tiers,
		Modes:            allModes,
		MakerFeeRate:     cfg.DefaultMakerFee,
		TakerFeeRate:     cfg.DefaultTakerFee,
		Active:           true,
	})
	registry.Register(&domain.Instrument{
		Symbol:           "ETH-USDT",
		BaseAsset:        "ETH",
		QuoteAsset:       "USDT",
		TickSize:         decimal.RequireFromString("0.01"),
		LotSize:          decimal.RequireFromString("0.001"),
		MinQuantity:      decimal.RequireFromString("0.001"),
		MinNotional:      decimal.NewFromInt(10),
		MaxLeverage:      decimal.NewFromInt(75),
		MaintenanceTiers: tiers,
		Modes:            allModes,
		MakerFeeRate:     cfg.DefaultMakerFee,
		TakerFeeRate:     cfg.DefaultTakerFee,
		Active:           true,
	})
	registry.Register(&domain.Instrument{
		Symbol:           "SOL-USDT",
		BaseAsset:        "SOL",
		QuoteAsset:       "USDT",
		TickSize:         decimal.RequireFromString("0.001"),
		LotSize:          decimal.RequireFromString("0.01"),
		MinQuantity:      decimal.RequireFromString("0.01"),
		MinNotional:      decimal.NewFromInt(5),
		MaxLeverage:      decimal.NewFromInt(50),
		MaintenanceTiers: tiers,
		Modes:            allModes,
		MakerFeeRate:     cfg.DefaultMakerFee,
		TakerFeeRate:     cfg.DefaultTakerFee,
		Active:           true,
	})
}
