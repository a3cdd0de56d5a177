package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-swap/internal/broadcast"
	"github.com/ksred/klear-swap/internal/config"
	"github.com/ksred/klear-swap/internal/database"
	"github.com/ksred/klear-swap/internal/exchange"
	"github.com/ksred/klear-swap/internal/logging"
	"github.com/ksred/klear-swap/internal/queue"
	"github.com/ksred/klear-swap/internal/trading"
	"github.com/ksred/klear-swap/pkg/middleware"
	"github.com/ksred/klear-swap/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// main loads configuration, wires the execution engine and serves the API
// until SIGINT or SIGTERM, then drains in-flight orders
func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	closer, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		zlog.Error().Err(err).Msg("Server stopped with error")
		closer.Close()
		os.Exit(1)
	}

	zlog.Info().Msg("Server exiting")
}

func run(cfg *config.Config) error {
	store, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Venues share one reference price
	sourceConfigs, err := cfg.SourceConfigs()
	if err != nil {
		return err
	}
	feed := exchange.NewPriceFeed(cfg.Router.ReferencePrice)
	router := exchange.NewRouter(exchange.NewSimulatedSources(sourceConfigs, feed, nil)...)
	sourceIDs := make([]string, 0, len(sourceConfigs))
	for _, src := range router.Sources() {
		sourceIDs = append(sourceIDs, src.ID())
	}
	zlog.Info().Strs("sources", sourceIDs).Msg("Routing across liquidity sources")
	executor := exchange.NewSimulatedExecutor(cfg.ExecutorSettings(), nil)

	hub := broadcast.NewHub()
	pipeline := trading.NewPipeline(store, router, executor, hub, cfg.PipelineSettings())

	runner := queue.NewRunner(cfg.QueueSettings(), pipeline.Execute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}

	// Recover orders accepted or awaiting retry before a previous shutdown
	sweeper := trading.NewSweeper(store, runner, trading.SweeperConfig{
		Interval:    cfg.Queue.SweepInterval,
		MinAge:      cfg.Queue.SweepMinAge,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})
	go sweeper.Start(ctx)

	tradingService := trading.NewService(store, runner, hub)
	tradingHandlers := trading.NewGinHandlers(tradingService)
	streamHandler := broadcast.NewStreamHandler(hub, cfg.StreamSettings())

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.RequestLogger(), gin.Recovery())
	engine.Use(middleware.RateLimit(cfg.RateLimits()))

	setupRoutes(engine, tradingHandlers, streamHandler, runner)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           c.Handler(engine),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zlog.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking requests, then let running attempts finish
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()
	if err := runner.Stop(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Job runner did not drain in time")
	}

	return nil
}

// openStore returns the configured order store and its release function
func openStore(cfg *config.Config) (trading.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		zlog.Warn().Msg("Using in-memory order store; orders are lost on restart")
		return trading.NewMemoryStore(), func() {}, nil
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			zlog.Warn().Err(err).Msg("Failed to close database")
		}
	}
	return trading.NewDatabase(db), cleanup, nil
}

// setupRoutes mounts the order API, the status stream and the health check
func setupRoutes(
	router *gin.Engine,
	tradingHandlers *trading.GinHandlers,
	streamHandler *broadcast.StreamHandler,
	runner *queue.Runner,
) {
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"queue":     runner.Metrics(),
		})
	})

	tradingHandlers.RegisterRoutes(router)
	streamHandler.RegisterRoutes(router)
}
