package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/config"
	"github.com/Aidin1998/pincex_matching/internal/trading/engine"
	"github.com/Aidin1998/pincex_matching/internal/trading/fillsink"
	"github.com/Aidin1998/pincex_matching/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_matching/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	demo := flag.Bool("demo", false, "submit a few crossing orders after start")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *printConfig {
		data, err := cfg.YAML()
		if err != nil {
			log.Fatalf("Failed to print configuration: %v", err)
		}
		os.Stdout.Write(data)
		return
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	tick, err := cfg.TickSize()
	if err != nil {
		zapLogger.Fatal("Invalid tick size", zap.Error(err))
	}
	engineCfg, err := cfg.EngineSettings()
	if err != nil {
		zapLogger.Fatal("Invalid engine settings", zap.Error(err))
	}

	filter, closeFilter, err := buildFilter(cfg.Idempotency, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create idempotency filter", zap.Error(err))
	}
	defer closeFilter()

	publisher, err := buildPublisher(cfg, tick, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create fill publisher", zap.Error(err))
	}

	eng := engine.New(engineCfg, filter, lifecycle.NewLogListener(zapLogger), zapLogger)
	forwarder := fillsink.NewForwarder(eng.Fills(), publisher, cfg.Publisher.BatchSize, cfg.Publisher.Timeout, zapLogger)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		if err := forwarder.Run(context.Background()); err != nil {
			zapLogger.Error("Fill forwarder stopped", zap.Error(err))
		}
	}()

	metricsSrv := startMetricsServer(cfg.Metrics, zapLogger)

	if err := eng.Start(); err != nil {
		zapLogger.Fatal("Failed to start matching engine", zap.Error(err))
	}

	if *demo {
		if err := runDemo(context.Background(), eng, tick, zapLogger); err != nil {
			zapLogger.Error("Demo flow failed", zap.Error(err))
		}
	}

	// Wait for interrupt or a halted engine
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zapLogger.Info("Shutting down", zap.String("signal", sig.String()))
	case <-eng.Done():
		zapLogger.Error("Matching engine exited", zap.Error(eng.Err()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.StopTimeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		zapLogger.Error("Failed to stop matching engine cleanly", zap.Error(err))
	}
	select {
	case <-forwarded:
	case <-ctx.Done():
		zapLogger.Warn("Fill forwarder did not finish before the stop timeout")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			zapLogger.Error("Failed to stop metrics server", zap.Error(err))
		}
	}

	if eng.Err() != nil {
		zapLogger.Error("Exiting after fatal engine fault")
		closeFilter()
		_ = zapLogger.Sync()
		os.Exit(1)
	}
	zapLogger.Info("Server exited properly")
}

func startMetricsServer(cfg config.MetricsConfig, logger *zap.Logger) *http.Server {
	if cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics server", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
