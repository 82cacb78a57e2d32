package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/showpath/showgate/internal/config"
	"github.com/showpath/showgate/internal/telemetry"
	"github.com/showpath/showgate/pkg/showgate"
)

func main() {
	configPath := flag.String("config", "showgate.yaml", "path to config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Init("showgate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	opts := []showgate.Option{
		showgate.WithAPIKey(cfg.API.Key),
		showgate.WithEnvironment(cfg.API.Environment),
		showgate.WithLocale(cfg.Locale),
		showgate.WithLogger(logger),
	}
	if cfg.Store.Path != "" {
		opts = append(opts, showgate.WithSQLite(cfg.Store.Path))
	}
	if cfg.Debug.Enabled {
		opts = append(opts, showgate.WithDebugServer(cfg.Debug.Addr))
	}

	engine, err := showgate.New(opts...)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	logger.Info("engine started",
		slog.String("environment", cfg.API.Environment),
		slog.Bool("debug_server", cfg.Debug.Enabled))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("engine shutdown complete")
}
